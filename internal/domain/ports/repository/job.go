package repository

import (
	"context"
	"time"

	"pixelmint/internal/domain/model"
)

type JobRepository interface {
	Save(ctx context.Context, tx Tx, job *model.Job) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Job, error)
	// FindByExternalID is the join key for webhook delivery and poll results.
	FindByExternalID(ctx context.Context, tx Tx, externalID string) (*model.Job, error)
	// ListInFlightOlderThan returns jobs of the given kind that are still in
	// flight, already submitted (external id assigned), and created before
	// cutoff, oldest first, capped to limit. This is the sweep selection query.
	ListInFlightOlderThan(ctx context.Context, tx Tx, kind model.JobKind, cutoff time.Time, limit int) ([]*model.Job, error)
	ListByOwner(ctx context.Context, tx Tx, ownerID string, limit int) ([]*model.Job, error)
}
