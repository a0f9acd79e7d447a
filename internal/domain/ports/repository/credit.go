package repository

import (
	"context"

	"pixelmint/internal/domain/model"
)

type CreditRepository interface {
	Append(ctx context.Context, tx Tx, t *model.CreditTransaction) error
	ListByUser(ctx context.Context, tx Tx, userID string, limit int) ([]*model.CreditTransaction, error)
	// SumRefundedForJob returns the total of positive (refund) amounts already
	// appended for this job. The ledger use case uses it to cap refunds so a
	// second refund for the same job degrades to a no-op.
	SumRefundedForJob(ctx context.Context, tx Tx, jobID string) (int, error)
}
