package repository

import (
	"context"

	"pixelmint/internal/domain/model"
)

type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	FindByAPIKey(ctx context.Context, tx Tx, key string) (*model.User, error)
	// AdjustCredits applies a signed delta to the cached balance and returns
	// the new balance. Callers must run it inside the same transaction as the
	// ledger append.
	AdjustCredits(ctx context.Context, tx Tx, userID string, delta int) (int, error)
}
