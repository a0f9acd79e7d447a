package postgres

import (
	"context"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct{ pool *pgxpool.Pool }

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, credits, api_key, registered_at, last_active_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  api_key = EXCLUDED.api_key,
  last_active_at = EXCLUDED.last_active_at;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.Credits, u.APIKey, u.RegisteredAt, u.LastActiveAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	q := `SELECT id, email, credits, api_key, registered_at, last_active_at FROM users WHERE id=$1`
	if _, ok := tx.(pgx.Tx); ok {
		q += " FOR UPDATE"
	}
	return r.scanOne(ctx, tx, q+";", id)
}

func (r *userRepo) FindByAPIKey(ctx context.Context, tx repository.Tx, key string) (*model.User, error) {
	const q = `SELECT id, email, credits, api_key, registered_at, last_active_at FROM users WHERE api_key=$1 LIMIT 1;`
	return r.scanOne(ctx, tx, q, key)
}

// AdjustCredits applies a signed delta with the non-negative balance check in
// the same statement, so two debits racing cannot both pass a stale read.
func (r *userRepo) AdjustCredits(ctx context.Context, tx repository.Tx, userID string, delta int) (int, error) {
	const q = `
UPDATE users SET credits = credits + $2, last_active_at = NOW()
WHERE id = $1 AND credits + $2 >= 0
RETURNING credits;`
	row, err := pickRow(ctx, r.pool, tx, q, userID, delta)
	if err != nil {
		return 0, err
	}
	var balance int
	if err := row.Scan(&balance); err != nil {
		if err == pgx.ErrNoRows {
			// Either the user does not exist or the balance would go negative.
			if _, ferr := r.FindByID(ctx, tx, userID); ferr != nil {
				return 0, ferr
			}
			return 0, domain.ErrInsufficientCredits
		}
		return 0, domain.ErrReadDatabaseRow
	}
	return balance, nil
}

func (r *userRepo) scanOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	u := &model.User{}
	if err := row.Scan(&u.ID, &u.Email, &u.Credits, &u.APIKey, &u.RegisteredAt, &u.LastActiveAt); err != nil {
		return nil, translateNoRows(err)
	}
	return u, nil
}
