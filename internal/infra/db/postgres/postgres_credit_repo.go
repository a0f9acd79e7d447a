package postgres

import (
	"context"

	"github.com/jackc/pgx/v4/pgxpool"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/repository"
)

var _ repository.CreditRepository = (*creditRepo)(nil)

// creditRepo persists the append-only credit ledger. There is deliberately no
// update or delete path.
type creditRepo struct{ pool *pgxpool.Pool }

func NewCreditRepo(pool *pgxpool.Pool) *creditRepo {
	return &creditRepo{pool: pool}
}

func (r *creditRepo) Append(ctx context.Context, tx repository.Tx, t *model.CreditTransaction) error {
	const q = `
INSERT INTO credit_transactions (id, user_id, amount, reason, reference_job_id, balance_after, created_at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6,$7);`
	_, err := execSQL(ctx, r.pool, tx, q, t.ID, t.UserID, t.Amount, t.Reason, t.ReferenceJobID, t.BalanceAfter, t.CreatedAt)
	if err != nil {
		if err == domain.ErrInvalidArgument || err == domain.ErrInvalidExecContext {
			return err
		}
		return domain.ErrOperationFailed
	}
	return nil
}

func (r *creditRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string, limit int) ([]*model.CreditTransaction, error) {
	const q = `
SELECT id, user_id, amount, reason, COALESCE(reference_job_id,''), balance_after, created_at
FROM credit_transactions WHERE user_id=$1 ORDER BY id DESC LIMIT $2;`
	rows, err := pickRows(ctx, r.pool, tx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.CreditTransaction
	for rows.Next() {
		t := &model.CreditTransaction{}
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Reason, &t.ReferenceJobID, &t.BalanceAfter, &t.CreatedAt); err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *creditRepo) SumRefundedForJob(ctx context.Context, tx repository.Tx, jobID string) (int, error) {
	const q = `SELECT COALESCE(SUM(amount),0) FROM credit_transactions WHERE reference_job_id=$1 AND amount > 0;`
	row, err := pickRow(ctx, r.pool, tx, q, jobID)
	if err != nil {
		return 0, err
	}
	var sum int
	if err := row.Scan(&sum); err != nil {
		return 0, domain.ErrReadDatabaseRow
	}
	return sum, nil
}
