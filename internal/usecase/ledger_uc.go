// File: internal/usecase/ledger_uc.go
package usecase

import (
	"fmt"

	"context"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/repository"
	"pixelmint/internal/infra/metrics"
)

// Compile-time check
var _ LedgerUseCase = (*ledgerUC)(nil)

// LedgerUseCase owns every mutation of a user's credit balance. Debit and
// Refund each append exactly one ledger row and adjust the cached balance in
// the same transaction. When tx is nil the operation opens its own
// transaction; a non-nil tx lets callers compose the ledger write with other
// writes (job creation debits in the same transaction as the job insert).
type LedgerUseCase interface {
	// Debit removes amount credits from the user. Returns the new balance or
	// domain.ErrInsufficientCredits, in which case nothing is written.
	Debit(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string) (int, error)
	// Refund returns up to amount credits for the given job. The refunded
	// amount is capped at amount minus whatever was already refunded for this
	// job, so invoking Refund twice has the same net effect as once.
	// Returns (refunded, newBalance).
	Refund(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string, reason model.CreditTransactionReason) (int, int, error)
	// Grant adds credits outside any job (seeding, promotions).
	Grant(ctx context.Context, userID string, amount int) (int, error)
	History(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error)
}

type ledgerUC struct {
	users   repository.UserRepository
	credits repository.CreditRepository
	tm      repository.TransactionManager
	log     *zerolog.Logger
}

func NewLedgerUseCase(users repository.UserRepository, credits repository.CreditRepository, tm repository.TransactionManager, log *zerolog.Logger) *ledgerUC {
	return &ledgerUC{users: users, credits: credits, tm: tm, log: log}
}

// inTx runs fn inside the given transaction, or opens a new one when tx is nil.
func (u *ledgerUC) inTx(ctx context.Context, tx repository.Tx, fn func(ctx context.Context, tx repository.Tx) error) error {
	if tx != nil {
		return fn(ctx, tx)
	}
	return u.tm.WithTx(ctx, pgx.TxOptions{}, fn)
}

func (u *ledgerUC) Debit(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidArgument
	}
	var balance int
	err := u.inTx(ctx, tx, func(ctx context.Context, tx repository.Tx) error {
		b, err := u.users.AdjustCredits(ctx, tx, userID, -amount)
		if err != nil {
			return err
		}
		balance = b
		return u.credits.Append(ctx, tx, model.NewCreditTransaction(userID, -amount, model.CreditReasonDebit, jobID, b))
	})
	if err != nil {
		return 0, err
	}
	metrics.IncCreditOp("debit")
	u.log.Debug().Str("user_id", userID).Str("job_id", jobID).Int("amount", amount).Int("balance", balance).Msg("credits debited")
	return balance, nil
}

func (u *ledgerUC) Refund(ctx context.Context, tx repository.Tx, userID string, amount int, jobID string, reason model.CreditTransactionReason) (int, int, error) {
	if amount <= 0 {
		return 0, 0, domain.ErrInvalidArgument
	}
	var refunded, balance int
	err := u.inTx(ctx, tx, func(ctx context.Context, tx repository.Tx) error {
		// Lock the user row before reading the refunded sum. Two refunds for
		// the same job (webhook and poll observing the same failure) queue on
		// this lock, so the second one sees the first one's ledger row and
		// caps itself to zero instead of paying out again.
		user, err := u.users.FindByID(ctx, tx, userID)
		if err != nil {
			return err
		}
		already, err := u.credits.SumRefundedForJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		refunded = amount - already
		if refunded <= 0 {
			refunded = 0
			balance = user.Credits
			return nil
		}
		b, err := u.users.AdjustCredits(ctx, tx, userID, refunded)
		if err != nil {
			return err
		}
		balance = b
		return u.credits.Append(ctx, tx, model.NewCreditTransaction(userID, refunded, reason, jobID, b))
	})
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", domain.ErrRefundFailed, err)
	}
	if refunded > 0 {
		metrics.IncCreditOp("refund")
		u.log.Info().Str("user_id", userID).Str("job_id", jobID).Int("refunded", refunded).Int("balance", balance).Str("reason", string(reason)).Msg("credits refunded")
	}
	return refunded, balance, nil
}

func (u *ledgerUC) Grant(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidArgument
	}
	var balance int
	err := u.tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		b, err := u.users.AdjustCredits(ctx, tx, userID, amount)
		if err != nil {
			return err
		}
		balance = b
		return u.credits.Append(ctx, tx, model.NewCreditTransaction(userID, amount, model.CreditReasonGrant, "", b))
	})
	if err != nil {
		return 0, err
	}
	metrics.IncCreditOp("grant")
	return balance, nil
}

func (u *ledgerUC) History(ctx context.Context, userID string, limit int) ([]*model.CreditTransaction, error) {
	return u.credits.ListByUser(ctx, nil, userID, limit)
}
