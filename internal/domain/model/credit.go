package model

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

type CreditTransactionReason string

const (
	CreditReasonDebit         CreditTransactionReason = "job_debit"
	CreditReasonRefundFailed  CreditTransactionReason = "refund_job_failed"
	CreditReasonRefundCancel  CreditTransactionReason = "refund_job_cancelled"
	CreditReasonRefundStorage CreditTransactionReason = "refund_storage_migration"
	CreditReasonGrant         CreditTransactionReason = "grant"
)

// CreditTransaction is an append-only ledger entry. Amount is signed: debits
// are negative, refunds and grants positive. Rows are never mutated or
// deleted; BalanceAfter snapshots the user's balance at append time.
type CreditTransaction struct {
	ID             string
	UserID         string
	Amount         int
	Reason         CreditTransactionReason
	ReferenceJobID string
	BalanceAfter   int
	CreatedAt      time.Time
}

func NewCreditTransaction(userID string, amount int, reason CreditTransactionReason, jobID string, balanceAfter int) *CreditTransaction {
	now := time.Now()
	return &CreditTransaction{
		ID:             ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		UserID:         userID,
		Amount:         amount,
		Reason:         reason,
		ReferenceJobID: jobID,
		BalanceAfter:   balanceAfter,
		CreatedAt:      now,
	}
}
