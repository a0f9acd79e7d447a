package model

import (
	"time"

	"github.com/google/uuid"

	"pixelmint/internal/domain"
)

// User holds the cached credit balance. The balance is derivable by summing
// the ledger but is kept on the row for O(1) reads; all mutations go through
// the ledger use case inside a transaction.
type User struct {
	ID           string
	Email        string
	Credits      int
	APIKey       string
	RegisteredAt time.Time
	LastActiveAt time.Time
}

func NewUser(id, email string, startingCredits int) (*User, error) {
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &User{
		ID:           id,
		Email:        email,
		Credits:      startingCredits,
		APIKey:       uuid.NewString(),
		RegisteredAt: now,
		LastActiveAt: now,
	}, nil
}
