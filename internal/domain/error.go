package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrForbidden           = errors.New("operation not permitted for this user")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrInvalidState        = errors.New("operation not valid in current job state")

	// Provider-facing errors
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrProviderAuth        = errors.New("provider authentication failed")
	ErrProviderQuota       = errors.New("provider quota exceeded")
	ErrProviderInput       = errors.New("provider rejected input")

	// Storage migration and ledger errors
	ErrStorageMigration = errors.New("all outputs failed storage migration")
	ErrRefundFailed     = errors.New("credit refund failed")

	// Infrastructure-level errors
	ErrOperationFailed    = errors.New("database operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid database execution context")
	ErrWebhookSignature   = errors.New("webhook signature verification failed")
	ErrWebhookPayload     = errors.New("webhook payload malformed")
)
