package adapter

import (
	"context"
	"io"
)

// ObjectStore is the durable-storage boundary. Put overwrites on key
// collision, which makes repeated migration attempts for the same
// (jobID, outputIndex) idempotent rather than duplicate-creating.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	URL(key string) string
}
