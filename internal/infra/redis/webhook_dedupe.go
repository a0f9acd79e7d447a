package redis

import (
	"context"
	"fmt"
	"time"
)

// WebhookDedupe drops provider webhook retries within a short window before
// they reach the reconciler. This is an optimization only: correctness rests
// on the reconciler's idempotent terminal-state check, so a redis failure
// degrades to "always first delivery".
type WebhookDedupe struct {
	client RedisClient
	ttl    time.Duration
}

func NewWebhookDedupe(client RedisClient, ttl time.Duration) *WebhookDedupe {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WebhookDedupe{client: client, ttl: ttl}
}

// FirstDelivery reports whether this (externalJobID, status) pair has not been
// seen within the window.
func (d *WebhookDedupe) FirstDelivery(ctx context.Context, externalJobID, status string) bool {
	key := fmt.Sprintf("webhook:seen:%s:%s", externalJobID, status)
	ok, err := d.client.SetNX(ctx, key, 1, d.ttl)
	if err != nil {
		return true
	}
	return ok
}
