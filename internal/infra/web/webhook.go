// File: internal/infra/web/webhook.go
package web

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	"pixelmint/internal/infra/logging"
	"pixelmint/internal/infra/metrics"
)

// providerNotification is the normalized shape of an inbound provider push.
type providerNotification struct {
	ID     string      `json:"id"`
	Status string      `json:"status"`
	Output interface{} `json:"output"`
	Error  *string     `json:"error"`
}

// handleProviderWebhook feeds one provider notification into the reconciler.
// Provider-side retries and notifications that lose the race against a poll
// are both absorbed: the dedupe cache drops fast retries, and the
// reconciler's terminal-state check handles everything else.
func (s *Server) handleProviderWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := logging.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	log := logging.With(ctx, s.log)

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	n, err := parseNotification(s.secret, body, r.Header.Get("X-Webhook-Signature"))
	if err != nil {
		metrics.IncWebhook("invalid")
		log.Warn().Err(err).Msg("webhook rejected")
		if errors.Is(err, domain.ErrWebhookSignature) {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	if !s.dedupe.FirstDelivery(ctx, n.ID, n.Status) {
		metrics.IncWebhook("duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	status := &adapter.StatusResult{
		State:      model.MapProviderStatus(model.JobKindImage, n.Status),
		OutputURLs: outputToURLs(n.Output),
	}
	if n.Error != nil {
		status.ErrorMessage = *n.Error
	}

	job, err := s.jobUC.ApplyStatus(ctx, n.ID, status)
	if err != nil {
		// Unknown external id: acknowledge so the provider stops retrying a
		// notification we can never apply.
		metrics.IncWebhook("unknown_job")
		log.Warn().Err(err).Str("external_id", n.ID).Msg("webhook for unknown job")
		w.WriteHeader(http.StatusOK)
		return
	}
	metrics.IncWebhook("applied")
	log.Debug().Str("job_id", job.ID).Str("state", string(job.State)).Msg("webhook applied")
	w.WriteHeader(http.StatusOK)
}

// parseNotification authenticates and decodes one inbound provider push.
func parseNotification(secret string, body []byte, signature string) (*providerNotification, error) {
	if !verifySignature(secret, body, signature) {
		return nil, domain.ErrWebhookSignature
	}
	var n providerNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWebhookPayload, err)
	}
	if n.ID == "" {
		return nil, fmt.Errorf("%w: missing external job id", domain.ErrWebhookPayload)
	}
	return &n, nil
}

// verifySignature checks HMAC-SHA256 over the raw body against the shared
// webhook secret.
func verifySignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))
	return strings.EqualFold(expected, signature)
}

// outputToURLs flattens a provider output field that is either a single URL
// or a list of them.
func outputToURLs(out interface{}) []string {
	switch v := out.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []interface{}:
		var urls []string
		for _, u := range v {
			if s, ok := u.(string); ok && s != "" {
				urls = append(urls, s)
			}
		}
		return urls
	default:
		return nil
	}
}
