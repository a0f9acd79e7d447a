// File: internal/infra/adapters/provider/replicate.go
package provider

import (
	"context"
	"errors"
	"fmt"

	repgo "github.com/replicate/replicate-go"
	"github.com/rs/zerolog"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*ReplicateAdapter)(nil)

// ReplicateAdapter drives one Replicate-hosted model family. One instance per
// job kind (image generation, video generation, upscaling), all sharing a
// client. The adapter never retries; retry policy lives in the sweeper.
type ReplicateAdapter struct {
	client       *repgo.Client
	kind         model.JobKind
	defaultModel string
	log          *zerolog.Logger
}

func NewReplicateAdapter(token string, kind model.JobKind, defaultModel string, log *zerolog.Logger) (*ReplicateAdapter, error) {
	if token == "" {
		return nil, fmt.Errorf("replicate: empty api token")
	}
	cl, err := repgo.NewClient(repgo.WithToken(token))
	if err != nil {
		return nil, err
	}
	return &ReplicateAdapter{client: cl, kind: kind, defaultModel: defaultModel, log: log}, nil
}

func (a *ReplicateAdapter) Name() string { return "replicate-" + string(a.kind) }

func (a *ReplicateAdapter) Submit(ctx context.Context, spec adapter.SubmitSpec) (*adapter.SubmitResult, error) {
	identifier := spec.ModelVersion
	if identifier == "" {
		identifier = a.defaultModel
	}
	input := repgo.PredictionInput{}
	for k, v := range spec.Input {
		input[k] = v
	}

	var webhook *repgo.Webhook
	if spec.WebhookURL != "" {
		webhook = &repgo.Webhook{
			URL:    spec.WebhookURL,
			Events: []repgo.WebhookEventType{repgo.WebhookEventStart, repgo.WebhookEventCompleted},
		}
	}

	pred, err := a.client.CreatePrediction(ctx, identifier, input, webhook, false)
	if err != nil {
		return nil, classifySubmitError(err)
	}
	return &adapter.SubmitResult{
		ExternalJobID: pred.ID,
		InitialState:  model.MapProviderStatus(a.kind, string(pred.Status)),
	}, nil
}

func (a *ReplicateAdapter) PollStatus(ctx context.Context, externalJobID string) (*adapter.StatusResult, error) {
	pred, err := a.client.GetPrediction(ctx, externalJobID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}
	res := &adapter.StatusResult{
		State:      model.MapProviderStatus(a.kind, string(pred.Status)),
		OutputURLs: extractOutputURLs(pred.Output),
	}
	if pred.Error != nil {
		res.ErrorMessage = fmt.Sprint(pred.Error)
	}
	return res, nil
}

// Cancel is best-effort: a prediction already past the point of no return
// cannot be stopped, and that is fine.
func (a *ReplicateAdapter) Cancel(ctx context.Context, externalJobID string) bool {
	if _, err := a.client.CancelPrediction(ctx, externalJobID); err != nil {
		a.log.Debug().Err(err).Str("external_id", externalJobID).Msg("replicate cancel failed")
		return false
	}
	return true
}

// extractOutputURLs flattens Replicate's prediction output, which is either a
// single URL string or a list of them, preserving provider ordering.
func extractOutputURLs(out repgo.PredictionOutput) []string {
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

func classifySubmitError(err error) error {
	var apiErr *repgo.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == 401 || apiErr.Status == 403:
			return fmt.Errorf("%w: %s", domain.ErrProviderAuth, apiErr.Detail)
		case apiErr.Status == 402:
			return fmt.Errorf("%w: %s", domain.ErrProviderQuota, apiErr.Detail)
		case apiErr.Status == 429:
			return fmt.Errorf("%w: %s", domain.ErrProviderRateLimited, apiErr.Detail)
		case apiErr.Status >= 400 && apiErr.Status < 500:
			return fmt.Errorf("%w: %s", domain.ErrProviderInput, apiErr.Detail)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
}
