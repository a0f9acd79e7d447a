package adapter

import (
	"context"
	"time"

	"pixelmint/internal/domain/model"
)

// SubmitSpec is everything a provider needs to start a job.
type SubmitSpec struct {
	Kind         model.JobKind
	ModelVersion string
	Input        map[string]any
	WebhookURL   string
}

// SubmitResult is the provider's acknowledgement of a submission.
type SubmitResult struct {
	ExternalJobID string
	InitialState  model.CanonicalState
	ETA           *time.Time
}

// StatusResult is one observation of an external job.
type StatusResult struct {
	State        model.CanonicalState
	OutputURLs   []string
	ErrorMessage string
}

// ProviderAdapter is the capability boundary to one provider family
// (image generation, video generation, upscaling). Implementations translate
// vendor status strings into canonical states before returning; callers never
// see raw provider strings.
//
// PollStatus is a side-effect-free read, safe to call arbitrarily often.
// Cancel is best-effort: false on failure, never an error. Retry policy lives
// in the sweeper, not here.
type ProviderAdapter interface {
	Name() string
	Submit(ctx context.Context, spec SubmitSpec) (*SubmitResult, error)
	PollStatus(ctx context.Context, externalJobID string) (*StatusResult, error)
	Cancel(ctx context.Context, externalJobID string) bool
}
