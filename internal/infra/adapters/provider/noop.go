package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*NoopAdapter)(nil)

// NoopAdapter implements adapter.ProviderAdapter for local/dev testing.
// Submitted jobs report processing until the configured delay elapses, then
// succeed with placeholder output URLs.
type NoopAdapter struct {
	kind    model.JobKind
	delay   time.Duration
	outputs int

	mu   sync.Mutex
	jobs map[string]time.Time // external id -> submit time
}

func NewNoopAdapter(kind model.JobKind, delay time.Duration, outputs int) *NoopAdapter {
	if outputs <= 0 {
		outputs = 1
	}
	return &NoopAdapter{kind: kind, delay: delay, outputs: outputs, jobs: make(map[string]time.Time)}
}

func (a *NoopAdapter) Name() string { return "noop-" + string(a.kind) }

func (a *NoopAdapter) Submit(ctx context.Context, spec adapter.SubmitSpec) (*adapter.SubmitResult, error) {
	id := "noop-" + uuid.NewString()
	a.mu.Lock()
	a.jobs[id] = time.Now()
	a.mu.Unlock()
	return &adapter.SubmitResult{ExternalJobID: id, InitialState: model.CanonicalStarting}, nil
}

func (a *NoopAdapter) PollStatus(ctx context.Context, externalJobID string) (*adapter.StatusResult, error) {
	a.mu.Lock()
	submitted, ok := a.jobs[externalJobID]
	a.mu.Unlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	if time.Since(submitted) < a.delay {
		return &adapter.StatusResult{State: model.CanonicalProcessing}, nil
	}
	urls := make([]string, 0, a.outputs)
	for i := 0; i < a.outputs; i++ {
		urls = append(urls, fmt.Sprintf("https://example.invalid/%s/%d", externalJobID, i))
	}
	return &adapter.StatusResult{State: model.CanonicalSucceeded, OutputURLs: urls}, nil
}

func (a *NoopAdapter) Cancel(ctx context.Context, externalJobID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.jobs[externalJobID]; !ok {
		return false
	}
	delete(a.jobs, externalJobID)
	return true
}
