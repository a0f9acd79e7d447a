// File: internal/infra/adapters/provider/gemini.go
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"pixelmint/internal/domain"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
)

var _ adapter.ProviderAdapter = (*GeminiAdapter)(nil)

// GeminiAdapter bridges Gemini's synchronous image API into the asynchronous
// job pipeline. Submit starts generation in the background; the finished
// inline image bytes are staged into the object store so PollStatus can
// report plain URLs, which the migrator then treats like any other ephemeral
// provider URL.
type GeminiAdapter struct {
	client       *genai.Client
	store        adapter.ObjectStore
	defaultModel string
	log          *zerolog.Logger

	mu   sync.Mutex
	jobs map[string]*geminiJob
}

// geminiRetention keeps finished entries around long enough for the sweeper
// to observe the terminal state before eviction.
const geminiRetention = time.Hour

type geminiJob struct {
	state   model.CanonicalState
	outputs []string
	errMsg  string
	cancel  context.CancelFunc
	doneAt  time.Time
}

func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string, store adapter.ObjectStore, log *zerolog.Logger) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{
		client:       c,
		store:        store,
		defaultModel: defaultModel,
		log:          log,
		jobs:         make(map[string]*geminiJob),
	}, nil
}

func (g *GeminiAdapter) Name() string { return "gemini-image" }

func (g *GeminiAdapter) Submit(ctx context.Context, spec adapter.SubmitSpec) (*adapter.SubmitResult, error) {
	prompt, _ := spec.Input["prompt"].(string)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrProviderInput)
	}
	mdl := spec.ModelVersion
	if mdl == "" {
		mdl = g.defaultModel
	}

	id := "gem-" + uuid.NewString()
	runCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	job := &geminiJob{state: model.CanonicalProcessing, cancel: cancel}
	g.mu.Lock()
	g.evictLocked(time.Now())
	g.jobs[id] = job
	g.mu.Unlock()

	go g.run(runCtx, id, mdl, prompt)

	return &adapter.SubmitResult{ExternalJobID: id, InitialState: model.CanonicalProcessing}, nil
}

func (g *GeminiAdapter) run(ctx context.Context, id, mdl, prompt string) {
	defer func() {
		g.mu.Lock()
		if j := g.jobs[id]; j != nil && j.cancel != nil {
			j.cancel()
		}
		g.mu.Unlock()
	}()

	resp, err := g.client.Models.GenerateContent(ctx, mdl, genai.Text(prompt), nil)
	if err != nil {
		g.finish(id, nil, fmt.Sprintf("gemini: %v", err))
		return
	}

	var urls []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for i, part := range cand.Content.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			key := fmt.Sprintf("staging/gemini/%s/%d", id, i)
			url, err := g.store.Put(ctx, key, bytes.NewReader(part.InlineData.Data), part.InlineData.MIMEType)
			if err != nil {
				g.log.Warn().Err(err).Str("external_id", id).Msg("gemini output staging failed")
				continue
			}
			urls = append(urls, url)
		}
	}
	if len(urls) == 0 {
		g.finish(id, nil, "gemini returned no image data")
		return
	}
	g.finish(id, urls, "")
}

func (g *GeminiAdapter) finish(id string, urls []string, errMsg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	j := g.jobs[id]
	if j == nil || !j.state.IsInFlight() {
		return
	}
	j.doneAt = time.Now()
	if errMsg != "" {
		j.state = model.CanonicalFailed
		j.errMsg = errMsg
		return
	}
	j.state = model.CanonicalSucceeded
	j.outputs = urls
}

// evictLocked drops terminal entries past the retention window. Callers hold mu.
func (g *GeminiAdapter) evictLocked(now time.Time) {
	for id, j := range g.jobs {
		if !j.state.IsInFlight() && now.Sub(j.doneAt) > geminiRetention {
			delete(g.jobs, id)
		}
	}
}

func (g *GeminiAdapter) PollStatus(ctx context.Context, externalJobID string) (*adapter.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.evictLocked(time.Now())
	j, ok := g.jobs[externalJobID]
	if !ok {
		// The map is process local, so an in-flight job polled after a
		// restart can never finish. Reporting a terminal failure here lets
		// the reconciler refund it instead of erroring forever. Freshly
		// submitted jobs are always present in the submitting process.
		return &adapter.StatusResult{
			State:        model.CanonicalFailed,
			ErrorMessage: "gemini: generation state lost, job unrecoverable",
		}, nil
	}
	return &adapter.StatusResult{
		State:        j.state,
		OutputURLs:   append([]string(nil), j.outputs...),
		ErrorMessage: j.errMsg,
	}, nil
}

func (g *GeminiAdapter) Cancel(ctx context.Context, externalJobID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	j, ok := g.jobs[externalJobID]
	if !ok || !j.state.IsInFlight() {
		return false
	}
	j.state = model.CanonicalCanceled
	j.doneAt = time.Now()
	if j.cancel != nil {
		j.cancel()
	}
	return true
}
