// File: internal/infra/sched/sweeper.go
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"pixelmint/internal/config"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	"pixelmint/internal/domain/ports/repository"
	"pixelmint/internal/infra/metrics"
	red "pixelmint/internal/infra/redis"
	"pixelmint/internal/infra/worker"
	"pixelmint/internal/usecase"
)

// rateLimiter is the subset of the redis limiter the sweeper needs.
type rateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Summary is the observable result of one sweep batch.
type Summary struct {
	Kind            string `json:"kind"`
	Checked         int    `json:"checked"`
	Completed       int    `json:"completed"`
	Failed          int    `json:"failed"`
	StillProcessing int    `json:"stillProcessing"`
	Errored         int    `json:"errored"`
}

// Sweeper periodically scans for stale in-flight jobs and pushes their
// provider status through the reconciler. This is the fallback path for
// missed webhooks. Overlapping runs for the same job are safe: the second
// ApplyStatus degrades to a no-op on a terminal job.
type Sweeper struct {
	jobs      repository.JobRepository
	recon     usecase.JobUseCase
	providers map[model.JobKind]adapter.ProviderAdapter
	limiter   rateLimiter
	pool      *worker.Pool
	cfg       config.SweepConfig
	pollRate  int
	log       *zerolog.Logger
}

func NewSweeper(
	jobs repository.JobRepository,
	recon usecase.JobUseCase,
	providers map[model.JobKind]adapter.ProviderAdapter,
	limiter rateLimiter,
	pool *worker.Pool,
	cfg config.SweepConfig,
	pollRate int,
	log *zerolog.Logger,
) *Sweeper {
	return &Sweeper{
		jobs:      jobs,
		recon:     recon,
		providers: providers,
		limiter:   limiter,
		pool:      pool,
		cfg:       cfg,
		pollRate:  pollRate,
		log:       log,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for kind := range s.providers {
				if _, err := s.Run(ctx, kind); err != nil {
					s.log.Error().Err(err).Str("kind", string(kind)).Msg("sweep failed")
				}
			}
		}
	}
}

// Run executes one sweep batch for the given kind.
func (s *Sweeper) Run(ctx context.Context, kind model.JobKind) (*Summary, error) {
	started := time.Now()
	provider, ok := s.providers[kind]
	if !ok {
		return &Summary{Kind: string(kind)}, nil
	}

	limit := s.cfg.ImageBatch
	if kind == model.JobKindVideo {
		limit = s.cfg.VideoBatch
	}
	// The minimum age keeps the sweep from racing a webhook that is already
	// in flight for a brand-new job.
	cutoff := time.Now().Add(-s.cfg.MinAge)
	batch, err := s.jobs.ListInFlightOlderThan(ctx, nil, kind, cutoff, limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Kind: string(kind), Checked: len(batch)}
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, job := range batch {
		job := job
		wg.Add(1)
		task := func(ctx context.Context) error {
			defer wg.Done()
			bucket := s.sweepOne(ctx, provider, job.ExternalJobID)
			mu.Lock()
			switch bucket {
			case model.JobStateCompleted:
				summary.Completed++
			case model.JobStateFailed, model.JobStateCancelled:
				summary.Failed++
			case "":
				summary.Errored++
			default:
				summary.StillProcessing++
			}
			mu.Unlock()
			return nil
		}
		if err := s.pool.Submit(task); err != nil {
			// Pool saturated; run inline rather than dropping the unit.
			_ = task(ctx)
		}
		// Pacing between consecutive provider calls within a sweep.
		select {
		case <-ctx.Done():
			wg.Wait()
			return summary, ctx.Err()
		case <-time.After(s.cfg.CallPause):
		}
	}
	wg.Wait()

	metrics.IncSweepRun(string(kind))
	metrics.AddSweepChecked(string(kind), "completed", summary.Completed)
	metrics.AddSweepChecked(string(kind), "failed", summary.Failed)
	metrics.AddSweepChecked(string(kind), "still_processing", summary.StillProcessing)
	metrics.AddSweepChecked(string(kind), "errored", summary.Errored)
	metrics.ObserveSweepDuration(string(kind), time.Since(started).Seconds())

	s.log.Info().
		Str("kind", string(kind)).
		Int("checked", summary.Checked).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Int("still_processing", summary.StillProcessing).
		Int("errored", summary.Errored).
		Dur("took", time.Since(started)).
		Msg("sweep finished")
	return summary, nil
}

// sweepOne runs one job's poll-then-reconcile pipeline and returns the job's
// resulting state, or "" when the unit errored. Per-job errors are recorded
// individually; they never abort the rest of the batch.
func (s *Sweeper) sweepOne(ctx context.Context, provider adapter.ProviderAdapter, externalID string) model.JobState {
	allowed, err := s.limiter.Allow(ctx, red.ProviderPollKey(provider.Name()), s.pollRate, time.Minute)
	if err == nil && !allowed {
		s.log.Debug().Str("provider", provider.Name()).Msg("poll budget exhausted; leaving job for next sweep")
		return model.JobStateProcessing
	}

	status, err := provider.PollStatus(ctx, externalID)
	if err != nil {
		s.log.Warn().Err(err).Str("external_id", externalID).Msg("poll failed")
		return ""
	}
	job, err := s.recon.ApplyStatus(ctx, externalID, status)
	if err != nil {
		s.log.Warn().Err(err).Str("external_id", externalID).Msg("reconcile failed")
		return ""
	}
	return job.State
}
