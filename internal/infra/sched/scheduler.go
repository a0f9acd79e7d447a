// File: internal/infra/sched/scheduler.go
package sched

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"pixelmint/internal/config"
	"pixelmint/internal/domain/model"
)

// Sweeps can be driven by this asynq-backed scheduler instead of the
// in-process ticker: the periodic task lives in redis, so the cadence
// survives process restarts and a crashed sweep is redelivered.

const TypeSweep = "sweep:run"

type sweepPayload struct {
	Kind model.JobKind `json:"kind"`
}

func newSweepTask(kind model.JobKind) (*asynq.Task, error) {
	payload, err := json.Marshal(sweepPayload{Kind: kind})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeSweep, payload, asynq.MaxRetry(1), asynq.Timeout(5*time.Minute)), nil
}

type Scheduler struct {
	scheduler *asynq.Scheduler
	server    *asynq.Server
	sweeper   *Sweeper
	kinds     []model.JobKind
	interval  time.Duration
	log       *zerolog.Logger
}

func NewScheduler(redisCfg *config.RedisConfig, sweeper *Sweeper, kinds []model.JobKind, interval time.Duration, log *zerolog.Logger) *Scheduler {
	opt := asynq.RedisClientOpt{Addr: redisCfg.URL, Password: redisCfg.Password, DB: redisCfg.DB}
	return &Scheduler{
		scheduler: asynq.NewScheduler(opt, &asynq.SchedulerOpts{}),
		server: asynq.NewServer(opt, asynq.Config{
			Concurrency: len(kinds),
		}),
		sweeper:  sweeper,
		kinds:    kinds,
		interval: interval,
		log:      log,
	}
}

// Start registers one periodic sweep entry per kind and runs the worker that
// executes them. Blocks until the server stops.
func (s *Scheduler) Start(ctx context.Context) error {
	for _, kind := range s.kinds {
		task, err := newSweepTask(kind)
		if err != nil {
			return err
		}
		spec := fmt.Sprintf("@every %s", s.interval)
		if _, err := s.scheduler.Register(spec, task); err != nil {
			return fmt.Errorf("register sweep %s: %w", kind, err)
		}
	}
	if err := s.scheduler.Start(); err != nil {
		return err
	}

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeSweep, s.handleSweep)

	go func() {
		<-ctx.Done()
		s.scheduler.Shutdown()
		s.server.Shutdown()
	}()
	return s.server.Run(mux)
}

func (s *Scheduler) handleSweep(ctx context.Context, t *asynq.Task) error {
	var p sweepPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("sweep payload: %w", err)
	}
	_, err := s.sweeper.Run(ctx, p.Kind)
	return err
}
