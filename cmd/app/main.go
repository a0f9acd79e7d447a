// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"pixelmint/internal/config"
	"pixelmint/internal/domain/model"
	"pixelmint/internal/domain/ports/adapter"
	prov "pixelmint/internal/infra/adapters/provider"
	pg "pixelmint/internal/infra/db/postgres"
	"pixelmint/internal/infra/logging"
	"pixelmint/internal/infra/metrics"
	red "pixelmint/internal/infra/redis"
	"pixelmint/internal/infra/sched"
	"pixelmint/internal/infra/storage"
	"pixelmint/internal/infra/web"
	"pixelmint/internal/infra/worker"
	"pixelmint/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "development mode (noop providers, console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()
	rateLimiter := red.NewRateLimiter(redisClient)
	dedupe := red.NewWebhookDedupe(redisClient, cfg.Redis.TTL)

	// ---- Object storage ----
	store, err := storage.NewS3(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("storage")
	}

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool)
	creditRepo := pg.NewCreditRepo(pool)
	userRepo := pg.NewUserRepo(pool)

	// ---- Providers ----
	providers, err := buildProviders(ctx, cfg, store, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("providers")
	}

	// ---- Use cases ----
	ledgerUC := usecase.NewLedgerUseCase(userRepo, creditRepo, tm, logger)
	migratorUC := usecase.NewMigratorUseCase(store, logger)
	jobUC := usecase.NewJobUseCase(jobRepo, ledgerUC, migratorUC, providers, tm, logger)

	// ---- Sweeper ----
	workerPool := worker.NewPool(cfg.Sweep.Workers, logger)
	workerPool.Start(ctx)
	defer workerPool.Stop()
	sweeper := sched.NewSweeper(jobRepo, jobUC, providers, rateLimiter, workerPool, cfg.Sweep, cfg.Provider.PollRatePerMinute, logger)

	if cfg.Sweep.UseScheduler {
		kinds := make([]model.JobKind, 0, len(providers))
		for kind := range providers {
			kinds = append(kinds, kind)
		}
		scheduler := sched.NewScheduler(&cfg.Redis, sweeper, kinds, cfg.Sweep.Interval, logger)
		go func() {
			if err := scheduler.Start(ctx); err != nil {
				logger.Error().Err(err).Msg("sweep scheduler stopped")
			}
		}()
	} else {
		go sweeper.Start(ctx)
	}

	// ---- HTTP server ----
	srv := web.NewServer(jobUC, ledgerUC, userRepo, sweeper, dedupe,
		cfg.Provider.WebhookSecret, cfg.Server.InternalKey, cfg.Server.PublicURL,
		cfg.Server.Port, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildProviders(ctx context.Context, cfg *config.Config, store adapter.ObjectStore, logger *zerolog.Logger) (map[model.JobKind]adapter.ProviderAdapter, error) {
	providers := make(map[model.JobKind]adapter.ProviderAdapter)

	if cfg.Runtime.Dev {
		providers[model.JobKindImage] = prov.NewNoopAdapter(model.JobKindImage, 2*time.Second, 2)
		providers[model.JobKindVideo] = prov.NewNoopAdapter(model.JobKindVideo, 5*time.Second, 1)
		providers[model.JobKindUpscale] = prov.NewNoopAdapter(model.JobKindUpscale, 2*time.Second, 1)
		return providers, nil
	}

	if cfg.Provider.ReplicateToken != "" {
		for kind, mdl := range map[model.JobKind]string{
			model.JobKindImage:   cfg.Provider.ImageModel,
			model.JobKindVideo:   cfg.Provider.VideoModel,
			model.JobKindUpscale: cfg.Provider.UpscaleModel,
		} {
			a, err := prov.NewReplicateAdapter(cfg.Provider.ReplicateToken, kind, mdl, logger)
			if err != nil {
				return nil, err
			}
			providers[kind] = a
		}
	}

	// Gemini handles image editing when configured; it takes precedence for
	// the image family only if no Replicate token is present.
	if cfg.Provider.GeminiKey != "" {
		if _, ok := providers[model.JobKindImage]; !ok {
			g, err := prov.NewGeminiAdapter(ctx, cfg.Provider.GeminiKey, cfg.Provider.GeminiURL, "gemini-2.5-flash-image", store, logger)
			if err != nil {
				return nil, err
			}
			providers[model.JobKindImage] = g
		}
	}
	return providers, nil
}
