// Command deaths runs one COVID-19 death forecast: it back-casts deaths,
// estimates threshold dates, dispatches the curve-fit ensemble, and compiles
// and averages the resulting draws. Health, readiness and metrics endpoints
// are served for the duration of the run.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/covid-model-deaths/internal/adapter/csvfs"
	"github.com/couchcryptid/covid-model-deaths/internal/adapter/curvefit"
	"github.com/couchcryptid/covid-model-deaths/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/covid-model-deaths/internal/adapter/kafka"
	"github.com/couchcryptid/covid-model-deaths/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/covid-model-deaths/internal/adapter/redis"
	"github.com/couchcryptid/covid-model-deaths/internal/config"
	"github.com/couchcryptid/covid-model-deaths/internal/model"
	"github.com/couchcryptid/covid-model-deaths/internal/observability"
	"github.com/couchcryptid/covid-model-deaths/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	if err := run(cfg, logger, metrics); err != nil {
		logger.Error("forecast run failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.InputVersion)
	if err != nil {
		return err
	}
	defer store.Close()
	logger.Info("input store opened", "version", store.Version())

	// The hierarchy cache is optional (enabled via REDIS_URL).
	var hierarchy pipeline.HierarchySource = store
	var redisCheck func(context.Context) error
	if cfg.RedisURL != "" {
		client, err := redisadapter.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		hierarchy = redisadapter.NewCachedHierarchy(store, client, cfg.HierarchyCacheTTL, logger, metrics)
		redisCheck = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		logger.Info("hierarchy cache enabled", "ttl", cfg.HierarchyCacheTTL)
	} else {
		logger.Info("hierarchy cache disabled")
	}

	dispatcher := kafkaadapter.NewDispatcher(cfg, logger)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error("kafka dispatcher close error", "error", err)
		}
	}()

	clock := clockwork.NewRealClock()
	settings := cfg.Model
	deps := pipeline.Deps{
		Inputs:    store,
		Hierarchy: hierarchy,
		DeathModels: func(in pipeline.Inputs) pipeline.DeathModeler {
			return model.NewDeathModel(in.Deaths, in.AgePop, in.AgeDeath, settings.LnMortalityRateThreshold, settings.SmoothingWindow)
		},
		Covariate: model.SocialDistancing{},
		Imputer: model.ThresholdImputer{
			LnThreshold: settings.LnMortalityRateThreshold,
			Draws:       settings.ThresholdDraws,
			CFR:         settings.CaseFatalityRatio,
			CFRSigma:    settings.CaseFatalitySigma,
			LagDays:     settings.DeathLagDays,
			Seed:        settings.Seed,
		},
		Dispatcher: dispatcher,
		Watcher:    curvefit.NewWatcher(clock, cfg.JobPollInterval, cfg.JobWaitTimeout, logger, metrics),
		Drawers: func(dirs []string, draws []int) pipeline.Drawer {
			return curvefit.NewDrawer(dirs, draws)
		},
		Store: csvfs.NewLayout(cfg.OutputDir),
	}
	p := pipeline.New(deps, pipeline.Options{
		Model:     settings,
		PeakFile:  cfg.PeakFile,
		PriorRuns: []string{cfg.YesterdayDrawPath, cfg.BeforeYesterdayDrawPath},
		Workers:   cfg.BackcastWorkers,
	}, clock, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Checks{
		{Name: "postgres", Check: store.CheckReadiness},
		{Name: "redis", Check: redisCheck},
		{Name: "pipeline", Check: p.CheckReadiness},
	}, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	runErr := p.Run(ctx)
	if ctx.Err() != nil {
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	if runErr != nil {
		return runErr
	}
	logger.Info("forecast run complete", "output_dir", cfg.OutputDir)
	return nil
}
