// Command stubfit is an offline stand-in for the curve-fit workers. It
// consumes curve-fit jobs from Kafka and writes a draws file for each job,
// so a forecast run can be exercised end to end without the real fitter.
//
// Usage:
//
//	go run ./cmd/stubfit \
//	  -brokers localhost:9092 \
//	  -topic curve-fit-jobs \
//	  -workers 4
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alitto/pond"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/couchcryptid/covid-model-deaths/internal/adapter/curvefit"
	kafkaadapter "github.com/couchcryptid/covid-model-deaths/internal/adapter/kafka"
	"github.com/couchcryptid/covid-model-deaths/internal/observability"
)

func main() {
	brokers := flag.String("brokers", sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "comma-separated Kafka brokers")
	topic := flag.String("topic", sharedcfg.EnvOrDefault("KAFKA_JOB_TOPIC", "curve-fit-jobs"), "curve-fit job topic")
	group := flag.String("group", "stubfit", "consumer group id")
	workers := flag.Int("workers", 4, "concurrent fits")
	horizon := flag.Int("horizon", 90, "days forecast past the last observation")
	logLevel := flag.String("log-level", "info", "log level")
	flag.Parse()

	logger := observability.NewLogger(*logLevel, "text")

	fitter := curvefit.DefaultStubFitter()
	fitter.Horizon = *horizon

	if err := run(sharedcfg.ParseBrokers(*brokers), *topic, *group, *workers, fitter, logger); err != nil {
		logger.Error("stubfit failed", "error", err)
		os.Exit(1)
	}
}

func run(brokers []string, topic, group string, workers int, fitter curvefit.StubFitter, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumer := kafkaadapter.NewJobConsumer(brokers, topic, group, logger)
	defer func() {
		if err := consumer.Close(); err != nil {
			logger.Error("kafka consumer close error", "error", err)
		}
	}()

	pool := pond.New(workers, workers)
	defer pool.StopAndWait()

	logger.Info("stubfit started", "topic", topic, "group", group, "workers", workers)
	for {
		job, commit, err := consumer.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				logger.Info("shutting down")
				return nil
			}
			return err
		}
		pool.Submit(func() {
			if err := fitter.Run(job); err != nil {
				logger.Warn("fit failed", "job", job.Name, "error", err)
			} else {
				logger.Info("draws written", "job", job.Name, "output_dir", job.OutputDir)
			}
			if err := commit(ctx); err != nil {
				logger.Error("commit failed", "job", job.Name, "error", err)
			}
		})
	}
}
