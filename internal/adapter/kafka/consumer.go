package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// commitTimeout bounds a job commit. Commits outlive the caller's context so
// a job finished during shutdown is still acknowledged.
const commitTimeout = 5 * time.Second

// messageReader is the subset of *kafkago.Reader the consumer needs.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// JobConsumer reads curve-fit jobs from the job topic on behalf of a fitting
// worker. Offsets are committed explicitly once the worker is done with a job.
type JobConsumer struct {
	reader messageReader
	logger *slog.Logger
}

// NewJobConsumer creates a consumer-group reader for the job topic.
func NewJobConsumer(brokers []string, topic, groupID string, logger *slog.Logger) *JobConsumer {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafkago.FirstOffset,
		MaxWait:     time.Second,
	})
	return newJobConsumer(r, logger)
}

func newJobConsumer(r messageReader, logger *slog.Logger) *JobConsumer {
	return &JobConsumer{reader: r, logger: logger}
}

// Next blocks until a job is available. The returned commit function
// acknowledges the job, even after ctx is canceled. Messages that do not hold a job are committed and
// skipped.
func (c *JobConsumer) Next(ctx context.Context) (domain.CurveFitJob, func(context.Context) error, error) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return domain.CurveFitJob{}, nil, fmt.Errorf("fetch curve-fit job: %w", err)
		}
		job, err := deserializeJob(msg)
		if err != nil {
			c.logger.Warn("skipping malformed job message",
				"partition", msg.Partition, "offset", msg.Offset, "error", err)
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				return domain.CurveFitJob{}, nil, fmt.Errorf("commit malformed job: %w", err)
			}
			continue
		}
		commit := func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
			defer cancel()
			return c.reader.CommitMessages(ctx, msg)
		}
		return job, commit, nil
	}
}

// Close closes the underlying reader.
func (c *JobConsumer) Close() error {
	return c.reader.Close()
}

func deserializeJob(msg kafkago.Message) (domain.CurveFitJob, error) {
	var job domain.CurveFitJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		return job, fmt.Errorf("deserialize curve-fit job: %w", err)
	}
	if job.Name == "" || job.OutputDir == "" {
		return job, errors.New("curve-fit job needs a name and an output dir")
	}
	return job, nil
}
