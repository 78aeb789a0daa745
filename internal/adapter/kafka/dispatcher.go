package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/covid-model-deaths/internal/config"
	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// messageWriter is the subset of *kafkago.Writer the dispatcher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Dispatcher publishes curve-fit jobs to a Kafka topic, one message per job.
// It implements pipeline.JobDispatcher. Fitting workers consume the topic and
// write their draws into the job's output directory.
type Dispatcher struct {
	writer  messageWriter
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewDispatcher creates a Kafka producer for the configured job topic, paced
// at DispatchRate jobs per second (0 disables pacing).
func NewDispatcher(cfg *config.Config, logger *slog.Logger) *Dispatcher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaJobTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return newDispatcher(w, cfg.DispatchRate, logger)
}

func newDispatcher(w messageWriter, perSecond float64, logger *slog.Logger) *Dispatcher {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &Dispatcher{
		writer:  w,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
}

// Dispatch publishes a single job. It returns once the broker has
// acknowledged the message; it does not wait for the fit itself.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.CurveFitJob) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("dispatch %s: %w", job.Name, err)
	}
	msg, err := serializeToMessage(job)
	if err != nil {
		return err
	}
	if err := d.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("dispatch %s: %w", job.Name, err)
	}
	d.logger.Debug("curve-fit job dispatched", "job", job.Name, "location_id", job.LocationID, "n_draws", job.NDraws)
	return nil
}

// Close flushes pending messages and closes the writer.
func (d *Dispatcher) Close() error {
	return d.writer.Close()
}

// serializeToMessage marshals a job into a Kafka message keyed by job name,
// so retries of the same job land on the same partition.
func serializeToMessage(job domain.CurveFitJob) (kafkago.Message, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize curve-fit job: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(job.Name),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "location_id", Value: []byte(strconv.Itoa(job.LocationID))},
			{Key: "output_dir", Value: []byte(job.OutputDir)},
		},
	}, nil
}
