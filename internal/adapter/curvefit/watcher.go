package curvefit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/covid-model-deaths/internal/observability"
)

// Watcher waits for dispatched curve-fit jobs to finish by polling their
// output directories for a draws file. It implements pipeline.Watcher.
type Watcher struct {
	clock    clockwork.Clock
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *observability.Metrics
}

// NewWatcher returns a watcher polling every interval for at most timeout.
func NewWatcher(clock clockwork.Clock, interval, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Watcher {
	return &Watcher{
		clock:    clock,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		metrics:  metrics,
	}
}

// Wait blocks until every output directory holds a draws file or the timeout
// expires, and returns the directories still pending. Running out of time is
// not an error: the jobs behind the pending directories simply contribute no
// draws.
func (w *Watcher) Wait(ctx context.Context, outputDirs []string) ([]string, error) {
	start := w.clock.Now()
	pending := outputDirs
	for {
		pending = unfinished(pending)
		w.metrics.JobsPending.Set(float64(len(pending)))
		if len(pending) == 0 {
			return nil, nil
		}
		if w.clock.Since(start) >= w.timeout {
			w.logger.Warn("curve-fit jobs timed out", "pending", len(pending), "timeout", w.timeout)
			return pending, nil
		}
		w.logger.Debug("waiting for curve-fit jobs", "pending", len(pending))

		select {
		case <-ctx.Done():
			return pending, ctx.Err()
		case <-w.clock.After(w.interval):
		}
	}
}

func unfinished(dirs []string) []string {
	var out []string
	for _, dir := range dirs {
		_, err := os.Stat(filepath.Join(dir, DrawsFile))
		if errors.Is(err, os.ErrNotExist) {
			out = append(out, dir)
		}
	}
	return out
}
