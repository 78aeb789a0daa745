package pipeline

import (
	"errors"
	"fmt"
	"os"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// averageStage blends this run's draws with the draws of earlier runs.
// Earlier runs that cannot be found are left out of the average.
func (p *Pipeline) averageStage() error {
	current, err := p.deps.Store.ReadDraws()
	if err != nil {
		return fmt.Errorf("average: %w", err)
	}

	var earlier []domain.DrawTable
	for _, path := range p.opts.PriorRuns {
		if path == "" {
			continue
		}
		table, err := p.deps.Store.ReadDrawFile(path)
		if errors.Is(err, os.ErrNotExist) {
			p.logger.Warn("earlier run not found, averaging without it", "path", path)
			continue
		}
		if err != nil {
			return fmt.Errorf("average: %w", err)
		}
		earlier = append(earlier, table)
	}

	avg := domain.AverageRuns(current, earlier...)
	if err := p.deps.Store.WriteAverageDraws(avg); err != nil {
		return fmt.Errorf("average: %w", err)
	}
	p.logger.Info("draws averaged", "runs", 1+len(earlier), "rows", len(avg.Rows))
	return nil
}
