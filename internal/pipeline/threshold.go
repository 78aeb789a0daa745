package pipeline

import (
	"context"
	"fmt"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// thresholdStage imputes threshold-date draws for every US location of the
// merged case and death table, the country included.
func (p *Pipeline) thresholdStage(ctx context.Context, merged []domain.CaseDeathRecord) ([]domain.ThresholdDraws, error) {
	names := domain.ThresholdLocationNames(merged, domain.USA.Name)
	draws, err := p.deps.Imputer.Impute(ctx, merged, names)
	if err != nil {
		return nil, fmt.Errorf("threshold dates: %w", err)
	}
	if err := p.deps.Store.WriteThresholdDates(draws); err != nil {
		return nil, fmt.Errorf("threshold dates: %w", err)
	}
	p.logger.Info("threshold dates written", "candidates", len(names), "locations", len(draws))
	return draws, nil
}
