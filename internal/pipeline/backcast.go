package pipeline

import (
	"context"
	"fmt"

	"github.com/alitto/pond"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// backcastStage back-casts every location whose death rate has crossed the
// threshold and merges the result with the observed cases.
func (p *Pipeline) backcastStage(ctx context.Context, in Inputs, deathModel DeathModeler) ([]domain.CaseDeathRecord, error) {
	ids := domain.BackcastLocationIDs(in.FullData, p.opts.Model.LnMortalityRateThreshold)
	p.logger.Info("back-casting locations", "locations", len(ids))

	results := make([][]domain.BackcastRow, len(ids))
	pool := pond.New(p.opts.Workers, len(ids))
	defer pool.StopAndWait()

	group, groupCtx := pool.GroupContext(ctx)
	for i, id := range ids {
		group.Submit(func() error {
			rows, err := deathModel.ModelTable(groupCtx, id)
			if err != nil {
				if groupCtx.Err() != nil {
					return groupCtx.Err()
				}
				p.logger.Warn("death model failed, skipping back-cast", "location_id", id, "error", err)
				p.metrics.BackcastLocations.WithLabelValues("error").Inc()
				return nil
			}
			results[i] = domain.Backcast(rows, id)
			outcome := "success"
			if len(results[i]) == 0 {
				outcome = "empty"
			}
			p.metrics.BackcastLocations.WithLabelValues(outcome).Inc()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("backcast: %w", err)
	}

	var backcast []domain.BackcastRow
	for _, rows := range results {
		backcast = append(backcast, rows...)
	}

	merged := domain.MergeCasesAndDeaths(in.FullData, backcast)
	if err := p.deps.Store.WriteBackcast(merged); err != nil {
		return nil, fmt.Errorf("backcast: %w", err)
	}
	p.logger.Info("back-cast written", "rows", len(backcast), "merged", len(merged))
	return merged, nil
}
