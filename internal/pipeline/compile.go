package pipeline

import (
	"context"
	"fmt"

	"github.com/alitto/pond"
	"github.com/puzpuzpuz/xsync"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// compileStage collects every location's ensemble output into the run's draw
// tables. Nothing is written when no location accepted its location-specific
// fit.
func (p *Pipeline) compileStage(ctx context.Context, in Inputs, sub submission, thresholds []domain.ThresholdDraws) error {
	drawer := p.deps.Drawers(sub.ensembleDirs, sub.draws)
	results := xsync.NewMapOf[domain.DatedDraws]()

	pool := pond.New(p.opts.Workers, len(sub.locations))
	defer pool.StopAndWait()

	group, groupCtx := pool.GroupContext(ctx)
	for _, loc := range sub.locations {
		req := drawRequest(loc, in, thresholds)
		group.Submit(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			dated, err := drawer.DatedDraws(req)
			if err != nil {
				p.logger.Warn("draws unusable", "location", loc.Name, "location_id", loc.ID, "error", err)
				dated = domain.DatedDraws{ModelUsed: domain.ModelNone}
			}
			results.Store(loc.Name, dated)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	tables := make([]domain.DrawTable, 0, len(sub.locations))
	used := make([]domain.ModelUsed, 0, len(sub.locations))
	for _, loc := range sub.locations {
		dated, _ := results.Load(loc.Name)
		tables = append(tables, dated.Draws)
		used = append(used, domain.ModelUsed{Location: loc.Name, ModelUsed: dated.ModelUsed})
		p.metrics.ModelsUsed.WithLabelValues(dated.ModelUsed).Inc()
		if dated.ModelUsed != domain.ModelLocation {
			p.logger.Info("location not using its own model", "location", loc.Name, "model_used", dated.ModelUsed)
		}
	}

	if err := domain.CheckModelsUsed(used); err != nil {
		return fmt.Errorf("compile: %w", err)
	}

	draws := domain.Concat(tables...)
	if err := p.deps.Store.WriteDraws(draws); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if err := p.deps.Store.WriteDailyDraws(draws.Daily()); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	if err := p.deps.Store.WriteModelsUsed(used); err != nil {
		return fmt.Errorf("compile: %w", err)
	}
	p.logger.Info("draws compiled", "locations", len(used), "rows", len(draws.Rows), "draws", draws.NumDraws())
	return nil
}

// drawRequest gathers a location's observations, threshold dates and
// population.
func drawRequest(loc domain.Location, in Inputs, thresholds []domain.ThresholdDraws) domain.DrawRequest {
	req := domain.DrawRequest{LocationID: loc.ID, Location: loc.Name}
	for _, r := range in.FullData {
		if r.State == loc.Name {
			req.Observed = append(req.Observed, r)
		}
	}
	for _, t := range thresholds {
		if t.Location == loc.Name {
			req.ThresholdDates = append(req.ThresholdDates, t.Draws...)
		}
	}
	for _, a := range in.AgePop {
		if a.LocationID == loc.ID && !domain.IsNull(a.Population) {
			req.Population += a.Population
		}
	}
	return req
}
