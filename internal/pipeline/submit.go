package pipeline

import (
	"context"
	"fmt"
	"slices"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// submission is what the later stages need to know about dispatched work.
type submission struct {
	locations    []domain.Location
	ensembleDirs []string
	draws        []int // per ensemble directory
	outputDirs   []string
}

// submitStage writes every location's curve-fit inputs for every ensemble
// configuration and dispatches one job per pair. A location whose inputs
// cannot be built, or a failed dispatch, is logged and counted as a failed
// job without holding back the remaining locations.
func (p *Pipeline) submitStage(ctx context.Context, in Inputs, deathModel DeathModeler, means []domain.DateMean) (submission, error) {
	var sub submission

	hierarchy, err := p.deps.Hierarchy.Hierarchy(ctx, p.opts.Model.LocationSetID, p.opts.Model.RoundID)
	if err != nil {
		return sub, fmt.Errorf("submit: load hierarchy: %w", err)
	}
	sub.locations, err = domain.ResolveLocations(hierarchy, in.FullData, p.opts.Model.ParentLocationID, p.opts.Model.Carveouts)
	if err != nil {
		return sub, fmt.Errorf("submit: %w", err)
	}

	configs := p.opts.Model.Configurations()
	sub.ensembleDirs, err = p.deps.Store.SetupEnsembleDirs(configs)
	if err != nil {
		return sub, fmt.Errorf("submit: %w", err)
	}
	for _, c := range configs {
		sub.draws = append(sub.draws, c.Draws)
	}

	nursingHomes := domain.NursingHomes(p.opts.Model.Carveouts)
	for i, loc := range sub.locations {
		table, err := deathModel.ModelTable(ctx, loc.ID)
		if err != nil {
			if ctx.Err() != nil {
				return sub, ctx.Err()
			}
			p.logger.Error("death model failed, skipping location", "location", loc.Name, "location_id", loc.ID, "error", err)
			p.metrics.JobsDispatched.WithLabelValues("error").Add(float64(len(configs)))
			continue
		}
		rows := domain.FilterModelInput(table, slices.Contains(nursingHomes, loc.Name), nursingHomes)

		for _, c := range configs {
			job, err := p.prepareJob(ctx, loc, c, rows, means)
			if err != nil {
				if ctx.Err() != nil {
					return sub, ctx.Err()
				}
				p.logger.Error("job inputs failed", "job", domain.JobName(loc.ID, c), "location_id", loc.ID, "error", err)
				p.metrics.JobsDispatched.WithLabelValues("error").Inc()
				continue
			}
			sub.outputDirs = append(sub.outputDirs, job.OutputDir)

			if err := p.deps.Dispatcher.Dispatch(ctx, job); err != nil {
				if ctx.Err() != nil {
					return sub, ctx.Err()
				}
				p.logger.Error("dispatch failed", "job", job.Name, "location_id", loc.ID, "error", err)
				p.metrics.JobsDispatched.WithLabelValues("error").Inc()
				continue
			}
			p.metrics.JobsDispatched.WithLabelValues("success").Inc()
		}
		p.logger.Debug("location submitted", "location", loc.Name, "location_id", loc.ID,
			"progress", fmt.Sprintf("%d/%d", i+1, len(sub.locations)))
	}

	p.metrics.JobsPending.Set(float64(len(sub.outputDirs)))
	p.logger.Info("curve-fit jobs submitted", "locations", len(sub.locations), "jobs", len(sub.outputDirs))
	return sub, nil
}

func (p *Pipeline) prepareJob(ctx context.Context, loc domain.Location, c domain.Configuration, rows []domain.ModelRow, means []domain.DateMean) (domain.CurveFitJob, error) {
	dataFile, err := p.deps.Store.WriteModelInput(c, loc.Name, rows)
	if err != nil {
		return domain.CurveFitJob{}, err
	}
	cov, err := p.deps.Covariate.Covariate(ctx, rows, means, c.Weights, c.K)
	if err != nil {
		return domain.CurveFitJob{}, fmt.Errorf("covariate: %w", err)
	}
	covFile, err := p.deps.Store.WriteCovariate(c, loc.Name, cov)
	if err != nil {
		return domain.CurveFitJob{}, err
	}
	outputDir, err := p.deps.Store.JobOutputDir(c, loc.Name)
	if err != nil {
		return domain.CurveFitJob{}, err
	}
	return domain.CurveFitJob{
		Name:            domain.JobName(loc.ID, c),
		LocationID:      loc.ID,
		ModelLocation:   loc.Name,
		ModelLocationID: loc.ID,
		DataFile:        dataFile,
		CovFile:         covFile,
		PeakedFile:      p.opts.PeakFile,
		OutputDir:       outputDir,
		NDraws:          c.Draws,
	}, nil
}
