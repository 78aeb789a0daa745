package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/covid-model-deaths/internal/config"
	"github.com/couchcryptid/covid-model-deaths/internal/domain"
	"github.com/couchcryptid/covid-model-deaths/internal/observability"
)

// InputStore loads the versioned input tables of a run.
type InputStore interface {
	LoadFullData(ctx context.Context) ([]domain.CaseRecord, error)
	LoadDeaths(ctx context.Context) ([]domain.DeathRecord, error)
	LoadAgePop(ctx context.Context) ([]domain.AgePopRecord, error)
	LoadAgeDeath(ctx context.Context) ([]domain.AgeDeathRecord, error)
	LoadPopulations(ctx context.Context) ([]domain.PopulationRecord, error)
}

// HierarchySource returns the locations of a reporting location set.
type HierarchySource interface {
	Hierarchy(ctx context.Context, locationSetID, roundID int) ([]domain.Location, error)
}

// DeathModeler builds a location's threshold-aligned death model table.
type DeathModeler interface {
	ModelTable(ctx context.Context, locationID int) ([]domain.ModelRow, error)
}

// CovariateModel computes the social-distancing covariate of a model table.
type CovariateModel interface {
	Covariate(ctx context.Context, rows []domain.ModelRow, means []domain.DateMean, weights []float64, k int) ([]domain.CovariateRow, error)
}

// ThresholdImputer supplies per-draw threshold dates for the named locations.
type ThresholdImputer interface {
	Impute(ctx context.Context, records []domain.CaseDeathRecord, locations []string) ([]domain.ThresholdDraws, error)
}

// JobDispatcher submits a curve-fit job without waiting for it to run.
type JobDispatcher interface {
	Dispatch(ctx context.Context, job domain.CurveFitJob) error
}

// Watcher blocks until dispatched jobs have written their output, returning
// the output directories that are still pending when it gives up.
type Watcher interface {
	Wait(ctx context.Context, outputDirs []string) ([]string, error)
}

// Drawer turns a location's ensemble output into dated draws.
type Drawer interface {
	DatedDraws(req domain.DrawRequest) (domain.DatedDraws, error)
}

// Store persists the tables of a run.
type Store interface {
	WritePopulations(pops []domain.PopulationRecord) error
	WriteBackcast(records []domain.CaseDeathRecord) error
	WriteThresholdDates(draws []domain.ThresholdDraws) error
	SetupEnsembleDirs(configs []domain.Configuration) ([]string, error)
	WriteModelInput(c domain.Configuration, location string, rows []domain.ModelRow) (string, error)
	WriteCovariate(c domain.Configuration, location string, rows []domain.CovariateRow) (string, error)
	JobOutputDir(c domain.Configuration, location string) (string, error)
	WriteDraws(table domain.DrawTable) error
	WriteDailyDraws(table domain.DrawTable) error
	WriteModelsUsed(used []domain.ModelUsed) error
	ReadDraws() (domain.DrawTable, error)
	ReadDrawFile(path string) (domain.DrawTable, error)
	WriteAverageDraws(table domain.DrawTable) error
}

// Inputs are the input tables of a run.
type Inputs struct {
	FullData    []domain.CaseRecord
	Deaths      []domain.DeathRecord
	AgePop      []domain.AgePopRecord
	AgeDeath    []domain.AgeDeathRecord
	Populations []domain.PopulationRecord
}

// Deps are the collaborators of a run. DeathModels and Drawers build the
// collaborators that depend on data only known once the run has started.
// Drawers receives the ensemble directories with the draws each of their
// jobs was asked for.
type Deps struct {
	Inputs      InputStore
	Hierarchy   HierarchySource
	DeathModels func(in Inputs) DeathModeler
	Covariate   CovariateModel
	Imputer     ThresholdImputer
	Dispatcher  JobDispatcher
	Watcher     Watcher
	Drawers     func(ensembleDirs []string, draws []int) Drawer
	Store       Store
}

// Options configure a run.
type Options struct {
	Model     config.ModelSettings
	PeakFile  string
	PriorRuns []string // compiled draw files of earlier runs, most recent first
	Workers   int
}

// Pipeline runs one forecast: back-cast, threshold dates, ensemble dispatch,
// draw compilation and cross-run averaging.
type Pipeline struct {
	deps    Deps
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// New creates a Pipeline with the given collaborators and observability.
func New(deps Deps, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{
		deps:    deps,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once the run has loaded its inputs.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not loaded its inputs yet")
	}
	return nil
}

// Run executes every stage once. It returns domain.ErrNoLocationModel, before
// any draws are written, when no location accepted its location-specific fit.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started", "workers", p.opts.Workers, "configurations", len(p.opts.Model.Configurations()))
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	in, err := p.loadInputs(ctx)
	if err != nil {
		return err
	}
	p.ready.Store(true)

	if err := p.deps.Store.WritePopulations(in.Populations); err != nil {
		return fmt.Errorf("write populations: %w", err)
	}

	deathModel := p.deps.DeathModels(in)

	var merged []domain.CaseDeathRecord
	err = p.stage("backcast", func() error {
		merged, err = p.backcastStage(ctx, in, deathModel)
		return err
	})
	if err != nil {
		return err
	}

	var thresholds []domain.ThresholdDraws
	err = p.stage("threshold", func() error {
		thresholds, err = p.thresholdStage(ctx, merged)
		return err
	})
	if err != nil {
		return err
	}
	means := domain.MeanThresholdDates(thresholds, domain.USA.Name)

	var sub submission
	err = p.stage("submit", func() error {
		sub, err = p.submitStage(ctx, in, deathModel, means)
		return err
	})
	if err != nil {
		return err
	}

	err = p.stage("wait", func() error {
		pending, err := p.deps.Watcher.Wait(ctx, sub.outputDirs)
		if len(pending) > 0 {
			p.logger.Warn("continuing without pending curve-fit jobs", "pending", len(pending))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("wait for curve-fit jobs: %w", err)
	}

	err = p.stage("compile", func() error {
		return p.compileStage(ctx, in, sub, thresholds)
	})
	if err != nil {
		return err
	}

	if err := p.stage("average", p.averageStage); err != nil {
		return err
	}

	p.logger.Info("pipeline finished", "locations", len(sub.locations), "jobs", len(sub.outputDirs))
	return nil
}

func (p *Pipeline) loadInputs(ctx context.Context) (Inputs, error) {
	var (
		in  Inputs
		err error
	)
	if in.FullData, err = p.deps.Inputs.LoadFullData(ctx); err != nil {
		return in, fmt.Errorf("load full_data: %w", err)
	}
	if in.Deaths, err = p.deps.Inputs.LoadDeaths(ctx); err != nil {
		return in, fmt.Errorf("load deaths: %w", err)
	}
	if in.AgePop, err = p.deps.Inputs.LoadAgePop(ctx); err != nil {
		return in, fmt.Errorf("load age_pop: %w", err)
	}
	if in.AgeDeath, err = p.deps.Inputs.LoadAgeDeath(ctx); err != nil {
		return in, fmt.Errorf("load age_death: %w", err)
	}
	if in.Populations, err = p.deps.Inputs.LoadPopulations(ctx); err != nil {
		return in, fmt.Errorf("load us_pops: %w", err)
	}
	p.logger.Info("inputs loaded",
		"full_data", len(in.FullData),
		"deaths", len(in.Deaths),
		"age_pop", len(in.AgePop),
		"age_death", len(in.AgeDeath),
	)
	return in, nil
}

// stage runs fn and records its duration.
func (p *Pipeline) stage(name string, fn func() error) error {
	start := p.clock.Now()
	err := fn()
	elapsed := p.clock.Since(start)
	p.metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
	if err != nil {
		p.logger.Error("stage failed", "stage", name, "error", err)
		return err
	}
	p.logger.Info("stage complete", "stage", name, "duration", elapsed)
	return nil
}
