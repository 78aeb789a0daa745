package curvefit

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"
	"path/filepath"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/couchcryptid/covid-model-deaths/internal/adapter/csvfs"
	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

var errNoObservations = errors.New("no observed log death rates")

// StubFitter is an offline stand-in for the curve-fit workers. It fits a
// saturating curve, ln rate = a + b * tau * (1 - exp(-day/tau)), to a job's
// input table and samples draws by perturbing b. Inputs with fewer than
// MinPoints observations get national draws instead, grown at NationalGrowth
// from the last observed log rate.
type StubFitter struct {
	Horizon        int     // days forecast past the last observation
	Tau            float64 // saturation scale in days; 0 fits a straight line
	GrowthSpread   float64 // standard deviation of b relative to its fit
	MinPoints      int
	NationalGrowth float64
	Seed           uint64
}

// DefaultStubFitter returns the fitter settings used by cmd/stubfit.
func DefaultStubFitter() StubFitter {
	return StubFitter{
		Horizon:        90,
		Tau:            30,
		GrowthSpread:   0.1,
		MinPoints:      3,
		NationalGrowth: 0.1,
		Seed:           20200401,
	}
}

// Fit reads the job's input table and samples its draws. Draws of the same
// job are reproducible for a given Seed.
func (f StubFitter) Fit(job domain.CurveFitJob) (ModelDraws, error) {
	rows, err := csvfs.ReadModelInput(job.DataFile)
	if err != nil {
		return ModelDraws{}, err
	}

	var days, rates []float64
	for _, r := range rows {
		if domain.IsNull(r.Days) || domain.IsNull(r.LnDeathRate) {
			continue
		}
		days = append(days, r.Days)
		rates = append(rates, r.LnDeathRate)
	}
	if len(days) == 0 {
		return ModelDraws{}, fmt.Errorf("fit %s: %w", job.Name, errNoObservations)
	}

	lastIdx := 0
	for i, d := range days {
		if d > days[lastIdx] {
			lastIdx = i
		}
	}

	national := len(days) < f.MinPoints
	var alpha, beta float64
	if national {
		beta = f.NationalGrowth
		alpha = rates[lastIdx] - beta*f.saturate(days[lastIdx])
	} else {
		xs := make([]float64, len(days))
		for i, d := range days {
			xs[i] = f.saturate(d)
		}
		alpha, beta = stat.LinearRegression(xs, rates, nil, false)
		if math.IsNaN(alpha) || math.IsNaN(beta) {
			return ModelDraws{}, fmt.Errorf("fit %s: degenerate input", job.Name)
		}
	}

	axis := make([]float64, int(math.Ceil(days[lastIdx]))+f.Horizon+1)
	for i := range axis {
		axis[i] = float64(i)
	}
	growth := distuv.Normal{
		Mu:    beta,
		Sigma: math.Abs(beta) * f.GrowthSpread,
		Src:   rand.NewPCG(f.Seed, jobSeed(job.Name)),
	}
	draws := domain.DrawMatrix{Days: axis}
	for range job.NDraws {
		b := growth.Rand()
		row := make([]float64, len(axis))
		for j, d := range axis {
			row[j] = alpha + b*f.saturate(d)
		}
		draws.Values = append(draws.Values, row)
	}

	md := ModelDraws{Days: axis}
	if national {
		md.National = draws
	} else {
		md.Location = draws
	}
	return md, nil
}

// Run fits the job and writes its draws file into the job's output directory.
func (f StubFitter) Run(job domain.CurveFitJob) error {
	md, err := f.Fit(job)
	if err != nil {
		return err
	}
	return WriteDraws(filepath.Join(job.OutputDir, DrawsFile), md)
}

func (f StubFitter) saturate(day float64) float64 {
	if f.Tau <= 0 {
		return day
	}
	return f.Tau * (1 - math.Exp(-day/f.Tau))
}

func jobSeed(name string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return h.Sum64()
}
