package model

import (
	"context"
	"math"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// measureLagDays spaces the social-distancing measures: measure i takes
// effect measureLagDays*i days after the threshold date.
const measureLagDays = 7

// SocialDistancing computes the social-distancing covariate. Each measure i
// ramps up as 1 - exp(-t/k) once it is in effect, where t counts days since
// the measure started, and the covariate is the weighted sum of the measures.
type SocialDistancing struct{}

// Covariate returns one covariate row per dated model row, anchored at each
// location's mean threshold date. Locations without a threshold date get no
// rows.
func (SocialDistancing) Covariate(ctx context.Context, rows []domain.ModelRow, means []domain.DateMean, weights []float64, k int) ([]domain.CovariateRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.CovariateRow, 0, len(rows))
	for _, r := range rows {
		if r.Date.IsZero() {
			continue
		}
		mean, ok := domain.LookupDateMean(means, r.Location)
		if !ok {
			continue
		}
		t := domain.Day(r.Date).Sub(mean.ThresholdDate).Hours() / 24
		out = append(out, domain.CovariateRow{
			Location:  r.Location,
			Date:      domain.Day(r.Date),
			Days:      r.Days,
			Covariate: covariateValue(t, weights, k),
		})
	}
	return out, nil
}

func covariateValue(t float64, weights []float64, k int) float64 {
	if k <= 0 {
		return domain.Null()
	}
	v := 0.0
	for i, w := range weights {
		elapsed := math.Max(0, t-float64(measureLagDays*i))
		v += w * (1 - math.Exp(-elapsed/float64(k)))
	}
	return v
}
