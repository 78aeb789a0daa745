package model

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// ThresholdImputer estimates, per location and draw, the date the log death
// rate first exceeds the threshold. Locations whose observed deaths cross use
// the observed date for every draw. Otherwise the death rate is imputed from
// the confirmed case rate times a log-normal case fatality ratio drawn per
// draw, and the crossing is shifted by the case-to-death lag.
type ThresholdImputer struct {
	LnThreshold float64
	Draws       int
	CFR         float64
	CFRSigma    float64
	LagDays     int
	Seed        uint64
}

// Impute returns threshold draws for the named locations in list order. A
// location with no observed crossing and no crossing in any imputed draw is
// left out. Imputed draws that never cross fall on the day after the last
// observation, shifted by the lag.
func (im ThresholdImputer) Impute(ctx context.Context, records []domain.CaseDeathRecord, locations []string) ([]domain.ThresholdDraws, error) {
	byState := make(map[string][]domain.CaseDeathRecord)
	for _, r := range records {
		byState[r.State] = append(byState[r.State], r)
	}

	out := make([]domain.ThresholdDraws, 0, len(locations))
	for _, name := range locations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows := byState[name]
		if len(rows) == 0 {
			continue
		}
		if td, ok := im.impute(name, rows); ok {
			out = append(out, td)
		}
	}
	return out, nil
}

func (im ThresholdImputer) impute(name string, rows []domain.CaseDeathRecord) (domain.ThresholdDraws, bool) {
	rows = slices.Clone(rows)
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })

	dates := make([]time.Time, len(rows))
	deathRates := make([]float64, len(rows))
	caseRates := make([]float64, len(rows))
	for i, r := range rows {
		dates[i] = domain.Day(r.Date)
		deathRates[i] = r.DeathRate
		caseRates[i] = r.ConfirmedCaseRate
	}

	td := domain.ThresholdDraws{Location: name, LocationID: rows[0].LocationID, Draws: make([]time.Time, im.Draws)}

	if observed, ok := domain.FirstCrossing(dates, deathRates, im.LnThreshold); ok {
		for i := range td.Draws {
			td.Draws[i] = observed
		}
		return td, true
	}

	var last time.Time
	for _, d := range dates {
		if !d.IsZero() && d.After(last) {
			last = d
		}
	}
	if last.IsZero() {
		return domain.ThresholdDraws{}, false
	}

	cfr := distuv.LogNormal{
		Mu:    math.Log(im.CFR),
		Sigma: im.CFRSigma,
		Src:   rand.NewPCG(im.Seed, uint64(td.LocationID)),
	}
	imputed := make([]float64, len(caseRates))
	crossed := false
	for i := range td.Draws {
		ratio := cfr.Rand()
		for j, c := range caseRates {
			imputed[j] = c * ratio
		}
		d, ok := domain.FirstCrossing(dates, imputed, im.LnThreshold)
		if !ok {
			td.Draws[i] = domain.AddDays(last, im.LagDays+1)
			continue
		}
		crossed = true
		td.Draws[i] = domain.AddDays(d, im.LagDays)
	}
	if !crossed {
		return domain.ThresholdDraws{}, false
	}
	return td, true
}
