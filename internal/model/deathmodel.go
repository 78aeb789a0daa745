// Package model holds the default per-location collaborators of a forecast
// run: the death model that feeds back-casting and curve fitting, the
// social-distancing covariate and the threshold-date imputer.
package model

import (
	"context"
	"math"
	"slices"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

const (
	// defaultLogGrowth is the daily growth of the log death rate assumed when
	// a location's early observations cannot support a regression.
	defaultLogGrowth = 0.25
	// growthWindow is the number of leading observations used to estimate
	// early log growth.
	growthWindow = 7
)

// DeathModel builds threshold-aligned death model tables. Rates are age
// standardized against the pooled locations of the target's country, and day
// indices count days since the location crossed the log rate threshold.
type DeathModel struct {
	deaths      []domain.DeathRecord
	agePop      []domain.AgePopRecord
	ageDeath    []domain.AgeDeathRecord
	lnThreshold float64
	window      int
}

// NewDeathModel returns a death model over the given input tables. Death
// rates are smoothed with a centered moving average of window days before
// the threshold is applied; a window of 1 leaves them as observed.
func NewDeathModel(deaths []domain.DeathRecord, agePop []domain.AgePopRecord, ageDeath []domain.AgeDeathRecord, lnThreshold float64, window int) *DeathModel {
	return &DeathModel{
		deaths:      deaths,
		agePop:      agePop,
		ageDeath:    ageDeath,
		lnThreshold: lnThreshold,
		window:      window,
	}
}

// ModelTable returns the model table for locationID: the target's rows first,
// then the rows of every other location of the same country that crossed the
// threshold, ordered by location id. A location that never crossed has no
// rows. When a location's reporting starts above the threshold its table gets
// a day-0 anchor row with no date and no deaths, positioned by back-casting.
func (m *DeathModel) ModelTable(ctx context.Context, locationID int) ([]domain.ModelRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	country, ok := m.countryOf(locationID)
	if !ok {
		return []domain.ModelRow{}, nil
	}

	byLocation := make(map[int][]domain.DeathRecord)
	for _, r := range m.deaths {
		if r.Country == country {
			byLocation[r.LocationID] = append(byLocation[r.LocationID], r)
		}
	}

	ids := make([]int, 0, len(byLocation))
	for id := range byLocation {
		if id != locationID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	ids = append([]int{locationID}, ids...)

	scale := m.ageScales(ids)

	out := make([]domain.ModelRow, 0)
	for _, id := range ids {
		out = append(out, m.locationRows(byLocation[id], scale[id])...)
	}
	return out, nil
}

func (m *DeathModel) countryOf(locationID int) (string, bool) {
	for _, r := range m.deaths {
		if r.LocationID == locationID {
			return r.Country, true
		}
	}
	return "", false
}

// ageScales returns, per location, the factor that standardizes its crude
// death rate to the pooled age structure: the pooled expected mortality over
// the location's expected mortality. Locations without age data get 1.
func (m *DeathModel) ageScales(ids []int) map[int]float64 {
	mortality := make(map[string]float64, len(m.ageDeath))
	for _, a := range m.ageDeath {
		mortality[a.AgeGroup] = a.DeathRate
	}

	expected := make(map[int]float64, len(ids))
	var pooled []float64
	for _, id := range ids {
		var num, den float64
		for _, a := range m.agePop {
			if a.LocationID != id || domain.IsNull(a.Population) {
				continue
			}
			rate, ok := mortality[a.AgeGroup]
			if !ok {
				continue
			}
			num += a.Population * rate
			den += a.Population
		}
		if den > 0 && num > 0 {
			expected[id] = num / den
			pooled = append(pooled, num/den)
		}
	}

	out := make(map[int]float64, len(ids))
	mean := 0.0
	if len(pooled) > 0 {
		mean = stat.Mean(pooled, nil)
	}
	for _, id := range ids {
		e, ok := expected[id]
		if !ok || mean == 0 {
			out[id] = 1
			continue
		}
		out[id] = mean / e
	}
	return out
}

func (m *DeathModel) population(locationID int, records []domain.DeathRecord) float64 {
	total := 0.0
	for _, a := range m.agePop {
		if a.LocationID == locationID && !domain.IsNull(a.Population) {
			total += a.Population
		}
	}
	if total > 0 {
		return total
	}
	for _, r := range records {
		if !domain.IsNull(r.Population) && r.Population > 0 {
			return r.Population
		}
	}
	return domain.Null()
}

func (m *DeathModel) locationRows(records []domain.DeathRecord, scale float64) []domain.ModelRow {
	if len(records) == 0 {
		return nil
	}
	records = slices.Clone(records)
	sort.SliceStable(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	id := records[0].LocationID
	pop := m.population(id, records)

	rates := make([]float64, len(records))
	dates := make([]time.Time, len(records))
	for i, r := range records {
		dates[i] = domain.Day(r.Date)
		rates[i] = domain.Null()
		switch {
		case !domain.IsNull(r.Deaths) && !domain.IsNull(pop) && pop > 0:
			rates[i] = r.Deaths / pop * scale
		case !domain.IsNull(r.DeathRate):
			rates[i] = r.DeathRate * scale
		}
	}

	if m.window > 1 {
		rates = smoothRates(dates, rates, m.window)
	}

	crossing, ok := domain.FirstCrossing(dates, rates, m.lnThreshold)
	if !ok {
		return nil
	}
	start := slices.IndexFunc(dates, func(d time.Time) bool { return d.Equal(crossing) })

	// Reporting that starts above the threshold has no observed crossing day:
	// the observed rows are shifted by the estimated days since crossing.
	offset := 0.0
	anchored := start == 0
	if anchored {
		growth := logGrowth(dates, rates)
		offset = (math.Log(rates[0]) - m.lnThreshold) / growth
	}

	out := make([]domain.ModelRow, 0, len(records)-start+1)
	if anchored {
		out = append(out, domain.ModelRow{
			LocationID:  id,
			Location:    records[0].Location,
			Country:     records[0].Country,
			Days:        0,
			Deaths:      domain.Null(),
			DeathRate:   domain.Null(),
			LnDeathRate: m.lnThreshold,
			Population:  pop,
		})
	}
	for i := start; i < len(records); i++ {
		r := records[i]
		ln := domain.Null()
		if !domain.IsNull(rates[i]) && rates[i] > 0 {
			ln = math.Log(rates[i])
		}
		out = append(out, domain.ModelRow{
			LocationID:  id,
			Location:    r.Location,
			Country:     r.Country,
			Date:        dates[i],
			Days:        offset + dates[i].Sub(crossing).Hours()/24,
			Deaths:      r.Deaths,
			DeathRate:   rates[i],
			LnDeathRate: ln,
			Population:  pop,
		})
	}
	return out
}

// logGrowth estimates the daily slope of the log death rate over the leading
// observations by least squares, falling back to defaultLogGrowth when the
// fit is unavailable or not increasing.
func logGrowth(dates []time.Time, rates []float64) float64 {
	var xs, ys []float64
	for i := 0; i < len(dates) && len(xs) < growthWindow; i++ {
		if domain.IsNull(rates[i]) || rates[i] <= 0 {
			continue
		}
		xs = append(xs, dates[i].Sub(dates[0]).Hours()/24)
		ys = append(ys, math.Log(rates[i]))
	}
	if len(xs) < 2 {
		return defaultLogGrowth
	}
	_, beta := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(beta) || beta <= 0 {
		return defaultLogGrowth
	}
	return beta
}

// smoothRates applies the expanding moving average to the non-null rates and
// maps the smoothed values back onto their dates. Null rates stay null.
func smoothRates(dates []time.Time, rates []float64, window int) []float64 {
	var series domain.Series
	for i, r := range rates {
		if domain.IsNull(r) || dates[i].IsZero() {
			continue
		}
		series.Dates = append(series.Dates, dates[i])
		series.Values = append(series.Values, r)
	}
	smoothed := domain.ExpandingMovingAverage(series, window)

	byDate := make(map[time.Time]float64, smoothed.Len())
	for i, d := range smoothed.Dates {
		byDate[d] = smoothed.Values[i]
	}
	out := make([]float64, len(rates))
	for i, r := range rates {
		out[i] = r
		if v, ok := byDate[dates[i]]; ok && !domain.IsNull(r) {
			out[i] = v
		}
	}
	return out
}
