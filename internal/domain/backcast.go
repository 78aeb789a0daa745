package domain

import (
	"math"
	"sort"
	"time"
)

// Backcast reconstructs a location's daily deaths from its death model table,
// including the day the model places at its threshold crossing. The steps run
// as sequential passes and their order determines which rows survive:
//
//  1. keep only rows of locationID
//  2. move the day-0 row to date0 - round(day0) days, where date0 is the first
//     observed date and day0 the smallest day index among dated rows
//  3. drop rows with null deaths dated date0
//  4. drop rows that still have no date
//  5. fill death rate from the log rate, then deaths from rate x population
//
// An empty model table yields an empty (non-nil) result.
func Backcast(rows []ModelRow, locationID int) []BackcastRow {
	mod := make([]ModelRow, 0, len(rows))
	for _, r := range rows {
		if r.LocationID == locationID {
			mod = append(mod, r)
		}
	}
	if len(mod) == 0 {
		return []BackcastRow{}
	}

	var date0 time.Time
	day0 := math.NaN()
	for _, r := range mod {
		if r.Date.IsZero() {
			continue
		}
		if date0.IsZero() || r.Date.Before(date0) {
			date0 = r.Date
		}
		if !IsNull(r.Days) && (IsNull(day0) || r.Days < day0) {
			day0 = r.Days
		}
	}

	if !date0.IsZero() && !IsNull(day0) {
		anchor := AddDays(date0, -int(math.RoundToEven(day0)))
		for i := range mod {
			if mod[i].Days == 0 {
				mod[i].Date = anchor
			}
		}
	}

	kept := mod[:0]
	for _, r := range mod {
		if IsNull(r.Deaths) && !date0.IsZero() && r.Date.Equal(date0) {
			continue
		}
		kept = append(kept, r)
	}
	mod = kept

	kept = mod[:0]
	for _, r := range mod {
		if r.Date.IsZero() {
			continue
		}
		kept = append(kept, r)
	}
	mod = kept

	out := make([]BackcastRow, 0, len(mod))
	for _, r := range mod {
		if IsNull(r.DeathRate) {
			r.DeathRate = math.Exp(r.LnDeathRate)
		}
		if IsNull(r.Deaths) {
			r.Deaths = r.DeathRate * r.Population
		}
		out = append(out, BackcastRow{
			LocationID: r.LocationID,
			State:      r.Location,
			Country:    r.Country,
			Date:       r.Date,
			Deaths:     r.Deaths,
			DeathRate:  r.DeathRate,
			Population: r.Population,
		})
	}
	return out
}

// BackcastLocationIDs returns the sorted ids of state-level locations whose
// death rate has exceeded the threshold on at least one day.
func BackcastLocationIDs(records []CaseRecord, lnThreshold float64) []int {
	seen := make(map[int]struct{})
	for _, r := range records {
		if r.State == "" || IsNull(r.DeathRate) || r.DeathRate <= 0 {
			continue
		}
		if math.Log(r.DeathRate) > lnThreshold {
			seen[r.LocationID] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

type mergeKey struct {
	locationID int
	state      string
	country    string
	date       time.Time
}

// MergeCasesAndDeaths outer-joins observed cases with back-cast deaths on
// (location, state, country, date). Country-level rows take the country name
// as their state.
func MergeCasesAndDeaths(cases []CaseRecord, backcast []BackcastRow) []CaseDeathRecord {
	byKey := make(map[mergeKey][]int, len(backcast))
	for i, b := range backcast {
		k := mergeKey{b.LocationID, b.State, b.Country, Day(b.Date)}
		byKey[k] = append(byKey[k], i)
	}

	matched := make([]bool, len(backcast))
	out := make([]CaseDeathRecord, 0, len(cases)+len(backcast))
	for _, c := range cases {
		rec := CaseDeathRecord{
			LocationID:        c.LocationID,
			State:             c.State,
			Country:           c.Country,
			Date:              c.Date,
			Confirmed:         c.Confirmed,
			ConfirmedCaseRate: c.ConfirmedCaseRate,
			Deaths:            Null(),
			DeathRate:         Null(),
			Population:        Null(),
		}
		hits := byKey[mergeKey{c.LocationID, c.State, c.Country, Day(c.Date)}]
		if len(hits) == 0 {
			out = append(out, rec)
			continue
		}
		for _, i := range hits {
			matched[i] = true
			joined := rec
			joined.Deaths = backcast[i].Deaths
			joined.DeathRate = backcast[i].DeathRate
			joined.Population = backcast[i].Population
			out = append(out, joined)
		}
	}

	for i, b := range backcast {
		if matched[i] {
			continue
		}
		out = append(out, CaseDeathRecord{
			LocationID:        b.LocationID,
			State:             b.State,
			Country:           b.Country,
			Date:              b.Date,
			Confirmed:         Null(),
			ConfirmedCaseRate: Null(),
			Deaths:            b.Deaths,
			DeathRate:         b.DeathRate,
			Population:        b.Population,
		})
	}

	for i := range out {
		if out[i].State == "" {
			out[i].State = out[i].Country
		}
	}
	return out
}
