package domain

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/stat"
)

// ThresholdDrawPrefix names the per-draw crossing-date columns.
const ThresholdDrawPrefix = "death_date_draw_"

// ThresholdDraws holds one location's candidate threshold-crossing dates,
// one per posterior draw.
type ThresholdDraws struct {
	Location   string
	LocationID int
	Draws      []time.Time
}

// DrawColumn returns the column name of draw i.
func DrawColumn(prefix string, i int) string {
	return fmt.Sprintf("%s%d", prefix, i)
}

// DateMean is a location's mean threshold date.
type DateMean struct {
	Location      string
	Country       string
	ThresholdDate time.Time
}

// MeanDate averages a set of dates as min + mean(offset from min), which keeps
// the arithmetic on small durations instead of absolute timestamps.
// It returns the zero time for an empty set.
func MeanDate(dates []time.Time) time.Time {
	if len(dates) == 0 {
		return time.Time{}
	}
	lowest := dates[0]
	for _, d := range dates[1:] {
		if d.Before(lowest) {
			lowest = d
		}
	}

	offsets := make([]float64, len(dates))
	for i, d := range dates {
		offsets[i] = d.Sub(lowest).Seconds()
	}
	mean := stat.Mean(offsets, nil)
	return lowest.Add(time.Duration(math.Round(mean * float64(time.Second))))
}

// MeanThresholdDates collapses each location's draws into a single calendar
// date. Locations without draws are skipped.
func MeanThresholdDates(draws []ThresholdDraws, country string) []DateMean {
	out := make([]DateMean, 0, len(draws))
	for _, td := range draws {
		if len(td.Draws) == 0 {
			continue
		}
		out = append(out, DateMean{
			Location:      td.Location,
			Country:       country,
			ThresholdDate: Day(MeanDate(td.Draws)),
		})
	}
	return out
}

// LookupDateMean finds the mean threshold date of a location by name.
func LookupDateMean(means []DateMean, location string) (DateMean, bool) {
	for _, m := range means {
		if m.Location == location {
			return m, true
		}
	}
	return DateMean{}, false
}

// FirstCrossing returns the first date, in date order, at which the log of
// rate exceeds lnThreshold. Null, zero and negative rates never cross.
func FirstCrossing(dates []time.Time, rates []float64, lnThreshold float64) (time.Time, bool) {
	var first time.Time
	found := false
	for i, d := range dates {
		r := rates[i]
		if d.IsZero() || IsNull(r) || r <= 0 || math.Log(r) <= lnThreshold {
			continue
		}
		if !found || d.Before(first) {
			first = d
			found = true
		}
	}
	return first, found
}
