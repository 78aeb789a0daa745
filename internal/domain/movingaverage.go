package domain

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Series is a date-indexed measure.
type Series struct {
	Dates  []time.Time
	Values []float64
}

// Point is one (location, date, value) observation of a measure.
type Point struct {
	LocationID int
	Date       time.Time
	Value      float64
}

// Len returns the number of observations in the series.
func (s Series) Len() int {
	return len(s.Dates)
}

// sorted returns a copy of s ordered by date. Later duplicates of a date win.
func (s Series) sorted() Series {
	idx := make([]int, len(s.Dates))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return s.Dates[idx[a]].Before(s.Dates[idx[b]]) })

	out := Series{Dates: make([]time.Time, 0, len(idx)), Values: make([]float64, 0, len(idx))}
	for _, i := range idx {
		d := Day(s.Dates[i])
		if n := len(out.Dates); n > 0 && out.Dates[n-1].Equal(d) {
			out.Values[n-1] = s.Values[i]
			continue
		}
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, s.Values[i])
	}
	return out
}

// expandDaily fills every calendar day between the first and last date,
// carrying the most recent observation forward across gaps. s must be sorted.
func (s Series) expandDaily() Series {
	if s.Len() == 0 {
		return s
	}
	first, last := s.Dates[0], s.Dates[s.Len()-1]
	days := int(last.Sub(first).Hours()/24) + 1

	out := Series{Dates: make([]time.Time, 0, days), Values: make([]float64, 0, days)}
	j := 0
	for d := first; !d.After(last); d = AddDays(d, 1) {
		for j+1 < s.Len() && !s.Dates[j+1].After(d) {
			j++
		}
		out.Dates = append(out.Dates, d)
		out.Values = append(out.Values, s.Values[j])
	}
	return out
}

// ExpandingMovingAverage expands s to daily frequency and smooths it with a
// centered rolling mean of the given window (minimum one observation).
// Series shorter than the window are returned unchanged (sorted by date).
//
// Centered means lose neighbors at the edges, so when the smoothed series is
// longer than the window both endpoints are replaced by extrapolating the mean
// daily step of the adjacent window-1 differences. The last point is fixed
// first and the first point's step is computed afterwards.
func ExpandingMovingAverage(s Series, window int) Series {
	s = s.sorted()
	if s.Len() < window {
		return s
	}

	daily := s.expandDaily()
	ma := centeredMean(daily.Values, window)

	n := len(ma)
	if n > window && window >= 2 {
		lastStep := meanStep(ma[n-window-1 : n-1])
		ma[n-1] = ma[n-2] + lastStep

		firstStep := meanStep(ma[1 : window+1])
		ma[0] = ma[1] - firstStep
	}

	return Series{Dates: daily.Dates, Values: ma}
}

// ExpandingMovingAverageByLocation applies ExpandingMovingAverage to each
// location's points independently. Output is ordered by location id, then date.
func ExpandingMovingAverageByLocation(points []Point, window int) []Point {
	byLocation := make(map[int]*Series)
	for _, p := range points {
		s, ok := byLocation[p.LocationID]
		if !ok {
			s = &Series{}
			byLocation[p.LocationID] = s
		}
		s.Dates = append(s.Dates, p.Date)
		s.Values = append(s.Values, p.Value)
	}

	ids := make([]int, 0, len(byLocation))
	for id := range byLocation {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Point, 0, len(points))
	for _, id := range ids {
		smoothed := ExpandingMovingAverage(*byLocation[id], window)
		for i, d := range smoothed.Dates {
			out = append(out, Point{LocationID: id, Date: d, Value: smoothed.Values[i]})
		}
	}
	return out
}

// centeredMean computes a centered rolling mean with min_periods=1, using the
// same window alignment as pandas: for even windows the extra observation is
// taken from the past.
func centeredMean(values []float64, window int) []float64 {
	n := len(values)
	out := make([]float64, n)
	offset := (window - 1) / 2
	for i := range values {
		lo := max(i-(window-1-offset), 0)
		hi := min(i+offset, n-1)

		var sum float64
		var count int
		for _, v := range values[lo : hi+1] {
			if math.IsNaN(v) {
				continue
			}
			sum += v
			count++
		}
		if count == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(count)
	}
	return out
}

// meanStep returns the mean first difference of seg.
func meanStep(seg []float64) float64 {
	diffs := make([]float64, len(seg)-1)
	floats.SubTo(diffs, seg[1:], seg[:len(seg)-1])
	return stat.Mean(diffs, nil)
}
