package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(month time.Month, d int) time.Time {
	return time.Date(2020, month, d, 0, 0, 0, 0, time.UTC)
}

func consecutive(start time.Time, values ...float64) Series {
	s := Series{Values: values}
	for i := range values {
		s.Dates = append(s.Dates, AddDays(start, i))
	}
	return s
}

func TestExpandingMovingAverage_ShorterThanWindowIsIdentity(t *testing.T) {
	s := Series{
		Dates:  []time.Time{day(time.March, 1), day(time.March, 4)},
		Values: []float64{3, 7},
	}

	out := ExpandingMovingAverage(s, 3)

	// Not expanded to daily frequency either.
	assert.Equal(t, s.Dates, out.Dates)
	assert.Equal(t, s.Values, out.Values)
}

func TestExpandingMovingAverage_UnsortedShortSeriesComesBackSorted(t *testing.T) {
	s := Series{
		Dates:  []time.Time{day(time.March, 4), day(time.March, 1)},
		Values: []float64{7, 3},
	}

	out := ExpandingMovingAverage(s, 5)

	assert.Equal(t, []time.Time{day(time.March, 1), day(time.March, 4)}, out.Dates)
	assert.Equal(t, []float64{3, 7}, out.Values)
}

func TestExpandingMovingAverage_LinearSeriesIsPreserved(t *testing.T) {
	s := consecutive(day(time.March, 1), 1, 2, 3, 4, 5, 6)

	out := ExpandingMovingAverage(s, 3)

	require.Len(t, out.Values, 6)
	for i, want := range []float64{1, 2, 3, 4, 5, 6} {
		assert.InDelta(t, want, out.Values[i], 1e-9, "index %d", i)
	}
}

func TestExpandingMovingAverage_LengthEqualToWindowSkipsBoundaryFix(t *testing.T) {
	s := consecutive(day(time.March, 1), 1, 2, 3)

	out := ExpandingMovingAverage(s, 3)

	assert.InDeltaSlice(t, []float64{1.5, 2, 2.5}, out.Values, 1e-9)
}

func TestExpandingMovingAverage_WindowPlusOne(t *testing.T) {
	// Raw centered mean: [1.5, 7/3, 14/3, 6]. The last point is rebuilt from
	// the two steps before it, then the first from the steps after index 1,
	// which include the already-corrected last point.
	s := consecutive(day(time.March, 1), 1, 2, 4, 8)

	out := ExpandingMovingAverage(s, 3)

	require.Len(t, out.Values, 4)
	assert.InDelta(t, 0.375, out.Values[0], 1e-9)
	assert.InDelta(t, 7.0/3, out.Values[1], 1e-9)
	assert.InDelta(t, 14.0/3, out.Values[2], 1e-9)
	assert.InDelta(t, 6.25, out.Values[3], 1e-9)
}

func TestExpandingMovingAverage_BoundaryDiffersFromRawMean(t *testing.T) {
	s := consecutive(day(time.March, 1), 0, 1, 4, 9, 16, 25, 36)
	raw := centeredMean(s.Values, 3)

	out := ExpandingMovingAverage(s, 3)

	n := len(out.Values)
	assert.NotEqual(t, raw[0], out.Values[0])
	assert.NotEqual(t, raw[n-1], out.Values[n-1])
	assert.InDeltaSlice(t, raw[1:n-1], out.Values[1:n-1], 1e-9)
	assert.InDelta(t, out.Values[n-2]+meanStep(out.Values[n-4:n-1]), out.Values[n-1], 1e-9)
}

func TestExpandingMovingAverage_ForwardFillsGaps(t *testing.T) {
	s := Series{
		Dates:  []time.Time{day(time.March, 1), day(time.March, 2), day(time.March, 4), day(time.March, 5)},
		Values: []float64{1, 2, 4, 5},
	}

	out := ExpandingMovingAverage(s, 2)

	require.Len(t, out.Dates, 5)
	assert.Equal(t, day(time.March, 3), out.Dates[2])
	assert.InDeltaSlice(t, []float64{1, 1.5, 2, 3, 4}, out.Values, 1e-9)
}

func TestExpandingMovingAverage_EvenWindowAlignment(t *testing.T) {
	// For w=4 the window around i spans [i-2, i+1].
	got := centeredMean([]float64{0, 1, 2, 3, 4}, 4)
	assert.InDeltaSlice(t, []float64{0.5, 1, 1.5, 2.5, 3}, got, 1e-9)
}

func TestExpandingMovingAverageByLocation(t *testing.T) {
	var points []Point
	for i, v := range []float64{1, 2, 3, 4, 5} {
		points = append(points, Point{LocationID: 7, Date: AddDays(day(time.April, 1), i), Value: v})
	}
	points = append(points,
		Point{LocationID: 3, Date: day(time.April, 2), Value: 10},
		Point{LocationID: 3, Date: day(time.April, 1), Value: 20},
	)

	out := ExpandingMovingAverageByLocation(points, 3)

	require.Len(t, out, 7)
	// Location 3 is shorter than the window and passes through sorted.
	assert.Equal(t, Point{LocationID: 3, Date: day(time.April, 1), Value: 20}, out[0])
	assert.Equal(t, Point{LocationID: 3, Date: day(time.April, 2), Value: 10}, out[1])
	for i, p := range out[2:] {
		assert.Equal(t, 7, p.LocationID)
		assert.InDelta(t, float64(i+1), p.Value, 1e-9)
	}
}
