package domain

import (
	"errors"
	"math"
	"slices"
	"sort"
	"time"
)

// Model variants a location's accepted draws can come from.
const (
	ModelLocation = "location"
	ModelNational = "national"
	ModelNone     = "none"
)

// ErrNoLocationModel signals that no location accepted its location-specific
// fit, which only happens when the ensemble is misconfigured.
var ErrNoLocationModel = errors.New("no location-specific draws used, must be using wrong tag")

// DrawMatrix holds draws x days values along a shared day axis.
type DrawMatrix struct {
	Days   []float64
	Values [][]float64
}

// NumDraws returns the number of draws (rows).
func (m DrawMatrix) NumDraws() int {
	return len(m.Values)
}

// Exp returns a copy with every value exponentiated, turning log rates into rates.
func (m DrawMatrix) Exp() DrawMatrix {
	out := DrawMatrix{Days: slices.Clone(m.Days), Values: make([][]float64, len(m.Values))}
	for i, row := range m.Values {
		out.Values[i] = make([]float64, len(row))
		for j, v := range row {
			out.Values[i][j] = math.Exp(v)
		}
	}
	return out
}

// Diff returns the first differences along the day axis. The result has one
// fewer day, labelled by the later day of each pair.
func (m DrawMatrix) Diff() DrawMatrix {
	out := DrawMatrix{Values: make([][]float64, len(m.Values))}
	if len(m.Days) > 0 {
		out.Days = slices.Clone(m.Days[1:])
	}
	for i, row := range m.Values {
		if len(row) < 2 {
			out.Values[i] = []float64{}
			continue
		}
		out.Values[i] = make([]float64, len(row)-1)
		for j := 1; j < len(row); j++ {
			out.Values[i][j-1] = row[j] - row[j-1]
		}
	}
	return out
}

// Append stacks the draws of other below m. Both must share a day axis.
func (m DrawMatrix) Append(other DrawMatrix) DrawMatrix {
	out := DrawMatrix{Days: m.Days, Values: slices.Clone(m.Values)}
	if out.Days == nil {
		out.Days = other.Days
	}
	out.Values = append(out.Values, other.Values...)
	return out
}

// DrawRow is one location-day of a draw table.
type DrawRow struct {
	Location   string
	LocationID int
	Date       time.Time
	Values     []float64
}

// DrawTable is a set of dated draw rows, all with the same number of draws.
type DrawTable struct {
	Rows []DrawRow
}

// NumDraws returns the number of draw columns.
func (t DrawTable) NumDraws() int {
	if len(t.Rows) == 0 {
		return 0
	}
	return len(t.Rows[0].Values)
}

// Concat appends the rows of every table in order.
func Concat(tables ...DrawTable) DrawTable {
	var out DrawTable
	for _, t := range tables {
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out
}

// Daily converts cumulative draws into daily increments per location. The
// first date of each location has no predecessor and is dropped.
func (t DrawTable) Daily() DrawTable {
	var out DrawTable
	for _, rows := range t.byLocation() {
		if len(rows) < 2 {
			continue
		}
		m := DrawMatrix{Values: make([][]float64, len(rows[0].Values))}
		for j := range m.Values {
			m.Values[j] = make([]float64, len(rows))
			for i, row := range rows {
				m.Values[j][i] = row.Values[j]
			}
		}
		diff := m.Diff()
		for i, cur := range rows[1:] {
			vals := make([]float64, len(diff.Values))
			for j := range vals {
				vals[j] = diff.Values[j][i]
			}
			out.Rows = append(out.Rows, DrawRow{
				Location:   cur.Location,
				LocationID: cur.LocationID,
				Date:       cur.Date,
				Values:     vals,
			})
		}
	}
	return out
}

// byLocation groups rows by location, keeping first-seen location order and
// sorting each group by date.
func (t DrawTable) byLocation() [][]DrawRow {
	index := make(map[string]int)
	var groups [][]DrawRow
	for _, r := range t.Rows {
		i, ok := index[r.Location]
		if !ok {
			i = len(groups)
			index[r.Location] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], r)
	}
	for _, g := range groups {
		sort.SliceStable(g, func(a, b int) bool { return g[a].Date.Before(g[b].Date) })
	}
	return groups
}

// ModelUsed records which model variant produced a location's draws.
type ModelUsed struct {
	Location  string
	ModelUsed string
}

// CheckModelsUsed fails with ErrNoLocationModel unless at least one location
// used its location-specific model.
func CheckModelsUsed(used []ModelUsed) error {
	for _, u := range used {
		if u.ModelUsed == ModelLocation {
			return nil
		}
	}
	return ErrNoLocationModel
}

// DrawRequest is what the draw compiler knows about one location when it
// collects the location's ensemble output.
type DrawRequest struct {
	LocationID     int
	Location       string
	Observed       []CaseRecord
	ThresholdDates []time.Time
	Population     float64
}

// LastObserved returns the latest observed date of the request, or the zero
// time when nothing was observed.
func (r DrawRequest) LastObserved() time.Time {
	var last time.Time
	for _, o := range r.Observed {
		if o.Date.After(last) {
			last = o.Date
		}
	}
	return Day(last)
}

// DatedDraws is the accepted output of one location's ensemble.
type DatedDraws struct {
	Draws     DrawTable    // accepted cumulative deaths per date
	Past      DrawTable    // accepted rows dated on or before the last observation
	ModelUsed string       // ModelLocation, ModelNational or ModelNone
	Days      []float64    // day axis of the accepted draws
	Ensemble  []DrawMatrix // raw log-rate draws per configuration that produced output
}
