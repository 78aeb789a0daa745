package domain

import "time"

// AverageRuns blends today's draws with the draws of earlier runs. Each run is
// expanded to daily frequency per location (carrying rows forward across
// gaps), and every (location, date, draw) of current becomes the mean over the
// runs that cover that date. Earlier runs missing a location or a date simply
// don't contribute, so any subset of earlier runs, including none, is valid.
func AverageRuns(current DrawTable, earlier ...DrawTable) DrawTable {
	runs := make([]map[string]map[time.Time][]float64, 0, len(earlier)+1)
	for _, t := range append([]DrawTable{current}, earlier...) {
		runs = append(runs, expandRuns(t))
	}

	out := DrawTable{Rows: make([]DrawRow, 0, len(current.Rows))}
	for _, group := range current.byLocation() {
		for _, row := range group {
			day := Day(row.Date)
			sums := make([]float64, len(row.Values))
			counts := make([]int, len(row.Values))
			for _, run := range runs {
				vals, ok := run[row.Location][day]
				if !ok {
					continue
				}
				for j := range sums {
					if j >= len(vals) || IsNull(vals[j]) {
						continue
					}
					sums[j] += vals[j]
					counts[j]++
				}
			}

			blended := make([]float64, len(sums))
			for j := range blended {
				if counts[j] == 0 {
					blended[j] = Null()
					continue
				}
				blended[j] = sums[j] / float64(counts[j])
			}
			out.Rows = append(out.Rows, DrawRow{
				Location:   row.Location,
				LocationID: row.LocationID,
				Date:       day,
				Values:     blended,
			})
		}
	}
	return out
}

// expandRuns indexes a draw table by location and calendar day. Each draw of
// a location is expanded to daily frequency on its own, carrying the most
// recent value forward across gaps.
func expandRuns(t DrawTable) map[string]map[time.Time][]float64 {
	out := make(map[string]map[time.Time][]float64)
	for _, group := range t.byLocation() {
		if len(group) == 0 {
			continue
		}
		nDraws := len(group[0].Values)
		byDay := make(map[time.Time][]float64)
		for j := range nDraws {
			s := Series{Dates: make([]time.Time, 0, len(group)), Values: make([]float64, 0, len(group))}
			for _, row := range group {
				v := Null()
				if j < len(row.Values) {
					v = row.Values[j]
				}
				s.Dates = append(s.Dates, row.Date)
				s.Values = append(s.Values, v)
			}
			daily := s.sorted().expandDaily()
			for k, d := range daily.Dates {
				vals, ok := byDay[d]
				if !ok {
					vals = make([]float64, nDraws)
					byDay[d] = vals
				}
				vals[j] = daily.Values[k]
			}
		}
		out[group[0].Location] = byDay
	}
	return out
}
