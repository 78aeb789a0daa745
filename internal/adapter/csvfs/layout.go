// Package csvfs persists the tables of a forecast run as CSV files under a
// single output directory.
package csvfs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// File names of a run directory.
const (
	PopulationsFile    = "pops.csv"
	BackcastFile       = "backcast_for_case_to_death.csv"
	ThresholdDatesFile = "threshold_dates.csv"
	DrawsFile          = "state_data.csv"
	DailyDrawsFile     = "state_data_daily.csv"
	ModelsUsedFile     = "state_models_used.csv"
	AverageDrawsFile   = "past_avg_state_data.csv"
)

// DrawColumnPrefix names the draw columns of compiled draw tables.
const DrawColumnPrefix = "draw_"

// Layout is the file layout of one run directory. It implements
// pipeline.Store.
type Layout struct {
	root string
}

// NewLayout returns the layout rooted at dir.
func NewLayout(dir string) *Layout {
	return &Layout{root: dir}
}

// Root returns the run directory.
func (l *Layout) Root() string {
	return l.root
}

// Path returns the path of a run file.
func (l *Layout) Path(name string) string {
	return filepath.Join(l.root, name)
}

// EnsembleDir returns the directory of an ensemble configuration.
func (l *Layout) EnsembleDir(c domain.Configuration) string {
	return filepath.Join(l.root, c.Dir())
}

// SetupEnsembleDirs creates every configuration directory and returns them in
// configuration order. Existing directories are kept.
func (l *Layout) SetupEnsembleDirs(configs []domain.Configuration) ([]string, error) {
	dirs := make([]string, 0, len(configs))
	for _, c := range configs {
		dir := l.EnsembleDir(c)
		if err := os.MkdirAll(dir, 0o775); err != nil {
			return nil, fmt.Errorf("create ensemble dir %s: %w", dir, err)
		}
		dirs = append(dirs, dir)
	}
	return dirs, nil
}

// WritePopulations writes pops.csv.
func (l *Layout) WritePopulations(pops []domain.PopulationRecord) error {
	rows := make([][]string, len(pops))
	for i, p := range pops {
		rows[i] = []string{strconv.Itoa(p.LocationID), p.Location, formatFloat(p.Population)}
	}
	return writeCSV(l.Path(PopulationsFile), []string{"location_id", "location", "population"}, rows)
}

var caseDeathHeader = []string{
	"location_id", "state", "country", "date",
	"confirmed", "confirmed_case_rate", "deaths", "death_rate", "population",
}

// WriteBackcast writes the merged case and back-cast death table.
func (l *Layout) WriteBackcast(records []domain.CaseDeathRecord) error {
	rows := make([][]string, len(records))
	for i, r := range records {
		rows[i] = []string{
			strconv.Itoa(r.LocationID), r.State, r.Country, formatDate(r.Date),
			formatFloat(r.Confirmed), formatFloat(r.ConfirmedCaseRate),
			formatFloat(r.Deaths), formatFloat(r.DeathRate), formatFloat(r.Population),
		}
	}
	return writeCSV(l.Path(BackcastFile), caseDeathHeader, rows)
}

// WriteThresholdDates writes one row per location with a column per draw.
func (l *Layout) WriteThresholdDates(draws []domain.ThresholdDraws) error {
	n := 0
	for _, td := range draws {
		n = max(n, len(td.Draws))
	}
	header := []string{"location", "location_id"}
	for i := range n {
		header = append(header, domain.DrawColumn(domain.ThresholdDrawPrefix, i))
	}

	rows := make([][]string, len(draws))
	for i, td := range draws {
		row := make([]string, len(header))
		row[0] = td.Location
		row[1] = strconv.Itoa(td.LocationID)
		for j, d := range td.Draws {
			row[2+j] = formatDate(d)
		}
		rows[i] = row
	}
	return writeCSV(l.Path(ThresholdDatesFile), header, rows)
}

// ReadThresholdDates reads a threshold dates file written by WriteThresholdDates.
func (l *Layout) ReadThresholdDates() ([]domain.ThresholdDraws, error) {
	path := l.Path(ThresholdDatesFile)
	colIdx, header, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, colIdx, "location", "location_id"); err != nil {
		return nil, err
	}
	drawCols := prefixedColumns(header, domain.ThresholdDrawPrefix)

	out := make([]domain.ThresholdDraws, 0, len(rows))
	for _, row := range rows {
		id, err := strconv.Atoi(row[colIdx["location_id"]])
		if err != nil {
			return nil, fmt.Errorf("read %s: location_id: %w", path, err)
		}
		td := domain.ThresholdDraws{Location: row[colIdx["location"]], LocationID: id}
		for _, c := range drawCols {
			d, err := parseDate(row[c])
			if err != nil {
				return nil, fmt.Errorf("read %s: %w", path, err)
			}
			td.Draws = append(td.Draws, d)
		}
		out = append(out, td)
	}
	return out, nil
}

var modelRowHeader = []string{
	"location_id", "location", "country", "date", "days",
	"deaths", "death_rate", "ln_death_rate", "population",
}

// WriteModelInput writes a location's curve-fit input table into the
// configuration's directory and returns its path.
func (l *Layout) WriteModelInput(c domain.Configuration, location string, rows []domain.ModelRow) (string, error) {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{
			strconv.Itoa(r.LocationID), r.Location, r.Country, formatDate(r.Date), formatFloat(r.Days),
			formatFloat(r.Deaths), formatFloat(r.DeathRate), formatFloat(r.LnDeathRate), formatFloat(r.Population),
		}
	}
	path := filepath.Join(l.EnsembleDir(c), location+".csv")
	return path, writeCSV(path, modelRowHeader, out)
}

// ReadModelInput reads a curve-fit input table written by WriteModelInput.
func ReadModelInput(path string) ([]domain.ModelRow, error) {
	colIdx, _, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, colIdx, modelRowHeader...); err != nil {
		return nil, err
	}

	out := make([]domain.ModelRow, 0, len(rows))
	for n, row := range rows {
		id, err := strconv.Atoi(row[colIdx["location_id"]])
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: location_id: %w", path, n+1, err)
		}
		date, err := parseDate(row[colIdx["date"]])
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", path, n+1, err)
		}
		r := domain.ModelRow{
			LocationID: id,
			Location:   row[colIdx["location"]],
			Country:    row[colIdx["country"]],
			Date:       date,
		}
		for col, dst := range map[string]*float64{
			"days":          &r.Days,
			"deaths":        &r.Deaths,
			"death_rate":    &r.DeathRate,
			"ln_death_rate": &r.LnDeathRate,
			"population":    &r.Population,
		} {
			if *dst, err = parseFloat(row[colIdx[col]]); err != nil {
				return nil, fmt.Errorf("read %s row %d: %s: %w", path, n+1, col, err)
			}
		}
		out = append(out, r)
	}
	return out, nil
}

// WriteCovariate writes a location's covariate table into the configuration's
// directory and returns its path.
func (l *Layout) WriteCovariate(c domain.Configuration, location string, rows []domain.CovariateRow) (string, error) {
	out := make([][]string, len(rows))
	for i, r := range rows {
		out[i] = []string{r.Location, formatDate(r.Date), formatFloat(r.Days), formatFloat(r.Covariate)}
	}
	path := filepath.Join(l.EnsembleDir(c), location+" covariate.csv")
	return path, writeCSV(path, []string{"location", "date", "days", "covariate"}, out)
}

// JobOutputDir creates and returns a location's output directory under the
// configuration's directory.
func (l *Layout) JobOutputDir(c domain.Configuration, location string) (string, error) {
	dir := filepath.Join(l.EnsembleDir(c), location)
	if err := os.MkdirAll(dir, 0o775); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", dir, err)
	}
	return dir, nil
}

// WriteDraws writes the compiled cumulative draws.
func (l *Layout) WriteDraws(table domain.DrawTable) error {
	return WriteDrawTable(l.Path(DrawsFile), table)
}

// WriteDailyDraws writes the daily increments of the compiled draws.
func (l *Layout) WriteDailyDraws(table domain.DrawTable) error {
	return WriteDrawTable(l.Path(DailyDrawsFile), table)
}

// WriteAverageDraws writes the draws averaged across runs.
func (l *Layout) WriteAverageDraws(table domain.DrawTable) error {
	return WriteDrawTable(l.Path(AverageDrawsFile), table)
}

// ReadDraws reads the compiled cumulative draws of this run.
func (l *Layout) ReadDraws() (domain.DrawTable, error) {
	return ReadDrawTable(l.Path(DrawsFile))
}

// ReadDrawFile reads a compiled draw file of another run.
func (l *Layout) ReadDrawFile(path string) (domain.DrawTable, error) {
	return ReadDrawTable(path)
}

// WriteModelsUsed writes the (location, model_used) table.
func (l *Layout) WriteModelsUsed(used []domain.ModelUsed) error {
	rows := make([][]string, len(used))
	for i, u := range used {
		rows[i] = []string{u.Location, u.ModelUsed}
	}
	return writeCSV(l.Path(ModelsUsedFile), []string{"location", "model_used"}, rows)
}

// ReadModelsUsed reads the (location, model_used) table.
func (l *Layout) ReadModelsUsed() ([]domain.ModelUsed, error) {
	path := l.Path(ModelsUsedFile)
	colIdx, _, rows, err := readCSV(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(path, colIdx, "location", "model_used"); err != nil {
		return nil, err
	}
	out := make([]domain.ModelUsed, len(rows))
	for i, row := range rows {
		out[i] = domain.ModelUsed{Location: row[colIdx["location"]], ModelUsed: row[colIdx["model_used"]]}
	}
	return out, nil
}

// WriteDrawTable writes table to path with columns location, location_id,
// date and one draw_{i} column per draw.
func WriteDrawTable(path string, table domain.DrawTable) error {
	header := []string{"location", "location_id", "date"}
	for i := range table.NumDraws() {
		header = append(header, domain.DrawColumn(DrawColumnPrefix, i))
	}
	rows := make([][]string, len(table.Rows))
	for i, r := range table.Rows {
		row := make([]string, 0, len(header))
		row = append(row, r.Location, strconv.Itoa(r.LocationID), formatDate(r.Date))
		for _, v := range r.Values {
			row = append(row, formatFloat(v))
		}
		rows[i] = row
	}
	return writeCSV(path, header, rows)
}

// ReadDrawTable reads a draw table written by WriteDrawTable.
func ReadDrawTable(path string) (domain.DrawTable, error) {
	colIdx, header, rows, err := readCSV(path)
	if err != nil {
		return domain.DrawTable{}, err
	}
	if err := requireColumns(path, colIdx, "location", "location_id", "date"); err != nil {
		return domain.DrawTable{}, err
	}
	drawCols := prefixedColumns(header, DrawColumnPrefix)

	table := domain.DrawTable{Rows: make([]domain.DrawRow, 0, len(rows))}
	for n, row := range rows {
		id, err := strconv.Atoi(row[colIdx["location_id"]])
		if err != nil {
			return domain.DrawTable{}, fmt.Errorf("read %s row %d: location_id: %w", path, n+1, err)
		}
		date, err := parseDate(row[colIdx["date"]])
		if err != nil {
			return domain.DrawTable{}, fmt.Errorf("read %s row %d: %w", path, n+1, err)
		}
		values := make([]float64, len(drawCols))
		for j, c := range drawCols {
			v, err := parseFloat(row[c])
			if err != nil {
				return domain.DrawTable{}, fmt.Errorf("read %s row %d: %w", path, n+1, err)
			}
			values[j] = v
		}
		table.Rows = append(table.Rows, domain.DrawRow{
			Location:   row[colIdx["location"]],
			LocationID: id,
			Date:       date,
			Values:     values,
		})
	}
	return table, nil
}

// prefixedColumns returns the indices of columns named prefix{i}, ordered by i.
func prefixedColumns(header []string, prefix string) []int {
	type col struct{ idx, n int }
	var cols []col
	for i, h := range header {
		if len(h) <= len(prefix) || h[:len(prefix)] != prefix {
			continue
		}
		n, err := strconv.Atoi(h[len(prefix):])
		if err != nil {
			continue
		}
		cols = append(cols, col{i, n})
	}
	sort.Slice(cols, func(a, b int) bool { return cols[a].n < cols[b].n })
	out := make([]int, len(cols))
	for i, c := range cols {
		out[i] = c.idx
	}
	return out
}
