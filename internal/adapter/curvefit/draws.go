// Package curvefit reads the output of curve-fit jobs: it waits for draw
// files to appear and turns them into dated draw tables.
package curvefit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// DrawsFile is the file a curve-fit job writes into its output directory.
const DrawsFile = "draws.csv"

const dayColumnPrefix = "day_"

// ModelDraws is the parsed content of one draws file: log cumulative death
// rate draws per model variant along a shared day axis.
type ModelDraws struct {
	Days     []float64
	Location domain.DrawMatrix
	National domain.DrawMatrix
}

// ReadDraws parses a draws file. The header is "model" followed by day_{d}
// columns; each row is one draw labelled with the model variant it came from.
func ReadDraws(path string) (ModelDraws, error) {
	f, err := os.Open(path)
	if err != nil {
		return ModelDraws{}, err
	}
	defer f.Close()
	return parseDraws(f, path)
}

func parseDraws(r io.Reader, path string) (ModelDraws, error) {
	rows, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return ModelDraws{}, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 || len(rows[0]) < 2 || rows[0][0] != "model" {
		return ModelDraws{}, fmt.Errorf("read %s: want header model,day_...", path)
	}

	days := make([]float64, 0, len(rows[0])-1)
	for _, h := range rows[0][1:] {
		d, err := strconv.ParseFloat(strings.TrimPrefix(h, dayColumnPrefix), 64)
		if err != nil || !strings.HasPrefix(h, dayColumnPrefix) {
			return ModelDraws{}, fmt.Errorf("read %s: bad day column %q", path, h)
		}
		days = append(days, d)
	}

	out := ModelDraws{
		Days:     days,
		Location: domain.DrawMatrix{Days: days},
		National: domain.DrawMatrix{Days: days},
	}
	for n, row := range rows[1:] {
		values := make([]float64, len(days))
		for j, cell := range row[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return ModelDraws{}, fmt.Errorf("read %s row %d: %w", path, n+1, err)
			}
			values[j] = v
		}
		switch row[0] {
		case domain.ModelLocation:
			out.Location.Values = append(out.Location.Values, values)
		case domain.ModelNational:
			out.National.Values = append(out.National.Values, values)
		default:
			return ModelDraws{}, fmt.Errorf("read %s row %d: unknown model %q", path, n+1, row[0])
		}
	}
	return out, nil
}

// WriteDraws writes a draws file in the format ReadDraws parses. It is used by
// stand-in fitters and tests. The file is written under a temporary name and
// renamed into place, so a watcher never sees it half written.
func WriteDraws(path string, d ModelDraws) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o775); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeDrawsFile(tmp, d); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeDrawsFile(path string, d ModelDraws) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := []string{"model"}
	for _, day := range d.Days {
		header = append(header, dayColumnPrefix+strconv.FormatFloat(day, 'f', -1, 64))
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, part := range []struct {
		model string
		m     domain.DrawMatrix
	}{{domain.ModelLocation, d.Location}, {domain.ModelNational, d.National}} {
		for _, values := range part.m.Values {
			row := []string{part.model}
			for _, v := range values {
				row = append(row, strconv.FormatFloat(v, 'g', -1, 64))
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

// complete reports whether every model variant present in md holds the
// expected number of draws. An expected count of zero accepts any file.
func (md ModelDraws) complete(expected int) bool {
	if expected <= 0 {
		return true
	}
	loc, nat := md.Location.NumDraws(), md.National.NumDraws()
	if loc == 0 && nat == 0 {
		return false
	}
	return (loc == 0 || loc == expected) && (nat == 0 || nat == expected)
}

// Drawer collects a location's draws across the ensemble directories. It
// implements pipeline.Drawer.
type Drawer struct {
	ensembleDirs []string
	draws        []int
}

// NewDrawer returns a drawer over the ensemble directories of a run. draws[i]
// is the number of draws a job of ensembleDirs[i] was asked for; a nil draws
// accepts files of any size.
func NewDrawer(ensembleDirs []string, draws []int) *Drawer {
	return &Drawer{ensembleDirs: slices.Clone(ensembleDirs), draws: slices.Clone(draws)}
}

func (d *Drawer) expected(i int) int {
	if i < len(d.draws) {
		return d.draws[i]
	}
	return 0
}

// DatedDraws reads {dir}/{location}/draws.csv of every ensemble directory.
// Location-specific draws are accepted when every configuration that
// produced output has them; otherwise the national draws of all
// configurations are pooled. A file with fewer draws than its job asked for
// counts as not produced. A location without any draws is labelled
// ModelNone and gets empty tables. Accepted draws are dated from the mean
// threshold date and converted from log rates to cumulative deaths.
func (d *Drawer) DatedDraws(req domain.DrawRequest) (domain.DatedDraws, error) {
	var produced []ModelDraws
	for i, dir := range d.ensembleDirs {
		md, err := ReadDraws(filepath.Join(dir, req.Location, DrawsFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return domain.DatedDraws{}, err
		}
		if !md.complete(d.expected(i)) {
			continue
		}
		if len(produced) > 0 && !slices.Equal(produced[0].Days, md.Days) {
			return domain.DatedDraws{}, fmt.Errorf("draws of %s: day axis differs across configurations", req.Location)
		}
		produced = append(produced, md)
	}

	out := domain.DatedDraws{ModelUsed: domain.ModelNone}
	if len(produced) == 0 {
		return out, nil
	}

	allLocation := true
	var location, national domain.DrawMatrix
	for _, md := range produced {
		if md.Location.NumDraws() == 0 {
			allLocation = false
		}
		location = location.Append(md.Location)
		national = national.Append(md.National)
		out.Ensemble = append(out.Ensemble, md.Location.Append(md.National))
	}

	accepted := national
	out.ModelUsed = domain.ModelNational
	if allLocation {
		accepted = location
		out.ModelUsed = domain.ModelLocation
	}
	if accepted.NumDraws() == 0 {
		out.ModelUsed = domain.ModelNone
		return out, nil
	}
	out.Days = slices.Clone(produced[0].Days)

	if len(req.ThresholdDates) == 0 {
		return domain.DatedDraws{}, fmt.Errorf("draws of %s: no threshold date", req.Location)
	}
	start := domain.Day(domain.MeanDate(req.ThresholdDates))
	last := req.LastObserved()

	deaths := accepted.Exp()
	for j, day := range out.Days {
		values := make([]float64, deaths.NumDraws())
		for i, draw := range deaths.Values {
			values[i] = draw[j] * req.Population
		}
		row := domain.DrawRow{
			Location:   req.Location,
			LocationID: req.LocationID,
			Date:       domain.AddDays(start, int(math.Round(day))),
			Values:     values,
		}
		out.Draws.Rows = append(out.Draws.Rows, row)
		if !last.IsZero() && !row.Date.After(last) {
			out.Past.Rows = append(out.Past.Rows, row)
		}
	}
	return out, nil
}
