// Command validate checks the integrity of a finished forecast run
// directory: every output file is present and parseable, the model-used table
// agrees with the compiled draws, and the daily and averaged tables are
// consistent with the cumulative draws.
//
// Usage:
//
//	go run ./cmd/validate -run-dir /ihme/covid-19/deaths/2020_04_05.05
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/couchcryptid/covid-model-deaths/internal/adapter/csvfs"
	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

const tolerance = 1e-6

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// run holds the parsed tables of a run directory.
type run struct {
	draws    domain.DrawTable
	daily    domain.DrawTable
	averaged domain.DrawTable
	used     []domain.ModelUsed
}

func main() {
	runDir := flag.String("run-dir", "", "forecast run output directory")
	flag.Parse()

	if *runDir == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(validate(*runDir))
}

func validate(dir string) int {
	fmt.Println("=== Forecast Run Validation ===")
	fmt.Println()

	layout := csvfs.NewLayout(dir)
	files := checkFiles(layout)
	if !files.passed() {
		report([]*phase{files})
		return 1
	}

	r, err := load(layout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	phases := []*phase{
		files,
		checkModelsUsed(r),
		checkDraws(r.draws),
		checkDaily(r),
		checkAveraged(r),
		checkEnsembleDirs(dir),
	}
	fmt.Printf("Rows: %d cumulative, %d daily, %d averaged; %d locations, %d draws\n",
		len(r.draws.Rows), len(r.daily.Rows), len(r.averaged.Rows), len(r.used), r.draws.NumDraws())
	return report(phases)
}

func report(phases []*phase) int {
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Data loading ──

func checkFiles(l *csvfs.Layout) *phase {
	p := &phase{name: "Output files present"}
	for _, name := range []string{
		csvfs.PopulationsFile,
		csvfs.BackcastFile,
		csvfs.ThresholdDatesFile,
		csvfs.DrawsFile,
		csvfs.DailyDrawsFile,
		csvfs.ModelsUsedFile,
		csvfs.AverageDrawsFile,
	} {
		if _, err := os.Stat(l.Path(name)); err != nil {
			p.errorf("%s: %v", name, err)
		}
	}
	return p
}

func load(l *csvfs.Layout) (run, error) {
	var (
		r   run
		err error
	)
	if r.draws, err = l.ReadDraws(); err != nil {
		return r, err
	}
	if r.daily, err = l.ReadDrawFile(l.Path(csvfs.DailyDrawsFile)); err != nil {
		return r, err
	}
	if r.averaged, err = l.ReadDrawFile(l.Path(csvfs.AverageDrawsFile)); err != nil {
		return r, err
	}
	if r.used, err = l.ReadModelsUsed(); err != nil {
		return r, err
	}
	if _, err = l.ReadThresholdDates(); err != nil {
		return r, err
	}
	return r, nil
}

// ── Validation phases ──

func checkModelsUsed(r run) *phase {
	p := &phase{name: "Models used match compiled draws"}
	if err := domain.CheckModelsUsed(r.used); err != nil {
		p.errorf("%v", err)
	}

	compiled := make(map[string]bool)
	for _, row := range r.draws.Rows {
		compiled[row.Location] = true
	}
	for _, u := range r.used {
		switch u.ModelUsed {
		case domain.ModelLocation, domain.ModelNational:
			if !compiled[u.Location] {
				p.errorf("%s: model %q but no draws", u.Location, u.ModelUsed)
			}
		case domain.ModelNone:
			if compiled[u.Location] {
				p.errorf("%s: model %q but has draws", u.Location, u.ModelUsed)
			}
		default:
			p.errorf("%s: unknown model %q", u.Location, u.ModelUsed)
		}
		delete(compiled, u.Location)
	}
	for loc := range compiled {
		p.errorf("%s: draws without a model-used entry", loc)
	}
	return p
}

func checkDraws(t domain.DrawTable) *phase {
	p := &phase{name: "Cumulative draws well-formed"}
	n := t.NumDraws()
	last := make(map[string]time.Time)
	for i, row := range t.Rows {
		if len(row.Values) != n {
			p.errorf("row %d (%s): %d draws, want %d", i+1, row.Location, len(row.Values), n)
		}
		for j, v := range row.Values {
			if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
				p.errorf("row %d (%s %s): draw %d is %v", i+1, row.Location, row.Date.Format(time.DateOnly), j, v)
				break
			}
		}
		if prev, ok := last[row.Location]; ok && !row.Date.Equal(domain.AddDays(prev, 1)) {
			p.errorf("%s: %s follows %s", row.Location, row.Date.Format(time.DateOnly), prev.Format(time.DateOnly))
		}
		last[row.Location] = row.Date
	}
	return p
}

func checkDaily(r run) *phase {
	p := &phase{name: "Daily draws match cumulative draws"}
	want := r.draws.Daily()
	if len(want.Rows) != len(r.daily.Rows) {
		p.errorf("%d daily rows, want %d", len(r.daily.Rows), len(want.Rows))
		return p
	}
	for i, w := range want.Rows {
		got := r.daily.Rows[i]
		if got.Location != w.Location || !got.Date.Equal(w.Date) {
			p.errorf("row %d: %s %s, want %s %s", i+1,
				got.Location, got.Date.Format(time.DateOnly), w.Location, w.Date.Format(time.DateOnly))
			continue
		}
		for j := range w.Values {
			if math.Abs(got.Values[j]-w.Values[j]) > tolerance*math.Max(1, math.Abs(w.Values[j])) {
				p.errorf("row %d (%s): draw %d is %v, want %v", i+1, w.Location, j, got.Values[j], w.Values[j])
				break
			}
		}
	}
	return p
}

func checkAveraged(r run) *phase {
	p := &phase{name: "Averaged draws cover today's dates"}
	key := func(row domain.DrawRow) string {
		return row.Location + "|" + row.Date.Format(time.DateOnly)
	}
	want := make(map[string]bool, len(r.draws.Rows))
	for _, row := range r.draws.Rows {
		want[key(row)] = true
	}
	for _, row := range r.averaged.Rows {
		if !want[key(row)] {
			p.errorf("%s %s: not in today's draws", row.Location, row.Date.Format(time.DateOnly))
		}
		delete(want, key(row))
	}
	for k := range want {
		p.errorf("%s: missing from averaged draws", strings.ReplaceAll(k, "|", " "))
	}
	return p
}

func checkEnsembleDirs(dir string) *phase {
	p := &phase{name: "Ensemble directories present"}
	matches, err := filepath.Glob(filepath.Join(dir, "model_data_*"))
	if err != nil {
		p.errorf("%v", err)
		return p
	}
	if len(matches) == 0 {
		p.errorf("no model_data_* directories in %s", dir)
	}
	return p
}
