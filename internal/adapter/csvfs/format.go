package csvfs

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

const dateLayout = "2006-01-02"

// formatFloat writes null cells as empty strings.
func formatFloat(v float64) string {
	if domain.IsNull(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// parseFloat reads empty and "nan" cells as null.
func parseFloat(s string) (float64, error) {
	if s == "" || s == "nan" || s == "NaN" {
		return domain.Null(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseDate accepts calendar dates and timestamps with a date prefix.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if len(s) > len(dateLayout) {
		s = s[:len(dateLayout)]
	}
	return time.Parse(dateLayout, s)
}

// writeCSV writes header and rows to path, replacing any existing file.
func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// readCSV returns the header index and data rows of path.
func readCSV(path string) (map[string]int, []string, [][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil, nil, fmt.Errorf("read %s: missing header", path)
	}
	header := rows[0]
	colIdx := make(map[string]int, len(header))
	for i, h := range header {
		colIdx[h] = i
	}
	return colIdx, header, rows[1:], nil
}

func requireColumns(path string, colIdx map[string]int, cols ...string) error {
	for _, c := range cols {
		if _, ok := colIdx[c]; !ok {
			return fmt.Errorf("read %s: missing column %q", path, c)
		}
	}
	return nil
}
