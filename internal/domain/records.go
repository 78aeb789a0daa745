package domain

import (
	"math"
	"time"
)

// Missing numeric values are carried as NaN and missing dates as the zero
// time.Time, mirroring the nullable columns of the upstream tables.

// CaseRecord is one row of the full_data input table.
type CaseRecord struct {
	LocationID        int
	State             string // empty for country-level rows
	Country           string
	Date              time.Time
	Confirmed         float64
	ConfirmedCaseRate float64
	Deaths            float64
	DeathRate         float64
	Population        float64
}

// DeathRecord is one row of the deaths input table.
type DeathRecord struct {
	LocationID int
	Location   string
	Country    string
	Date       time.Time
	Deaths     float64
	DeathRate  float64
	Population float64
}

// AgePopRecord is the population of one age group in one location.
type AgePopRecord struct {
	LocationID int
	AgeGroup   string
	Population float64
}

// AgeDeathRecord is the reference mortality rate of one age group.
type AgeDeathRecord struct {
	AgeGroup  string
	DeathRate float64
}

// PopulationRecord is one row of the us_pops table.
type PopulationRecord struct {
	LocationID int
	Location   string
	Population float64
}

// Location is a node of the location hierarchy.
type Location struct {
	ID       int    `json:"location_id"`
	Name     string `json:"location_name"`
	ParentID int    `json:"parent_id"`
}

// ModelRow is one daily row of a per-location death model table. Days is the
// model's day index relative to the threshold crossing.
type ModelRow struct {
	LocationID  int
	Location    string
	Country     string
	Date        time.Time
	Days        float64
	Deaths      float64
	DeathRate   float64
	LnDeathRate float64
	Population  float64
}

// BackcastRow is the fixed output schema of the back-caster.
type BackcastRow struct {
	LocationID int
	State      string
	Country    string
	Date       time.Time
	Deaths     float64
	DeathRate  float64
	Population float64
}

// CaseDeathRecord joins observed cases with back-cast deaths.
type CaseDeathRecord struct {
	LocationID        int
	State             string
	Country           string
	Date              time.Time
	Confirmed         float64
	ConfirmedCaseRate float64
	Deaths            float64
	DeathRate         float64
	Population        float64
}

// CovariateRow is one day of a social-distancing covariate series.
type CovariateRow struct {
	Location  string
	Date      time.Time
	Days      float64
	Covariate float64
}

// IsNull reports whether a numeric cell is missing.
func IsNull(v float64) bool {
	return math.IsNaN(v)
}

// Null returns the missing-value marker for numeric cells.
func Null() float64 {
	return math.NaN()
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// AddDays shifts t by n whole days.
func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}
