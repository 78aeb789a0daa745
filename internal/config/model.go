package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// ModelSettings are the forecasting constants of a run. The value is built
// once and passed down the pipeline; nothing reads them from package state.
type ModelSettings struct {
	LnMortalityRateThreshold float64                   `validate:"lt=0"`
	CovariateSettings        []domain.CovariateSetting `validate:"required,min=1,dive"`
	SmoothingConstants       []int                     `validate:"required,min=1,dive,gt=0"`
	TotalDraws               int                       `validate:"gt=0"`
	ThresholdDraws           int                       `validate:"gt=0"`
	SmoothingWindow          int                       `validate:"gt=0"`

	LocationSetID    int `validate:"gt=0"`
	RoundID          int `validate:"gt=0"`
	ParentLocationID int `validate:"gt=0"`
	Carveouts        []domain.Carveout

	// Threshold imputation from case data.
	CaseFatalityRatio float64 `validate:"gt=0,lt=1"`
	CaseFatalitySigma float64 `validate:"gte=0"`
	DeathLagDays      int     `validate:"gte=0"`
	Seed              uint64
}

// DefaultModelSettings returns the production forecasting constants.
func DefaultModelSettings() ModelSettings {
	return ModelSettings{
		LnMortalityRateThreshold: -15,
		CovariateSettings: []domain.CovariateSetting{
			{Sort: "equal", Weights: []float64{1, 1, 1}},
			{Sort: "ascmid", Weights: []float64{0.5, 1, 2}},
			{Sort: "ascmax", Weights: []float64{0, 0, 1}},
		},
		SmoothingConstants: []int{21},
		TotalDraws:         1000,
		ThresholdDraws:     1000,
		SmoothingWindow:    3,
		LocationSetID:      35,
		RoundID:            5,
		ParentLocationID:   domain.USA.ID,
		Carveouts:          domain.Carveouts,
		CaseFatalityRatio:  0.01,
		CaseFatalitySigma:  0.5,
		DeathLagDays:       8,
		Seed:               20200401,
	}
}

// Configurations returns the ensemble members with their draw allocation.
func (m ModelSettings) Configurations() []domain.Configuration {
	return domain.Configurations(m.CovariateSettings, m.SmoothingConstants, m.TotalDraws)
}

// Validate checks the settings for internal consistency.
func (m ModelSettings) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(m); err != nil {
		return fmt.Errorf("invalid model settings: %w", err)
	}
	if n := len(m.CovariateSettings) * len(m.SmoothingConstants); m.TotalDraws < n {
		return fmt.Errorf("invalid model settings: TotalDraws %d is fewer than %d configurations", m.TotalDraws, n)
	}
	return nil
}

func loadModelSettings() (ModelSettings, error) {
	m := DefaultModelSettings()

	if v := sharedcfg.EnvOrDefault("LN_MORTALITY_RATE_THRESHOLD", ""); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) {
			return m, fmt.Errorf("invalid LN_MORTALITY_RATE_THRESHOLD")
		}
		m.LnMortalityRateThreshold = f
	}
	if v := sharedcfg.EnvOrDefault("COVARIATE_SETTINGS", ""); v != "" {
		settings, err := ParseCovariateSettings(v)
		if err != nil {
			return m, fmt.Errorf("invalid COVARIATE_SETTINGS: %w", err)
		}
		m.CovariateSettings = settings
	}
	if v := sharedcfg.EnvOrDefault("SMOOTHING_CONSTANTS", ""); v != "" {
		ks, err := parseInts(v)
		if err != nil {
			return m, fmt.Errorf("invalid SMOOTHING_CONSTANTS: %w", err)
		}
		m.SmoothingConstants = ks
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"TOTAL_DRAWS", &m.TotalDraws},
		{"THRESHOLD_DRAWS", &m.ThresholdDraws},
		{"SMOOTHING_WINDOW", &m.SmoothingWindow},
		{"LOCATION_SET_ID", &m.LocationSetID},
		{"ROUND_ID", &m.RoundID},
	}
	for _, e := range ints {
		v := sharedcfg.EnvOrDefault(e.key, "")
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return m, fmt.Errorf("invalid %s", e.key)
		}
		*e.dst = n
	}

	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// ParseCovariateSettings parses "sort:w1,w2,...;sort:..." into covariate settings.
func ParseCovariateSettings(s string) ([]domain.CovariateSetting, error) {
	var out []domain.CovariateSetting
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, weights, ok := strings.Cut(part, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("setting %q: want sort:weights", part)
		}
		var ws []float64
		for _, w := range strings.Split(weights, ",") {
			f, err := strconv.ParseFloat(strings.TrimSpace(w), 64)
			if err != nil {
				return nil, fmt.Errorf("setting %q: %w", name, err)
			}
			ws = append(ws, f)
		}
		out = append(out, domain.CovariateSetting{Sort: name, Weights: ws})
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
