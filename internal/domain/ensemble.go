package domain

import (
	"fmt"
	"slices"
)

// CovariateSetting pairs a covariate sort name with the weights applied to
// the social-distancing measures.
type CovariateSetting struct {
	Sort    string    `validate:"required"`
	Weights []float64 `validate:"required,min=1"`
}

// Configuration is one ensemble member: a covariate setting crossed with a
// smoothing constant, plus the number of draws it contributes.
type Configuration struct {
	Sort    string
	Weights []float64
	K       int
	Draws   int
}

// Dir returns the ensemble directory name of the configuration.
func (c Configuration) Dir() string {
	return fmt.Sprintf("model_data_%s_%d", c.Sort, c.K)
}

// Configurations crosses settings with smoothing constants, in settings-major
// order, and allocates totalDraws across the result.
func Configurations(settings []CovariateSetting, ks []int, totalDraws int) []Configuration {
	out := make([]Configuration, 0, len(settings)*len(ks))
	for _, s := range settings {
		for _, k := range ks {
			out = append(out, Configuration{Sort: s.Sort, Weights: slices.Clone(s.Weights), K: k})
		}
	}
	for i, n := range AllocateDraws(totalDraws, len(out)) {
		out[i].Draws = n
	}
	return out
}

// AllocateDraws splits total evenly over n configurations and adds the
// remainder to the last one, so the allocation always sums to total.
func AllocateDraws(total, n int) []int {
	if n <= 0 {
		return nil
	}
	draws := make([]int, n)
	for i := range draws {
		draws[i] = total / n
	}
	draws[n-1] += total - (total/n)*n
	return draws
}

// FilterModelInput builds the curve-fit input for a location. The nursing-home
// unit is fit on nursing-home rows only and every other location on all rows
// except nursing-home rows. Rows without deaths are dropped in both cases.
func FilterModelInput(rows []ModelRow, isNursingHome bool, nursingHomes []string) []ModelRow {
	out := make([]ModelRow, 0, len(rows))
	for _, r := range rows {
		if slices.Contains(nursingHomes, r.Location) != isNursingHome {
			continue
		}
		if IsNull(r.Deaths) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// CurveFitJob is one dispatched curve-fit run for a location under one
// ensemble configuration.
type CurveFitJob struct {
	Name            string `json:"name"`
	LocationID      int    `json:"location_id"`
	ModelLocation   string `json:"model_location"`
	ModelLocationID int    `json:"model_location_id"`
	DataFile        string `json:"data_file"`
	CovFile         string `json:"cov_file"`
	PeakedFile      string `json:"peaked_file"`
	OutputDir       string `json:"output_dir"`
	NDraws          int    `json:"n_draws"`
}

// JobName returns the curve-fit job name for a location and configuration.
func JobName(locationID int, c Configuration) string {
	return fmt.Sprintf("curve_model_%d_%s_%d", locationID, c.Sort, c.K)
}
