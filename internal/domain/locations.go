package domain

import (
	"errors"
	"fmt"
	"slices"
)

// ErrCarveoutUnresolved is returned when a carve-out location does not map to
// exactly one location id in the observed data.
var ErrCarveoutUnresolved = errors.New("carve-out location not resolvable")

// USA is the national parent of every modeled location.
var USA = Location{ID: 102, Name: "United States of America"}

// Carveout is a sub-state unit modeled as its own location. Its id comes from
// the observed data rather than the location hierarchy, and it replaces its
// parent in the modeled location list.
type Carveout struct {
	Name        string
	Replaces    string
	NursingHome bool
}

// Carveouts is the default set of carved-out units: Washington is modeled as
// three units, one of which is the Kirkland nursing-home outbreak.
var Carveouts = []Carveout{
	{Name: "Other Counties, WA", Replaces: "Washington"},
	{Name: "King and Snohomish Counties, WA", Replaces: "Washington"},
	{Name: "Life Care Center, Kirkland, WA", Replaces: "Washington", NursingHome: true},
}

// NursingHomes lists the names of carve-outs that are nursing-home units.
func NursingHomes(carveouts []Carveout) []string {
	var out []string
	for _, c := range carveouts {
		if c.NursingHome {
			out = append(out, c.Name)
		}
	}
	return out
}

// ResolveLocations lists the modeled children of parentID: every hierarchy
// child whose name is not replaced by a carve-out, followed by the carve-outs
// with ids looked up in the observed case data.
func ResolveLocations(hierarchy []Location, cases []CaseRecord, parentID int, carveouts []Carveout) ([]Location, error) {
	replaced := make([]string, 0, len(carveouts))
	for _, c := range carveouts {
		replaced = append(replaced, c.Replaces)
	}

	var out []Location
	for _, loc := range hierarchy {
		if loc.ParentID != parentID || slices.Contains(replaced, loc.Name) {
			continue
		}
		out = append(out, loc)
	}

	for _, c := range carveouts {
		var ids []int
		for _, r := range cases {
			if r.State == c.Name && !slices.Contains(ids, r.LocationID) {
				ids = append(ids, r.LocationID)
			}
		}
		if len(ids) != 1 {
			return nil, fmt.Errorf("%w: %q has %d ids", ErrCarveoutUnresolved, c.Name, len(ids))
		}
		out = append(out, Location{ID: ids[0], Name: c.Name, ParentID: parentID})
	}
	return out, nil
}

// ThresholdLocationNames returns the distinct location names of a country in
// first-seen order. Country-level rows carry the country name as their state
// after merging, so the country itself is included.
func ThresholdLocationNames(records []CaseDeathRecord, country string) []string {
	var out []string
	for _, r := range records {
		if r.Country != country || r.State == "" {
			continue
		}
		if !slices.Contains(out, r.State) {
			out = append(out, r.State)
		}
	}
	return out
}
