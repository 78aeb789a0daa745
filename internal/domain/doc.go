// Package domain models the data and pure algorithms of the U.S. subnational
// COVID-19 death forecast ensemble.
//
// # Tables
//
// Upstream inputs arrive as flat tables keyed by location id and date:
//
//	full_data   observed cases and deaths for every location and day
//	deaths      deaths and death rates used by the per-location death model
//	age_pop     population by location and age group
//	age_death   reference mortality rate by age group
//	us_pops     total population of each modeled location
//
// Tables are represented as slices of row structs. Missing numeric cells are
// NaN (see [IsNull]) and missing dates are the zero time.Time, which keeps
// the null semantics of the upstream CSVs without pointer fields.
//
// # Threshold dates
//
// Curves are aligned across locations by the day the log mortality rate first
// exceeds a fixed threshold (ln deaths per capita, -15 by default). The
// crossing is uncertain, so every location carries one candidate date per
// draw (columns death_date_draw_0, death_date_draw_1, ...). [MeanDate]
// reduces them as min + mean(offset from min).
//
// # Back-casting
//
// Death reporting starts late in many locations, often after the threshold
// has already been crossed. The death model places the crossing at its day 0
// and [Backcast] anchors that day to a calendar date, then fills the missing
// rate and count of the anchored row.
//
// # Ensemble
//
// Every location is fit once per (covariate setting, smoothing constant)
// pair. The 1000 total draws are split evenly across the pairs with the
// remainder on the last pair ([AllocateDraws]). Fits either accept the
// location-specific model or fall back to the national model; at least one
// location in a run must use its own model ([CheckModelsUsed]).
//
// # Carve-outs
//
// Washington is modeled as three sub-state units instead of one state. Their
// ids are looked up in the observed data, and the nursing-home unit is fit
// only on its own rows while every other unit excludes them. The carve-outs
// live in [Carveouts] so they can be audited and swapped in tests.
package domain
