// Package postgres loads the versioned input tables and the location
// hierarchy of a forecast run.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/couchcryptid/covid-model-deaths/internal/domain"
)

// LatestVersion selects the most recently published input version.
const LatestVersion = "latest"

// Store reads input tables from Postgres. It implements pipeline.InputStore
// and pipeline.HierarchySource.
type Store struct {
	pool    *pgxpool.Pool
	version string
}

// Open connects to the database and resolves the input version to read.
func Open(ctx context.Context, dsn, version string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool, version: version}
	if version == LatestVersion {
		err := pool.QueryRow(ctx, `SELECT version FROM input_versions ORDER BY published_at DESC LIMIT 1`).Scan(&s.version)
		if err != nil {
			pool.Close()
			return nil, fmt.Errorf("resolve latest input version: %w", err)
		}
	}
	return s, nil
}

// Version returns the resolved input version.
func (s *Store) Version() string {
	return s.version
}

// CheckReadiness pings the database.
func (s *Store) CheckReadiness(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() {
	s.pool.Close()
}

// LoadFullData returns the full_data table: observed cases and deaths.
func (s *Store) LoadFullData(ctx context.Context) ([]domain.CaseRecord, error) {
	return query(ctx, s.pool, "full_data", `
		SELECT location_id, state, country, date, confirmed, confirmed_case_rate, deaths, death_rate, population
		FROM full_data WHERE version = $1 ORDER BY location_id, date`,
		[]any{s.version},
		func(row pgx.CollectableRow) (domain.CaseRecord, error) {
			var (
				r                                             domain.CaseRecord
				state                                         *string
				date                                          *time.Time
				confirmed, caseRate, deaths, deathRate, popul *float64
			)
			if err := row.Scan(&r.LocationID, &state, &r.Country, &date, &confirmed, &caseRate, &deaths, &deathRate, &popul); err != nil {
				return r, err
			}
			r.State = text(state)
			r.Date = day(date)
			r.Confirmed, r.ConfirmedCaseRate = number(confirmed), number(caseRate)
			r.Deaths, r.DeathRate, r.Population = number(deaths), number(deathRate), number(popul)
			return r, nil
		})
}

// LoadDeaths returns the deaths table.
func (s *Store) LoadDeaths(ctx context.Context) ([]domain.DeathRecord, error) {
	return query(ctx, s.pool, "deaths", `
		SELECT location_id, location, country, date, deaths, death_rate, population
		FROM deaths WHERE version = $1 ORDER BY location_id, date`,
		[]any{s.version},
		func(row pgx.CollectableRow) (domain.DeathRecord, error) {
			var (
				r                        domain.DeathRecord
				date                     *time.Time
				deaths, deathRate, popul *float64
			)
			if err := row.Scan(&r.LocationID, &r.Location, &r.Country, &date, &deaths, &deathRate, &popul); err != nil {
				return r, err
			}
			r.Date = day(date)
			r.Deaths, r.DeathRate, r.Population = number(deaths), number(deathRate), number(popul)
			return r, nil
		})
}

// LoadAgePop returns the population by age group of every location.
func (s *Store) LoadAgePop(ctx context.Context) ([]domain.AgePopRecord, error) {
	return query(ctx, s.pool, "age_pop", `
		SELECT location_id, age_group, population FROM age_pop WHERE version = $1 ORDER BY location_id, age_group`,
		[]any{s.version},
		func(row pgx.CollectableRow) (domain.AgePopRecord, error) {
			var (
				r     domain.AgePopRecord
				popul *float64
			)
			err := row.Scan(&r.LocationID, &r.AgeGroup, &popul)
			r.Population = number(popul)
			return r, err
		})
}

// LoadAgeDeath returns the reference mortality rate of every age group.
func (s *Store) LoadAgeDeath(ctx context.Context) ([]domain.AgeDeathRecord, error) {
	return query(ctx, s.pool, "age_death", `
		SELECT age_group, death_rate FROM age_death WHERE version = $1 ORDER BY age_group`,
		[]any{s.version},
		func(row pgx.CollectableRow) (domain.AgeDeathRecord, error) {
			var (
				r    domain.AgeDeathRecord
				rate *float64
			)
			err := row.Scan(&r.AgeGroup, &rate)
			r.DeathRate = number(rate)
			return r, err
		})
}

// LoadPopulations returns the us_pops table.
func (s *Store) LoadPopulations(ctx context.Context) ([]domain.PopulationRecord, error) {
	return query(ctx, s.pool, "us_pops", `
		SELECT location_id, location, population FROM us_pops WHERE version = $1 ORDER BY location_id`,
		[]any{s.version},
		func(row pgx.CollectableRow) (domain.PopulationRecord, error) {
			var (
				r     domain.PopulationRecord
				popul *float64
			)
			err := row.Scan(&r.LocationID, &r.Location, &popul)
			r.Population = number(popul)
			return r, err
		})
}

// Hierarchy returns the locations of a reporting location set and round, in
// hierarchy sort order.
func (s *Store) Hierarchy(ctx context.Context, locationSetID, roundID int) ([]domain.Location, error) {
	return query(ctx, s.pool, "location_hierarchy", `
		SELECT location_id, location_name, parent_id FROM location_hierarchy
		WHERE location_set_id = $1 AND round_id = $2 ORDER BY sort_order, location_id`,
		[]any{locationSetID, roundID},
		func(row pgx.CollectableRow) (domain.Location, error) {
			var l domain.Location
			err := row.Scan(&l.ID, &l.Name, &l.ParentID)
			return l, err
		})
}

func query[T any](ctx context.Context, pool *pgxpool.Pool, table, sql string, args []any, scan pgx.RowToFunc[T]) ([]T, error) {
	rows, err := pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, scan)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}
	return out, nil
}

// number maps SQL NULL to the domain's missing-value marker.
func number(v *float64) float64 {
	if v == nil {
		return domain.Null()
	}
	return *v
}

func text(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func day(v *time.Time) time.Time {
	if v == nil {
		return time.Time{}
	}
	return domain.Day(*v)
}
