// Package calibration builds the per-component cost factor database
// consumed by the simulator. Each factor row models a component's
// processing time as constant_cost + variable_cost * payload_size.
package calibration

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE factors (
    component TEXT NOT NULL,
    constant_cost REAL NOT NULL,
    variable_cost REAL NOT NULL
)`

// Factor holds the cost model for one component.
type Factor struct {
	Component    string
	ConstantCost float64
	VariableCost float64
}

// Store writes calibration factors to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the calibration database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open calibration database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping calibration database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace drops any existing factors table and stores the given rows.
func (s *Store) Replace(ctx context.Context, factors []Factor) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS factors"); err != nil {
		return fmt.Errorf("failed to drop factors table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create factors table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO factors (component, constant_cost, variable_cost) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range factors {
		if _, err := stmt.ExecContext(ctx, f.Component, f.ConstantCost, f.VariableCost); err != nil {
			return fmt.Errorf("failed to insert factor for %s: %w", f.Component, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit factors: %w", err)
	}

	log.Info().Int("factors", len(factors)).Msg("Calibration imported")
	return nil
}

// List returns all stored factors.
func (s *Store) List(ctx context.Context) ([]Factor, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT component, constant_cost, variable_cost FROM factors")
	if err != nil {
		return nil, fmt.Errorf("failed to query factors: %w", err)
	}
	defer rows.Close()

	var factors []Factor
	for rows.Next() {
		var f Factor
		if err := rows.Scan(&f.Component, &f.ConstantCost, &f.VariableCost); err != nil {
			return nil, fmt.Errorf("failed to scan factor row: %w", err)
		}
		factors = append(factors, f)
	}
	return factors, rows.Err()
}

// ParseCSV reads calibration factors from a headerless CSV stream with
// rows of the form component,constant_factor,variable_factor.
func ParseCSV(r io.Reader) ([]Factor, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read calibration csv: %w", err)
	}

	factors := make([]Factor, 0, len(records))
	for i, rec := range records {
		if len(rec) != 3 {
			return nil, fmt.Errorf("row %d: expected 3 fields, got %d", i+1, len(rec))
		}
		constant, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad constant factor %q: %w", i+1, rec[1], err)
		}
		variable, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad variable factor %q: %w", i+1, rec[2], err)
		}
		factors = append(factors, Factor{
			Component:    rec[0],
			ConstantCost: constant,
			VariableCost: variable,
		})
	}
	return factors, nil
}
