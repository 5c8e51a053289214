// Package scenario builds the deployment scenario database consumed by
// the simulator. A scenario row records how one component is deployed:
// replica count and the cpu/memory assigned to each replica.
package scenario

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
CREATE TABLE scenario (
    component TEXT NOT NULL,
    cpu REAL NOT NULL,
    memory REAL NOT NULL,
    replicas INTEGER NOT NULL
)`

// Component is one scenario row.
type Component struct {
	Name     string
	Cores    float64
	Memory   float64
	Replicas int
}

// Store writes scenario rows to a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the scenario database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open scenario database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping scenario database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Replace drops any existing scenario table and stores the given
// components. The table is always rebuilt from scratch: a scenario
// describes one deployment, not a history of them.
func (s *Store) Replace(ctx context.Context, components []Component) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS scenario"); err != nil {
		return fmt.Errorf("failed to drop scenario table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create scenario table: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO scenario (component, cpu, memory, replicas) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range components {
		if _, err := stmt.ExecContext(ctx, c.Name, c.Cores, c.Memory, c.Replicas); err != nil {
			return fmt.Errorf("failed to insert component %s: %w", c.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit scenario: %w", err)
	}

	log.Info().Int("components", len(components)).Msg("Scenario imported")
	return nil
}

// List returns all scenario rows.
func (s *Store) List(ctx context.Context) ([]Component, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT component, cpu, memory, replicas FROM scenario")
	if err != nil {
		return nil, fmt.Errorf("failed to query scenario: %w", err)
	}
	defer rows.Close()

	var components []Component
	for rows.Next() {
		var c Component
		if err := rows.Scan(&c.Name, &c.Cores, &c.Memory, &c.Replicas); err != nil {
			return nil, fmt.Errorf("failed to scan scenario row: %w", err)
		}
		components = append(components, c)
	}
	return components, rows.Err()
}

// ParseCSV reads scenario components from a CSV stream with the header
// Component,Replicas,Cores,Memory. Rows with malformed numbers are an
// error: a scenario is authored by hand, not scraped, so silence would
// hide a typo.
func ParseCSV(r io.Reader) ([]Component, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario csv: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("scenario csv is empty")
	}

	header := records[0]
	if len(header) != 4 || header[0] != "Component" || header[1] != "Replicas" ||
		header[2] != "Cores" || header[3] != "Memory" {
		return nil, fmt.Errorf("unexpected scenario csv header: %v", header)
	}

	components := make([]Component, 0, len(records)-1)
	for i, rec := range records[1:] {
		replicas, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("row %d: bad replica count %q: %w", i+2, rec[1], err)
		}
		cores, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad core count %q: %w", i+2, rec[2], err)
		}
		memory, err := strconv.ParseFloat(rec[3], 64)
		if err != nil {
			return nil, fmt.Errorf("row %d: bad memory %q: %w", i+2, rec[3], err)
		}
		components = append(components, Component{
			Name:     rec[0],
			Cores:    cores,
			Memory:   memory,
			Replicas: replicas,
		})
	}
	return components, nil
}
