/*
Copyright 2025 The weight-calibrator Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package targets

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/microdata-io/weight-calibrator/pkg/core"
)

const createTargetsTable = `
CREATE TABLE IF NOT EXISTS targets (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	name          TEXT NOT NULL,
	geographic_id TEXT NOT NULL,
	variable      TEXT NOT NULL,
	bracket       TEXT NOT NULL,
	period        TEXT NOT NULL,
	value         REAL NOT NULL,
	type          TEXT NOT NULL,
	source        TEXT NOT NULL DEFAULT '',
	UNIQUE(name, period, source)
);`

// SQLiteStore reads targets from a normalized SQLite database, the layout
// used by the ETL side of the pipeline.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) a target database at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening target database %s: %w", path, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Name implements Store.
func (s *SQLiteStore) Name() string { return "sqlite" }

// InitSchema creates the targets table when missing. ETL loaders call this
// before inserting; Load works against an already-populated database.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTargetsTable); err != nil {
		return fmt.Errorf("creating targets schema: %w", err)
	}
	return nil
}

// Insert stores a batch of targets in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, source string, targets []core.Target) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO targets (name, geographic_id, variable, bracket, period, value, type, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, t := range targets {
		if _, err := stmt.ExecContext(ctx,
			t.Name, t.GeographicID, t.Variable, t.Bracket, t.Period, t.Value, string(t.Type), source); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("inserting target %q: %w", t.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing targets: %w", err)
	}
	return nil
}

// Load implements Store. Results are ordered by rowid so repeated loads of
// the same database yield the same constraint order downstream.
func (s *SQLiteStore) Load(ctx context.Context, f Filter) ([]core.Target, error) {
	query := `SELECT name, geographic_id, variable, bracket, period, value, type FROM targets`
	var (
		clauses []string
		args    []any
	)
	if f.Period != "" {
		clauses = append(clauses, "period = ?")
		args = append(args, f.Period)
	}
	if f.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, f.Source)
	}
	if f.GeographicID != "" {
		clauses = append(clauses, "geographic_id = ?")
		args = append(args, f.GeographicID)
	}
	for i, c := range clauses {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying targets: %w", err)
	}
	defer rows.Close()

	var out []core.Target
	for rows.Next() {
		var t core.Target
		var typ string
		if err := rows.Scan(&t.Name, &t.GeographicID, &t.Variable, &t.Bracket, &t.Period, &t.Value, &typ); err != nil {
			return nil, fmt.Errorf("scanning target row: %w", err)
		}
		t.Type = core.TargetType(typ)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating target rows: %w", err)
	}
	return out, nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
