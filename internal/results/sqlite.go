// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package results persists finished recordings in SQLite.
package results

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3" // SQLite driver registration

	"github.com/relabs-tech/competition_recorder/internal/scheduler"
	"github.com/relabs-tech/competition_recorder/internal/session"
)

// Store is a session.ResultSink backed by SQLite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the results database at dataSourceName.
func Open(dataSourceName string) (*Store, error) {
	dbPath := dataSourceName
	if idx := strings.Index(dataSourceName, "?"); idx != -1 {
		dbPath = dataSourceName[:idx]
	}
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" && !strings.HasPrefix(dbPath, ":memory:") {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	if !strings.Contains(dataSourceName, "_busy_timeout") {
		if strings.Contains(dataSourceName, "?") {
			dataSourceName += "&_busy_timeout=5000"
		} else {
			dataSourceName += "?_busy_timeout=5000"
		}
	}

	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("error opening results database: %w", err)
	}
	// one writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	const schema = `
    CREATE TABLE IF NOT EXISTS sessions (
        id TEXT PRIMARY KEY,
        start_time DATETIME NOT NULL,
        end_time DATETIME NOT NULL,
        elapsed_seconds REAL NOT NULL,
        predicted_event_count INTEGER NOT NULL DEFAULT 0,
        compensation_seconds REAL NOT NULL DEFAULT 0,
        stop_reason TEXT NOT NULL
    );
    CREATE TABLE IF NOT EXISTS session_models (
        session_id TEXT NOT NULL REFERENCES sessions(id),
        model_id TEXT NOT NULL,
        triggers INTEGER NOT NULL DEFAULT 0,
        events INTEGER NOT NULL DEFAULT 0,
        compensation REAL NOT NULL DEFAULT 0,
        PRIMARY KEY (session_id, model_id)
    );
    CREATE INDEX IF NOT EXISTS idx_sessions_start ON sessions(start_time);
    `
	_, err := db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Save stores r and its per-model totals in one transaction.
func (s *Store) Save(ctx context.Context, r session.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error starting transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	_, err = tx.ExecContext(ctx, `INSERT INTO sessions
        (id, start_time, end_time, elapsed_seconds, predicted_event_count, compensation_seconds, stop_reason)
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.StartTime.UTC(), r.EndTime.UTC(), r.ElapsedSeconds,
		int64(r.PredictedEventCount), r.CompensationSeconds, r.StopReason)
	if err != nil {
		return fmt.Errorf("error inserting session %s: %w", r.SessionID, err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO session_models
        (session_id, model_id, triggers, events, compensation) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("error preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range r.Models {
		if _, err := stmt.ExecContext(ctx, r.SessionID, m.ID, int64(m.Triggers), int64(m.Events), m.Compensation); err != nil {
			return fmt.Errorf("error inserting model %s: %w", m.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing session %s: %w", r.SessionID, err)
	}
	return nil
}

// Recent returns up to limit results, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]session.Result, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, start_time, end_time, elapsed_seconds,
        predicted_event_count, compensation_seconds, stop_reason
        FROM sessions ORDER BY start_time DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying sessions: %w", err)
	}

	var out []session.Result
	for rows.Next() {
		var (
			r      session.Result
			events int64
		)
		if err := rows.Scan(&r.SessionID, &r.StartTime, &r.EndTime, &r.ElapsedSeconds,
			&events, &r.CompensationSeconds, &r.StopReason); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning session: %w", err)
		}
		r.PredictedEventCount = uint64(events)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range out {
		models, err := s.models(ctx, out[i].SessionID)
		if err != nil {
			return nil, err
		}
		out[i].Models = models
	}
	return out, nil
}

func (s *Store) models(ctx context.Context, sessionID string) ([]scheduler.ModelTotals, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT model_id, triggers, events, compensation
        FROM session_models WHERE session_id = ? ORDER BY model_id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("error querying models of %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []scheduler.ModelTotals
	for rows.Next() {
		var (
			m                scheduler.ModelTotals
			triggers, events int64
		)
		if err := rows.Scan(&m.ID, &triggers, &events, &m.Compensation); err != nil {
			return nil, fmt.Errorf("error scanning model: %w", err)
		}
		m.Triggers, m.Events = uint64(triggers), uint64(events)
		out = append(out, m)
	}
	return out, rows.Err()
}
