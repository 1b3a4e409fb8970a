// Package eventindex implements the write side of the EventIndex
// boundary from spec.md §4.10 against a SQLite-backed store, standing
// in for the external durable, search-optimized store spec.md names
// only at its interface boundary. Grounded in the teacher's
// storage.SQLiteStore: WAL mode, a migrate() step, and a single
// RecordEvent-shaped insert per document family — generalized here
// into the three write-aliases persist() fans out to.
package eventindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"sentrywire/internal/event"
)

// Index persists events into the three logical write-aliases
// (logs-write, alerts-write, incidents-write) spec.md §4.10 describes.
type Index struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and runs
// migrations, mirroring storage.NewSQLiteStore.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("eventindex: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventindex: enable WAL: %w", err)
	}

	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("eventindex: migrate: %w", err)
	}

	slog.Info("event index initialized", "path", path)
	return idx, nil
}

func (idx *Index) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS logs_write (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			source TEXT,
			severity TEXT,
			source_ip TEXT,
			data TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_logs_write_ts ON logs_write(timestamp)`,
		`CREATE TABLE IF NOT EXISTS alerts_write (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			source_ip TEXT,
			rule_name TEXT NOT NULL,
			severity TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_write_ip ON alerts_write(source_ip)`,
		`CREATE TABLE IF NOT EXISTS incidents_write (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL,
			incident TEXT NOT NULL,
			severity TEXT NOT NULL DEFAULT 'CRITICAL',
			log_reference TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_incidents_write_incident ON incidents_write(incident)`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Persist writes the three document families spec.md §4.10 describes:
// always one full log doc, one lightweight doc per alert string, and
// one doc-with-log-reference per incident string.
func (idx *Index) Persist(ctx context.Context, e *event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("eventindex: marshal event: %w", err)
	}

	tx, err := idx.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("eventindex: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO logs_write (timestamp, source, severity, source_ip, data) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp, e.Source, e.SeverityName, e.EffectiveIP(), string(data),
	); err != nil {
		return fmt.Errorf("eventindex: insert log: %w", err)
	}

	for _, alert := range e.Alerts {
		metadata, _ := json.Marshal(e.Metadata)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO alerts_write (timestamp, source_ip, rule_name, severity, metadata) VALUES (?, ?, ?, ?, ?)`,
			e.Timestamp, e.EffectiveIP(), alert, e.SeverityName, string(metadata),
		); err != nil {
			return fmt.Errorf("eventindex: insert alert: %w", err)
		}
	}

	for _, incident := range e.Incidents {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO incidents_write (timestamp, incident, severity, log_reference) VALUES (?, ?, 'CRITICAL', ?)`,
			e.Timestamp, incident, string(data),
		); err != nil {
			return fmt.Errorf("eventindex: insert incident: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("eventindex: commit: %w", err)
	}
	return nil
}

// Stats mirrors storage.EventStats, repurposed from session audit
// events to log/alert/incident counts; not wired into any request
// path yet (dashboard read endpoints are out of scope) but useful for
// operator tooling and tests.
type Stats struct {
	TotalLogs      int64
	TotalAlerts    int64
	TotalIncidents int64
}

// GetStats returns aggregate counts since the given time, or all time
// if since is the zero value.
func (idx *Index) GetStats(ctx context.Context, since time.Time) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		table string
		dest  *int64
	}{
		{"logs_write", &stats.TotalLogs},
		{"alerts_write", &stats.TotalAlerts},
		{"incidents_write", &stats.TotalIncidents},
	}
	for _, q := range queries {
		row := idx.db.QueryRowContext(ctx,
			fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE timestamp >= ?`, q.table), since)
		if err := row.Scan(q.dest); err != nil {
			return nil, fmt.Errorf("eventindex: stats %s: %w", q.table, err)
		}
	}
	return stats, nil
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}
