package perf

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Recorder persists finished operation metrics to a SQLite database so
// timings survive restarts and can be queried out of band.
type Recorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewRecorder opens (or creates) the database and runs migrations.
func NewRecorder(dbPath string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so report queries never block metric writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &Recorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("metric recorder opened", "path", dbPath)
	return r, nil
}

func (r *Recorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS operation_metrics (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp     INTEGER NOT NULL,
			operation     TEXT NOT NULL,
			duration_secs REAL,
			success       INTEGER NOT NULL,
			error_message TEXT,
			metadata      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON operation_metrics(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_op ON operation_metrics(operation)`,
	}
	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordMetric inserts one finished operation.
func (r *Recorder) RecordMetric(m Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	metadata := ""
	if len(m.Metadata) > 0 {
		if data, err := json.Marshal(m.Metadata); err == nil {
			metadata = string(data)
		}
	}
	success := 0
	if m.Success {
		success = 1
	}
	_, err := r.db.Exec(`INSERT INTO operation_metrics
		(timestamp, operation, duration_secs, success, error_message, metadata)
		VALUES (?,?,?,?,?,?)`,
		m.StartedAt.Unix(), m.Operation, m.DurationSecs, success, m.ErrorMessage, metadata,
	)
	return err
}

// PruneBefore deletes metrics older than cutoff and returns the count.
func (r *Recorder) PruneBefore(cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.db.Exec(`DELETE FROM operation_metrics WHERE timestamp < ?`, cutoff.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database.
func (r *Recorder) Close() error {
	slog.Info("closing metric recorder")
	return r.db.Close()
}
