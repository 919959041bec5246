// Package journal records install batches in a local SQLite database so
// past runs can be reviewed with `optimeist history`.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/optimeist/optimeist/internal/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id TEXT PRIMARY KEY,
	total INTEGER NOT NULL,
	failed INTEGER NOT NULL DEFAULT 0,
	started_at INTEGER NOT NULL,
	finished_at INTEGER
);

CREATE TABLE IF NOT EXISTS units (
	batch_id TEXT NOT NULL,
	unit_id TEXT NOT NULL,
	status TEXT NOT NULL,
	error TEXT NOT NULL DEFAULT '',
	finished_at INTEGER NOT NULL,
	PRIMARY KEY (batch_id, unit_id),
	FOREIGN KEY (batch_id) REFERENCES batches(id)
);

CREATE INDEX IF NOT EXISTS idx_batches_started ON batches(started_at DESC);
`

// Unit statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// ErrBatchNotFound is returned when a batch id is unknown.
var ErrBatchNotFound = errors.New("batch not found")

// Batch is one install run.
type Batch struct {
	ID         string
	Total      int
	Failed     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Unit is the recorded outcome of one function install.
type Unit struct {
	BatchID    string
	UnitID     string
	Status     string
	Error      string
	FinishedAt time.Time
}

// Store is a journal backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens or creates the journal at path. ":memory:" opens a private
// in-memory database.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating journal directory: %w", err)
		}
	}

	log.Debug(log.CatJournal, "opening journal", "path", path)
	db, err := sql.Open("sqlite3", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		log.ErrorErr(log.CatJournal, "failed to open journal", err, "path", path)
		return nil, err
	}
	// Unit results arrive from many goroutines; one connection serializes writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating journal schema: %w", err)
	}
	log.Info(log.CatJournal, "journal ready", "path", path)
	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StartBatch records a new batch of total units.
func (s *Store) StartBatch(ctx context.Context, id string, total int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batches (id, total, started_at) VALUES (?, ?, ?)`,
		id, total, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert batch: %w", err)
	}
	return nil
}

// RecordUnit stores the outcome of one unit. A nil unitErr is a success.
func (s *Store) RecordUnit(ctx context.Context, batchID, unitID string, unitErr error, at time.Time) error {
	status, msg := StatusSucceeded, ""
	if unitErr != nil {
		status, msg = StatusFailed, unitErr.Error()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO units (batch_id, unit_id, status, error, finished_at) VALUES (?, ?, ?, ?, ?)`,
		batchID, unitID, status, msg, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to insert unit: %w", err)
	}
	return nil
}

// FinishBatch marks a batch joined with its failure count.
func (s *Store) FinishBatch(ctx context.Context, id string, failed int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET failed = ?, finished_at = ? WHERE id = ?`,
		failed, at.UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to update batch: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	return nil
}

// Recent returns up to limit batches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Batch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, total, failed, started_at, finished_at FROM batches ORDER BY started_at DESC, id LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Batch
	for rows.Next() {
		var (
			b        Batch
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&b.ID, &b.Total, &b.Failed, &started, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		b.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			t := time.UnixMilli(finished.Int64)
			b.FinishedAt = &t
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Units returns the recorded units of a batch ordered by unit id.
func (s *Store) Units(ctx context.Context, batchID string) ([]Unit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT batch_id, unit_id, status, error, finished_at FROM units WHERE batch_id = ? ORDER BY unit_id`,
		batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Unit
	for rows.Next() {
		var (
			u        Unit
			finished int64
		)
		if err := rows.Scan(&u.BatchID, &u.UnitID, &u.Status, &u.Error, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		u.FinishedAt = time.UnixMilli(finished)
		out = append(out, u)
	}
	return out, rows.Err()
}
