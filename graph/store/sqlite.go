package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corewald/flowgraph/graph"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file graph.CheckpointStore backed by SQLite,
// suitable for local development and single-process runs that need
// persistence across restarts.
//
// Grounded on the teacher's SQLiteStore[S] (graph/store/sqlite.go): kept
// the pure-Go modernc.org/sqlite driver, WAL-mode pragma, and
// auto-migrate-on-open pattern; dropped the separate workflow_steps/
// events_outbox tables since this store's schema is just "checkpoints per
// thread".
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// migrates its schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id       TEXT NOT NULL,
	superstep       INTEGER NOT NULL,
	state           TEXT NOT NULL,
	frontier        TEXT NOT NULL,
	rng_seed        INTEGER NOT NULL,
	label           TEXT,
	idempotency_key TEXT NOT NULL,
	source          TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	PRIMARY KEY (thread_id, superstep)
)`)
	return err
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Get(ctx context.Context, threadID string) (*graph.CheckpointTuple, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT superstep, state, frontier, rng_seed, label, idempotency_key, source, created_at
FROM checkpoints WHERE thread_id = ? ORDER BY superstep DESC LIMIT 1`, threadID)
	return scanTuple(threadID, row)
}

func (s *SQLiteStore) Put(ctx context.Context, threadID string, cp graph.Checkpoint, meta graph.CheckpointMetadata) error {
	stateJSON, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	frontierJSON, err := json.Marshal(cp.Frontier)
	if err != nil {
		return fmt.Errorf("marshal frontier: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO checkpoints
	(thread_id, superstep, state, frontier, rng_seed, label, idempotency_key, source, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(thread_id, superstep) DO UPDATE SET
	state=excluded.state, frontier=excluded.frontier, idempotency_key=excluded.idempotency_key,
	source=excluded.source, created_at=excluded.created_at
`, threadID, cp.Superstep, string(stateJSON), string(frontierJSON), cp.RNGSeed, cp.Label,
		cp.IdempotencyKey, meta.Source, cp.Timestamp.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, threadID string, limit int) ([]graph.CheckpointTuple, error) {
	query := `SELECT superstep, state, frontier, rng_seed, label, idempotency_key, source, created_at
FROM checkpoints WHERE thread_id = ? ORDER BY superstep DESC`
	args := []any{threadID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []graph.CheckpointTuple
	for rows.Next() {
		t, err := scanTupleRow(threadID, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	return err
}

// rowScanner abstracts *sql.Row and *sql.Rows so scanTuple/scanTupleRow can
// share one Scan call.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTuple(threadID string, row rowScanner) (*graph.CheckpointTuple, error) {
	t, err := scanTupleRow(threadID, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func scanTupleRow(threadID string, row rowScanner) (*graph.CheckpointTuple, error) {
	var (
		superstep  int
		stateJSON  string
		frontierJS string
		rngSeed    int64
		label      sql.NullString
		idemKey    string
		source     string
		createdAt  string
	)
	if err := row.Scan(&superstep, &stateJSON, &frontierJS, &rngSeed, &label, &idemKey, &source, &createdAt); err != nil {
		return nil, err
	}

	var state graph.State
	if err := json.Unmarshal([]byte(stateJSON), &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	var frontier []string
	if err := json.Unmarshal([]byte(frontierJS), &frontier); err != nil {
		return nil, fmt.Errorf("unmarshal frontier: %w", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp: %w", err)
	}

	return &graph.CheckpointTuple{
		Checkpoint: graph.Checkpoint{
			ThreadID:       threadID,
			Superstep:      superstep,
			State:          state,
			Frontier:       frontier,
			RNGSeed:        rngSeed,
			Timestamp:      ts,
			Label:          label.String,
			IdempotencyKey: idemKey,
		},
		Metadata: graph.CheckpointMetadata{Source: source, Superstep: superstep},
	}, nil
}
