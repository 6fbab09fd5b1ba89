package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/corewald/flowgraph/graph"
	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore is a graph.CheckpointStore backed by MySQL/MariaDB, for
// production runs needing persistence shared across worker processes.
//
// Grounded on the teacher's MySQLStore[S] (graph/store/mysql.go): same
// connection-pooling-via-database/sql approach and migrate-on-open pattern,
// schema narrowed to the single checkpoints table this engine needs.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL connection using dsn (go-sql-driver/mysql
// DSN format, e.g. "user:pass@tcp(host:3306)/dbname?parseTime=true") and
// migrates its schema.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(16)
	s := &MySQLStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS checkpoints (
	thread_id       VARCHAR(255) NOT NULL,
	superstep       INT NOT NULL,
	state           LONGTEXT NOT NULL,
	frontier        TEXT NOT NULL,
	rng_seed        BIGINT NOT NULL,
	label           VARCHAR(255),
	idempotency_key VARCHAR(128) NOT NULL,
	source          VARCHAR(32) NOT NULL,
	created_at      VARCHAR(40) NOT NULL,
	PRIMARY KEY (thread_id, superstep)
) ENGINE=InnoDB`)
	return err
}

// Close closes the underlying connection pool.
func (s *MySQLStore) Close() error { return s.db.Close() }

func (s *MySQLStore) Get(ctx context.Context, threadID string) (*graph.CheckpointTuple, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT superstep, state, frontier, rng_seed, label, idempotency_key, source, created_at
FROM checkpoints WHERE thread_id = ? ORDER BY superstep DESC LIMIT 1`, threadID)
	t, err := scanTupleRow(threadID, row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return t, nil
}

func (s *MySQLStore) Put(ctx context.Context, threadID string, cp graph.Checkpoint, meta graph.CheckpointMetadata) error {
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
ON DUPLICATE KEY UPDATE
	state=VALUES(state), frontier=VALUES(frontier), idempotency_key=VALUES(idempotency_key),
	source=VALUES(source), created_at=VALUES(created_at)
`, threadID, cp.Superstep, string(stateJSON), string(frontierJSON), cp.RNGSeed, cp.Label,
		cp.IdempotencyKey, meta.Source, cp.Timestamp.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}
	return nil
}

func (s *MySQLStore) List(ctx context.Context, threadID string, limit int) ([]graph.CheckpointTuple, error) {
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

func (s *MySQLStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	return err
}
