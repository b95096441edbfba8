package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// timeLayout is fixed-width so updated_at sorts lexically in every dialect.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// dialect holds the statements that differ between SQL backends.
type dialect struct {
	name       string
	schema     []string
	upsert     string
	get        string
	list       string
	listPaused string
	delete     string
}

// SQLStore is a Store on a database/sql connection. One row per instance
// in workflow_checkpoints; the whole checkpoint is kept as JSON in the data
// column, with paused_at and completed extracted for indexed queries.
//
// Use NewSQLiteStore, NewMySQLStore or NewPostgresStore to construct one.
type SQLStore[S any] struct {
	db      *sql.DB
	dialect dialect
	mu      sync.RWMutex
	closed  bool
}

func newSQLStore[S any](ctx context.Context, db *sql.DB, d dialect) (*SQLStore[S], error) {
	s := &SQLStore[S]{db: db, dialect: d}
	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("invoicegraph/%s: migrate: %w", d.name, err)
		}
	}
	return s, nil
}

// DB returns the underlying connection pool.
func (s *SQLStore[S]) DB() *sql.DB { return s.db }

func (s *SQLStore[S]) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put upserts the checkpoint row for cp.InstanceID in a single statement.
func (s *SQLStore[S]) Put(ctx context.Context, cp Checkpoint[S]) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if cp.InstanceID == "" {
		return fmt.Errorf("invoicegraph/%s: instance id is required", s.dialect.name)
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("invoicegraph/%s: encode checkpoint: %w", s.dialect.name, err)
	}

	completed := 0
	if cp.Completed {
		completed = 1
	}
	updated := cp.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.upsert,
		cp.InstanceID,
		cp.Step,
		cp.PausedAt,
		completed,
		string(data),
		updated.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("invoicegraph/%s: put checkpoint: %w", s.dialect.name, err)
	}
	return nil
}

// Get loads the checkpoint row for instanceID.
func (s *SQLStore[S]) Get(ctx context.Context, instanceID string) (Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return Checkpoint[S]{}, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, s.dialect.get, instanceID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("invoicegraph/%s: get checkpoint: %w", s.dialect.name, err)
	}
	return decodeCheckpoint[S]([]byte(data))
}

// ListPaused returns the checkpoints with a non-empty paused_at.
func (s *SQLStore[S]) ListPaused(ctx context.Context) ([]Checkpoint[S], error) {
	return s.query(ctx, s.dialect.listPaused)
}

// List returns every checkpoint ordered by instance id.
func (s *SQLStore[S]) List(ctx context.Context) ([]Checkpoint[S], error) {
	return s.query(ctx, s.dialect.list)
}

func (s *SQLStore[S]) query(ctx context.Context, stmt string) ([]Checkpoint[S], error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("invoicegraph/%s: list checkpoints: %w", s.dialect.name, err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Checkpoint[S], 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("invoicegraph/%s: scan checkpoint: %w", s.dialect.name, err)
		}
		cp, err := decodeCheckpoint[S]([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invoicegraph/%s: iterate checkpoints: %w", s.dialect.name, err)
	}
	return out, nil
}

// Delete removes the checkpoint row for instanceID.
func (s *SQLStore[S]) Delete(ctx context.Context, instanceID string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, s.dialect.delete, instanceID)
	if err != nil {
		return fmt.Errorf("invoicegraph/%s: delete checkpoint: %w", s.dialect.name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("invoicegraph/%s: delete checkpoint: %w", s.dialect.name, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the connection pool. Subsequent calls return nil.
func (s *SQLStore[S]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
