package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			instance_id TEXT PRIMARY KEY,
			step INTEGER NOT NULL,
			paused_at TEXT NOT NULL DEFAULT '',
			completed INTEGER NOT NULL DEFAULT 0,
			data TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_paused ON workflow_checkpoints(paused_at)`,
	},
	upsert: `INSERT INTO workflow_checkpoints (instance_id, step, paused_at, completed, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			step = excluded.step,
			paused_at = excluded.paused_at,
			completed = excluded.completed,
			data = excluded.data,
			updated_at = excluded.updated_at`,
	get:        `SELECT data FROM workflow_checkpoints WHERE instance_id = ?`,
	list:       `SELECT data FROM workflow_checkpoints ORDER BY instance_id`,
	listPaused: `SELECT data FROM workflow_checkpoints WHERE paused_at <> '' ORDER BY instance_id`,
	delete:     `DELETE FROM workflow_checkpoints WHERE instance_id = ?`,
}

// NewSQLiteStore opens (or creates) a SQLite database and returns a Store on it.
//
// path is a file path such as "./invoicegraph.db", or ":memory:" for a
// throwaway database. The database runs in WAL mode with a single
// connection, since SQLite allows one writer at a time.
//
// Example:
//
//	st, err := store.NewSQLiteStore[invoice.State]("./invoicegraph.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func NewSQLiteStore[S any](path string) (*SQLStore[S], error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("invoicegraph/sqlite: open: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("invoicegraph/sqlite: %s: %w", pragma, err)
		}
	}

	return newSQLStore[S](ctx, db, sqliteDialect)
}
