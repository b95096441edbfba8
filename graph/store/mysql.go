package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS workflow_checkpoints (
			instance_id VARCHAR(64) NOT NULL PRIMARY KEY,
			step INT NOT NULL,
			paused_at VARCHAR(64) NOT NULL DEFAULT '',
			completed TINYINT NOT NULL DEFAULT 0,
			data LONGTEXT NOT NULL,
			updated_at VARCHAR(40) NOT NULL,
			INDEX idx_checkpoints_paused (paused_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsert: `INSERT INTO workflow_checkpoints (instance_id, step, paused_at, completed, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			step = VALUES(step),
			paused_at = VALUES(paused_at),
			completed = VALUES(completed),
			data = VALUES(data),
			updated_at = VALUES(updated_at)`,
	get:        `SELECT data FROM workflow_checkpoints WHERE instance_id = ?`,
	list:       `SELECT data FROM workflow_checkpoints ORDER BY instance_id`,
	listPaused: `SELECT data FROM workflow_checkpoints WHERE paused_at <> '' ORDER BY instance_id`,
	delete:     `DELETE FROM workflow_checkpoints WHERE instance_id = ?`,
}

// NewMySQLStore connects to MySQL/MariaDB and returns a Store on it.
//
// The DSN uses the go-sql-driver format:
//
//	user:password@tcp(localhost:3306)/invoicegraph
//
// Keep credentials out of source; read the DSN from the environment.
func NewMySQLStore[S any](dsn string) (*SQLStore[S], error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("invoicegraph/mysql: open: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("invoicegraph/mysql: ping: %w", err)
	}

	return newSQLStore[S](ctx, db, mysqlDialect)
}
