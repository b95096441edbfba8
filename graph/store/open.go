package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Open returns the Store selected by the scheme of rawURL:
//
//	memory://                      in-memory
//	file:///var/lib/invoicegraph   one JSON file per instance
//	sqlite://./invoicegraph.db     SQLite (sqlite://:memory: for a throwaway db)
//	mysql://user:pw@tcp(host:3306)/db
//	postgres://user:pw@host:5432/db?sslmode=disable
//	redis://localhost:6379/0
//
// The returned store owns any connection it opened; call Close when done.
func Open[S any](ctx context.Context, rawURL string) (Store[S], error) {
	scheme, rest, ok := strings.Cut(rawURL, "://")
	if !ok {
		return nil, fmt.Errorf("invoicegraph/store: %q has no scheme", rawURL)
	}

	switch scheme {
	case "memory", "mem":
		return NewMemStore[S](), nil
	case "file":
		return NewFileStore[S](rest)
	case "sqlite", "sqlite3":
		return NewSQLiteStore[S](rest)
	case "mysql":
		return NewMySQLStore[S](rest)
	case "postgres", "postgresql":
		return NewPostgresStore[S](rawURL)
	case "redis", "rediss":
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("invoicegraph/redis: parse url: %w", err)
		}
		client := redis.NewClient(opts)
		st := NewRedisStore[S](client, withCloser(client))
		if err := st.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("invoicegraph/redis: ping: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("invoicegraph/store: unsupported scheme %q", scheme)
	}
}
