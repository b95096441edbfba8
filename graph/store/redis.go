package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "invoicegraph:"

// RedisOption configures a RedisStore.
type RedisOption func(*redisOptions)

type redisOptions struct {
	prefix string
	logger *slog.Logger
	closer io.Closer
}

// WithKeyPrefix overrides the "invoicegraph:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(o *redisOptions) { o.prefix = prefix }
}

// WithLogger sets the logger used for skipped index entries.
func WithLogger(l *slog.Logger) RedisOption {
	return func(o *redisOptions) { o.logger = l }
}

// withCloser makes Close release the client; used when Open created it.
func withCloser(c io.Closer) RedisOption {
	return func(o *redisOptions) { o.closer = c }
}

// RedisStore keeps each checkpoint as a JSON string under
// "<prefix>checkpoint:<id>", plus two sets indexing all ids and paused ids.
// Every write goes through one MULTI/EXEC pipeline so the document and the
// indexes never disagree.
//
// The caller owns the client unless the store was created by Open.
type RedisStore[S any] struct {
	client redis.Cmdable
	opts   redisOptions
}

// NewRedisStore returns a RedisStore on client.
func NewRedisStore[S any](client redis.Cmdable, opts ...RedisOption) *RedisStore[S] {
	o := redisOptions{prefix: defaultRedisPrefix, logger: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	return &RedisStore[S]{client: client, opts: o}
}

func (r *RedisStore[S]) checkpointKey(id string) string { return r.opts.prefix + "checkpoint:" + id }
func (r *RedisStore[S]) idsKey() string                { return r.opts.prefix + "checkpoint_ids" }
func (r *RedisStore[S]) pausedKey() string             { return r.opts.prefix + "paused_ids" }

// Ping verifies the connection.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Put writes the checkpoint and updates both indexes atomically.
func (r *RedisStore[S]) Put(ctx context.Context, cp Checkpoint[S]) error {
	if cp.InstanceID == "" {
		return fmt.Errorf("invoicegraph/redis: instance id is required")
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("invoicegraph/redis: encode checkpoint: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.checkpointKey(cp.InstanceID), data, 0)
	pipe.SAdd(ctx, r.idsKey(), cp.InstanceID)
	if cp.Paused() {
		pipe.SAdd(ctx, r.pausedKey(), cp.InstanceID)
	} else {
		pipe.SRem(ctx, r.pausedKey(), cp.InstanceID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invoicegraph/redis: put checkpoint: %w", err)
	}
	return nil
}

// Get loads the checkpoint for instanceID.
func (r *RedisStore[S]) Get(ctx context.Context, instanceID string) (Checkpoint[S], error) {
	data, err := r.client.Get(ctx, r.checkpointKey(instanceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("invoicegraph/redis: get checkpoint: %w", err)
	}
	return decodeCheckpoint[S](data)
}

// ListPaused returns the checkpoints in the paused index.
func (r *RedisStore[S]) ListPaused(ctx context.Context) ([]Checkpoint[S], error) {
	return r.listSet(ctx, r.pausedKey())
}

// List returns every indexed checkpoint.
func (r *RedisStore[S]) List(ctx context.Context) ([]Checkpoint[S], error) {
	return r.listSet(ctx, r.idsKey())
}

func (r *RedisStore[S]) listSet(ctx context.Context, setKey string) ([]Checkpoint[S], error) {
	ids, err := r.client.SMembers(ctx, setKey).Result()
	if err != nil {
		return nil, fmt.Errorf("invoicegraph/redis: list ids: %w", err)
	}
	sort.Strings(ids)

	out := make([]Checkpoint[S], 0, len(ids))
	for _, id := range ids {
		cp, err := r.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.opts.logger.Warn("checkpoint index entry without document", "instance_id", id, "index", setKey)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the checkpoint and its index entries.
func (r *RedisStore[S]) Delete(ctx context.Context, instanceID string) error {
	pipe := r.client.TxPipeline()
	del := pipe.Del(ctx, r.checkpointKey(instanceID))
	pipe.SRem(ctx, r.idsKey(), instanceID)
	pipe.SRem(ctx, r.pausedKey(), instanceID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("invoicegraph/redis: delete checkpoint: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close releases the client when the store owns it.
func (r *RedisStore[S]) Close() error {
	if r.opts.closer != nil {
		return r.opts.closer.Close()
	}
	return nil
}
