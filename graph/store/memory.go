package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemStore is an in-memory Store.
//
// Checkpoints are kept as encoded JSON so callers never share state values
// with the store: mutating a checkpoint returned by Get does not affect
// what the next Get returns. Data is lost when the process exits.
//
// Type parameter S is the state type to persist.
type MemStore[S any] struct {
	mu     sync.RWMutex
	data   map[string][]byte // instanceID -> encoded checkpoint
	closed bool
}

// NewMemStore creates an empty in-memory store.
//
// Example:
//
//	st := store.NewMemStore[invoice.State]()
//	engine, err := graph.New(g, st, schema)
func NewMemStore[S any]() *MemStore[S] {
	return &MemStore[S]{data: make(map[string][]byte)}
}

// Put replaces the checkpoint for cp.InstanceID.
func (m *MemStore[S]) Put(_ context.Context, cp Checkpoint[S]) error {
	if cp.InstanceID == "" {
		return fmt.Errorf("invoicegraph/memory: instance id is required")
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("invoicegraph/memory: encode checkpoint: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.data[cp.InstanceID] = raw
	return nil
}

// Get returns the checkpoint for instanceID.
func (m *MemStore[S]) Get(_ context.Context, instanceID string) (Checkpoint[S], error) {
	m.mu.RLock()
	raw, ok := m.data[instanceID]
	closed := m.closed
	m.mu.RUnlock()

	if closed {
		return Checkpoint[S]{}, ErrClosed
	}
	if !ok {
		return Checkpoint[S]{}, ErrNotFound
	}
	return decodeCheckpoint[S](raw)
}

// ListPaused returns the checkpoints waiting at an interrupt point.
func (m *MemStore[S]) ListPaused(ctx context.Context) ([]Checkpoint[S], error) {
	all, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	paused := make([]Checkpoint[S], 0, len(all))
	for _, cp := range all {
		if cp.Paused() {
			paused = append(paused, cp)
		}
	}
	return paused, nil
}

// List returns every checkpoint ordered by instance id.
func (m *MemStore[S]) List(_ context.Context) ([]Checkpoint[S], error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}

	ids := make([]string, 0, len(m.data))
	for id := range m.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Checkpoint[S], 0, len(ids))
	for _, id := range ids {
		cp, err := decodeCheckpoint[S](m.data[id])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Delete removes the checkpoint for instanceID.
func (m *MemStore[S]) Delete(_ context.Context, instanceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.data[instanceID]; !ok {
		return ErrNotFound
	}
	delete(m.data, instanceID)
	return nil
}

// Close marks the store closed and drops all data.
func (m *MemStore[S]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}

func decodeCheckpoint[S any](raw []byte) (Checkpoint[S], error) {
	var cp Checkpoint[S]
	if err := json.Unmarshal(raw, &cp); err != nil {
		return Checkpoint[S]{}, fmt.Errorf("invoicegraph/store: decode checkpoint: %w", err)
	}
	return cp, nil
}
