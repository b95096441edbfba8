// Package store persists workflow checkpoints: one durable snapshot per
// instance, overwritten after every executed stage.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for an instance id.
var ErrNotFound = errors.New("not found")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Store is a keyed overwrite store: instance id -> latest Checkpoint.
//
// Implementations must guarantee:
//   - Put is atomic: a concurrent or subsequent Get never observes a torn
//     checkpoint, only the previous or the new one.
//   - Read-your-writes: a Get after a successful Put returns that checkpoint.
//   - Writes to the same instance id are serialized.
//
// List and ListPaused return checkpoints ordered by instance id.
//
// Type parameter S is the workflow state type and must be JSON-serializable.
type Store[S any] interface {
	// Put creates or replaces the checkpoint for cp.InstanceID.
	Put(ctx context.Context, cp Checkpoint[S]) error

	// Get returns the checkpoint for instanceID, or ErrNotFound.
	Get(ctx context.Context, instanceID string) (Checkpoint[S], error)

	// ListPaused returns every checkpoint whose PausedAt is set.
	ListPaused(ctx context.Context) ([]Checkpoint[S], error)

	// List returns every stored checkpoint.
	List(ctx context.Context) ([]Checkpoint[S], error)

	// Delete removes the checkpoint for instanceID, or returns ErrNotFound.
	Delete(ctx context.Context, instanceID string) error

	// Close releases resources held by the store.
	Close() error
}

// Checkpoint is the persisted position of one workflow instance.
type Checkpoint[S any] struct {
	// InstanceID is the key of the checkpoint.
	InstanceID string `json:"instance_id"`

	// Step counts executed stages. The checkpoint written on start is step 0.
	Step int `json:"step"`

	// Node is the stage whose execution produced this checkpoint, empty at step 0.
	Node string `json:"node,omitempty"`

	// Next is the stage that runs when execution continues.
	Next string `json:"next"`

	// PausedAt names the interrupt stage the instance waits at, if any.
	PausedAt string `json:"paused_at,omitempty"`

	// Completed is set once the instance reached the terminal sentinel.
	Completed bool `json:"completed"`

	// State is the merged instance state after Step.
	State S `json:"state"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Paused reports whether the instance waits at an interrupt point.
func (c Checkpoint[S]) Paused() bool {
	return c.PausedAt != ""
}
