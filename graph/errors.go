// Package graph compiles declarative stage lists into executable graphs and
// runs them with per-step checkpointing and human-in-the-loop interrupts.
package graph

import (
	"fmt"

	"github.com/dshills/invoicegraph/graph/store"
)

// ConfigError reports a definition that cannot be compiled into a valid graph.
type ConfigError struct {
	// Stage is the stage the problem was found on, if any.
	Stage string

	Message string
}

func (e *ConfigError) Error() string {
	if e.Stage != "" {
		return "config: stage " + e.Stage + ": " + e.Message
	}
	return "config: " + e.Message
}

func configErrorf(stage, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Stage: stage, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown instance id.
type NotFoundError struct {
	InstanceID string
}

func (e *NotFoundError) Error() string {
	return "instance not found: " + e.InstanceID
}

// Unwrap lets errors.Is(err, store.ErrNotFound) match.
func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }

// InvalidStateError reports an operation that does not fit the instance's
// current position, such as resuming an instance that is not paused.
type InvalidStateError struct {
	InstanceID string

	// Position describes where the instance is: the stage it is paused at,
	// "completed", or the next stage to run.
	Position string

	Message string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("instance %s (%s): %s", e.InstanceID, e.Position, e.Message)
}

// HandlerError wraps a failure returned by a stage handler. The failed
// step's state is not committed; the instance stays at its last checkpoint.
type HandlerError struct {
	InstanceID string
	NodeID     string

	// Step is the step number the failed execution would have produced.
	Step int

	Cause error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("instance %s: stage %s (step %d) failed: %v", e.InstanceID, e.NodeID, e.Step, e.Cause)
}

func (e *HandlerError) Unwrap() error { return e.Cause }

// EngineError represents an engine-level failure not attributable to a
// handler: store errors, invalid input, broken invariants.
type EngineError struct {
	Message string
	Code    string
	Cause   error
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *EngineError) Unwrap() error { return e.Cause }

// EngineError codes.
const (
	CodeStoreError       = "STORE_ERROR"
	CodeNodeRevisited    = "NODE_REVISITED"
	CodeInvalidDecision  = "INVALID_DECISION"
	CodeUndeclaredWrite  = "UNDECLARED_WRITE"
	CodeStateCopy        = "STATE_COPY"
	CodeInvalidArguments = "INVALID_ARGUMENTS"
)
