package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dshills/invoicegraph/graph/emit"
	"github.com/dshills/invoicegraph/graph/store"
)

// Schema tells the engine how to build and merge instances of S.
type Schema[S any] struct {
	// Reduce merges a stage delta into the previous state. Required.
	Reduce Reducer[S]

	// Seed builds the initial state of a new instance from the caller's
	// payload, adding engine-managed fields (status, audit, timestamps).
	// Defaults to returning the payload unchanged.
	Seed func(instanceID string, now time.Time, payload S) S

	// Decide turns a reviewer decision into a delta merged before the
	// interrupt stage runs. Required to use Resume.
	Decide func(d Decision) S
}

// Status is the outcome of a Start, Resume or Retry call.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
)

// Result describes where an instance stands after a call returned.
type Result[S any] struct {
	InstanceID string
	Status     Status

	// State is the last committed state.
	State S

	// Step is the step of the last committed checkpoint.
	Step int

	// PausedAt is the interrupt stage the instance waits at, when paused.
	PausedAt string

	// Next is the stage that would run next, or End.
	Next string

	// Visited lists the stages executed during this call, in order.
	Visited []string
}

// Engine runs compiled graphs with one checkpoint per executed stage.
//
// Steps of one instance never overlap: Start, Resume, Retry, Evict and
// Prune serialize on a per-instance lock. Distinct instances run
// concurrently.
//
// Example:
//
//	g, err := graph.Compile(def, stages, rules)
//	engine, err := graph.New(g, store.NewMemStore[State](), schema,
//	    graph.WithEmitter(emit.NewLogEmitter(logger)))
//
//	res, err := engine.Start(ctx, State{InvoicePayload: payload})
//	if res.Status == graph.StatusPaused {
//	    res, err = engine.Resume(ctx, res.InstanceID, graph.Decision{Verdict: graph.Accept, ReviewerID: "rev-1"})
//	}
type Engine[S any] struct {
	graph  *Graph[S]
	store  store.Store[S]
	schema Schema[S]
	cfg    engineConfig
	locks  *keyedMutex
}

// New creates an Engine. It fails with *EngineError when a required
// argument is missing or an option is invalid.
func New[S any](g *Graph[S], st store.Store[S], schema Schema[S], opts ...Option) (*Engine[S], error) {
	if g == nil {
		return nil, &EngineError{Message: "graph is required", Code: CodeInvalidArguments}
	}
	if st == nil {
		return nil, &EngineError{Message: "store is required", Code: CodeInvalidArguments}
	}
	if schema.Reduce == nil {
		return nil, &EngineError{Message: "reducer is required", Code: CodeInvalidArguments}
	}
	if schema.Seed == nil {
		schema.Seed = func(_ string, _ time.Time, payload S) S { return payload }
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	return &Engine[S]{
		graph:  g,
		store:  st,
		schema: schema,
		cfg:    cfg,
		locks:  newKeyedMutex(),
	}, nil
}

// Graph returns the compiled graph the engine runs.
func (e *Engine[S]) Graph() *Graph[S] { return e.graph }

// Start creates a new instance from payload, persists its initial
// checkpoint and runs it until it completes, pauses or fails.
func (e *Engine[S]) Start(ctx context.Context, payload S) (Result[S], error) {
	id, err := e.cfg.newID()
	if err != nil {
		return Result[S]{}, &EngineError{Message: "allocate instance id", Code: CodeInvalidArguments, Cause: err}
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	now := e.cfg.now()
	seeded := e.schema.Seed(id, now, payload)
	if missing := missingFields(seeded, e.graph.seeds); len(missing) > 0 {
		return Result[S]{}, &EngineError{
			Message: "payload is missing " + strings.Join(missing, ", "),
			Code:    CodeInvalidArguments,
		}
	}

	cp := store.Checkpoint[S]{
		InstanceID: id,
		Step:       0,
		Next:       e.graph.Entry(),
		State:      seeded,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if e.graph.IsInterrupt(cp.Next) {
		cp.PausedAt = cp.Next
	}
	if err := e.put(ctx, cp); err != nil {
		return Result[S]{InstanceID: id, Status: StatusFailed, Next: cp.Next}, err
	}

	e.emit(emit.MsgInstanceStarted, id, 0, "", map[string]interface{}{"entry": cp.Next})
	e.cfg.metrics.RecordInstance("started")

	return e.run(ctx, cp, nil)
}

// Resume supplies a decision to an instance paused at an interrupt point
// and continues it. It returns *NotFoundError for an unknown id and
// *InvalidStateError when the instance is not paused.
func (e *Engine[S]) Resume(ctx context.Context, instanceID string, d Decision) (Result[S], error) {
	if !d.Verdict.Valid() {
		return Result[S]{}, &EngineError{Message: "unknown verdict " + string(d.Verdict), Code: CodeInvalidDecision}
	}
	if strings.TrimSpace(d.ReviewerID) == "" {
		return Result[S]{}, &EngineError{Message: "reviewer id is required", Code: CodeInvalidDecision}
	}
	if e.schema.Decide == nil {
		return Result[S]{}, &EngineError{Message: "schema has no decision mapping", Code: CodeInvalidArguments}
	}

	unlock := e.locks.Lock(instanceID)
	defer unlock()

	cp, err := e.get(ctx, instanceID)
	if err != nil {
		return Result[S]{}, err
	}
	if !cp.Paused() || cp.Next != cp.PausedAt || !e.graph.IsInterrupt(cp.PausedAt) {
		return resultFrom(cp, nil), &InvalidStateError{
			InstanceID: instanceID,
			Position:   position(cp),
			Message:    "instance is not paused at an interrupt point",
		}
	}

	e.emit(emit.MsgResumed, instanceID, cp.Step, cp.PausedAt, map[string]interface{}{
		"verdict":     string(d.Verdict),
		"reviewer_id": d.ReviewerID,
	})
	e.cfg.metrics.RecordInstance("resumed")

	delta := e.schema.Decide(d)
	return e.run(ctx, cp, &delta)
}

// Retry continues an instance that stopped on a handler or store error
// from its last committed checkpoint. Paused and completed instances are
// rejected with *InvalidStateError.
func (e *Engine[S]) Retry(ctx context.Context, instanceID string) (Result[S], error) {
	unlock := e.locks.Lock(instanceID)
	defer unlock()

	cp, err := e.get(ctx, instanceID)
	if err != nil {
		return Result[S]{}, err
	}
	if cp.Completed || cp.Paused() {
		return resultFrom(cp, nil), &InvalidStateError{
			InstanceID: instanceID,
			Position:   position(cp),
			Message:    "only failed instances can be retried",
		}
	}
	return e.run(ctx, cp, nil)
}

// Get returns the latest checkpoint of an instance.
func (e *Engine[S]) Get(ctx context.Context, instanceID string) (store.Checkpoint[S], error) {
	return e.get(ctx, instanceID)
}

// Pending returns the instances waiting for a decision.
func (e *Engine[S]) Pending(ctx context.Context) ([]store.Checkpoint[S], error) {
	cps, err := e.store.ListPaused(ctx)
	if err != nil {
		return nil, &EngineError{Message: "list paused instances", Code: CodeStoreError, Cause: err}
	}
	return cps, nil
}

// Instances returns every stored instance.
func (e *Engine[S]) Instances(ctx context.Context) ([]store.Checkpoint[S], error) {
	cps, err := e.store.List(ctx)
	if err != nil {
		return nil, &EngineError{Message: "list instances", Code: CodeStoreError, Cause: err}
	}
	return cps, nil
}

// Evict deletes an instance's checkpoint, whatever its position.
func (e *Engine[S]) Evict(ctx context.Context, instanceID string) error {
	unlock := e.locks.Lock(instanceID)
	defer unlock()

	if err := e.store.Delete(ctx, instanceID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &NotFoundError{InstanceID: instanceID}
		}
		return &EngineError{Message: "delete checkpoint", Code: CodeStoreError, Cause: err}
	}
	e.emit(emit.MsgEvicted, instanceID, 0, "", nil)
	e.cfg.metrics.RecordInstance("evicted")
	return nil
}

// Prune evicts completed instances last updated more than olderThan ago
// and returns how many were removed. Paused and failed instances are kept.
func (e *Engine[S]) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := e.cfg.now().Add(-olderThan)

	cps, err := e.Instances(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, cp := range cps {
		if !cp.Completed || !cp.UpdatedAt.Before(cutoff) {
			continue
		}
		if err := e.Evict(ctx, cp.InstanceID); err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) {
				continue
			}
			return removed, err
		}
		removed++
	}
	e.cfg.logger.Info("pruned completed instances", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// run executes stages starting at cp.Next. decision, when non-nil, is
// merged right before the first interrupt stage runs.
func (e *Engine[S]) run(ctx context.Context, cp store.Checkpoint[S], decision *S) (Result[S], error) {
	id := cp.InstanceID
	visited := make([]string, 0, len(e.graph.order))
	seen := make(map[string]bool, len(e.graph.order))

	for {
		node := cp.Next
		if node == End {
			return resultFrom(cp, visited), nil
		}

		if e.graph.IsInterrupt(node) && decision == nil {
			if cp.PausedAt != node {
				cp.PausedAt = node
				cp.UpdatedAt = e.cfg.now()
				if err := e.put(ctx, cp); err != nil {
					return failedFrom(cp, visited), err
				}
			}
			e.emit(emit.MsgPaused, id, cp.Step, node, nil)
			e.cfg.metrics.RecordInstance("paused")
			return resultFrom(cp, visited), nil
		}

		if err := ctx.Err(); err != nil {
			return failedFrom(cp, visited), err
		}

		if seen[node] {
			return failedFrom(cp, visited), &EngineError{Message: "stage " + node + " already ran for " + id, Code: CodeNodeRevisited}
		}
		seen[node] = true

		stage, ok := e.graph.Stage(node)
		if !ok {
			return failedFrom(cp, visited), &EngineError{Message: "unknown stage " + node, Code: CodeInvalidArguments}
		}

		working := cp.State
		if decision != nil && e.graph.IsInterrupt(node) {
			working = e.schema.Reduce(working, *decision)
			decision = nil
		}

		input, err := deepCopy(working)
		if err != nil {
			return failedFrom(cp, visited), &EngineError{Message: "copy state", Code: CodeStateCopy, Cause: err}
		}

		step := cp.Step + 1
		e.emit(emit.MsgNodeStart, id, step, node, nil)
		started := time.Now()
		out := runStage(ctx, stage.Node, input)
		latency := time.Since(started)

		if out.Err == nil {
			if extra := undeclaredWrites(out.Delta, stage.Writes); len(extra) > 0 {
				out.Err = &EngineError{
					Message: "stage wrote undeclared fields " + strings.Join(extra, ", "),
					Code:    CodeUndeclaredWrite,
				}
			}
		}
		e.cfg.metrics.RecordStep(node, latency, out.Err)

		if out.Err != nil {
			e.emit(emit.MsgNodeError, id, step, node, map[string]interface{}{
				"error":      out.Err.Error(),
				"latency_ms": latency.Milliseconds(),
			})
			e.cfg.metrics.RecordInstance("failed")
			return failedFrom(cp, visited), &HandlerError{InstanceID: id, NodeID: node, Step: step, Cause: out.Err}
		}

		merged := e.schema.Reduce(working, out.Delta)
		next := e.graph.Next(node, merged)

		nextCp := store.Checkpoint[S]{
			InstanceID: id,
			Step:       step,
			Node:       node,
			Next:       next,
			State:      merged,
			CreatedAt:  cp.CreatedAt,
			UpdatedAt:  e.cfg.now(),
		}
		switch {
		case next == End:
			nextCp.Completed = true
		case e.graph.IsInterrupt(next):
			nextCp.PausedAt = next
		}

		if err := e.put(ctx, nextCp); err != nil {
			e.cfg.metrics.RecordInstance("failed")
			return failedFrom(cp, visited), err
		}

		visited = append(visited, node)
		e.emit(emit.MsgNodeEnd, id, step, node, map[string]interface{}{
			"next":       next,
			"latency_ms": latency.Milliseconds(),
		})
		cp = nextCp

		if cp.Completed {
			e.emit(emit.MsgCompleted, id, cp.Step, node, nil)
			e.cfg.metrics.RecordInstance("completed")
			return resultFrom(cp, visited), nil
		}
	}
}

// runStage runs n and reports a panic as the stage's error.
func runStage[S any](ctx context.Context, n Node[S], input S) (out NodeResult[S]) {
	defer func() {
		if r := recover(); r != nil {
			out = NodeResult[S]{Err: fmt.Errorf("stage panicked: %v", r)}
		}
	}()
	return n.Run(ctx, input)
}

func (e *Engine[S]) put(ctx context.Context, cp store.Checkpoint[S]) error {
	err := e.store.Put(ctx, cp)
	e.cfg.metrics.RecordCheckpointWrite(err)
	if err != nil {
		return &EngineError{Message: "persist checkpoint for " + cp.InstanceID, Code: CodeStoreError, Cause: err}
	}
	return nil
}

func (e *Engine[S]) get(ctx context.Context, instanceID string) (store.Checkpoint[S], error) {
	cp, err := e.store.Get(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return store.Checkpoint[S]{}, &NotFoundError{InstanceID: instanceID}
	}
	if err != nil {
		return store.Checkpoint[S]{}, &EngineError{Message: "load checkpoint for " + instanceID, Code: CodeStoreError, Cause: err}
	}
	return cp, nil
}

func (e *Engine[S]) emit(msg, instanceID string, step int, node string, meta map[string]interface{}) {
	e.cfg.emitter.Emit(emit.Event{
		InstanceID: instanceID,
		Step:       step,
		NodeID:     node,
		Msg:        msg,
		Meta:       meta,
	})
}

func resultFrom[S any](cp store.Checkpoint[S], visited []string) Result[S] {
	r := Result[S]{
		InstanceID: cp.InstanceID,
		State:      cp.State,
		Step:       cp.Step,
		PausedAt:   cp.PausedAt,
		Next:       cp.Next,
		Visited:    visited,
	}
	switch {
	case cp.Completed:
		r.Status = StatusCompleted
	case cp.Paused():
		r.Status = StatusPaused
	default:
		r.Status = StatusFailed
	}
	return r
}

func failedFrom[S any](cp store.Checkpoint[S], visited []string) Result[S] {
	r := resultFrom(cp, visited)
	r.Status = StatusFailed
	return r
}

func position[S any](cp store.Checkpoint[S]) string {
	switch {
	case cp.Completed:
		return "completed"
	case cp.Paused():
		return "paused at " + cp.PausedAt
	default:
		return "stopped before " + cp.Next
	}
}

// keyedMutex hands out one mutex per key and forgets it once no caller
// holds or waits for it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
