package graph

import "context"

// Node is a stage handler: it reads the current state and returns a
// partial update.
//
// Business outcomes (a failed match, a rejected invoice) are expressed as
// state fields in the Delta, never as errors. Err is reserved for
// failures that should stop the instance; the engine then discards the
// Delta and leaves the last checkpoint untouched.
//
// Type parameter S is the state type shared across the workflow.
type Node[S any] interface {
	Run(ctx context.Context, state S) NodeResult[S]
}

// NodeResult is the output of one stage execution.
type NodeResult[S any] struct {
	// Delta is the partial state update, merged by the schema's reducer.
	Delta S

	// Err stops the instance without committing Delta.
	Err error
}

// NodeFunc adapts a plain function to Node.
//
// Example:
//
//	intake := graph.NodeFunc[State](func(ctx context.Context, s State) graph.NodeResult[State] {
//	    return graph.NodeResult[State]{Delta: State{Validated: true}}
//	})
type NodeFunc[S any] func(ctx context.Context, state S) NodeResult[S]

// Run implements Node.
func (f NodeFunc[S]) Run(ctx context.Context, state S) NodeResult[S] {
	return f(ctx, state)
}

// Stage binds a handler to the state fields it reads and writes.
//
// Reads are checked at compile time: every field must be written by the
// seed, by the decision (for interrupt stages) or by a stage on every path
// from the entry. Writes are checked at run time when the state type
// implements FieldReporter.
type Stage[S any] struct {
	Node   Node[S]
	Reads  []string
	Writes []string
}

// Fail is a shorthand for returning a handler error.
func Fail[S any](err error) NodeResult[S] {
	return NodeResult[S]{Err: err}
}
