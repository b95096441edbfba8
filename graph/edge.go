package graph

// End is the terminal sentinel. An edge to End finishes the instance.
const End = "__end__"

// Predicate is a pure function over the merged state. A field the predicate
// tests that is not yet set must evaluate to false.
type Predicate[S any] func(state S) bool

// RuleKind names a routing rule in a workflow definition. The set of kinds
// is closed: a graph compiles only against the rules registered for it, and
// an unknown kind is a ConfigError.
type RuleKind string

// AttachMode says which stage a rule's conditional edge leaves from.
type AttachMode int

const (
	// AttachUpstream puts the edge on the nearest earlier stage that writes
	// the rule's field. True routes to the declaring stage, false skips it
	// and any interrupt point right after it.
	AttachUpstream AttachMode = iota

	// AttachSelf puts the edge on the declaring stage itself. True routes
	// to End, false to the next stage.
	AttachSelf
)

// Rule is the compiled meaning of a RuleKind.
type Rule[S any] struct {
	// Field is the state field the predicate tests.
	Field string

	Attach AttachMode

	When Predicate[S]

	// Label describes the condition in rendered diagrams.
	Label string
}

// EdgeKind distinguishes fixed from conditional edges.
type EdgeKind int

const (
	EdgeFixed EdgeKind = iota
	EdgeConditional
)

// Edge is the single outgoing transition of a compiled stage.
type Edge[S any] struct {
	From string
	Kind EdgeKind

	// To is the successor of a fixed edge.
	To string

	// Rule, When, Then and Else describe a conditional edge.
	Rule RuleKind
	When Predicate[S]
	Then string
	Else string
}

// Targets returns every stage the edge can lead to.
func (e Edge[S]) Targets() []string {
	if e.Kind == EdgeConditional {
		return []string{e.Then, e.Else}
	}
	return []string{e.To}
}

// resolve picks the successor for state.
func (e Edge[S]) resolve(state S) string {
	if e.Kind == EdgeFixed {
		return e.To
	}
	if e.When != nil && e.When(state) {
		return e.Then
	}
	return e.Else
}
