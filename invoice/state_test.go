package invoice

import (
	"testing"
	"time"

	"github.com/dshills/invoicegraph/graph"
	"github.com/stretchr/testify/assert"
)

func TestReduce(t *testing.T) {
	prev := State{
		RawID:          ptr("INV-1"),
		AuditLog:       []string{"a"},
		WorkflowStatus: statusPtr(StatusInProgress),
	}

	t.Run("set fields replace, unset fields keep", func(t *testing.T) {
		next := Reduce(prev, State{IngestTS: ptr("now"), Validated: ptr(false)})
		assert.Equal(t, "INV-1", *next.RawID)
		assert.Equal(t, "now", *next.IngestTS)
		assert.False(t, *next.Validated)
		assert.Equal(t, []string{"a"}, next.AuditLog)
	})

	t.Run("audit appends", func(t *testing.T) {
		next := Reduce(prev, State{AuditLog: []string{"b", "c"}})
		assert.Equal(t, []string{"a", "b", "c"}, next.AuditLog)
		assert.Equal(t, []string{"a"}, prev.AuditLog)
	})

	t.Run("status replaced until terminal", func(t *testing.T) {
		next := Reduce(prev, State{WorkflowStatus: statusPtr(StatusManualHandoff)})
		assert.Equal(t, StatusManualHandoff, next.Status())

		final := Reduce(next, State{WorkflowStatus: statusPtr(StatusInProgress)})
		assert.Equal(t, StatusManualHandoff, final.Status())
	})

	t.Run("does not alias previous status", func(t *testing.T) {
		delta := State{WorkflowStatus: statusPtr(StatusPaused)}
		next := Reduce(prev, delta)
		*delta.WorkflowStatus = StatusComplete
		assert.Equal(t, StatusPaused, next.Status())
		assert.Equal(t, StatusInProgress, prev.Status())
	})
}

func TestState_SetFields(t *testing.T) {
	assert.Empty(t, State{}.SetFields())
	s := State{
		RawID:      ptr(""),
		MatchedPOs: []PurchaseOrder{},
		AuditLog:   []string{"x"},
	}
	assert.Equal(t, []string{FieldRawID, FieldMatchedPOs, FieldAuditLog}, s.SetFields())
}

func TestSeed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Seed("inst-1", now, testPayload(nil))

	assert.Equal(t, StatusStart, s.Status())
	assert.Equal(t, []string{"Workflow started for INV-1001"}, s.AuditLog)
	assert.Equal(t, "2025-03-01T12:00:00Z", *s.CreatedAt)
	assert.ElementsMatch(t, SeedFields, s.SetFields())
}

func TestDecide(t *testing.T) {
	s := Decide(graph.Decision{Verdict: graph.Accept, ReviewerID: "rev-1"})
	assert.ElementsMatch(t, DecisionFields, s.SetFields())
	assert.Nil(t, s.HumanNotes)

	s = Decide(graph.Decision{Verdict: graph.Reject, ReviewerID: "rev-1", Notes: "dup"})
	assert.Equal(t, "REJECT", *s.HumanDecision)
	assert.Equal(t, "dup", *s.HumanNotes)
}

func TestWorkflowStatus_Terminal(t *testing.T) {
	assert.True(t, StatusComplete.Terminal())
	assert.True(t, StatusManualHandoff.Terminal())
	assert.False(t, StatusPaused.Terminal())
	assert.False(t, StatusStart.Terminal())
}

func TestRules(t *testing.T) {
	rules := Rules()

	failed := rules[RuleMatchFailed].When
	assert.False(t, failed(State{}))
	assert.False(t, failed(State{MatchResult: ptr(MatchMatched)}))
	assert.True(t, failed(State{MatchResult: ptr(MatchFailed)}))

	handoff := rules[RuleManualHandoff].When
	assert.False(t, handoff(State{}))
	assert.False(t, handoff(State{WorkflowStatus: statusPtr(StatusInProgress)}))
	assert.True(t, handoff(State{WorkflowStatus: statusPtr(StatusManualHandoff)}))
}
