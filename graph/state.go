package graph

import (
	"encoding/json"
	"fmt"
)

// Reducer merges a stage's partial update into the previous state. It must
// be deterministic and must not mutate its arguments.
type Reducer[S any] func(prev, delta S) S

// FieldReporter is implemented by state types that can list which of their
// fields are set. For such types the engine rejects a delta that sets a
// field the stage did not declare in Writes.
type FieldReporter interface {
	SetFields() []string
}

// Decision is the external input that resumes a paused instance.
type Decision struct {
	Verdict    Verdict `json:"decision" validate:"required,oneof=ACCEPT REJECT"`
	ReviewerID string  `json:"reviewer_id" validate:"required"`
	Notes      string  `json:"notes,omitempty"`
}

// Verdict is the reviewer's outcome.
type Verdict string

const (
	Accept Verdict = "ACCEPT"
	Reject Verdict = "REJECT"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	return v == Accept || v == Reject
}

// deepCopy clones a state through a JSON round trip so that handlers never
// alias the engine's working copy.
func deepCopy[S any](state S) (S, error) {
	var zero S

	data, err := json.Marshal(state)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal state: %w", err)
	}

	var copied S
	if err := json.Unmarshal(data, &copied); err != nil {
		return zero, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return copied, nil
}

// undeclaredWrites returns the fields set in delta that are not in writes.
func undeclaredWrites[S any](delta S, writes []string) []string {
	fr, ok := any(delta).(FieldReporter)
	if !ok {
		return nil
	}
	allowed := toSet(writes)
	var extra []string
	for _, f := range fr.SetFields() {
		if !allowed[f] {
			extra = append(extra, f)
		}
	}
	return extra
}

// missingFields returns the fields in want that state does not set. State
// types that do not implement FieldReporter are not checked.
func missingFields[S any](state S, want []string) []string {
	fr, ok := any(state).(FieldReporter)
	if !ok {
		return nil
	}
	set := toSet(fr.SetFields())
	var missing []string
	for _, f := range want {
		if !set[f] {
			missing = append(missing, f)
		}
	}
	return missing
}
