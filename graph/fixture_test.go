package graph

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/invoicegraph/graph/store"
)

// reviewState is a small state type shaped like a review workflow: a score
// producer, an optional hold stage, an interrupt and a tail.
type reviewState struct {
	Input    string   `json:"input,omitempty"`
	Score    *float64 `json:"score,omitempty"`
	Result   *string  `json:"result,omitempty"`
	Held     *bool    `json:"held,omitempty"`
	Verdict  *string  `json:"verdict,omitempty"`
	Reviewer *string  `json:"reviewer,omitempty"`
	Status   *string  `json:"status,omitempty"`
	Trail    []string `json:"trail,omitempty"`
}

func (s reviewState) SetFields() []string {
	var out []string
	if s.Input != "" {
		out = append(out, "input")
	}
	if s.Score != nil {
		out = append(out, "score")
	}
	if s.Result != nil {
		out = append(out, "result")
	}
	if s.Held != nil {
		out = append(out, "held")
	}
	if s.Verdict != nil {
		out = append(out, "verdict")
	}
	if s.Reviewer != nil {
		out = append(out, "reviewer")
	}
	if s.Status != nil {
		out = append(out, "status")
	}
	if len(s.Trail) > 0 {
		out = append(out, "trail")
	}
	return out
}

func ptr[T any](v T) *T { return &v }

func reduceReview(prev, delta reviewState) reviewState {
	next := prev
	next.Trail = append(append([]string(nil), prev.Trail...), delta.Trail...)
	if delta.Input != "" {
		next.Input = delta.Input
	}
	if delta.Score != nil {
		next.Score = delta.Score
	}
	if delta.Result != nil {
		next.Result = delta.Result
	}
	if delta.Held != nil {
		next.Held = delta.Held
	}
	if delta.Verdict != nil {
		next.Verdict = delta.Verdict
	}
	if delta.Reviewer != nil {
		next.Reviewer = delta.Reviewer
	}
	if delta.Status != nil {
		next.Status = delta.Status
	}
	return next
}

var reviewSchema = Schema[reviewState]{
	Reduce: reduceReview,
	Seed: func(id string, _ time.Time, payload reviewState) reviewState {
		payload.Status = ptr("START")
		payload.Trail = []string{"seed " + id}
		return payload
	},
	Decide: func(d Decision) reviewState {
		return reviewState{Verdict: ptr(string(d.Verdict)), Reviewer: ptr(d.ReviewerID)}
	},
}

const (
	ruleHold   RuleKind = "hold"
	ruleReject RuleKind = "reject"
)

var reviewRules = map[RuleKind]Rule[reviewState]{
	ruleHold: {
		Field:  "result",
		Attach: AttachUpstream,
		When:   func(s reviewState) bool { return s.Result != nil && *s.Result == "LOW" },
		Label:  "result == LOW",
	},
	ruleReject: {
		Field:  "status",
		Attach: AttachSelf,
		When:   func(s reviewState) bool { return s.Status != nil && *s.Status == "REJECTED" },
		Label:  "status == REJECTED",
	},
}

var reviewDefinition = Definition{
	Name:            "review",
	Version:         "1",
	InterruptBefore: []string{"decide"},
	Stages: []StageDescriptor{
		{ID: "ingest"},
		{ID: "score"},
		{ID: "hold", Routing: ruleHold},
		{ID: "decide", Routing: ruleReject},
		{ID: "book"},
		{ID: "close"},
	},
}

func trailNode(name string, delta func(s reviewState) reviewState) Node[reviewState] {
	return NodeFunc[reviewState](func(_ context.Context, s reviewState) NodeResult[reviewState] {
		d := reviewState{}
		if delta != nil {
			d = delta(s)
		}
		d.Trail = append(d.Trail, name)
		return NodeResult[reviewState]{Delta: d}
	})
}

func reviewStages() map[string]Stage[reviewState] {
	return map[string]Stage[reviewState]{
		"ingest": {
			Node:   trailNode("ingest", func(reviewState) reviewState { return reviewState{Status: ptr("IN_PROGRESS")} }),
			Reads:  []string{"input"},
			Writes: []string{"status", "trail"},
		},
		"score": {
			Node: trailNode("score", func(s reviewState) reviewState {
				score := 0.95
				if s.Input == "low" {
					score = 0.5
				}
				result := "OK"
				if score < 0.9 {
					result = "LOW"
				}
				return reviewState{Score: &score, Result: &result}
			}),
			Reads:  []string{"input"},
			Writes: []string{"score", "result", "trail"},
		},
		"hold": {
			Node:   trailNode("hold", func(reviewState) reviewState { return reviewState{Held: ptr(true), Status: ptr("PAUSED")} }),
			Reads:  []string{"result"},
			Writes: []string{"held", "status", "trail"},
		},
		"decide": {
			Node: trailNode("decide", func(s reviewState) reviewState {
				if *s.Verdict == string(Reject) {
					return reviewState{Status: ptr("REJECTED")}
				}
				return reviewState{Status: ptr("IN_PROGRESS")}
			}),
			Reads:  []string{"held", "verdict", "reviewer"},
			Writes: []string{"status", "trail"},
		},
		"book": {
			Node:   trailNode("book", nil),
			Reads:  []string{"score"},
			Writes: []string{"trail"},
		},
		"close": {
			Node:   trailNode("close", func(reviewState) reviewState { return reviewState{Status: ptr("DONE")} }),
			Writes: []string{"status", "trail"},
		},
	}
}

func compileReview(stages map[string]Stage[reviewState]) (*Graph[reviewState], error) {
	return Compile(reviewDefinition, stages, reviewRules,
		WithSeedFields("input", "status", "trail"),
		WithDecisionFields("verdict", "reviewer"),
	)
}

// countingStore wraps a store and counts Put calls, optionally failing
// once a budget of successful puts is used up.
type countingStore struct {
	store.Store[reviewState]
	puts      atomic.Int64
	failAfter int64
}

var errStoreDown = errors.New("store down")

func (c *countingStore) Put(ctx context.Context, cp store.Checkpoint[reviewState]) error {
	n := c.puts.Add(1)
	if c.failAfter > 0 && n > c.failAfter {
		return errStoreDown
	}
	return c.Store.Put(ctx, cp)
}

// sequentialIDs returns deterministic instance ids.
func sequentialIDs() func() (string, error) {
	var mu sync.Mutex
	n := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("inv_%04d", n), nil
	}
}
