package invoice

import "github.com/dshills/invoicegraph/graph"

// Routing rules available to invoice workflow definitions.
const (
	// RuleMatchFailed routes MATCH_TWO_WAY into the HITL checkpoint when the
	// two-way match failed, and straight to reconciliation otherwise.
	RuleMatchFailed graph.RuleKind = "match_failed"

	// RuleManualHandoff ends the instance after a rejected review.
	RuleManualHandoff graph.RuleKind = "manual_handoff"
)

// Rules returns the compiled meaning of each routing rule.
func Rules() map[graph.RuleKind]graph.Rule[State] {
	return map[graph.RuleKind]graph.Rule[State]{
		RuleMatchFailed: {
			Field:  FieldMatchResult,
			Attach: graph.AttachUpstream,
			When: func(s State) bool {
				return s.MatchResult != nil && *s.MatchResult == MatchFailed
			},
			Label: "match_result == FAILED",
		},
		RuleManualHandoff: {
			Field:  FieldWorkflowStatus,
			Attach: graph.AttachSelf,
			When: func(s State) bool {
				return s.Status() == StatusManualHandoff
			},
			Label: "workflow_status == MANUAL_HANDOFF",
		},
	}
}
