package api

import (
	"time"

	"github.com/dshills/invoicegraph/graph/store"
	"github.com/dshills/invoicegraph/invoice"
)

// DecisionRequest resumes a paused instance.
type DecisionRequest struct {
	CheckpointID string `json:"checkpoint_id" validate:"required"`
	Decision     string `json:"decision" validate:"required,oneof=ACCEPT REJECT"`
	ReviewerID   string `json:"reviewer_id" validate:"required"`
	Notes        string `json:"notes,omitempty" validate:"max=2000"`
}

// AbilityRequest is the body of a remote ability call.
type AbilityRequest struct {
	Params map[string]interface{} `json:"params"`
}

// StartResponse reports where a new instance stopped.
type StartResponse struct {
	CheckpointID string                `json:"checkpoint_id"`
	Status       string                `json:"status"`
	PausedAt     string                `json:"paused_at,omitempty"`
	ReviewURL    string                `json:"review_url,omitempty"`
	FinalPayload *invoice.FinalPayload `json:"final_payload,omitempty"`
}

// PendingItem is one instance waiting for review.
type PendingItem struct {
	CheckpointID  string  `json:"checkpoint_id"`
	InvoiceID     string  `json:"invoice_id"`
	VendorName    string  `json:"vendor_name"`
	Amount        float64 `json:"amount"`
	CreatedAt     string  `json:"created_at"`
	ReasonForHold string  `json:"reason_for_hold"`
	ReviewURL     string  `json:"review_url"`
	PausedAt      string  `json:"paused_at"`
}

// DecisionResponse reports the outcome of a resumed instance.
type DecisionResponse struct {
	ResumeToken string `json:"resume_token"`
	NextStage   string `json:"next_stage"`
	Status      string `json:"status"`
}

// LogEntry is the audit trail of one instance.
type LogEntry struct {
	CheckpointID string   `json:"checkpoint_id"`
	InvoiceID    string   `json:"invoice_id"`
	Status       string   `json:"status"`
	Audit        []string `json:"audit"`
}

// InstanceResponse is the checkpoint view of one instance.
type InstanceResponse struct {
	CheckpointID string        `json:"checkpoint_id"`
	Step         int           `json:"step"`
	Node         string        `json:"node,omitempty"`
	Next         string        `json:"next"`
	PausedAt     string        `json:"paused_at,omitempty"`
	Completed    bool          `json:"completed"`
	Status       string        `json:"status"`
	State        invoice.State `json:"state"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func invoiceID(s invoice.State) string {
	if s.InvoicePayload == nil {
		return ""
	}
	return s.InvoicePayload.InvoiceID
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func newInstanceResponse(cp store.Checkpoint[invoice.State]) InstanceResponse {
	return InstanceResponse{
		CheckpointID: cp.InstanceID,
		Step:         cp.Step,
		Node:         cp.Node,
		Next:         cp.Next,
		PausedAt:     cp.PausedAt,
		Completed:    cp.Completed,
		Status:       string(cp.State.Status()),
		State:        cp.State,
		CreatedAt:    cp.CreatedAt,
		UpdatedAt:    cp.UpdatedAt,
	}
}
