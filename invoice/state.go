// Package invoice is the invoice-processing workflow: its state, the twelve
// stage handlers, the routing rules and the ability stubs they call.
package invoice

import (
	"reflect"
	"strings"
	"time"

	"github.com/dshills/invoicegraph/graph"
)

// WorkflowStatus is the coarse lifecycle of an invoice instance.
type WorkflowStatus string

const (
	StatusStart         WorkflowStatus = "START"
	StatusInProgress    WorkflowStatus = "IN_PROGRESS"
	StatusPaused        WorkflowStatus = "PAUSED"
	StatusComplete      WorkflowStatus = "COMPLETE"
	StatusManualHandoff WorkflowStatus = "MANUAL_HANDOFF"
)

// Terminal reports whether s is a final status.
func (s WorkflowStatus) Terminal() bool {
	return s == StatusComplete || s == StatusManualHandoff
}

// Match outcomes.
const (
	MatchMatched = "MATCHED"
	MatchFailed  = "FAILED"
)

// LineItem is one invoice line.
type LineItem struct {
	Desc      string  `json:"desc" validate:"required"`
	Qty       float64 `json:"qty" validate:"gt=0"`
	UnitPrice float64 `json:"unit_price" validate:"gte=0"`
	Total     float64 `json:"total" validate:"gte=0"`
}

// Payload is the invoice submitted to start a workflow.
type Payload struct {
	InvoiceID   string     `json:"invoice_id" validate:"required"`
	VendorName  string     `json:"vendor_name" validate:"required"`
	VendorTaxID string     `json:"vendor_tax_id" validate:"required"`
	InvoiceDate string     `json:"invoice_date" validate:"required"`
	DueDate     string     `json:"due_date" validate:"required"`
	Amount      float64    `json:"amount" validate:"gte=0"`
	Currency    string     `json:"currency" validate:"required,len=3"`
	LineItems   []LineItem `json:"line_items" validate:"dive"`
	Attachments []string   `json:"attachments"`

	// MockScore drives the stubbed two-way match. Defaults to 0.95.
	MockScore *float64 `json:"mock_score,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ParsedDates holds the dates found in the invoice text.
type ParsedDates struct {
	InvoiceDate string `json:"invoice_date"`
	DueDate     string `json:"due_date"`
}

// ParsedInvoice is the UNDERSTAND output.
type ParsedInvoice struct {
	InvoiceText     string      `json:"invoice_text"`
	ParsedLineItems []LineItem  `json:"parsed_line_items"`
	DetectedPOs     []string    `json:"detected_pos"`
	Currency        string      `json:"currency"`
	ParsedDates     ParsedDates `json:"parsed_dates"`
}

// VendorProfile is the normalized and enriched vendor.
type VendorProfile struct {
	NormalizedName string                 `json:"normalized_name"`
	TaxID          string                 `json:"tax_id"`
	EnrichmentMeta map[string]interface{} `json:"enrichment_meta,omitempty"`
}

// Flags are the risk indicators computed in PREPARE.
type Flags struct {
	MissingInfo []string `json:"missing_info"`
	RiskScore   float64  `json:"risk_score"`
}

// PurchaseOrder is a PO fetched from the ERP.
type PurchaseOrder struct {
	POID           string  `json:"po_id"`
	ExpectedAmount float64 `json:"expected_amount"`
}

// GoodsReceipt is a GRN fetched from the ERP.
type GoodsReceipt struct {
	GRNID string `json:"grn_id"`
	POID  string `json:"po_id"`
}

// AccountingEntry is one ledger line built in RECONCILE.
type AccountingEntry struct {
	Account string  `json:"account"`
	Type    string  `json:"type"`
	Amount  float64 `json:"amount"`
}

// NotifyStatus records the notification outcome.
type NotifyStatus struct {
	Success bool `json:"success"`
}

// FinalPayload is the structured result produced by COMPLETE.
type FinalPayload struct {
	InvoiceID string   `json:"invoice_id"`
	Vendor    string   `json:"vendor"`
	Amount    float64  `json:"amount"`
	Status    string   `json:"status"`
	Audit     []string `json:"audit"`
}

// State is the instance state threaded through the stages. Every field but
// AuditLog is owned by the stage that first sets it; a nil field is unset.
type State struct {
	InvoicePayload *Payload `json:"invoice_payload,omitempty"`
	CreatedAt      *string  `json:"created_at,omitempty"`

	// INTAKE
	RawID     *string `json:"raw_id,omitempty"`
	IngestTS  *string `json:"ingest_ts,omitempty"`
	Validated *bool   `json:"validated,omitempty"`

	// UNDERSTAND
	ParsedInvoice *ParsedInvoice `json:"parsed_invoice,omitempty"`

	// PREPARE
	VendorProfile *VendorProfile `json:"vendor_profile,omitempty"`
	Flags         *Flags         `json:"flags,omitempty"`

	// RETRIEVE
	MatchedPOs  []PurchaseOrder          `json:"matched_pos,omitempty"`
	MatchedGRNs []GoodsReceipt           `json:"matched_grns,omitempty"`
	History     []map[string]interface{} `json:"history,omitempty"`

	// MATCH_TWO_WAY
	MatchScore    *float64        `json:"match_score,omitempty"`
	MatchResult   *string         `json:"match_result,omitempty"`
	TolerancePct  *float64        `json:"tolerance_pct,omitempty"`
	MatchEvidence map[string]bool `json:"match_evidence,omitempty"`

	// CHECKPOINT_HITL
	HITLCheckpointID *string `json:"hitl_checkpoint_id,omitempty"`
	ReviewURL        *string `json:"review_url,omitempty"`
	PausedReason     *string `json:"paused_reason,omitempty"`

	// Decision
	HumanDecision *string `json:"human_decision,omitempty"`
	ReviewerID    *string `json:"reviewer_id,omitempty"`
	HumanNotes    *string `json:"human_notes,omitempty"`

	// RECONCILE
	AccountingEntries []AccountingEntry `json:"accounting_entries,omitempty"`

	// APPROVE
	ApprovalStatus *string `json:"approval_status,omitempty"`
	ApproverID     *string `json:"approver_id,omitempty"`

	// POSTING
	Posted             *bool   `json:"posted,omitempty"`
	ERPTxnID           *string `json:"erp_txn_id,omitempty"`
	ScheduledPaymentID *string `json:"scheduled_payment_id,omitempty"`

	// NOTIFY
	NotifyStatus    *NotifyStatus `json:"notify_status,omitempty"`
	NotifiedParties []string      `json:"notified_parties,omitempty"`

	// COMPLETE
	FinalPayload *FinalPayload `json:"final_payload,omitempty"`

	AuditLog       []string        `json:"audit_log,omitempty"`
	WorkflowStatus *WorkflowStatus `json:"workflow_status,omitempty"`
}

// State field names, as used in stage Reads/Writes and routing rules.
const (
	FieldInvoicePayload     = "invoice_payload"
	FieldCreatedAt          = "created_at"
	FieldRawID              = "raw_id"
	FieldIngestTS           = "ingest_ts"
	FieldValidated          = "validated"
	FieldParsedInvoice      = "parsed_invoice"
	FieldVendorProfile      = "vendor_profile"
	FieldFlags              = "flags"
	FieldMatchedPOs         = "matched_pos"
	FieldMatchedGRNs        = "matched_grns"
	FieldHistory            = "history"
	FieldMatchScore         = "match_score"
	FieldMatchResult        = "match_result"
	FieldTolerancePct       = "tolerance_pct"
	FieldMatchEvidence      = "match_evidence"
	FieldHITLCheckpointID   = "hitl_checkpoint_id"
	FieldReviewURL          = "review_url"
	FieldPausedReason       = "paused_reason"
	FieldHumanDecision      = "human_decision"
	FieldReviewerID         = "reviewer_id"
	FieldHumanNotes         = "human_notes"
	FieldAccountingEntries  = "accounting_entries"
	FieldApprovalStatus     = "approval_status"
	FieldApproverID         = "approver_id"
	FieldPosted             = "posted"
	FieldERPTxnID           = "erp_txn_id"
	FieldScheduledPaymentID = "scheduled_payment_id"
	FieldNotifyStatus       = "notify_status"
	FieldNotifiedParties    = "notified_parties"
	FieldFinalPayload       = "final_payload"
	FieldAuditLog           = "audit_log"
	FieldWorkflowStatus     = "workflow_status"
)

// SeedFields are present before INTAKE runs.
var SeedFields = []string{FieldInvoicePayload, FieldWorkflowStatus, FieldAuditLog, FieldCreatedAt}

// DecisionFields are merged in when a paused instance resumes.
var DecisionFields = []string{FieldHumanDecision, FieldReviewerID}

type stateField struct {
	index int
	name  string
}

// stateFields lists State's fields by JSON name.
var stateFields = func() []stateField {
	t := reflect.TypeOf(State{})
	fields := make([]stateField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
		fields = append(fields, stateField{index: i, name: name})
	}
	return fields
}()

func isSet(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		return !v.IsNil()
	default:
		return !v.IsZero()
	}
}

// SetFields implements graph.FieldReporter.
func (s State) SetFields() []string {
	v := reflect.ValueOf(s)
	var out []string
	for _, f := range stateFields {
		if isSet(v.Field(f.index)) {
			out = append(out, f.name)
		}
	}
	return out
}

// Status returns the workflow status, or "" when unset.
func (s State) Status() WorkflowStatus {
	if s.WorkflowStatus == nil {
		return ""
	}
	return *s.WorkflowStatus
}

// Reduce merges a stage delta into prev. Set fields in delta replace those
// in prev, audit entries are appended, and a terminal workflow status is
// never replaced.
func Reduce(prev, delta State) State {
	next := prev
	nv := reflect.ValueOf(&next).Elem()
	dv := reflect.ValueOf(delta)
	for _, f := range stateFields {
		if f.name == FieldAuditLog || f.name == FieldWorkflowStatus {
			continue
		}
		if d := dv.Field(f.index); isSet(d) {
			nv.Field(f.index).Set(d)
		}
	}

	if len(delta.AuditLog) > 0 {
		next.AuditLog = append(append(make([]string, 0, len(prev.AuditLog)+len(delta.AuditLog)), prev.AuditLog...), delta.AuditLog...)
	}
	if delta.WorkflowStatus != nil && !prev.Status().Terminal() {
		status := *delta.WorkflowStatus
		next.WorkflowStatus = &status
	}
	return next
}

// Seed builds the initial state of a new instance.
func Seed(_ string, now time.Time, payload State) State {
	s := payload
	invoiceID := ""
	if s.InvoicePayload != nil {
		invoiceID = s.InvoicePayload.InvoiceID
	}
	s.WorkflowStatus = statusPtr(StatusStart)
	s.AuditLog = []string{"Workflow started for " + invoiceID}
	s.CreatedAt = ptr(now.Format(time.RFC3339))
	return s
}

// Decide maps a reviewer decision onto the decision fields.
func Decide(d graph.Decision) State {
	s := State{
		HumanDecision: ptr(string(d.Verdict)),
		ReviewerID:    ptr(d.ReviewerID),
	}
	if d.Notes != "" {
		s.HumanNotes = ptr(d.Notes)
	}
	return s
}

// Schema wires State into the engine.
var Schema = graph.Schema[State]{
	Reduce: Reduce,
	Seed:   Seed,
	Decide: Decide,
}

func ptr[T any](v T) *T { return &v }

func statusPtr(s WorkflowStatus) *WorkflowStatus { return &s }
