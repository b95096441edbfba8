package invoice

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/tool"
)

// Stage ids.
const (
	StageIntake         = "INTAKE"
	StageUnderstand     = "UNDERSTAND"
	StagePrepare        = "PREPARE"
	StageRetrieve       = "RETRIEVE"
	StageMatchTwoWay    = "MATCH_TWO_WAY"
	StageCheckpointHITL = "CHECKPOINT_HITL"
	StageHITLDecision   = "HITL_DECISION"
	StageReconcile      = "RECONCILE"
	StageApprove        = "APPROVE"
	StagePosting        = "POSTING"
	StageNotify         = "NOTIFY"
	StageComplete       = "COMPLETE"
)

// Handlers implements the stage handlers on top of an ability router and a
// tool picker.
type Handlers struct {
	router *tool.Router
	picker Picker
	logger *slog.Logger
}

// NewHandlers creates the stage handlers. A nil picker uses FirstPicker.
func NewHandlers(router *tool.Router, picker Picker, logger *slog.Logger) *Handlers {
	if picker == nil {
		picker = FirstPicker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{router: router, picker: picker, logger: logger.With("module", "invoice")}
}

type handlerFunc func(ctx context.Context, s State) (State, error)

func node(fn handlerFunc) graph.Node[State] {
	return graph.NodeFunc[State](func(ctx context.Context, s State) graph.NodeResult[State] {
		delta, err := fn(ctx, s)
		if err != nil {
			return graph.Fail[State](err)
		}
		return graph.NodeResult[State]{Delta: delta}
	})
}

// Stages returns every stage with its declared reads and writes.
func (h *Handlers) Stages() map[string]graph.Stage[State] {
	return map[string]graph.Stage[State]{
		StageIntake: {
			Node:   node(h.intake),
			Reads:  []string{FieldInvoicePayload},
			Writes: []string{FieldRawID, FieldIngestTS, FieldValidated, FieldWorkflowStatus, FieldAuditLog},
		},
		StageUnderstand: {
			Node:   node(h.understand),
			Reads:  []string{FieldInvoicePayload},
			Writes: []string{FieldParsedInvoice, FieldAuditLog},
		},
		StagePrepare: {
			Node:   node(h.prepare),
			Reads:  []string{FieldInvoicePayload},
			Writes: []string{FieldVendorProfile, FieldFlags, FieldAuditLog},
		},
		StageRetrieve: {
			Node:   node(h.retrieve),
			Reads:  []string{FieldParsedInvoice},
			Writes: []string{FieldMatchedPOs, FieldMatchedGRNs, FieldHistory, FieldAuditLog},
		},
		StageMatchTwoWay: {
			Node:   node(h.match),
			Reads:  []string{FieldInvoicePayload, FieldMatchedPOs},
			Writes: []string{FieldMatchScore, FieldMatchResult, FieldTolerancePct, FieldMatchEvidence, FieldAuditLog},
		},
		StageCheckpointHITL: {
			Node:   node(h.checkpoint),
			Reads:  []string{FieldMatchResult},
			Writes: []string{FieldHITLCheckpointID, FieldReviewURL, FieldPausedReason, FieldWorkflowStatus, FieldAuditLog},
		},
		StageHITLDecision: {
			Node:   node(h.decide),
			Reads:  []string{FieldHumanDecision, FieldReviewerID, FieldHITLCheckpointID},
			Writes: []string{FieldWorkflowStatus, FieldAuditLog},
		},
		StageReconcile: {
			Node:   node(h.reconcile),
			Reads:  []string{FieldVendorProfile, FieldMatchedPOs},
			Writes: []string{FieldAccountingEntries, FieldAuditLog},
		},
		StageApprove: {
			Node:   node(h.approve),
			Reads:  []string{FieldAccountingEntries},
			Writes: []string{FieldApprovalStatus, FieldApproverID, FieldAuditLog},
		},
		StagePosting: {
			Node:   node(h.post),
			Reads:  []string{FieldApprovalStatus, FieldAccountingEntries},
			Writes: []string{FieldPosted, FieldERPTxnID, FieldScheduledPaymentID, FieldAuditLog},
		},
		StageNotify: {
			Node:   node(h.notify),
			Reads:  []string{FieldVendorProfile, FieldERPTxnID},
			Writes: []string{FieldNotifyStatus, FieldNotifiedParties, FieldAuditLog},
		},
		StageComplete: {
			Node:   node(h.complete),
			Reads:  []string{FieldRawID, FieldVendorProfile, FieldInvoicePayload, FieldAuditLog},
			Writes: []string{FieldFinalPayload, FieldWorkflowStatus, FieldAuditLog},
		},
	}
}

func (h *Handlers) pick(ctx context.Context, capability string) string {
	choice := h.picker.Pick(ctx, capability, Pools[capability])
	h.logger.Debug("selected tool", "capability", capability, "tool", choice)
	return choice
}

func (h *Handlers) call(ctx context.Context, server, ability string, in map[string]interface{}) (map[string]interface{}, error) {
	return h.router.Execute(ctx, server, ability, in)
}

func audit(format string, args ...interface{}) []string {
	return []string{"Langie: " + fmt.Sprintf(format, args...)}
}

func (h *Handlers) intake(ctx context.Context, s State) (State, error) {
	storage := h.pick(ctx, CapabilityStorage)
	in, err := params(s.InvoicePayload)
	if err != nil {
		return State{}, fmt.Errorf("encode payload: %w", err)
	}
	out, err := h.call(ctx, tool.ServerCommon, AbilityAcceptInvoicePayload, in)
	if err != nil {
		return State{}, err
	}

	var res struct {
		RawID     string `json:"raw_id"`
		IngestTS  string `json:"ingest_ts"`
		Validated bool   `json:"validated"`
	}
	if err := decode(out, "", &res); err != nil {
		return State{}, err
	}
	return State{
		RawID:          ptr(res.RawID),
		IngestTS:       ptr(res.IngestTS),
		Validated:      ptr(res.Validated),
		WorkflowStatus: statusPtr(StatusInProgress),
		AuditLog:       audit("Ingested payload and persisted raw data using %s.", storage),
	}, nil
}

func (h *Handlers) understand(ctx context.Context, s State) (State, error) {
	ocr := h.pick(ctx, CapabilityOCR)
	if _, err := h.call(ctx, tool.ServerAtlas, AbilityOCRExtract, map[string]interface{}{
		"tool":        ocr,
		"attachments": s.InvoicePayload.Attachments,
	}); err != nil {
		return State{}, err
	}
	out, err := h.call(ctx, tool.ServerCommon, AbilityParsing, nil)
	if err != nil {
		return State{}, err
	}

	var parsed ParsedInvoice
	if err := decode(out, "", &parsed); err != nil {
		return State{}, err
	}
	return State{
		ParsedInvoice: &parsed,
		AuditLog:      audit("Extracted text via %s and successfully parsed line items.", ocr),
	}, nil
}

func (h *Handlers) prepare(ctx context.Context, s State) (State, error) {
	enrich := h.pick(ctx, CapabilityEnrichment)
	vendorOut, err := h.call(ctx, tool.ServerCommon, AbilityNormalizeVendor, map[string]interface{}{
		"vendor_name": s.InvoicePayload.VendorName,
		"tax_id":      s.InvoicePayload.VendorTaxID,
	})
	if err != nil {
		return State{}, err
	}
	metaOut, err := h.call(ctx, tool.ServerAtlas, AbilityEnrichVendor, map[string]interface{}{"tool": enrich})
	if err != nil {
		return State{}, err
	}
	flagsOut, err := h.call(ctx, tool.ServerCommon, AbilityComputeFlags, nil)
	if err != nil {
		return State{}, err
	}

	var vendor VendorProfile
	if err := decode(vendorOut, "", &vendor); err != nil {
		return State{}, err
	}
	if err := decode(metaOut, "enrichment_meta", &vendor.EnrichmentMeta); err != nil {
		return State{}, err
	}
	var flags Flags
	if err := decode(flagsOut, "", &flags); err != nil {
		return State{}, err
	}
	return State{
		VendorProfile: &vendor,
		Flags:         &flags,
		AuditLog:      audit("Normalized vendor and enriched profile using %s.", enrich),
	}, nil
}

func (h *Handlers) retrieve(ctx context.Context, s State) (State, error) {
	erp := h.pick(ctx, CapabilityERPConnector)
	in := map[string]interface{}{"tool": erp, "po_numbers": s.ParsedInvoice.DetectedPOs}

	poOut, err := h.call(ctx, tool.ServerAtlas, AbilityFetchPO, in)
	if err != nil {
		return State{}, err
	}
	grnOut, err := h.call(ctx, tool.ServerAtlas, AbilityFetchGRN, in)
	if err != nil {
		return State{}, err
	}
	historyOut, err := h.call(ctx, tool.ServerAtlas, AbilityFetchHistory, in)
	if err != nil {
		return State{}, err
	}

	delta := State{
		MatchedPOs:  []PurchaseOrder{},
		MatchedGRNs: []GoodsReceipt{},
		History:     []map[string]interface{}{},
		AuditLog:    audit("Successfully retrieved PO/GRN documents from %s.", erp),
	}
	if err := decode(poOut, "purchase_orders", &delta.MatchedPOs); err != nil {
		return State{}, err
	}
	if err := decode(grnOut, "goods_receipts", &delta.MatchedGRNs); err != nil {
		return State{}, err
	}
	if err := decode(historyOut, "history", &delta.History); err != nil {
		return State{}, err
	}
	return delta, nil
}

func (h *Handlers) match(ctx context.Context, s State) (State, error) {
	score := DefaultMockScore
	if s.InvoicePayload.MockScore != nil {
		score = *s.InvoicePayload.MockScore
	}
	out, err := h.call(ctx, tool.ServerCommon, AbilityComputeMatchScore, map[string]interface{}{
		"mock_score": score,
		"amount":     s.InvoicePayload.Amount,
		"pos":        s.MatchedPOs,
	})
	if err != nil {
		return State{}, err
	}

	var res struct {
		MatchScore    float64         `json:"match_score"`
		MatchResult   string          `json:"match_result"`
		TolerancePct  float64         `json:"tolerance_pct"`
		MatchEvidence map[string]bool `json:"match_evidence"`
	}
	if err := decode(out, "", &res); err != nil {
		return State{}, err
	}
	if res.MatchResult != MatchMatched && res.MatchResult != MatchFailed {
		return State{}, fmt.Errorf("unexpected match result %q", res.MatchResult)
	}
	return State{
		MatchScore:    ptr(res.MatchScore),
		MatchResult:   ptr(res.MatchResult),
		TolerancePct:  ptr(res.TolerancePct),
		MatchEvidence: res.MatchEvidence,
		AuditLog:      audit("Computed 2-way match score of %v.", res.MatchScore),
	}, nil
}

func (h *Handlers) checkpoint(ctx context.Context, _ State) (State, error) {
	db := h.pick(ctx, CapabilityDB)
	out, err := h.call(ctx, tool.ServerCommon, AbilitySaveStateForHumanReview, map[string]interface{}{"db": db})
	if err != nil {
		return State{}, err
	}

	var res struct {
		CheckpointID string `json:"checkpoint_id"`
		ReviewURL    string `json:"review_url"`
		PausedReason string `json:"paused_reason"`
	}
	if err := decode(out, "", &res); err != nil {
		return State{}, err
	}
	return State{
		HITLCheckpointID: ptr(res.CheckpointID),
		ReviewURL:        ptr(res.ReviewURL),
		PausedReason:     ptr(res.PausedReason),
		WorkflowStatus:   statusPtr(StatusPaused),
		AuditLog:         audit("Triggered HITL checkpoint due to low match score (Stored in %s).", db),
	}, nil
}

func (h *Handlers) decide(ctx context.Context, s State) (State, error) {
	decision, reviewer := *s.HumanDecision, *s.ReviewerID
	if _, err := h.call(ctx, tool.ServerAtlas, AbilityAcceptOrRejectInvoice, map[string]interface{}{
		"decision":      decision,
		"reviewer_id":   reviewer,
		"checkpoint_id": *s.HITLCheckpointID,
	}); err != nil {
		return State{}, err
	}

	if decision == string(graph.Reject) {
		return State{
			WorkflowStatus: statusPtr(StatusManualHandoff),
			AuditLog:       audit("Human REJECTED invoice. Finalizing with MANUAL_HANDOFF status."),
		}, nil
	}
	return State{
		WorkflowStatus: statusPtr(StatusInProgress),
		AuditLog:       audit("Human ACCEPTED invoice (Reviewer: %s). Resuming workflow.", reviewer),
	}, nil
}

func (h *Handlers) reconcile(ctx context.Context, s State) (State, error) {
	out, err := h.call(ctx, tool.ServerCommon, AbilityBuildAccountingEntries, map[string]interface{}{
		"vendor": s.VendorProfile.NormalizedName,
		"pos":    s.MatchedPOs,
	})
	if err != nil {
		return State{}, err
	}

	entries := []AccountingEntry{}
	if err := decode(out, "entries", &entries); err != nil {
		return State{}, err
	}
	return State{
		AccountingEntries: entries,
		AuditLog:          audit("Reconstructed accounting entries and ledger records."),
	}, nil
}

func (h *Handlers) approve(ctx context.Context, s State) (State, error) {
	out, err := h.call(ctx, tool.ServerAtlas, AbilityApplyApprovalPolicy, map[string]interface{}{
		"entries": s.AccountingEntries,
	})
	if err != nil {
		return State{}, err
	}

	var res struct {
		ApprovalStatus string `json:"approval_status"`
		ApproverID     string `json:"approver_id"`
	}
	if err := decode(out, "", &res); err != nil {
		return State{}, err
	}
	return State{
		ApprovalStatus: ptr(res.ApprovalStatus),
		ApproverID:     ptr(res.ApproverID),
		AuditLog:       audit("Applied approval policies and verified thresholds."),
	}, nil
}

func (h *Handlers) post(ctx context.Context, s State) (State, error) {
	erp := h.pick(ctx, CapabilityERPConnector)
	postOut, err := h.call(ctx, tool.ServerAtlas, AbilityPostToERP, map[string]interface{}{
		"tool":    erp,
		"entries": s.AccountingEntries,
	})
	if err != nil {
		return State{}, err
	}
	payOut, err := h.call(ctx, tool.ServerAtlas, AbilitySchedulePayment, nil)
	if err != nil {
		return State{}, err
	}

	var post struct {
		Posted   bool   `json:"posted"`
		ERPTxnID string `json:"erp_txn_id"`
	}
	if err := decode(postOut, "", &post); err != nil {
		return State{}, err
	}
	var pay struct {
		ScheduledPaymentID string `json:"scheduled_payment_id"`
	}
	if err := decode(payOut, "", &pay); err != nil {
		return State{}, err
	}
	return State{
		Posted:             ptr(post.Posted),
		ERPTxnID:           ptr(post.ERPTxnID),
		ScheduledPaymentID: ptr(pay.ScheduledPaymentID),
		AuditLog:           audit("Posted to ERP system (%s) and scheduled payment.", erp),
	}, nil
}

func (h *Handlers) notify(ctx context.Context, s State) (State, error) {
	email := h.pick(ctx, CapabilityEmail)
	if _, err := h.call(ctx, tool.ServerAtlas, AbilityNotifyVendor, map[string]interface{}{
		"tool":   email,
		"vendor": s.VendorProfile.NormalizedName,
	}); err != nil {
		return State{}, err
	}
	if _, err := h.call(ctx, tool.ServerAtlas, AbilityNotifyFinanceTeam, map[string]interface{}{
		"erp_txn_id": *s.ERPTxnID,
	}); err != nil {
		return State{}, err
	}
	return State{
		NotifyStatus:    &NotifyStatus{Success: true},
		NotifiedParties: []string{"vendor", "finance_team"},
		AuditLog:        audit("Notifications dispatched to vendor and finance via %s.", email),
	}, nil
}

func (h *Handlers) complete(ctx context.Context, s State) (State, error) {
	db := h.pick(ctx, CapabilityDB)
	if _, err := h.call(ctx, tool.ServerCommon, AbilityOutputFinalPayload, map[string]interface{}{"db": db}); err != nil {
		return State{}, err
	}

	final := &FinalPayload{
		InvoiceID: *s.RawID,
		Vendor:    s.VendorProfile.NormalizedName,
		Amount:    s.InvoicePayload.Amount,
		Status:    string(StatusComplete),
		Audit:     append([]string(nil), s.AuditLog...),
	}
	return State{
		FinalPayload:   final,
		WorkflowStatus: statusPtr(StatusComplete),
		AuditLog:       audit("Workflow complete. Final structured payload generated."),
	}, nil
}
