package invoice

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/google/uuid"
)

// Ability names, grouped by the server that hosts them.
const (
	AbilityAcceptInvoicePayload    = "accept_invoice_payload"
	AbilityParsing                 = "parsing"
	AbilityNormalizeVendor         = "normalize_vendor"
	AbilityComputeFlags            = "compute_flags"
	AbilityComputeMatchScore       = "compute_match_score"
	AbilitySaveStateForHumanReview = "save_state_for_human_review"
	AbilityBuildAccountingEntries  = "build_accounting_entries"
	AbilityOutputFinalPayload      = "output_final_payload"
	AbilityOCRExtract              = "ocr_extract"
	AbilityEnrichVendor            = "enrich_vendor"
	AbilityFetchPO                 = "fetch_po"
	AbilityFetchGRN                = "fetch_grn"
	AbilityFetchHistory            = "fetch_history"
	AbilityAcceptOrRejectInvoice   = "accept_or_reject_invoice"
	AbilityApplyApprovalPolicy     = "apply_invoice_approval_policy"
	AbilityPostToERP               = "post_to_erp"
	AbilitySchedulePayment         = "schedule_payment"
	AbilityNotifyVendor            = "notify_vendor"
	AbilityNotifyFinanceTeam       = "notify_finance_team"
)

// Abilities lists the abilities each server exposes.
var Abilities = map[string][]string{
	tool.ServerCommon: {
		AbilityAcceptInvoicePayload, AbilityParsing, AbilityNormalizeVendor,
		AbilityComputeFlags, AbilityComputeMatchScore, AbilitySaveStateForHumanReview,
		AbilityBuildAccountingEntries, AbilityOutputFinalPayload,
	},
	tool.ServerAtlas: {
		AbilityOCRExtract, AbilityEnrichVendor, AbilityFetchPO, AbilityFetchGRN,
		AbilityFetchHistory, AbilityAcceptOrRejectInvoice, AbilityApplyApprovalPolicy,
		AbilityPostToERP, AbilitySchedulePayment, AbilityNotifyVendor, AbilityNotifyFinanceTeam,
	},
}

// MatchThreshold is the lowest score that counts as a two-way match.
const MatchThreshold = 0.90

// DefaultMockScore is the match score used when the payload sets none.
const DefaultMockScore = 0.95

type ability func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

func static(out map[string]interface{}) ability {
	return func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
		return out, nil
	}
}

// StubOptions configures the local ability stubs.
type StubOptions struct {
	// ReviewBaseURL prefixes review links. Defaults to http://localhost:8000.
	ReviewBaseURL string
}

// RegisterStubs registers deterministic local implementations of every
// ability not already registered on r.
func RegisterStubs(r *tool.Router, opts StubOptions) error {
	base := strings.TrimRight(opts.ReviewBaseURL, "/")
	if base == "" {
		base = "http://localhost:8000"
	}

	common := map[string]ability{
		AbilityAcceptInvoicePayload: static(map[string]interface{}{
			"raw_id": "INV-12345", "ingest_ts": "2023-10-27T10:00:00Z", "validated": true,
		}),
		AbilityParsing: static(map[string]interface{}{
			"invoice_text": "Extracted text...",
			"parsed_line_items": []map[string]interface{}{
				{"desc": "Laptop", "qty": 1, "unit_price": 1200, "total": 1200},
			},
			"detected_pos": []string{"PO-999"},
			"currency":     "USD",
			"parsed_dates": map[string]interface{}{"invoice_date": "2023-10-26", "due_date": "2023-11-26"},
		}),
		AbilityNormalizeVendor: static(map[string]interface{}{"normalized_name": "Tech Corp", "tax_id": "TX-789"}),
		AbilityComputeFlags:    static(map[string]interface{}{"missing_info": []string{}, "risk_score": 0.1}),
		AbilityComputeMatchScore: func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			score := DefaultMockScore
			if v, ok := params["mock_score"]; ok && v != nil {
				f, err := toFloat(v)
				if err != nil {
					return nil, fmt.Errorf("mock_score: %w", err)
				}
				score = f
			}
			result := MatchFailed
			if score >= MatchThreshold {
				result = MatchMatched
			}
			return map[string]interface{}{
				"match_score":    score,
				"match_result":   result,
				"tolerance_pct":  2.0,
				"match_evidence": map[string]bool{"po_matched": true, "amount_matched": true},
			}, nil
		},
		AbilitySaveStateForHumanReview: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			id := "CHK-" + uuid.NewString()
			return map[string]interface{}{
				"checkpoint_id": id,
				"review_url":    base + "/review/" + id,
				"paused_reason": "Match score below threshold",
			}, nil
		},
		AbilityBuildAccountingEntries: static(map[string]interface{}{
			"entries": []map[string]interface{}{
				{"account": "Accounts Payable", "type": "CREDIT", "amount": 1200},
				{"account": "Inventory", "type": "DEBIT", "amount": 1200},
			},
		}),
		AbilityOutputFinalPayload: static(map[string]interface{}{"status": "SUCCESS", "message": "Workflow completed"}),
	}

	atlas := map[string]ability{
		AbilityOCRExtract:   static(map[string]interface{}{"ocr_status": "Success", "page_count": 1}),
		AbilityEnrichVendor: static(map[string]interface{}{"enrichment_meta": map[string]interface{}{"credit_score": "AAA", "industry": "Technology"}}),
		AbilityFetchPO: static(map[string]interface{}{
			"purchase_orders": []map[string]interface{}{{"po_id": "PO-999", "expected_amount": 1200}},
		}),
		AbilityFetchGRN: static(map[string]interface{}{
			"goods_receipts": []map[string]interface{}{{"grn_id": "GRN-777", "po_id": "PO-999"}},
		}),
		AbilityFetchHistory: static(map[string]interface{}{"history": []map[string]interface{}{}}),
		AbilityAcceptOrRejectInvoice: func(_ context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			decision, _ := params["decision"].(string)
			if decision == "" {
				decision = "ACCEPT"
			}
			return map[string]interface{}{"human_decision": decision, "reviewer_id": params["reviewer_id"]}, nil
		},
		AbilityApplyApprovalPolicy: static(map[string]interface{}{"approval_status": "AUTO_APPROVED", "approver_id": "SYSTEM"}),
		AbilityPostToERP: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"posted": true, "erp_txn_id": "ERP-" + uuid.NewString()}, nil
		},
		AbilitySchedulePayment: func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"scheduled_payment_id": "PAY-" + uuid.NewString()}, nil
		},
		AbilityNotifyVendor:      static(map[string]interface{}{"email_sent": true}),
		AbilityNotifyFinanceTeam: static(map[string]interface{}{"slack_notified": true}),
	}

	for server, set := range map[string]map[string]ability{tool.ServerCommon: common, tool.ServerAtlas: atlas} {
		for name, fn := range set {
			if r.Has(server, name) {
				continue
			}
			if err := r.Register(server, tool.FuncTool{Ability: name, Fn: fn}); err != nil {
				return err
			}
		}
	}
	return nil
}

// RegisterRemote routes every ability to a remote ability server at baseURL.
func RegisterRemote(r *tool.Router, baseURL string, opts ...tool.HTTPOption) error {
	for server, names := range Abilities {
		for _, name := range names {
			if err := r.Register(server, tool.NewHTTPTool(baseURL, name, opts...)); err != nil {
				return err
			}
		}
	}
	return nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// decode converts an ability output into a typed value.
func decode(out map[string]interface{}, key string, v interface{}) error {
	var src interface{} = out
	if key != "" {
		var ok bool
		if src, ok = out[key]; !ok {
			return fmt.Errorf("ability output has no %q", key)
		}
	}
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// params converts a typed value into ability parameters.
func params(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
