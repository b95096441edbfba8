package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/store"
	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	app    *fiber.App
	engine *graph.Engine[invoice.State]
}

func setupTestApp(t *testing.T) *testServer {
	t.Helper()

	router := tool.NewRouter(slog.Default())
	require.NoError(t, invoice.RegisterStubs(router, invoice.StubOptions{}))

	var n atomic.Int64
	reg := prometheus.NewRegistry()
	engine, err := invoice.NewEngine(store.NewMemStore[invoice.State](), invoice.Config{Router: router},
		graph.WithMetrics(graph.NewPrometheusMetrics(reg)),
		graph.WithIDGenerator(func() (string, error) {
			return fmt.Sprintf("inv-%02d", n.Add(1)), nil
		}),
	)
	require.NoError(t, err)

	a := New(engine, Options{
		BaseURL:   "http://review.test/",
		Gatherer:  reg,
		Abilities: router,
	})
	return &testServer{app: a.App(), engine: engine}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	defer func() {
		err := resp.Body.Close()
		if err != nil {
			t.Logf("Failed to close response body: %v", err)
		}
	}()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func payload(score float64) map[string]interface{} {
	return map[string]interface{}{
		"invoice_id":    "INV-2001",
		"vendor_name":   "Tech Corp LLC",
		"vendor_tax_id": "TX-789",
		"invoice_date":  "2023-10-26",
		"due_date":      "2023-11-26",
		"amount":        1200,
		"currency":      "USD",
		"line_items": []map[string]interface{}{
			{"desc": "Laptop", "qty": 1, "unit_price": 1200, "total": 1200},
		},
		"attachments": []string{"invoice.pdf"},
		"mock_score":  score,
	}
}

func decodeJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v), string(data))
}

func TestAPI_HealthCheck(t *testing.T) {
	s := setupTestApp(t)

	resp, body := s.do(t, http.MethodGet, "/livez", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, _ = s.do(t, http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAPI_StartCompletes(t *testing.T) {
	s := setupTestApp(t)

	resp, body := s.do(t, http.MethodPost, "/workflow/start", payload(0.95))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var out StartResponse
	decodeJSON(t, body, &out)
	assert.Equal(t, "inv-01", out.CheckpointID)
	assert.Equal(t, "COMPLETE", out.Status)
	assert.Empty(t, out.ReviewURL)
	require.NotNil(t, out.FinalPayload)
	assert.Equal(t, "Tech Corp", out.FinalPayload.Vendor)
	assert.Len(t, out.FinalPayload.Audit, 10)
}

func TestAPI_StartValidation(t *testing.T) {
	s := setupTestApp(t)

	missing := payload(0.95)
	delete(missing, "invoice_id")
	badCurrency := payload(0.95)
	badCurrency["currency"] = "DOLLARS"
	badScore := payload(0.95)
	badScore["mock_score"] = 1.5

	tests := []struct {
		name string
		body interface{}
	}{
		{"missing invoice id", missing},
		{"bad currency", badCurrency},
		{"score out of range", badScore},
		{"not an object", []int{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/workflow/start", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Contains(t, string(body), "validation_error")
		})
	}

	resp, body := s.do(t, http.MethodGet, "/workflow/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"logs":[]}`, string(body))
}

func TestAPI_ReviewFlow(t *testing.T) {
	s := setupTestApp(t)

	resp, body := s.do(t, http.MethodPost, "/workflow/start", payload(0.4))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var started StartResponse
	decodeJSON(t, body, &started)
	assert.Equal(t, "PAUSED", started.Status)
	assert.Equal(t, invoice.StageHITLDecision, started.PausedAt)
	assert.Equal(t, "http://review.test/review/inv-01", started.ReviewURL)
	assert.Nil(t, started.FinalPayload)

	resp, body = s.do(t, http.MethodGet, "/human-review/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var pending struct {
		Items []PendingItem `json:"items"`
	}
	decodeJSON(t, body, &pending)
	require.Len(t, pending.Items, 1)
	item := pending.Items[0]
	assert.Equal(t, "inv-01", item.CheckpointID)
	assert.Equal(t, "INV-2001", item.InvoiceID)
	assert.Equal(t, "Tech Corp", item.VendorName)
	assert.InDelta(t, 1200, item.Amount, 1e-9)
	assert.Equal(t, "Match score below threshold", item.ReasonForHold)
	assert.Equal(t, started.ReviewURL, item.ReviewURL)
	assert.NotEmpty(t, item.CreatedAt)

	decision := DecisionRequest{CheckpointID: "inv-01", Decision: "ACCEPT", ReviewerID: "rev-7"}
	resp, body = s.do(t, http.MethodPost, "/human-review/decision", decision)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var decided DecisionResponse
	decodeJSON(t, body, &decided)
	assert.Equal(t, DecisionResponse{ResumeToken: "token-inv-01", NextStage: "RECONCILE", Status: "COMPLETE"}, decided)

	resp, body = s.do(t, http.MethodPost, "/human-review/decision", decision)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "invalid_state")

	resp, body = s.do(t, http.MethodGet, "/human-review/pending", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"items":[]}`, string(body))
}

func TestAPI_RejectDecision(t *testing.T) {
	s := setupTestApp(t)
	resp, _ := s.do(t, http.MethodPost, "/workflow/start", payload(0.1))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodPost, "/human-review/decision",
		DecisionRequest{CheckpointID: "inv-01", Decision: "REJECT", ReviewerID: "rev-7", Notes: "duplicate"})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var decided DecisionResponse
	decodeJSON(t, body, &decided)
	assert.Equal(t, "END", decided.NextStage)
	assert.Equal(t, "MANUAL_HANDOFF", decided.Status)

	resp, body = s.do(t, http.MethodGet, "/workflow/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var logs struct {
		Logs []LogEntry `json:"logs"`
	}
	decodeJSON(t, body, &logs)
	require.Len(t, logs.Logs, 1)
	assert.Equal(t, "MANUAL_HANDOFF", logs.Logs[0].Status)
	assert.Equal(t, "Langie: Human REJECTED invoice. Finalizing with MANUAL_HANDOFF status.",
		logs.Logs[0].Audit[len(logs.Logs[0].Audit)-1])
}

func TestAPI_DecisionErrors(t *testing.T) {
	s := setupTestApp(t)

	tests := []struct {
		name   string
		body   interface{}
		status int
		kind   string
	}{
		{"unknown verdict", DecisionRequest{CheckpointID: "inv-01", Decision: "MAYBE", ReviewerID: "r"}, http.StatusBadRequest, "validation_error"},
		{"missing reviewer", DecisionRequest{CheckpointID: "inv-01", Decision: "ACCEPT"}, http.StatusBadRequest, "validation_error"},
		{"unknown instance", DecisionRequest{CheckpointID: "nope", Decision: "ACCEPT", ReviewerID: "r"}, http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := s.do(t, http.MethodPost, "/human-review/decision", tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Contains(t, string(body), tt.kind)
		})
	}
}

func TestAPI_Instances(t *testing.T) {
	s := setupTestApp(t)
	resp, _ := s.do(t, http.MethodPost, "/workflow/start", payload(0.99))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/workflow/instances/inv-01", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inst InstanceResponse
	decodeJSON(t, body, &inst)
	assert.True(t, inst.Completed)
	assert.Equal(t, 10, inst.Step)
	assert.Equal(t, invoice.StageComplete, inst.Node)
	assert.Equal(t, graph.End, inst.Next)
	assert.Equal(t, "COMPLETE", inst.Status)

	resp, _ = s.do(t, http.MethodDelete, "/workflow/instances/inv-01", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = s.do(t, http.MethodGet, "/workflow/instances/inv-01", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "not_found")

	resp, _ = s.do(t, http.MethodDelete, "/workflow/instances/inv-01", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_ConfigAndVisualize(t *testing.T) {
	s := setupTestApp(t)

	resp, body := s.do(t, http.MethodGet, "/workflow/config", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cfg struct {
		Name            string   `json:"name"`
		Stages          []string `json:"stages"`
		InterruptBefore []string `json:"interrupt_before"`
	}
	decodeJSON(t, body, &cfg)
	assert.Equal(t, "invoice_processing", cfg.Name)
	assert.Len(t, cfg.Stages, 12)
	assert.Equal(t, invoice.StageIntake, cfg.Stages[0])
	assert.Equal(t, []string{invoice.StageHITLDecision}, cfg.InterruptBefore)

	resp, body = s.do(t, http.MethodGet, "/workflow/visualize", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), `<img src="https://mermaid.ink/img/`)
	assert.Contains(t, string(body), "MATCH_TWO_WAY")
}

func TestAPI_Metrics(t *testing.T) {
	s := setupTestApp(t)
	resp, _ := s.do(t, http.MethodPost, "/workflow/start", payload(0.95))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := s.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "invoicegraph_steps_total")
	assert.Contains(t, string(body), `node="INTAKE"`)
}

func TestAPI_ServesAbilities(t *testing.T) {
	s := setupTestApp(t)

	resp, body := s.do(t, http.MethodPost, "/abilities/"+invoice.AbilityComputeMatchScore,
		AbilityRequest{Params: map[string]interface{}{"mock_score": 0.5}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var out map[string]interface{}
	decodeJSON(t, body, &out)
	assert.Equal(t, invoice.MatchFailed, out["match_result"])

	resp, _ = s.do(t, http.MethodPost, "/abilities/teleport", AbilityRequest{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
