package invoice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/store"
	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubRouter(t *testing.T) *tool.Router {
	t.Helper()
	r := tool.NewRouter(nil)
	require.NoError(t, RegisterStubs(r, StubOptions{ReviewBaseURL: "https://review.example.com/"}))
	return r
}

func TestRegisterStubs_CoversEveryAbility(t *testing.T) {
	r := stubRouter(t)
	for server, names := range Abilities {
		assert.ElementsMatch(t, names, r.Abilities(server), server)
	}
}

func TestRegisterStubs_KeepsExistingTools(t *testing.T) {
	r := tool.NewRouter(nil)
	custom := &tool.MockTool{Ability: AbilityNotifyVendor, Responses: []map[string]interface{}{{"email_sent": false}}}
	r.MustRegister(tool.ServerAtlas, custom)
	require.NoError(t, RegisterStubs(r, StubOptions{}))

	out, err := r.Execute(context.Background(), tool.ServerAtlas, AbilityNotifyVendor, nil)
	require.NoError(t, err)
	assert.Equal(t, false, out["email_sent"])
	assert.Len(t, custom.Inputs(), 1)
}

func TestComputeMatchScore(t *testing.T) {
	r := stubRouter(t)
	tests := []struct {
		name   string
		params map[string]interface{}
		score  float64
		result string
	}{
		{"default", nil, 0.95, MatchMatched},
		{"at threshold", map[string]interface{}{"mock_score": 0.90}, 0.90, MatchMatched},
		{"below threshold", map[string]interface{}{"mock_score": 0.89}, 0.89, MatchFailed},
		{"integer", map[string]interface{}{"mock_score": 1}, 1, MatchMatched},
		{"json number", map[string]interface{}{"mock_score": json.Number("0.2")}, 0.2, MatchFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Execute(context.Background(), tool.ServerCommon, AbilityComputeMatchScore, tt.params)
			require.NoError(t, err)
			assert.InDelta(t, tt.score, out["match_score"], 1e-9)
			assert.Equal(t, tt.result, out["match_result"])
		})
	}

	_, err := r.Execute(context.Background(), tool.ServerCommon, AbilityComputeMatchScore, map[string]interface{}{"mock_score": "high"})
	assert.ErrorContains(t, err, "mock_score")
}

func TestSaveStateForHumanReview(t *testing.T) {
	r := stubRouter(t)
	out, err := r.Execute(context.Background(), tool.ServerCommon, AbilitySaveStateForHumanReview, nil)
	require.NoError(t, err)

	id, _ := out["checkpoint_id"].(string)
	assert.True(t, strings.HasPrefix(id, "CHK-"))
	assert.Equal(t, "https://review.example.com/review/"+id, out["review_url"])
}

func TestDecode(t *testing.T) {
	var po []PurchaseOrder
	out := map[string]interface{}{"purchase_orders": []map[string]interface{}{{"po_id": "PO-1", "expected_amount": 10}}}
	require.NoError(t, decode(out, "purchase_orders", &po))
	assert.Equal(t, []PurchaseOrder{{POID: "PO-1", ExpectedAmount: 10}}, po)

	assert.ErrorContains(t, decode(out, "goods_receipts", &po), `no "goods_receipts"`)
}

// abilityServer serves the stub abilities over HTTP the way a remote
// ability server would.
func abilityServer(t *testing.T) (*httptest.Server, func() []string) {
	t.Helper()
	local := stubRouter(t)
	server := map[string]string{}
	for s, names := range Abilities {
		for _, n := range names {
			server[n] = s
		}
	}

	var mu sync.Mutex
	var called []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		name := strings.TrimPrefix(req.URL.Path, "/abilities/")
		mu.Lock()
		called = append(called, name)
		mu.Unlock()

		var body struct {
			Params map[string]interface{} `json:"params"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out, err := local.Execute(req.Context(), server[name], name, body.Params)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), called...)
	}
}

func TestRegisterRemote_RunsWorkflow(t *testing.T) {
	srv, called := abilityServer(t)

	r := tool.NewRouter(nil)
	require.NoError(t, RegisterRemote(r, srv.URL, tool.WithHTTPClient(srv.Client())))

	e, err := NewEngine(store.NewMemStore[State](), Config{Router: r})
	require.NoError(t, err)

	score := 0.3
	res, err := e.Start(context.Background(), testPayload(&score))
	require.NoError(t, err)
	require.Equal(t, graph.StatusPaused, res.Status)

	res, err = e.Resume(context.Background(), res.InstanceID, graph.Decision{Verdict: graph.Reject, ReviewerID: "rev-9"})
	require.NoError(t, err)
	assert.Equal(t, StatusManualHandoff, res.State.Status())

	calls := called()
	assert.Contains(t, calls, AbilityComputeMatchScore)
	assert.Contains(t, calls, AbilityAcceptOrRejectInvoice)
	assert.NotContains(t, calls, AbilityPostToERP)
}
