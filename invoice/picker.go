package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/dshills/invoicegraph/graph/model"
)

// Tool capabilities and their candidate pools.
const (
	CapabilityStorage      = "storage"
	CapabilityOCR          = "ocr"
	CapabilityEnrichment   = "enrichment"
	CapabilityERPConnector = "erp_connector"
	CapabilityDB           = "db"
	CapabilityEmail        = "email"
)

// Pools lists the tools available per capability, in preference order.
var Pools = map[string][]string{
	CapabilityStorage:      {"s3", "gcs", "local_fs"},
	CapabilityOCR:          {"google_vision", "tesseract", "aws_textract"},
	CapabilityEnrichment:   {"clearbit", "people_data_labs", "vendor_db"},
	CapabilityERPConnector: {"sap_sandbox", "netsuite", "mock_erp"},
	CapabilityDB:           {"postgres", "sqlite", "dynamodb"},
	CapabilityEmail:        {"sendgrid", "smartlead", "ses"},
}

// Picker chooses one tool from a pool for a capability. Pick always
// returns a member of a non-empty pool.
type Picker interface {
	Pick(ctx context.Context, capability string, pool []string) string
}

// FirstPicker always picks the first tool.
type FirstPicker struct{}

// Pick implements Picker.
func (FirstPicker) Pick(_ context.Context, _ string, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	return pool[0]
}

// RandomPicker picks uniformly at random.
type RandomPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPicker returns a picker seeded with seed, so picks are
// reproducible. Seed 0 uses the global generator.
func NewRandomPicker(seed uint64) *RandomPicker {
	if seed == 0 {
		return &RandomPicker{}
	}
	return &RandomPicker{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Pick implements Picker.
func (p *RandomPicker) Pick(_ context.Context, _ string, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	if p.rng == nil {
		return pool[rand.IntN(len(pool))]
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return pool[p.rng.IntN(len(pool))]
}

// ModelPicker asks a chat model to choose. Any error, or an answer that is
// not in the pool, falls back to the first tool.
type ModelPicker struct {
	model  model.ChatModel
	logger *slog.Logger
}

// NewModelPicker creates a picker backed by m.
func NewModelPicker(m model.ChatModel, logger *slog.Logger) *ModelPicker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModelPicker{model: m, logger: logger.With("module", "picker")}
}

const pickerPrompt = "You select tools for an accounts-payable workflow. " +
	"Reply with exactly one tool name from the list and nothing else."

// Pick implements Picker.
func (p *ModelPicker) Pick(ctx context.Context, capability string, pool []string) string {
	if len(pool) == 0 {
		return ""
	}
	out, err := p.model.Chat(ctx, []model.Message{
		{Role: model.RoleSystem, Content: pickerPrompt},
		{Role: model.RoleUser, Content: fmt.Sprintf("Capability: %s\nTools: %s", capability, strings.Join(pool, ", "))},
	})
	if err != nil {
		p.logger.Warn("tool selection failed, using default", "capability", capability, "error", err)
		return pool[0]
	}

	answer := strings.ToLower(strings.Trim(strings.TrimSpace(out.Text), "`'\".,"))
	for _, candidate := range pool {
		if answer == strings.ToLower(candidate) {
			return candidate
		}
	}
	p.logger.Warn("model picked an unknown tool, using default", "capability", capability, "answer", out.Text)
	return pool[0]
}
