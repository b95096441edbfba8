package tool

import (
	"context"
	"sync"
)

// MockTool is a scripted Tool for tests. Each call returns the next entry
// of Responses, repeating the last one once they run out. When Err is set
// every call fails with it. Inputs are recorded.
type MockTool struct {
	Ability   string
	Responses []map[string]interface{}
	Err       error

	mu     sync.Mutex
	inputs []map[string]interface{}
}

// Name implements Tool.
func (m *MockTool) Name() string { return m.Ability }

// Call implements Tool.
func (m *MockTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.inputs)
	m.inputs = append(m.inputs, input)
	if m.Err != nil {
		return nil, m.Err
	}
	switch {
	case len(m.Responses) == 0:
		return map[string]interface{}{}, nil
	case n >= len(m.Responses):
		return m.Responses[len(m.Responses)-1], nil
	default:
		return m.Responses[n], nil
	}
}

// Inputs returns the recorded call inputs in order.
func (m *MockTool) Inputs() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.inputs...)
}
