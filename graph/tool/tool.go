// Package tool dispatches named abilities to local or remote implementations.
package tool

import "context"

// Tool is one ability exposed by an ability server.
//
// Implementations should respect context cancellation and return their
// output as a JSON-compatible map.
type Tool interface {
	// Name is the ability name, e.g. "compute_match_score".
	Name() string

	// Call runs the ability. input may be nil for parameterless abilities.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// FuncTool adapts a function to the Tool interface.
//
// Example:
//
//	t := tool.FuncTool{
//	    Ability: "fetch_po",
//	    Fn: func(ctx context.Context, in map[string]interface{}) (map[string]interface{}, error) {
//	        return map[string]interface{}{"po_number": "PO-999"}, nil
//	    },
//	}
type FuncTool struct {
	Ability string
	Fn      func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}

// Name implements Tool.
func (f FuncTool) Name() string { return f.Ability }

// Call implements Tool.
func (f FuncTool) Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Fn(ctx, input)
}
