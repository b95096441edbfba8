package invoice

import (
	_ "embed"
	"log/slog"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/store"
	"github.com/dshills/invoicegraph/graph/tool"
)

//go:embed workflow.yaml
var defaultDefinition []byte

// DefaultDefinition returns the built-in twelve-stage workflow.
func DefaultDefinition() (graph.Definition, error) {
	return graph.ParseDefinition(defaultDefinition)
}

// Config assembles the invoice workflow.
type Config struct {
	// Definition defaults to DefaultDefinition.
	Definition *graph.Definition

	// Router must have every ability registered, see RegisterStubs and
	// RegisterRemote.
	Router *tool.Router

	// Picker defaults to FirstPicker.
	Picker Picker

	Logger *slog.Logger
}

// Compile builds the invoice graph from cfg.
func Compile(cfg Config) (*graph.Graph[State], error) {
	def := cfg.Definition
	if def == nil {
		d, err := DefaultDefinition()
		if err != nil {
			return nil, err
		}
		def = &d
	}
	if cfg.Router == nil {
		return nil, &graph.ConfigError{Message: "ability router is required"}
	}

	h := NewHandlers(cfg.Router, cfg.Picker, cfg.Logger)
	return graph.Compile(*def, h.Stages(), Rules(),
		graph.WithSeedFields(SeedFields...),
		graph.WithDecisionFields(DecisionFields...),
	)
}

// NewEngine compiles the workflow and returns an engine persisting to st.
func NewEngine(st store.Store[State], cfg Config, opts ...graph.Option) (*graph.Engine[State], error) {
	g, err := Compile(cfg)
	if err != nil {
		return nil, err
	}
	return graph.New(g, st, Schema, opts...)
}
