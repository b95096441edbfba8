package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/emit"
	"github.com/dshills/invoicegraph/graph/model"
	"github.com/dshills/invoicegraph/graph/model/anthropic"
	"github.com/dshills/invoicegraph/graph/model/google"
	"github.com/dshills/invoicegraph/graph/model/openai"
	"github.com/dshills/invoicegraph/graph/store"
	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/dshills/invoicegraph/internal/logging"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	cli "github.com/urfave/cli/v3"
)

// runtime holds everything a command needs to drive the engine.
type runtime struct {
	logger   *slog.Logger
	engine   *graph.Engine[invoice.State]
	router   *tool.Router
	registry *prometheus.Registry
	closers  []func(context.Context) error
}

func (r *runtime) Close(ctx context.Context) {
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](ctx); err != nil {
			r.logger.ErrorContext(ctx, "Failed to release resource", "error", err)
		}
	}
}

func newLogger(cmd *cli.Command) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Level: cmd.String("log-level"),
		JSON:  cmd.Bool("log-json"),
	})
}

func newRuntime(ctx context.Context, cmd *cli.Command) (*runtime, error) {
	logger, err := newLogger(cmd)
	if err != nil {
		return nil, err
	}
	rt := &runtime{logger: logger, registry: prometheus.NewRegistry()}

	st, err := store.Open[invoice.State](ctx, cmd.String("store"))
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, func(context.Context) error { return st.Close() })

	router, err := newRouter(cmd, logger)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.router = router

	picker, err := newPicker(ctx, cmd, logger, rt)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}

	cfg := invoice.Config{Router: router, Picker: picker, Logger: logger}
	if path := cmd.String("definition"); path != "" {
		def, err := graph.LoadDefinition(path)
		if err != nil {
			rt.Close(ctx)
			return nil, err
		}
		cfg.Definition = &def
	}

	var emitter emit.Emitter = emit.NewLogEmitter(logger.With("module", "engine"))
	if cmd.Bool("otlp") {
		tracer, shutdown, err := newTracer(ctx, "invoicegraph")
		if err != nil {
			rt.Close(ctx)
			return nil, fmt.Errorf("set up tracing: %w", err)
		}
		rt.closers = append(rt.closers, shutdown)
		emitter = emit.NewMultiEmitter(emitter, emit.NewOTelEmitter(tracer))
	}

	rt.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	engine, err := invoice.NewEngine(st, cfg,
		graph.WithLogger(logger.With("module", "engine")),
		graph.WithEmitter(emitter),
		graph.WithMetrics(graph.NewPrometheusMetrics(rt.registry)),
	)
	if err != nil {
		rt.Close(ctx)
		return nil, err
	}
	rt.engine = engine

	return rt, nil
}

// newRouter routes abilities to a remote ability server when one is
// configured, and to the local stubs otherwise.
func newRouter(cmd *cli.Command, logger *slog.Logger) (*tool.Router, error) {
	router := tool.NewRouter(logger.With("module", "abilities"))
	if url := cmd.String("ability-url"); url != "" {
		if err := invoice.RegisterRemote(router, url); err != nil {
			return nil, err
		}
		return router, nil
	}
	if err := invoice.RegisterStubs(router, invoice.StubOptions{ReviewBaseURL: cmd.String("base-url")}); err != nil {
		return nil, err
	}
	return router, nil
}

func newPicker(ctx context.Context, cmd *cli.Command, logger *slog.Logger, rt *runtime) (invoice.Picker, error) {
	modelName := cmd.String("picker-model")

	var m model.ChatModel
	switch kind := cmd.String("picker"); kind {
	case "", "first":
		return invoice.FirstPicker{}, nil
	case "random":
		return invoice.NewRandomPicker(uint64(cmd.Uint("picker-seed"))), nil
	case "anthropic":
		key := cmd.String("anthropic-api-key")
		if key == "" {
			return nil, errors.New("picker anthropic requires ANTHROPIC_API_KEY")
		}
		m = anthropic.NewChatModel(key, modelName)
	case "openai":
		key := cmd.String("openai-api-key")
		if key == "" {
			return nil, errors.New("picker openai requires OPENAI_API_KEY")
		}
		m = openai.NewChatModel(key, modelName)
	case "google":
		gm, err := google.NewChatModel(ctx, cmd.String("google-api-key"), modelName)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func(context.Context) error { return gm.Close() })
		m = gm
	default:
		return nil, fmt.Errorf("unknown picker %q (first, random, anthropic, openai, google)", kind)
	}
	return invoice.NewModelPicker(m, logger), nil
}
