// Package api exposes the invoice workflow over HTTP.
package api

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBaseURL is used for review links when Options.BaseURL is empty.
const DefaultBaseURL = "http://localhost:8000"

// Options configures the API.
type Options struct {
	Logger *slog.Logger

	// BaseURL is the public address of the server, used in review links.
	BaseURL string

	// Gatherer is served on /metrics when set.
	Gatherer prometheus.Gatherer

	// Abilities, when set, is served on /abilities/:name so that other
	// processes can use this server as their remote ability server.
	Abilities *tool.Router
}

// API serves one engine over HTTP.
type API struct {
	logger   *slog.Logger
	engine   *graph.Engine[invoice.State]
	validate *validator.Validate
	opts     Options
}

// New creates an API for engine. Empty options fall back to defaults.
func New(engine *graph.Engine[invoice.State], opts Options) *API {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	return &API{
		logger:   opts.Logger.With("module", "api"),
		engine:   engine,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		opts:     opts,
	}
}

// App builds the fiber app with every route registered.
func (a *API) App() *fiber.App {
	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	if a.opts.Gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(a.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	w := app.Group("/workflow")
	w.Post("/start", a.StartWorkflow)
	w.Get("/logs", a.GetLogs)
	w.Get("/config", a.GetConfig)
	w.Get("/visualize", a.Visualize)
	w.Get("/instances/:id", a.GetInstance)
	w.Delete("/instances/:id", a.DeleteInstance)

	r := app.Group("/human-review")
	r.Get("/pending", a.GetPending)
	r.Post("/decision", a.SubmitDecision)

	if a.opts.Abilities != nil {
		app.Post("/abilities/:name", a.ExecuteAbility)
	}

	return app
}

// Start serves on port until ctx is cancelled.
func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			a.logger.Error("Failed to shut down server", "error", err)
		}
	}()

	err := app.Listen(":" + strconv.Itoa(port))

	return err
}

func (a *API) reviewURL(instanceID string) string {
	return a.opts.BaseURL + "/review/" + instanceID
}
