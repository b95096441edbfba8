// Command invoicegraph runs the invoice-processing workflow as an HTTP
// service or drives single instances from the command line.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	cli "github.com/urfave/cli/v3"
)

const (
	defaultPort      = 8000
	defaultStore     = "sqlite://invoicegraph.db"
	defaultRetention = 30 * 24 * time.Hour
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:                  "invoicegraph",
		Usage:                 "Checkpointed invoice processing with human review",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "store",
				Usage:   "Checkpoint store URL (memory://, file://dir, sqlite://path, mysql://dsn, postgres://..., redis://...)",
				Value:   defaultStore,
				Sources: cli.EnvVars("INVOICEGRAPH_STORE"),
			},
			&cli.StringFlag{
				Name:    "definition",
				Usage:   "Workflow definition YAML (defaults to the built-in workflow)",
				Sources: cli.EnvVars("INVOICEGRAPH_DEFINITION"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write logs as JSON",
			},
			&cli.StringFlag{
				Name:  "picker",
				Usage: "Tool picker (first, random, anthropic, openai, google)",
				Value: "first",
			},
			&cli.UintFlag{
				Name:  "picker-seed",
				Usage: "Seed for the random picker, 0 for a random seed",
			},
			&cli.StringFlag{
				Name:  "picker-model",
				Usage: "Model used by an LLM picker (defaults per provider)",
			},
			&cli.StringFlag{
				Name:    "anthropic-api-key",
				Sources: cli.EnvVars("ANTHROPIC_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "openai-api-key",
				Sources: cli.EnvVars("OPENAI_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "google-api-key",
				Sources: cli.EnvVars("GOOGLE_API_KEY"),
			},
			&cli.StringFlag{
				Name:  "ability-url",
				Usage: "Remote ability server; local stubs are used when empty",
			},
			&cli.StringFlag{
				Name:    "base-url",
				Usage:   "Public base URL used in review links",
				Value:   "http://localhost:8000",
				Sources: cli.EnvVars("INVOICEGRAPH_BASE_URL"),
			},
			&cli.BoolFlag{
				Name:  "otlp",
				Usage: "Export engine events as OTLP traces",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			startCommand(),
			pendingCommand(),
			decideCommand(),
			logsCommand(),
			retryCommand(),
			evictCommand(),
			pruneCommand(),
			visualizeCommand(),
			validateCommand(),
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}
