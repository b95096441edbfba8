package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dshills/invoicegraph/api"
	"github.com/dshills/invoicegraph/graph"
	"github.com/dshills/invoicegraph/graph/tool"
	"github.com/dshills/invoicegraph/invoice"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
	cli "github.com/urfave/cli/v3"
)

type runtimeAction func(ctx context.Context, cmd *cli.Command, rt *runtime) error

// withRuntime builds the engine before running action and releases it after.
func withRuntime(action runtimeAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		rt, err := newRuntime(ctx, cmd)
		if err != nil {
			return err
		}
		defer rt.Close(context.WithoutCancel(ctx))

		return action(ctx, cmd, rt)
	}
}

func idFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "id",
		Usage:    "Instance id",
		Required: true,
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.DurationFlag{
				Name:  "retention",
				Usage: "Age after which completed instances are pruned",
				Value: defaultRetention,
			},
			&cli.StringFlag{
				Name:  "prune-schedule",
				Usage: "Cron schedule for pruning completed instances, e.g. @hourly (disabled when empty)",
			},
			&cli.BoolFlag{
				Name:  "serve-abilities",
				Usage: "Expose the local ability stubs on /abilities/:name",
			},
		},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			if schedule := cmd.String("prune-schedule"); schedule != "" {
				c, err := schedulePrune(ctx, rt, schedule, cmd.Duration("retention"))
				if err != nil {
					return err
				}
				defer c.Stop()
			}

			opts := api.Options{
				Logger:   rt.logger,
				BaseURL:  cmd.String("base-url"),
				Gatherer: rt.registry,
			}
			if cmd.Bool("serve-abilities") {
				opts.Abilities = rt.router
			}

			rt.logger.InfoContext(ctx, "Starting invoicegraph API", "port", cmd.Int("port"), "store", redactURL(cmd.String("store")))
			return api.New(rt.engine, opts).Start(ctx, int(cmd.Int("port")))
		}),
	}
}

func schedulePrune(ctx context.Context, rt *runtime, schedule string, retention time.Duration) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))
	_, err := c.AddFunc(schedule, func() {
		removed, err := rt.engine.Prune(ctx, retention)
		if err != nil {
			rt.logger.ErrorContext(ctx, "Scheduled prune failed", "error", err)
			return
		}
		rt.logger.InfoContext(ctx, "Scheduled prune finished", "removed", removed)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	c.Start()
	return c, nil
}

func startCommand() *cli.Command {
	return &cli.Command{
		Name:  "start",
		Usage: "Start a workflow instance from an invoice JSON file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "payload",
				Usage:    "Path to the invoice payload JSON",
				Required: true,
			},
		},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			payload, err := readPayload(cmd.String("payload"))
			if err != nil {
				return err
			}
			res, err := rt.engine.Start(ctx, invoice.State{InvoicePayload: &payload})
			if res.InstanceID != "" {
				printResult(res)
			}
			return err
		}),
	}
}

func readPayload(path string) (invoice.Payload, error) {
	var payload invoice.Payload
	data, err := os.ReadFile(path)
	if err != nil {
		return payload, err
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(payload); err != nil {
		return payload, fmt.Errorf("invalid payload: %w", err)
	}
	return payload, nil
}

func pendingCommand() *cli.Command {
	return &cli.Command{
		Name:  "pending",
		Usage: "List instances waiting for review",
		Action: withRuntime(func(ctx context.Context, _ *cli.Command, rt *runtime) error {
			cps, err := rt.engine.Pending(ctx)
			if err != nil {
				return err
			}
			printPending(cps)
			return nil
		}),
	}
}

func decideCommand() *cli.Command {
	return &cli.Command{
		Name:  "decide",
		Usage: "Submit a review decision and resume the instance",
		Flags: []cli.Flag{
			idFlag(),
			&cli.StringFlag{
				Name:     "decision",
				Usage:    "ACCEPT or REJECT",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "reviewer",
				Usage:    "Reviewer id",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "notes",
				Usage: "Reviewer notes",
			},
		},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			res, err := rt.engine.Resume(ctx, cmd.String("id"), graph.Decision{
				Verdict:    graph.Verdict(strings.ToUpper(cmd.String("decision"))),
				ReviewerID: cmd.String("reviewer"),
				Notes:      cmd.String("notes"),
			})
			if res.InstanceID != "" {
				printResult(res)
			}
			return err
		}),
	}
}

func logsCommand() *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show the audit log of one or all instances",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "id",
				Usage: "Instance id (all instances when empty)",
			},
		},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			if id := cmd.String("id"); id != "" {
				cp, err := rt.engine.Get(ctx, id)
				if err != nil {
					return err
				}
				printAudit(cp)
				return nil
			}
			cps, err := rt.engine.Instances(ctx)
			if err != nil {
				return err
			}
			for _, cp := range cps {
				printAudit(cp)
			}
			return nil
		}),
	}
}

func retryCommand() *cli.Command {
	return &cli.Command{
		Name:  "retry",
		Usage: "Continue a failed instance from its last checkpoint",
		Flags: []cli.Flag{idFlag()},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			res, err := rt.engine.Retry(ctx, cmd.String("id"))
			if res.InstanceID != "" {
				printResult(res)
			}
			return err
		}),
	}
}

func evictCommand() *cli.Command {
	return &cli.Command{
		Name:  "evict",
		Usage: "Delete an instance's checkpoint",
		Flags: []cli.Flag{idFlag()},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			if err := rt.engine.Evict(ctx, cmd.String("id")); err != nil {
				return err
			}
			success("Evicted %s", cmd.String("id"))
			return nil
		}),
	}
}

func pruneCommand() *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Delete completed instances older than the retention window",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "older-than",
				Usage: "Retention window",
				Value: defaultRetention,
			},
		},
		Action: withRuntime(func(ctx context.Context, cmd *cli.Command, rt *runtime) error {
			removed, err := rt.engine.Prune(ctx, cmd.Duration("older-than"))
			if err != nil {
				return err
			}
			success("Pruned %d completed instance(s)", removed)
			return nil
		}),
	}
}

func visualizeCommand() *cli.Command {
	return &cli.Command{
		Name:  "visualize",
		Usage: "Print the workflow as a Mermaid flowchart",
		Action: withRuntime(func(_ context.Context, _ *cli.Command, rt *runtime) error {
			fmt.Print(rt.engine.Graph().Mermaid())
			return nil
		}),
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Check that a workflow definition compiles",
		ArgsUsage: "[definition.yaml]",
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.Args().First()
			if path == "" {
				path = cmd.String("definition")
			}
			g, err := compileDefinition(path)
			if err != nil {
				return err
			}
			success("Workflow %s %s is valid", g.Name(), g.Version())
			printStages(g)
			return nil
		},
	}
}

// compileDefinition compiles path, or the built-in workflow when empty,
// against the local ability stubs.
func compileDefinition(path string) (*graph.Graph[invoice.State], error) {
	cfg := invoice.Config{}
	if path != "" {
		def, err := graph.LoadDefinition(path)
		if err != nil {
			return nil, err
		}
		cfg.Definition = &def
	}

	router := tool.NewRouter(nil)
	if err := invoice.RegisterStubs(router, invoice.StubOptions{}); err != nil {
		return nil, err
	}
	cfg.Router = router
	return invoice.Compile(cfg)
}
