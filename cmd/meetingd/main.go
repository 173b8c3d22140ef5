package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"meeting-insights-go/internal/aggregator"
	"meeting-insights-go/internal/api"
	"meeting-insights-go/internal/config"
	"meeting-insights-go/internal/logger"
	"meeting-insights-go/internal/manifest"
	"meeting-insights-go/internal/store"
	"meeting-insights-go/internal/workflow"
)

func main() {
	_ = godotenv.Load() // loads .env

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	var (
		cfg config.Config
		log *logger.Logger
	)

	return &cli.Command{
		Name:  "meetingd",
		Usage: "Transcribe meeting recordings and extract summaries, action items and decisions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			var err error
			if cfg, err = config.FromEnv(); err != nil {
				return ctx, err
			}
			cfg.LogLevel = cmd.String("log-level")
			log = logger.New(logger.Options{Environment: cfg.Environment, Level: cfg.LogLevel})
			log.WithField("service", serviceName).WithField("env", cfg.Environment).Debug("configuration loaded")
			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Resume unfinished meetings and serve the HTTP API",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Usage:   "Port to run the API server on",
						Value:   config.Default().Port,
						Sources: cli.EnvVars("PORT"),
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, err := newService(ctx, cfg, log)
					if err != nil {
						return err
					}
					defer svc.close(context.WithoutCancel(ctx))

					n, err := svc.engine.Resume(ctx)
					if err != nil {
						return err
					}
					log.WithField("resumed", n).Info("unfinished meetings resumed")

					return api.New(svc.engine, log).Listen(ctx, cmd.Int("port"))
				},
			},
			{
				Name:      "run",
				Usage:     "Process one recording to completion and print the result",
				ArgsUsage: "[blob name]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					svc, err := newService(ctx, cfg, log)
					if err != nil {
						return err
					}
					defer svc.close(context.WithoutCancel(ctx))

					inst, err := svc.engine.Execute(ctx, cmd.Args().First())
					if inst != nil {
						if perr := printJSON(inst); perr != nil {
							return perr
						}
					}
					if err != nil {
						return err
					}
					if inst.State != workflow.StateSucceeded {
						return fmt.Errorf("meeting %s %s at %s: %s", inst.ID, inst.State, inst.Failure.Stage, inst.Failure.Reason)
					}
					return nil
				},
			},
			{
				Name:  "batch",
				Usage: "Process every recording listed in a spreadsheet",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "manifest",
						Aliases:  []string{"m"},
						Usage:    "Path to an .xlsx manifest with a blob name column",
						Required: true,
					},
				},
				Action: func(ctx context.Context, cmd *cli.Command) error {
					entries, err := manifest.Load(cmd.String("manifest"))
					if err != nil {
						return err
					}
					svc, err := newService(ctx, cfg, log)
					if err != nil {
						return err
					}
					defer svc.close(context.WithoutCancel(ctx))

					return runBatch(ctx, svc.engine, entries, cfg.Concurrency, log)
				},
			},
			{
				Name:      "status",
				Usage:     "Print the last checkpoint of a meeting",
				ArgsUsage: "<meeting id>",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					id := cmd.Args().First()
					if id == "" {
						return fmt.Errorf("meeting id is required")
					}
					st, err := store.Open(ctx, cfg.StoreURL, log)
					if err != nil {
						return err
					}
					defer st.Close()

					inst, err := workflow.New(st, workflow.Activities{}, workflow.Options{}, log).Status(ctx, id)
					if err != nil {
						return err
					}
					return printJSON(inst)
				},
			},
		},
	}
}

// runBatch executes one instance per manifest entry, at most limit at a time. Failed
// meetings are logged and counted; only engine errors abort the batch.
func runBatch(ctx context.Context, eng *workflow.Engine, entries []manifest.Entry, limit int, log *logger.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	done := make([]*workflow.Instance, len(entries))
	for i, e := range entries {
		g.Go(func() error {
			entryLog := log.WithField("row", e.Row).WithField("blob", e.BlobName)
			inst, err := eng.Execute(ctx, e.BlobName)
			if err != nil {
				entryLog.WithError(err).Error("meeting aborted")
				return err
			}
			done[i] = inst
			entryLog.WithField("meeting_id", inst.ID).WithField("state", inst.State).Info("meeting finished")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	sum := aggregator.Aggregate(done)
	log.WithField("succeeded", sum.ByState[workflow.StateSucceeded]).
		WithField("failed", sum.ByState[workflow.StateFailed]).
		WithField("cancelled", sum.ByState[workflow.StateCancelled]).
		WithField("action_items", sum.ActionItems).
		WithField("decisions", sum.Decisions).
		Info("batch complete")
	if !sum.Succeeded() {
		return fmt.Errorf("%d of %d meetings did not succeed", sum.Total-sum.ByState[workflow.StateSucceeded], sum.Total)
	}
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
