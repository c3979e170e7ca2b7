// Command stackcheck logs into every service of a self-hosted media stack, waits for each
// UI to finish rendering, verifies it and keeps a full-page snapshot as evidence.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kuitang/stackcheck/internal/apicheck"
	"github.com/kuitang/stackcheck/internal/config"
	"github.com/kuitang/stackcheck/internal/harness"
	"github.com/kuitang/stackcheck/internal/obs"
)

func main() {
	app := &cli.App{
		Name:  "stackcheck",
		Usage: "authenticated smoke tests with visual evidence for a home media stack",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "env-file",
				Value: config.DefaultEnvFile,
				Usage: "dotenv file with credentials; variables already set win",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Aliases:   []string{"r"},
				Usage:     "run services and API checks (all when no names are given)",
				ArgsUsage: "[name ...]",
				Action: func(c *cli.Context) error {
					return runCommand(c, c.Args().Slice())
				},
			},
			{
				Name:    "probe",
				Aliases: []string{"p"},
				Usage:   "run only the reachability probe",
				Action: func(c *cli.Context) error {
					return runCommand(c, []string{apicheck.ProbeName})
				},
			},
			{
				Name:    "services",
				Aliases: []string{"ls"},
				Usage:   "list resolved addresses and which services will be skipped",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load(c.String("env-file"))
					if err != nil {
						return err
					}
					reg, err := loadRegistry(cfg)
					if err != nil {
						return err
					}
					writeServices(os.Stdout, reg, cfg.Credentials)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runCommand(c *cli.Context, names []string) error {
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)
	ctx = obs.WithRunID(ctx, obs.NewRunID())
	obs.From(ctx).Info("run_start", "target", cfg.NASHost, "evidence_dir", cfg.ScreenshotsDir)
	cfg.PrintSummary(os.Stderr)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.finish(context.WithoutCancel(ctx))

	results, err := a.runner.RunAll(ctx, names)
	if err != nil {
		return err
	}
	harness.WriteReport(os.Stdout, results)

	if s := harness.Summarize(results); s.Failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d failed", s.Failed, len(results)), 1)
	}
	return nil
}
