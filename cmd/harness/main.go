package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fxnlabs/offload-harness/internal/accel"
	"github.com/fxnlabs/offload-harness/internal/config"
	"github.com/fxnlabs/offload-harness/internal/harness"
	"github.com/urfave/cli/v2"
	"go.uber.org/fx"
)

const stopTimeout = 10 * time.Second

func main() {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp(stdout, stderr io.Writer) *cli.App {
	var cfg *config.Config

	return &cli.App{
		Name:      "harness",
		Usage:     "Program an accelerator with a kernel image and verify it over a sweep of problem sizes",
		ArgsUsage: "<image file>",
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration",
				EnvVars: []string{"HARNESS_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "workload",
				Usage: "Workload to run: mmult, partition or stream",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Usage: "Log level",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "Path of the CSV report",
			},
			&cli.StringFlag{
				Name:  "metrics-address",
				Usage: "Serve prometheus metrics on this address while running",
			},
			&cli.BoolFlag{
				Name:  "no-banner",
				Usage: "Do not print the banner",
			},
		},
		Before: func(c *cli.Context) error {
			var err error
			if path := c.String("config"); path != "" {
				cfg, err = config.LoadConfig(path)
				if err != nil {
					return cli.Exit(fmt.Sprintf("failed to load config: %v", err), 1)
				}
			} else {
				cfg = config.Default()
			}
			if c.IsSet("workload") {
				cfg.Workload = c.String("workload")
			}
			if c.IsSet("verbosity") {
				cfg.Logger.Verbosity = c.String("verbosity")
			}
			if c.IsSet("report") {
				cfg.Report.Path = c.String("report")
			}
			if c.IsSet("metrics-address") {
				cfg.Metrics.ListenAddress = c.String("metrics-address")
			}
			if err := cfg.Validate(); err != nil {
				return cli.Exit(fmt.Sprintf("invalid configuration: %v", err), 1)
			}
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				uerr := &accel.UsageError{Message: fmt.Sprintf("%s [options] <image file>", c.App.Name)}
				return cli.Exit(uerr.Error(), 1)
			}
			if !c.Bool("no-banner") {
				printBanner(c.App.Writer, cfg)
			}
			return run(c.Context, cfg, c.Args().First(), stderr)
		},
	}
}

func run(ctx context.Context, cfg *config.Config, imagePath string, stderr io.Writer) error {
	image, err := accel.LoadImage(imagePath)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	var runner *harness.Runner
	app := fx.New(
		harness.Module(cfg, image, harness.Diagnostics{Writer: stderr}),
		fx.Populate(&runner),
	)
	if err := app.Err(); err != nil {
		if errors.Is(err, accel.ErrNoUsableDevice) {
			return cli.Exit("Failed to program any device found, exit!", 1)
		}
		return cli.Exit(err.Error(), 1)
	}
	if err := app.Start(ctx); err != nil {
		return cli.Exit(err.Error(), 1)
	}

	sum, runErr := runner.Run()

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	stopErr := app.Stop(stopCtx)

	switch {
	case runErr != nil:
		return cli.Exit(runErr.Error(), 1)
	case stopErr != nil:
		return cli.Exit(stopErr.Error(), 1)
	case !sum.OK():
		return cli.Exit(fmt.Sprintf("TEST FAILED: %d of %d iterations failed", sum.Failed, len(sum.Iterations)), 1)
	}
	fmt.Fprintln(stderr, "TEST PASSED")
	return nil
}
