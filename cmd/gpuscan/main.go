package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/config"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/version"
)

// settings is the merged file and flag configuration, set before any
// subcommand runs.
var settings = config.Default()

func main() {
	app := &cli.Command{
		Name:    "gpuscan",
		Usage:   "Work-efficient parallel prefix scan and convolution on the GPU",
		Version: version.String(),
		Flags:   globalFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return ctx, err
			}
			if err := registerPods(cfg); err != nil {
				return ctx, err
			}
			settings = cfg
			return logger.WithContext(ctx, cfg.Logger()), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			scanCmd(),
			reduceCmd(),
			convolveCmd(),
			scheduleCmd(),
			detectCmd(),
			serveCmd(),
			podsCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
