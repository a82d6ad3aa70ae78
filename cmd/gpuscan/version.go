package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			fmt.Printf("version:    %s\n", version.Version)
			if version.Commit != "" {
				fmt.Printf("commit:     %s\n", version.Commit)
			}
			if version.BuildTime != "" {
				fmt.Printf("build time: %s\n", version.BuildTime)
			}
			return nil
		},
	}
}
