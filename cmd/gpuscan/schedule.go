package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/scan"
)

func scheduleCmd() *cli.Command {
	var size, workgroup int64

	return &cli.Command{
		Name:  "schedule",
		Usage: "Print the dispatch schedule for a scan of N values",
		Flags: []cli.Flag{
			&cli.Int64Flag{
				Name:        "size",
				Aliases:     []string{"n"},
				Usage:       "logical element count, rounded up to a power of two",
				Value:       1024,
				Destination: &size,
			},
			&cli.Int64Flag{
				Name:        "workgroup",
				Aliases:     []string{"w"},
				Usage:       "work-group size",
				Value:       scan.DefaultWorkgroup,
				Destination: &workgroup,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if size <= 0 || size > buffer.MaxSize {
				return fmt.Errorf("%w: size %d not in [1, %d]", buffer.ErrInvalidSize, size, buffer.MaxSize)
			}
			s, err := scan.Plan(buffer.RoundUpPow2(int(size)), int(workgroup))
			if err != nil {
				return err
			}
			fmt.Print(s)
			return nil
		},
	}
}
