package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/pods"
	"github.com/openfluke/gpuscan/substrate"
)

func reduceCmd() *cli.Command {
	var input, kind string

	return &cli.Command{
		Name:  "reduce",
		Usage: "Combine N values into one (input: N, then N values)",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "input file, - for stdin",
				Value:       "input.txt",
				Destination: &input,
			},
			&cli.StringFlag{
				Name:        "kind",
				Usage:       "sum, product, max or min; defaults to the scan operator",
				Destination: &kind,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if kind == "" {
				kind = settings.Operator
			}
			op, err := substrate.ParseOperator(kind)
			if err != nil {
				return err
			}
			buf, err := readScanInput(input, op.Identity)
			if err != nil {
				return err
			}
			sub, release, err := openSubstrate(ctx, settings)
			if err != nil {
				return err
			}
			defer release()

			x := newExec(ctx, sub)
			out, err := pods.Run(x, pods.ReduceName, pods.ReduceIn{In: buf.Values(), Kind: kind})
			if err != nil {
				return err
			}
			v := out.(pods.ReduceOut).Value
			logger.FromContext(ctx).Info("reduce finished", "run_id", x.RunID, "size", buf.Len(), "kind", op.Name)
			_, err = fmt.Fprintf(os.Stdout, "%.3f\n", v)
			return err
		},
	}
}

func podsCmd() *cli.Command {
	return &cli.Command{
		Name:  "pods",
		Usage: "List the registered pods",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			for _, name := range pods.Names() {
				fmt.Println(name)
			}
			return nil
		},
	}
}
