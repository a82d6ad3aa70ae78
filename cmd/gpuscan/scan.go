package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/pods"
)

func scanCmd() *cli.Command {
	var (
		input, output string
		bench         int64
	)

	return &cli.Command{
		Name:  "scan",
		Usage: "Inclusive prefix scan of N values (input: N, then N values)",
		Flags: append(ioFlags(&input, &output),
			&cli.Int64Flag{
				Name:        "bench",
				Usage:       "scan N values of 1.0 instead of reading input",
				Destination: &bench,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)
			if !cmd.IsSet("bench") && settings.BenchSize > 0 {
				bench = int64(settings.BenchSize)
			}
			pod, err := scanPod(settings)
			if err != nil {
				return err
			}

			var buf *buffer.Padded
			if bench > 0 {
				if buf, err = buffer.NewPadded(int(bench), pod.Operator.Identity); err != nil {
					return err
				}
				buf.Fill(1)
			} else if buf, err = readScanInput(input, pod.Operator.Identity); err != nil {
				return err
			}

			sub, release, err := openSubstrate(ctx, settings)
			if err != nil {
				return err
			}
			defer release()

			x := newExec(ctx, sub)
			out, err := pods.Run(x, pods.ScanName, pods.ScanIn{Buffer: buf})
			if err != nil {
				return err
			}
			so := out.(pods.ScanOut)
			log.Info("scan finished", "run_id", so.RunID, "size", buf.Len(), "dispatches", so.Schedule.Len())
			if bench > 0 && !cmd.IsSet("output") {
				return nil
			}
			return writeOutput(output, buf)
		},
	}
}

func readScanInput(path string, pad float32) (*buffer.Padded, error) {
	r, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	t := buffer.NewTokens(r)
	n, err := t.Int()
	if err != nil {
		return nil, fmt.Errorf("read size: %w", err)
	}
	buf, err := buffer.NewPadded(n, pad)
	if err != nil {
		return nil, err
	}
	if err := buf.ReadValues(t); err != nil {
		return nil, err
	}
	return buf, nil
}
