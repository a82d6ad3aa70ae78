package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/pods"
)

func convolveCmd() *cli.Command {
	var input, output string

	return &cli.Command{
		Name:  "convolve",
		Usage: "2D convolution (input: N M, then N*N matrix, then M*M mask)",
		Flags: ioFlags(&input, &output),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			in, mask, err := readConvolveInput(input)
			if err != nil {
				return err
			}
			sub, release, err := openSubstrate(ctx, settings)
			if err != nil {
				return err
			}
			defer release()

			x := newExec(ctx, sub)
			out, err := pods.Run(x, pods.ConvolutionName, pods.ConvolveIn{Input: in, Mask: mask})
			if err != nil {
				return err
			}
			co := out.(pods.ConvolveOut)
			logger.FromContext(ctx).Info("convolution finished", "run_id", co.RunID, "n", in.Size(), "m", mask.Size(), "workgroup", co.Workgroup)
			return writeOutput(output, co.Result)
		},
	}
}

func readConvolveInput(path string) (in, mask *buffer.Matrix, err error) {
	r, err := openInput(path)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	t := buffer.NewTokens(r)
	n, err := t.Int()
	if err != nil {
		return nil, nil, fmt.Errorf("read matrix size: %w", err)
	}
	m, err := t.Int()
	if err != nil {
		return nil, nil, fmt.Errorf("read mask size: %w", err)
	}
	if in, err = buffer.NewMatrix(n, 0); err != nil {
		return nil, nil, err
	}
	if mask, err = buffer.NewMatrix(m, 0); err != nil {
		return nil, nil, err
	}
	if err := in.ReadValues(t); err != nil {
		return nil, nil, fmt.Errorf("matrix: %w", err)
	}
	if err := mask.ReadValues(t); err != nil {
		return nil, nil, fmt.Errorf("mask: %w", err)
	}
	return in, mask, nil
}
