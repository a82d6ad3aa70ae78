// Package convolution runs a two-dimensional zero-padded convolution of a
// square matrix with a square mask in a single dispatch.
package convolution

import (
	"context"
	"fmt"
	"time"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/kernels"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/substrate"
)

// GlobalSize is the dispatch width for an n×n result at work-group size wg.
// It always adds one whole work-group past n*n/wg; the kernel guards the tail.
func GlobalSize(n, wg int) int {
	return (n*n/wg + 1) * wg
}

type Config struct {
	// Workgroup fixes the work-group size. Zero uses the device preference,
	// clamped to its maximum.
	Workgroup int
	Source    string
	Log       logger.Logger
}

type Convolver struct {
	sub substrate.Substrate
	wg  int
	log logger.Logger
}

func New(ctx context.Context, sub substrate.Substrate, cfg Config) (*Convolver, error) {
	info := sub.Info()
	wg := cfg.Workgroup
	if wg <= 0 {
		wg = info.PreferredWorkgroup
		if info.MaxWorkgroup > 0 && wg > info.MaxWorkgroup {
			wg = info.MaxWorkgroup
		}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = (kernels.Loader{}).Load(kernels.Convolution); err != nil {
			return nil, err
		}
	}
	err := sub.Build(ctx, substrate.Program{
		Name:          "convolution",
		Source:        kernels.Assemble(src, wg, substrate.OpAdd.WGSL),
		EntryPoints:   []string{substrate.KernelConvolution},
		WorkgroupSize: wg,
		Operator:      substrate.OpAdd,
	})
	if err != nil {
		return nil, err
	}
	c := &Convolver{sub: sub, wg: wg}
	return c.WithLogger(cfg.Log), nil
}

func (c *Convolver) Workgroup() int { return c.wg }

// WithLogger returns a copy of c that logs to l. The built kernel is shared.
func (c *Convolver) WithLogger(l logger.Logger) *Convolver {
	cp := *c
	cp.log = l.With("component", "convolution", "workgroup", c.wg)
	return &cp
}

// Convolve returns the n×n result of convolving in with mask. Cells of in
// outside the matrix count as zero; the mask is centred on each cell.
func (c *Convolver) Convolve(ctx context.Context, in, mask *buffer.Matrix) (*buffer.Matrix, error) {
	n, m := in.Size(), mask.Size()
	start := time.Now()

	hin, err := c.sub.Stage(ctx, in.Raw())
	if err != nil {
		return nil, fmt.Errorf("stage input: %w", err)
	}
	defer c.sub.Release(hin)
	hmask, err := c.sub.Stage(ctx, mask.Raw())
	if err != nil {
		return nil, fmt.Errorf("stage mask: %w", err)
	}
	defer c.sub.Release(hmask)
	hout, err := c.sub.Alloc(ctx, n*n)
	if err != nil {
		return nil, fmt.Errorf("alloc result: %w", err)
	}
	defer c.sub.Release(hout)

	err = c.sub.Dispatch(ctx, substrate.Launch{
		Kernel:  substrate.KernelConvolution,
		Global:  GlobalSize(n, c.wg),
		Local:   c.wg,
		Buffers: []substrate.Handle{hin, hmask, hout},
		Params:  []uint32{uint32(n), uint32(m)},
	})
	if err != nil {
		return nil, err
	}

	out, err := buffer.NewMatrix(n, 0)
	if err != nil {
		return nil, err
	}
	if err := c.sub.Retrieve(ctx, hout, out.Raw()); err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}
	c.log.Info("convolution complete", "n", n, "m", m, "elapsed", time.Since(start))
	return out, nil
}
