package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/kernels"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/substrate"
)

// Config configures New. Zero values pick the defaults.
type Config struct {
	// Workgroup is the scan work-group size, DefaultWorkgroup if zero.
	Workgroup int
	// Operator is the combining operation, addition if unset.
	Operator substrate.Operator
	// Source replaces the embedded prefix_sum kernel source.
	Source string
	Log    logger.Logger
}

// Orchestrator issues scan schedules on one substrate. It owns no device
// state beyond the program it built.
type Orchestrator struct {
	sub substrate.Substrate
	wg  int
	op  substrate.Operator
	log logger.Logger
}

// New builds the reduce and sweep kernels on sub.
func New(ctx context.Context, sub substrate.Substrate, cfg Config) (*Orchestrator, error) {
	if cfg.Workgroup == 0 {
		cfg.Workgroup = DefaultWorkgroup
	}
	if !buffer.IsPow2(cfg.Workgroup) {
		return nil, fmt.Errorf("%w: work-group size %d is not a power of two", ErrInvalidCapacity, cfg.Workgroup)
	}
	if cfg.Operator.Combine == nil {
		cfg.Operator = substrate.OpAdd
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	src := cfg.Source
	if src == "" {
		var err error
		if src, err = (kernels.Loader{}).Load(kernels.PrefixSum); err != nil {
			return nil, err
		}
	}

	err := sub.Build(ctx, substrate.Program{
		Name:          "prefix_sum",
		Source:        kernels.Assemble(src, cfg.Workgroup, cfg.Operator.WGSL),
		EntryPoints:   []string{substrate.KernelReduce, substrate.KernelSweep},
		WorkgroupSize: cfg.Workgroup,
		Operator:      cfg.Operator,
	})
	if err != nil {
		return nil, err
	}
	o := &Orchestrator{sub: sub, wg: cfg.Workgroup, op: cfg.Operator}
	return o.WithLogger(cfg.Log), nil
}

func (o *Orchestrator) Workgroup() int               { return o.wg }
func (o *Orchestrator) Operator() substrate.Operator { return o.op }

// WithLogger returns a copy of o that logs to l. The built kernels are shared.
func (o *Orchestrator) WithLogger(l logger.Logger) *Orchestrator {
	cp := *o
	cp.log = l.With("component", "scan", "workgroup", o.wg, "operator", o.op.Name)
	return &cp
}

// Issue enqueues the full schedule against h, which holds capacity resident
// values. It does not wait for the device.
func (o *Orchestrator) Issue(ctx context.Context, h substrate.Handle, capacity int) (Schedule, error) {
	s, err := Plan(capacity, o.wg)
	if err != nil {
		return Schedule{}, err
	}
	if h.Len() < capacity {
		return Schedule{}, fmt.Errorf("%w: device buffer holds %d of %d values", ErrInvalidCapacity, h.Len(), capacity)
	}

	debug := o.log.Enabled(slog.LevelDebug)
	for i, d := range s.Dispatches() {
		err := o.sub.Dispatch(ctx, substrate.Launch{
			Kernel:  d.Kernel,
			Global:  d.Global,
			Local:   d.Local,
			Buffers: []substrate.Handle{h},
			Params:  []uint32{uint32(capacity), uint32(d.Offset)},
		})
		if err != nil {
			return s, fmt.Errorf("pass %d (%s): %w", i, d, err)
		}
		if debug {
			o.log.Debug("dispatch", "pass", i, "kernel", d.Kernel, "global", d.Global, "offset", d.Offset)
		}
	}
	return s, nil
}

// Scan replaces buf's values with their inclusive prefix combination. The
// whole capacity is staged and read back; padding slots come back holding
// meaningless partial results and the logical span is exact.
func (o *Orchestrator) Scan(ctx context.Context, buf *buffer.Padded) (Schedule, error) {
	if !o.op.IsIdentity(buf.Pad()) {
		return Schedule{}, fmt.Errorf("%w: padding %v, %s identity %v", ErrPaddingNotIdentity, buf.Pad(), o.op.Name, o.op.Identity)
	}
	start := time.Now()

	h, err := o.sub.Stage(ctx, buf.Raw())
	if err != nil {
		return Schedule{}, fmt.Errorf("stage: %w", err)
	}
	defer o.sub.Release(h)

	s, err := o.Issue(ctx, h, buf.Cap())
	if err != nil {
		return s, err
	}
	if err := o.sub.Drain(ctx); err != nil {
		return s, err
	}
	if err := o.sub.Retrieve(ctx, h, buf.Raw()); err != nil {
		return s, fmt.Errorf("retrieve: %w", err)
	}

	o.log.Info("scan complete",
		"size", buf.Len(),
		"capacity", buf.Cap(),
		"reduce_passes", len(s.Reduce),
		"sweep_passes", len(s.Sweep),
		"elapsed", time.Since(start))
	return s, nil
}
