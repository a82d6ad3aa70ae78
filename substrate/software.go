package substrate

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// KernelFunc is a host implementation of one kernel entry point.
type KernelFunc func(ctx context.Context, inv Invocation) error

// Invocation is everything a KernelFunc sees for one launch.
type Invocation struct {
	Launch
	Data      [][]float32
	Operator  Operator
	Workgroup int
	workers   int
}

// SoftwareOptions configures NewSoftware. Zero values pick defaults.
type SoftwareOptions struct {
	Name                string
	PreferredWorkgroup  int
	MaxWorkgroup        int
	MaxWorkgroupsPerDim int
	Workers             int
}

// Software is a Substrate that executes kernels on host memory. Dispatches are
// queued and run in submission order on Drain or Retrieve, so callers observe
// the same asynchrony as with a real device.
type Software struct {
	info    DeviceInfo
	workers int

	mu      sync.Mutex
	kernels map[string]KernelFunc
	built   map[string]compiled
	buffers map[*softBuffer]struct{}
	queue   []Launch
}

type compiled struct {
	fn        KernelFunc
	op        Operator
	workgroup int
}

type softBuffer struct {
	data []float32
}

func (b *softBuffer) Len() int { return len(b.data) }

func NewSoftware(opts SoftwareOptions) *Software {
	if opts.Name == "" {
		opts.Name = "software"
	}
	if opts.PreferredWorkgroup <= 0 {
		opts.PreferredWorkgroup = 256
	}
	if opts.MaxWorkgroup <= 0 {
		opts.MaxWorkgroup = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	s := &Software{
		info: DeviceInfo{
			Name:                opts.Name,
			Backend:             "software",
			PreferredWorkgroup:  opts.PreferredWorkgroup,
			MaxWorkgroup:        opts.MaxWorkgroup,
			MaxWorkgroupsPerDim: opts.MaxWorkgroupsPerDim,
		},
		workers: opts.Workers,
		kernels: map[string]KernelFunc{
			KernelReduce:      reduceKernel,
			KernelSweep:       sweepKernel,
			KernelConvolution: convolutionKernel,
		},
		built:   map[string]compiled{},
		buffers: map[*softBuffer]struct{}{},
	}
	return s
}

// Register adds or replaces the host implementation of an entry point. It
// takes effect for programs built afterwards.
func (s *Software) Register(name string, fn KernelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernels[name] = fn
}

func (s *Software) Info() DeviceInfo { return s.info }

func (s *Software) Build(ctx context.Context, p Program) error {
	if p.WorkgroupSize <= 0 || p.WorkgroupSize > s.info.MaxWorkgroup {
		return fmt.Errorf("%w: %s: work-group size %d outside [1, %d]", ErrCompile, p.Name, p.WorkgroupSize, s.info.MaxWorkgroup)
	}
	if p.Operator.Combine == nil {
		return fmt.Errorf("%w: %s: no combining operator", ErrCompile, p.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range p.EntryPoints {
		fn, ok := s.kernels[entry]
		if !ok {
			return fmt.Errorf("%w: %s: no host implementation of %q", ErrCompile, p.Name, entry)
		}
		if !strings.Contains(p.Source, "fn "+entry+"(") {
			return fmt.Errorf("%w: %s: entry point %q not found in source", ErrCompile, p.Name, entry)
		}
		s.built[entry] = compiled{fn: fn, op: p.Operator, workgroup: p.WorkgroupSize}
	}
	return nil
}

func (s *Software) Stage(ctx context.Context, values []float32) (Handle, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("stage: empty buffer")
	}
	b := &softBuffer{data: append([]float32(nil), values...)}
	s.mu.Lock()
	s.buffers[b] = struct{}{}
	s.mu.Unlock()
	return b, nil
}

func (s *Software) Alloc(ctx context.Context, n int) (Handle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("alloc: invalid length %d", n)
	}
	b := &softBuffer{data: make([]float32, n)}
	s.mu.Lock()
	s.buffers[b] = struct{}{}
	s.mu.Unlock()
	return b, nil
}

func (s *Software) Dispatch(ctx context.Context, l Launch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.built[l.Kernel]
	if !ok {
		return dispatchErr(l.Kernel, CodeUnknownKernel, "kernel not built")
	}
	if l.Local != k.workgroup {
		return dispatchErr(l.Kernel, CodeInvalidWorkgroup, "local size %d, kernel compiled for %d", l.Local, k.workgroup)
	}
	if l.Global <= 0 {
		return dispatchErr(l.Kernel, CodeInvalidWorkgroup, "global size %d", l.Global)
	}
	if lim := s.info.MaxWorkgroupsPerDim; lim > 0 && l.Groups() > lim*lim {
		return dispatchErr(l.Kernel, CodeInvalidWorkgroup, "%d work-groups exceed %d x %d", l.Groups(), lim, lim)
	}
	for i, h := range l.Buffers {
		b, ok := h.(*softBuffer)
		if !ok {
			return dispatchErr(l.Kernel, CodeInvalidBuffer, "binding %d: foreign handle %T", i, h)
		}
		if _, live := s.buffers[b]; !live {
			return dispatchErr(l.Kernel, CodeInvalidBuffer, "binding %d: released buffer", i)
		}
	}
	s.queue = append(s.queue, l)
	return nil
}

// Drain runs every queued launch in order. The first failure discards the
// rest of the queue.
func (s *Software) Drain(ctx context.Context) error {
	s.mu.Lock()
	queue := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, l := range queue {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.run(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (s *Software) run(ctx context.Context, l Launch) error {
	s.mu.Lock()
	k := s.built[l.Kernel]
	s.mu.Unlock()

	data := make([][]float32, len(l.Buffers))
	for i, h := range l.Buffers {
		data[i] = h.(*softBuffer).data
	}
	inv := Invocation{
		Launch:    l,
		Data:      data,
		Operator:  k.op,
		Workgroup: k.workgroup,
		workers:   s.workers,
	}
	if err := k.fn(ctx, inv); err != nil {
		if _, ok := err.(*DispatchError); ok {
			return err
		}
		return &DispatchError{Kernel: l.Kernel, Code: CodeOutOfRange, Err: err}
	}
	return nil
}

func (s *Software) Retrieve(ctx context.Context, h Handle, dst []float32) error {
	if err := s.Drain(ctx); err != nil {
		return err
	}
	b, ok := h.(*softBuffer)
	if !ok {
		return fmt.Errorf("retrieve: foreign handle %T", h)
	}
	if len(dst) > len(b.data) {
		return fmt.Errorf("retrieve: %d values requested from %d-value buffer", len(dst), len(b.data))
	}
	copy(dst, b.data)
	return nil
}

func (s *Software) Release(h Handle) {
	b, ok := h.(*softBuffer)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.buffers, b)
	s.mu.Unlock()
}

// EachGroup runs fn once per work-group, spreading groups over the worker pool.
// Work-groups of one launch have no ordering between them.
func (inv Invocation) EachGroup(ctx context.Context, fn func(group int)) error {
	groups := inv.Groups()
	if groups == 0 {
		return nil
	}
	workers := inv.workers
	if workers < 1 {
		workers = 1
	}
	if workers > groups {
		workers = groups
	}
	per := (groups + workers - 1) / workers

	g, ctx := errgroup.WithContext(ctx)
	for start := 0; start < groups; start += per {
		end := min(start+per, groups)
		g.Go(func() error {
			for group := start; group < end; group++ {
				if err := ctx.Err(); err != nil {
					return err
				}
				fn(group)
			}
			return nil
		})
	}
	return g.Wait()
}
