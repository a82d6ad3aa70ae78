package gpu

import (
	"context"
	"fmt"
	"sync"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/gpuscan/substrate"
)

// Device runs substrate programs on a WebGPU Context. Dispatches are encoded
// and submitted immediately; the queue executes them in order while the host
// moves on.
type Device struct {
	c         *Context
	preferred int

	mu        sync.Mutex
	pipelines map[string]*pipeline
	live      map[*deviceBuffer]struct{}
	uniforms  []*wgpu.Buffer
	groups    []*wgpu.BindGroup
}

type pipeline struct {
	p         *wgpu.ComputePipeline
	workgroup int
}

var _ substrate.Substrate = (*Device)(nil)

// Open creates a Context from opts and wraps it.
func Open(opts Options) (*Device, error) {
	c, err := NewContext(opts)
	if err != nil {
		return nil, err
	}
	return NewDevice(c, opts.PreferredWorkgroup), nil
}

// NewDevice wraps an open Context. preferred overrides the reported preferred
// work-group size when positive.
func NewDevice(c *Context, preferred int) *Device {
	if preferred <= 0 {
		preferred = 1
		for preferred*2 <= min(c.maxWorkgroup(), 256) {
			preferred *= 2
		}
	}
	return &Device{
		c:         c,
		preferred: preferred,
		pipelines: map[string]*pipeline{},
		live:      map[*deviceBuffer]struct{}{},
	}
}

func (d *Device) Context() *Context { return d.c }

func (d *Device) Info() substrate.DeviceInfo {
	return substrate.DeviceInfo{
		Name:                d.c.Name,
		Backend:             "webgpu/" + d.c.Backend,
		PreferredWorkgroup:  d.preferred,
		MaxWorkgroup:        d.c.maxWorkgroup(),
		MaxWorkgroupsPerDim: int(d.c.maxGroupsPerDim),
	}
}

func (d *Device) Build(ctx context.Context, p substrate.Program) error {
	if p.WorkgroupSize <= 0 || p.WorkgroupSize > d.c.maxWorkgroup() {
		return fmt.Errorf("%w: %s: work-group size %d outside [1, %d]", substrate.ErrCompile, p.Name, p.WorkgroupSize, d.c.maxWorkgroup())
	}
	module, err := d.c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          p.Name + "_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: p.Source},
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", substrate.ErrCompile, p.Name, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range p.EntryPoints {
		cp, err := d.c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label:   p.Name + "_" + entry + "_Pipe",
			Compute: wgpu.ProgrammableStageDescriptor{Module: module, EntryPoint: entry},
		})
		if err != nil {
			return fmt.Errorf("%w: %s: entry point %s: %w", substrate.ErrCompile, p.Name, entry, err)
		}
		if old, ok := d.pipelines[entry]; ok {
			old.p.Release()
		}
		d.pipelines[entry] = &pipeline{p: cp, workgroup: p.WorkgroupSize}
	}
	return nil
}

func (d *Device) Stage(ctx context.Context, values []float32) (substrate.Handle, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("stage: empty buffer")
	}
	b, err := d.c.newFloatBuffer("Staged", values)
	if err != nil {
		return nil, err
	}
	d.track(b)
	return b, nil
}

func (d *Device) Alloc(ctx context.Context, n int) (substrate.Handle, error) {
	if n <= 0 {
		return nil, fmt.Errorf("alloc: invalid length %d", n)
	}
	b, err := d.c.newEmptyBuffer("Result", n)
	if err != nil {
		return nil, err
	}
	d.track(b)
	return b, nil
}

func (d *Device) track(b *deviceBuffer) {
	d.mu.Lock()
	d.live[b] = struct{}{}
	d.mu.Unlock()
}

// fold spreads groups over two dimensions when one would exceed lim.
func fold(groups, lim int) (x, y int) {
	if lim <= 0 || groups <= lim {
		return groups, 1
	}
	return lim, (groups + lim - 1) / lim
}

// uniformWords appends the launch width to the kernel parameters and pads the
// block to 16 bytes.
func uniformWords(l substrate.Launch) []uint32 {
	words := append(append([]uint32(nil), l.Params...), uint32(l.Global))
	for len(words)%4 != 0 {
		words = append(words, 0)
	}
	return words
}

func (d *Device) Dispatch(ctx context.Context, l substrate.Launch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	pl, ok := d.pipelines[l.Kernel]
	if !ok {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeUnknownKernel, Err: fmt.Errorf("kernel not built")}
	}
	if l.Local != pl.workgroup || l.Global <= 0 {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeInvalidWorkgroup,
			Err: fmt.Errorf("global %d local %d, kernel compiled for %d", l.Global, l.Local, pl.workgroup)}
	}
	lim := int(d.c.maxGroupsPerDim)
	x, y := fold(l.Groups(), lim)
	if lim > 0 && y > lim {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeInvalidWorkgroup,
			Err: fmt.Errorf("%d work-groups exceed %d x %d", l.Groups(), lim, lim)}
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(l.Buffers)+1)
	for i, h := range l.Buffers {
		b, ok := h.(*deviceBuffer)
		if !ok {
			return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeInvalidBuffer, Err: fmt.Errorf("binding %d: foreign handle %T", i, h)}
		}
		if _, live := d.live[b]; !live {
			return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeInvalidBuffer, Err: fmt.Errorf("binding %d: released buffer", i)}
		}
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(i), Buffer: b.buf, Size: b.buf.GetSize()})
	}

	uniform, err := d.c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    l.Kernel + "_Params",
		Contents: wgpu.ToBytes(uniformWords(l)),
		Usage:    wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeInvalidBuffer, Err: err}
	}
	d.uniforms = append(d.uniforms, uniform)
	entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(len(l.Buffers)), Buffer: uniform, Size: uniform.GetSize()})

	bg, err := d.c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   l.Kernel + "_Bind",
		Layout:  pl.p.GetBindGroupLayout(0),
		Entries: entries,
	})
	if err != nil {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeInvalidBuffer, Err: err}
	}
	d.groups = append(d.groups, bg)

	enc, err := d.c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeOutOfRange, Err: err}
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pl.p)
	pass.SetBindGroup(0, bg, nil)
	pass.DispatchWorkgroups(uint32(x), uint32(y), 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return &substrate.DispatchError{Kernel: l.Kernel, Code: substrate.CodeOutOfRange, Err: err}
	}
	d.c.Queue.Submit(cmd)
	cmd.Release()
	return nil
}

// Drain blocks until the queue is idle and frees per-launch resources.
func (d *Device) Drain(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.c.Device.Poll(true, nil)

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, bg := range d.groups {
		bg.Release()
	}
	for _, u := range d.uniforms {
		u.Destroy()
	}
	d.groups, d.uniforms = nil, nil
	return nil
}

func (d *Device) Retrieve(ctx context.Context, h substrate.Handle, dst []float32) error {
	b, ok := h.(*deviceBuffer)
	if !ok {
		return fmt.Errorf("retrieve: foreign handle %T", h)
	}
	if len(dst) > b.n {
		return fmt.Errorf("retrieve: %d values requested from %d-value buffer", len(dst), b.n)
	}
	if err := d.Drain(ctx); err != nil {
		return err
	}
	return d.c.readBuffer(ctx, b, dst)
}

func (d *Device) Release(h substrate.Handle) {
	b, ok := h.(*deviceBuffer)
	if !ok {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, live := d.live[b]; live {
		delete(d.live, b)
		b.buf.Destroy()
	}
}

// Close releases every pipeline and buffer, then the Context.
func (d *Device) Close() {
	_ = d.Drain(context.Background())
	d.mu.Lock()
	for _, pl := range d.pipelines {
		pl.p.Release()
	}
	for b := range d.live {
		b.buf.Destroy()
	}
	d.pipelines = map[string]*pipeline{}
	d.live = map[*deviceBuffer]struct{}{}
	d.mu.Unlock()
	d.c.Release()
}
