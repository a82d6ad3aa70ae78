// Package substrate describes the compute device capability the scan and
// convolution drivers consume, together with a software implementation that
// runs the same kernels on host memory.
package substrate

import (
	"context"
	"fmt"
)

// Kernel entry point names shipped in the kernels package.
const (
	KernelReduce      = "reduce"
	KernelSweep       = "sweep"
	KernelConvolution = "convolution"
)

// Handle is a device-resident float32 buffer owned by one Substrate.
type Handle interface {
	Len() int
}

// DeviceInfo is what a substrate reports about the device it drives.
type DeviceInfo struct {
	Name    string
	Backend string
	// PreferredWorkgroup is the device-recommended 1D work-group size.
	PreferredWorkgroup int
	MaxWorkgroup       int
	// MaxWorkgroupsPerDim bounds a single dispatch dimension. Zero means unbounded.
	MaxWorkgroupsPerDim int
}

// Program is kernel source to be compiled for the device. WorkgroupSize and
// Operator are baked into the compiled kernels.
type Program struct {
	Name          string
	Source        string
	EntryPoints   []string
	WorkgroupSize int
	Operator      Operator
}

// Launch is one kernel invocation. Buffers bind to slots 0..n-1 in order, and
// Params are the kernel's scalar arguments.
type Launch struct {
	Kernel  string
	Global  int
	Local   int
	Buffers []Handle
	Params  []uint32
}

func (l Launch) String() string {
	return fmt.Sprintf("%s(global=%d local=%d params=%v)", l.Kernel, l.Global, l.Local, l.Params)
}

// Groups is the number of work-groups l spans.
func (l Launch) Groups() int {
	if l.Local <= 0 {
		return 0
	}
	return (l.Global + l.Local - 1) / l.Local
}

// Substrate is an in-order compute queue on one device. Dispatch returns
// without waiting; each dispatch observes the completed effects of every
// earlier one. Drain and Retrieve block.
type Substrate interface {
	Info() DeviceInfo
	Build(ctx context.Context, p Program) error
	Stage(ctx context.Context, values []float32) (Handle, error)
	Alloc(ctx context.Context, n int) (Handle, error)
	Dispatch(ctx context.Context, l Launch) error
	Drain(ctx context.Context) error
	Retrieve(ctx context.Context, h Handle, dst []float32) error
	Release(h Handle)
}
