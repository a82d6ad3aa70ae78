package pods

import (
	"fmt"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/convolution"
	"github.com/openfluke/gpuscan/kernels"
)

type ConvolveIn struct {
	Input, Mask *buffer.Matrix
}
type ConvolveOut struct {
	Result    *buffer.Matrix
	Workgroup int
	RunID     string
}

// ConvolutionPod convolves a square matrix with a square mask. With the
// policy in device mode (the zero value) it uses the device's preferred
// work-group size as is.
type ConvolutionPod struct {
	Workgroup WorkgroupPolicy
	Kernels   kernels.Loader
}

func (ConvolutionPod) Name() string { return ConvolutionName }

func (p ConvolutionPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ConvolveIn)
	if !ok || args.Input == nil || args.Mask == nil {
		return nil, fmt.Errorf("%w: ConvolveIn expected", ErrBadInput)
	}
	c, err := p.convolver(x)
	if err != nil {
		return nil, err
	}
	out, err := c.Convolve(x.Ctx, args.Input, args.Mask)
	if err != nil {
		return nil, err
	}
	return ConvolveOut{Result: out, Workgroup: c.Workgroup(), RunID: x.RunID}, nil
}

// Prepare builds p's kernel into x.Programs ahead of the first Run.
func (p ConvolutionPod) Prepare(x *ExecContext) error {
	_, err := p.convolver(x)
	return err
}

func (p ConvolutionPod) convolver(x *ExecContext) (*convolution.Convolver, error) {
	wg := 0
	if p.Workgroup.Mode == ModeFixed {
		var err error
		if wg, err = p.Workgroup.Resolve(x.Sub.Info()); err != nil {
			return nil, err
		}
	}
	src, err := p.Kernels.Load(kernels.Convolution)
	if err != nil {
		return nil, err
	}
	return x.Programs.convolution(x, wg, src)
}
