package pods

import (
	"fmt"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/kernels"
	"github.com/openfluke/gpuscan/scan"
	"github.com/openfluke/gpuscan/substrate"
)

type ScanIn struct {
	Buffer *buffer.Padded
}
type ScanOut struct {
	Buffer   *buffer.Padded
	Schedule scan.Schedule
	RunID    string
}

// ScanPod scans a padded buffer in place. The zero value scans with addition
// at the default work-group size.
type ScanPod struct {
	Workgroup WorkgroupPolicy
	Operator  substrate.Operator
	Kernels   kernels.Loader
}

func (ScanPod) Name() string { return ScanName }

func (p ScanPod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ScanIn)
	if !ok || args.Buffer == nil {
		return nil, fmt.Errorf("%w: ScanIn expected", ErrBadInput)
	}
	if x.Report != nil {
		if limit := x.Report.Recommended.MaxScanCapacity; limit > 0 && uint64(args.Buffer.Cap()) > limit {
			return nil, fmt.Errorf("%w: capacity %d exceeds the device limit of %d", ErrBadInput, args.Buffer.Cap(), limit)
		}
	}
	o, err := p.orchestrator(x)
	if err != nil {
		return nil, err
	}
	s, err := o.Scan(x.Ctx, args.Buffer)
	if err != nil {
		return nil, err
	}
	return ScanOut{Buffer: args.Buffer, Schedule: s, RunID: x.RunID}, nil
}

// Prepare builds p's kernels into x.Programs ahead of the first Run.
func (p ScanPod) Prepare(x *ExecContext) error {
	_, err := p.orchestrator(x)
	return err
}

func (p ScanPod) orchestrator(x *ExecContext) (*scan.Orchestrator, error) {
	wg, err := p.Workgroup.resolve(x)
	if err != nil {
		return nil, err
	}
	src, err := p.Kernels.Load(kernels.PrefixSum)
	if err != nil {
		return nil, err
	}
	return x.Programs.scan(x, wg, p.Operator, src)
}
