package pods

import (
	"context"

	"github.com/google/uuid"

	"github.com/openfluke/gpuscan/detector"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/substrate"
)

// Pod is a unit of work (scan, reduce, convolution).
type Pod interface {
	Name() string
	Run(x *ExecContext, in any) (out any, err error)
}

// ExecContext carries the substrate and per-run metadata.
type ExecContext struct {
	Ctx context.Context
	Sub substrate.Substrate
	// Report, when set, supplies the device-mode work-group size and the
	// largest scan capacity the device binds.
	Report *detector.Report
	// Programs, when set, reuses kernels built by earlier runs.
	Programs *Programs
	Log      logger.Logger
	RunID    string
}

// NewContext starts a run on sub with a fresh run id. The logger is taken
// from ctx.
func NewContext(ctx context.Context, sub substrate.Substrate) *ExecContext {
	id := uuid.NewString()
	return &ExecContext{
		Ctx:   ctx,
		Sub:   sub,
		Log:   logger.FromContext(ctx).With("run_id", id),
		RunID: id,
	}
}

func (x *ExecContext) WithReport(rep *detector.Report) *ExecContext {
	x.Report = rep
	return x
}

func (x *ExecContext) WithPrograms(ps *Programs) *ExecContext {
	x.Programs = ps
	return x
}
