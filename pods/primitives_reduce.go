package pods

import (
	"fmt"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/substrate"
)

type ReduceIn struct {
	In   []float32
	Kind string // "sum"|"product"|"min"|"max"
}
type ReduceOut struct {
	Value float32
}

// ReducePod combines all values into one: the last slot of their inclusive
// scan.
type ReducePod struct {
	Scan ScanPod
}

func (ReducePod) Name() string { return ReduceName }

func (p ReducePod) Run(x *ExecContext, in any) (any, error) {
	args, ok := in.(ReduceIn)
	if !ok {
		return nil, fmt.Errorf("%w: ReduceIn expected", ErrBadInput)
	}
	op, err := substrate.ParseOperator(args.Kind)
	if err != nil {
		return nil, err
	}
	if len(args.In) == 0 {
		return ReduceOut{Value: op.Identity}, nil
	}
	buf, err := buffer.FromValues(args.In, op.Identity)
	if err != nil {
		return nil, err
	}

	sp := p.Scan
	sp.Operator = op
	if _, err := sp.Run(x, ScanIn{Buffer: buf}); err != nil {
		return nil, err
	}
	vals := buf.Values()
	return ReduceOut{Value: vals[len(vals)-1]}, nil
}
