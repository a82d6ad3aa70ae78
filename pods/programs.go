package pods

import (
	"sync"

	"github.com/openfluke/gpuscan/convolution"
	"github.com/openfluke/gpuscan/scan"
	"github.com/openfluke/gpuscan/substrate"
)

// Programs remembers the scan and convolution kernels last built on each
// substrate, so runs with unchanged settings skip compilation. A build
// replaces kernels with the same entry names, so only the latest build per
// substrate is kept. Runs sharing a substrate must be serialised.
type Programs struct {
	mu     sync.Mutex
	scans  map[substrate.Substrate]scanBuild
	convs  map[substrate.Substrate]convBuild
	builds int
}

type scanBuild struct {
	wg  int
	op  string
	src string
	o   *scan.Orchestrator
}

type convBuild struct {
	wg  int
	src string
	c   *convolution.Convolver
}

func NewPrograms() *Programs {
	return &Programs{
		scans: map[substrate.Substrate]scanBuild{},
		convs: map[substrate.Substrate]convBuild{},
	}
}

// Builds is the number of kernel builds done so far.
func (ps *Programs) Builds() int {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.builds
}

func (ps *Programs) scan(x *ExecContext, wg int, op substrate.Operator, src string) (*scan.Orchestrator, error) {
	cfg := scan.Config{Workgroup: wg, Operator: op, Source: src, Log: x.Log}
	if ps == nil {
		return scan.New(x.Ctx, x.Sub, cfg)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if b, ok := ps.scans[x.Sub]; ok && b.wg == wg && b.op == op.Name && b.src == src {
		return b.o.WithLogger(x.Log), nil
	}
	o, err := scan.New(x.Ctx, x.Sub, cfg)
	if err != nil {
		// a failed build may have replaced some entry points
		delete(ps.scans, x.Sub)
		return nil, err
	}
	ps.builds++
	ps.scans[x.Sub] = scanBuild{wg: wg, op: op.Name, src: src, o: o}
	return o, nil
}

func (ps *Programs) convolution(x *ExecContext, wg int, src string) (*convolution.Convolver, error) {
	cfg := convolution.Config{Workgroup: wg, Source: src, Log: x.Log}
	if ps == nil {
		return convolution.New(x.Ctx, x.Sub, cfg)
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if b, ok := ps.convs[x.Sub]; ok && b.wg == wg && b.src == src {
		return b.c.WithLogger(x.Log), nil
	}
	c, err := convolution.New(x.Ctx, x.Sub, cfg)
	if err != nil {
		delete(ps.convs, x.Sub)
		return nil, err
	}
	ps.builds++
	ps.convs[x.Sub] = convBuild{wg: wg, src: src, c: c}
	return c, nil
}
