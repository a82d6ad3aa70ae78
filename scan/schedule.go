// Package scan plans and issues the multi-pass dispatch schedule of a
// work-efficient inclusive prefix scan over a power-of-two buffer.
//
// The up-sweep halves the active element count each pass while the count
// still spans at least two work-groups. Whatever is left fits one work-group
// and is finished there. The down-sweep mirrors it: one single-work-group pass
// distributes the top of the tree, then one pass per remaining level pushes
// partial results down at a halving stride.
package scan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/substrate"
)

var (
	// ErrInvalidCapacity is returned for a capacity or work-group size that is
	// not a positive power of two, or a capacity above buffer.MaxSize.
	ErrInvalidCapacity = errors.New("scan: invalid capacity")
	// ErrPaddingNotIdentity is returned when a buffer's padding would change
	// the result under the scan's combining operator.
	ErrPaddingNotIdentity = errors.New("scan: padding is not the operator identity")
)

// DefaultWorkgroup is the fixed scan work-group size.
const DefaultWorkgroup = 256

// Dispatch describes one kernel launch of a schedule.
type Dispatch struct {
	Kernel string `json:"kernel"`
	Global int    `json:"global"`
	Local  int    `json:"local"`
	Offset int    `json:"offset"`
}

func (d Dispatch) String() string {
	return fmt.Sprintf("%s global=%d local=%d offset=%d", d.Kernel, d.Global, d.Local, d.Offset)
}

// Schedule is the ordered dispatch list for one (capacity, work-group) pair.
// It depends on nothing else.
type Schedule struct {
	Capacity  int        `json:"capacity"`
	Workgroup int        `json:"workgroup"`
	Reduce    []Dispatch `json:"reduce"`
	Sweep     []Dispatch `json:"sweep"`
}

// Plan computes the schedule for capacity elements and work-group size wg.
func Plan(capacity, wg int) (Schedule, error) {
	if !buffer.IsPow2(capacity) {
		return Schedule{}, fmt.Errorf("%w: capacity %d is not a power of two", ErrInvalidCapacity, capacity)
	}
	if capacity > buffer.MaxSize {
		return Schedule{}, fmt.Errorf("%w: capacity %d exceeds %d", ErrInvalidCapacity, capacity, buffer.MaxSize)
	}
	if !buffer.IsPow2(wg) {
		return Schedule{}, fmt.Errorf("%w: work-group size %d is not a power of two", ErrInvalidCapacity, wg)
	}

	s := Schedule{Capacity: capacity, Workgroup: wg}
	for offset := 1; capacity/offset >= 2*wg; offset <<= 1 {
		s.Reduce = append(s.Reduce, Dispatch{substrate.KernelReduce, capacity / offset, wg, offset})
	}
	if capacity < 2*wg {
		s.Reduce = append(s.Reduce, Dispatch{substrate.KernelReduce, wg, wg, 1})
	}

	s.Sweep = append(s.Sweep, Dispatch{substrate.KernelSweep, wg, wg, capacity / 2})
	for offset := capacity / wg / 4; offset > 0; offset >>= 1 {
		s.Sweep = append(s.Sweep, Dispatch{substrate.KernelSweep, capacity / offset, wg, offset})
	}
	return s, nil
}

// Dispatches returns the up-sweep followed by the down-sweep.
func (s Schedule) Dispatches() []Dispatch {
	out := make([]Dispatch, 0, len(s.Reduce)+len(s.Sweep))
	out = append(out, s.Reduce...)
	return append(out, s.Sweep...)
}

func (s Schedule) Len() int { return len(s.Reduce) + len(s.Sweep) }

func (s Schedule) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "capacity=%d workgroup=%d dispatches=%d\n", s.Capacity, s.Workgroup, s.Len())
	for i, d := range s.Dispatches() {
		fmt.Fprintf(&b, "%3d  %s\n", i, d)
	}
	return b.String()
}
