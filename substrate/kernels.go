package substrate

import (
	"context"
	"fmt"
)

// Host renditions of the kernels in the kernels package. Each one follows the
// WGSL thread mapping exactly, so a schedule that is correct here is correct on
// a device.

func scanArgs(inv Invocation) (data []float32, capacity, offset int, err error) {
	if len(inv.Data) != 1 || len(inv.Params) < 2 {
		return nil, 0, 0, dispatchErr(inv.Kernel, CodeInvalidBuffer, "want 1 buffer and (capacity, offset)")
	}
	data = inv.Data[0]
	capacity, offset = int(inv.Params[0]), int(inv.Params[1])
	if capacity > len(data) {
		return nil, 0, 0, dispatchErr(inv.Kernel, CodeOutOfRange, "capacity %d exceeds buffer of %d", capacity, len(data))
	}
	if inv.Global > inv.Workgroup && (offset == 0 || inv.Global*offset > capacity) {
		return nil, 0, 0, dispatchErr(inv.Kernel, CodeOutOfRange, "global %d at stride %d overruns capacity %d", inv.Global, offset, capacity)
	}
	return data, capacity, offset, nil
}

// upLevel combines pairs o apart inside one work-group: lane l owns pair l+1.
func upLevel(data []float32, capacity, o, lanes int, combine func(a, b float32) float32) {
	pairs := capacity / (2 * o)
	for l := 0; l < lanes; l++ {
		p := l + 1
		if p > pairs {
			break
		}
		idx := 2*p*o - 1
		data[idx] = combine(data[idx-o], data[idx])
	}
}

func reduceKernel(ctx context.Context, inv Invocation) error {
	data, capacity, offset, err := scanArgs(inv)
	if err != nil {
		return err
	}
	combine := inv.Operator.Combine

	if inv.Global <= inv.Workgroup {
		// One work-group finishes the whole tree.
		for o := max(offset, 1); o < capacity; o *= 2 {
			upLevel(data, capacity, o, inv.Workgroup, combine)
		}
		return nil
	}

	return inv.EachGroup(ctx, func(group int) {
		for l := 0; l < inv.Local; l++ {
			gid := group*inv.Local + l
			if gid >= inv.Global || gid&1 == 0 {
				continue
			}
			idx := (gid+1)*offset - 1
			data[idx] = combine(data[idx-offset], data[idx])
		}
	})
}

func sweepKernel(ctx context.Context, inv Invocation) error {
	data, capacity, offset, err := scanArgs(inv)
	if err != nil {
		return err
	}
	combine := inv.Operator.Combine
	wg := inv.Workgroup

	if inv.Global <= wg {
		// Top of the tree. Levels wider than one work-group were left by the
		// up-sweep; finish them before distributing.
		if capacity >= 2*wg {
			for o := capacity / wg; o < capacity; o *= 2 {
				upLevel(data, capacity, o, wg, combine)
			}
		}
		lower := max(1, capacity/(2*wg))
		for o := offset / 2; o >= lower; o /= 2 {
			limit := capacity / (2 * o)
			for l := 0; l < wg; l++ {
				j := l + 1
				if j >= limit {
					break
				}
				idx := 2*j*o + o - 1
				data[idx] = combine(data[2*j*o-1], data[idx])
			}
		}
		return nil
	}

	return inv.EachGroup(ctx, func(group int) {
		for l := 0; l < inv.Local; l++ {
			gid := group*inv.Local + l
			if gid >= inv.Global || gid < 2 || gid&1 == 1 {
				continue
			}
			idx := (gid+1)*offset - 1
			data[idx] = combine(data[idx-offset], data[idx])
		}
	})
}

// convolutionKernel: buffers (input n*n, mask m*m, output n*n), params (n, m).
// Cells outside the input read as zero.
func convolutionKernel(ctx context.Context, inv Invocation) error {
	if len(inv.Data) != 3 || len(inv.Params) < 2 {
		return dispatchErr(inv.Kernel, CodeInvalidBuffer, "want 3 buffers and (n, m)")
	}
	in, mask, out := inv.Data[0], inv.Data[1], inv.Data[2]
	n, m := int(inv.Params[0]), int(inv.Params[1])
	if len(in) < n*n || len(out) < n*n || len(mask) < m*m {
		return fmt.Errorf("buffers too small for n=%d m=%d", n, m)
	}
	half := m / 2

	return inv.EachGroup(ctx, func(group int) {
		for l := 0; l < inv.Local; l++ {
			gid := group*inv.Local + l
			if gid >= inv.Global || gid >= n*n {
				continue
			}
			i, j := gid/n, gid%n
			var sum float32
			for a := 0; a < m; a++ {
				r := i + a - half
				if r < 0 || r >= n {
					continue
				}
				for b := 0; b < m; b++ {
					c := j + b - half
					if c < 0 || c >= n {
						continue
					}
					sum += in[r*n+c] * mask[a*m+b]
				}
			}
			out[gid] = sum
		}
	})
}
