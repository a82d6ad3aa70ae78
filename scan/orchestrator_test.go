package scan

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/substrate"
)

func newOrchestrator(t *testing.T, wg int, op substrate.Operator) (*Orchestrator, *substrate.Software) {
	t.Helper()
	sub := substrate.NewSoftware(substrate.SoftwareOptions{Workers: 4})
	o, err := New(context.Background(), sub, Config{Workgroup: wg, Operator: op})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return o, sub
}

func sequential(vals []float32, combine func(a, b float32) float32) []float32 {
	out := make([]float32, len(vals))
	for i, v := range vals {
		if i == 0 {
			out[i] = v
			continue
		}
		out[i] = combine(out[i-1], v)
	}
	return out
}

func TestScanExample(t *testing.T) {
	o, _ := newOrchestrator(t, 0, substrate.Operator{})
	buf, err := buffer.FromValues([]float32{1, 2, 3, 4, 5}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := o.Scan(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 3, 6, 10, 15}, buf.Values()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if o.Workgroup() != DefaultWorkgroup || o.Operator().Name != "add" {
		t.Fatalf("defaults: workgroup %d operator %s", o.Workgroup(), o.Operator().Name)
	}
}

func TestScanSingleElement(t *testing.T) {
	o, _ := newOrchestrator(t, 0, substrate.OpAdd)
	buf, _ := buffer.FromValues([]float32{42}, 0)
	s, err := o.Scan(context.Background(), buf)
	if err != nil {
		t.Fatal(err)
	}
	if buf.Values()[0] != 42 {
		t.Fatalf("got %v", buf.Values())
	}
	if s.Capacity != 1 {
		t.Fatalf("capacity %d", s.Capacity)
	}
}

func TestScanMatchesSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sizes := []int{2, 3, 7, 8, 9, 31, 64, 100, 255, 257, 1000, 1024, 4097}
	for _, wg := range []int{2, 4, 8, 256} {
		o, _ := newOrchestrator(t, wg, substrate.OpAdd)
		for _, n := range sizes {
			vals := make([]float32, n)
			for i := range vals {
				// small integers keep float32 sums exact
				vals[i] = float32(rng.Intn(7))
			}
			buf, _ := buffer.FromValues(vals, 0)
			if _, err := o.Scan(context.Background(), buf); err != nil {
				t.Fatalf("W=%d n=%d: %v", wg, n, err)
			}
			if diff := cmp.Diff(sequential(vals, substrate.OpAdd.Combine), buf.Values()); diff != "" {
				t.Fatalf("W=%d n=%d (-want +got):\n%s", wg, n, diff)
			}
		}
	}
}

func TestScanBenchmarkFill(t *testing.T) {
	// 1.0 everywhere in the logical span scans to 1..n.
	o, _ := newOrchestrator(t, 4, substrate.OpAdd)
	buf, _ := buffer.NewPadded(100, 0)
	buf.Fill(1)
	if _, err := o.Scan(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	for i, v := range buf.Values() {
		if v != float32(i+1) {
			t.Fatalf("slot %d = %v", i, v)
		}
	}
}

func TestScanOtherOperators(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vals := make([]float32, 77)
	for i := range vals {
		vals[i] = float32(rng.Intn(100) - 50)
	}
	for _, op := range []substrate.Operator{substrate.OpMax, substrate.OpMin} {
		o, _ := newOrchestrator(t, 4, op)
		buf, _ := buffer.FromValues(vals, op.Identity)
		if _, err := o.Scan(context.Background(), buf); err != nil {
			t.Fatalf("%s: %v", op.Name, err)
		}
		if diff := cmp.Diff(sequential(vals, op.Combine), buf.Values()); diff != "" {
			t.Fatalf("%s (-want +got):\n%s", op.Name, diff)
		}
	}

	o, _ := newOrchestrator(t, 2, substrate.OpMul)
	buf, _ := buffer.FromValues([]float32{1, 2, 1, 3, 1, 2}, 1)
	if _, err := o.Scan(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 2, 2, 6, 6, 12}, buf.Values()); diff != "" {
		t.Fatalf("mul (-want +got):\n%s", diff)
	}
}

func TestScanRejectsNonIdentityPadding(t *testing.T) {
	o, _ := newOrchestrator(t, 4, substrate.OpAdd)
	buf, _ := buffer.FromValues([]float32{1, 2, 3}, 1)
	if _, err := o.Scan(context.Background(), buf); !errors.Is(err, ErrPaddingNotIdentity) {
		t.Fatalf("err = %v, want ErrPaddingNotIdentity", err)
	}

	o, _ = newOrchestrator(t, 4, substrate.OpMax)
	buf, _ = buffer.FromValues([]float32{1, 2, 3}, 0)
	if _, err := o.Scan(context.Background(), buf); !errors.Is(err, ErrPaddingNotIdentity) {
		t.Fatalf("max with zero padding err = %v", err)
	}
	buf, _ = buffer.FromValues([]float32{1, 2, 3}, float32(math.Inf(-1)))
	if _, err := o.Scan(context.Background(), buf); err != nil {
		t.Fatalf("max with -Inf padding: %v", err)
	}
}

func TestIssueIsAsynchronous(t *testing.T) {
	ctx := context.Background()
	o, sub := newOrchestrator(t, 2, substrate.OpAdd)
	h, err := sub.Stage(ctx, []float32{1, 1, 1, 1, 1, 1, 1, 1})
	if err != nil {
		t.Fatal(err)
	}
	s, err := o.Issue(ctx, h, 8)
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() == 0 {
		t.Fatal("empty schedule")
	}
	out := make([]float32, 8)
	if err := sub.Retrieve(ctx, h, out); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4, 5, 6, 7, 8}, out); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}

	if _, err := o.Issue(ctx, h, 16); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("oversized capacity err = %v", err)
	}
	if _, err := o.Issue(ctx, h, 6); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("non power of two err = %v", err)
	}
}

func TestNewRejects(t *testing.T) {
	ctx := context.Background()
	sub := substrate.NewSoftware(substrate.SoftwareOptions{MaxWorkgroup: 64})
	if _, err := New(ctx, sub, Config{Workgroup: 48}); !errors.Is(err, ErrInvalidCapacity) {
		t.Fatalf("workgroup 48 err = %v", err)
	}
	if _, err := New(ctx, sub, Config{Workgroup: 128}); !errors.Is(err, substrate.ErrCompile) {
		t.Fatalf("workgroup over device max err = %v", err)
	}
	if _, err := New(ctx, sub, Config{Workgroup: 4, Source: "fn nothing() {}"}); !errors.Is(err, substrate.ErrCompile) {
		t.Fatalf("bad source err = %v", err)
	}
}

func TestScanFailedDispatchSurfaces(t *testing.T) {
	ctx := context.Background()
	sub := substrate.NewSoftware(substrate.SoftwareOptions{})
	sub.Register(substrate.KernelSweep, func(context.Context, substrate.Invocation) error {
		return errors.New("device lost")
	})
	o, err := New(ctx, sub, Config{Workgroup: 4})
	if err != nil {
		t.Fatal(err)
	}
	buf, _ := buffer.FromValues([]float32{1, 2, 3}, 0)
	_, err = o.Scan(ctx, buf)
	var de *substrate.DispatchError
	if !errors.As(err, &de) || de.Kernel != substrate.KernelSweep {
		t.Fatalf("err = %v, want sweep DispatchError", err)
	}
}
