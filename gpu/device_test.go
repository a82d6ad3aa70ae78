package gpu

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/scan"
	"github.com/openfluke/gpuscan/substrate"
)

func TestFold(t *testing.T) {
	tests := []struct {
		groups, lim, x, y int
	}{
		{1, 65535, 1, 1},
		{65535, 65535, 65535, 1},
		{65536, 65535, 65535, 2},
		{200000, 65535, 65535, 4},
		{10, 0, 10, 1},
	}
	for _, tt := range tests {
		x, y := fold(tt.groups, tt.lim)
		if x != tt.x || y != tt.y {
			t.Errorf("fold(%d, %d) = %d, %d; want %d, %d", tt.groups, tt.lim, x, y, tt.x, tt.y)
		}
		if x*y < tt.groups {
			t.Errorf("fold(%d, %d) covers only %d groups", tt.groups, tt.lim, x*y)
		}
	}
}

func TestUniformWords(t *testing.T) {
	got := uniformWords(substrate.Launch{Global: 512, Params: []uint32{1024, 2}})
	if diff := cmp.Diff([]uint32{1024, 2, 512, 0}, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if got := uniformWords(substrate.Launch{Global: 1}); len(got) != 4 {
		t.Fatalf("empty params padded to %d words", len(got))
	}
}

func openDevice(t *testing.T) *Device {
	t.Helper()
	d, err := Open(Options{})
	if err != nil {
		if errors.Is(err, substrate.ErrDeviceUnavailable) {
			t.Skipf("no GPU adapter: %v", err)
		}
		t.Fatal(err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestDeviceScan(t *testing.T) {
	d := openDevice(t)
	o, err := scan.New(context.Background(), d, scan.Config{Workgroup: 64})
	if err != nil {
		t.Fatal(err)
	}
	vals := make([]float32, 10000)
	want := make([]float32, len(vals))
	var sum float32
	for i := range vals {
		vals[i] = float32(i % 3)
		sum += vals[i]
		want[i] = sum
	}
	buf, _ := buffer.FromValues(vals, 0)
	if _, err := o.Scan(context.Background(), buf); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, buf.Values()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestDeviceRejectsUnbuiltKernel(t *testing.T) {
	d := openDevice(t)
	h, err := d.Stage(context.Background(), []float32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Release(h)
	err = d.Dispatch(context.Background(), substrate.Launch{Kernel: "missing", Global: 1, Local: 1, Buffers: []substrate.Handle{h}})
	var de *substrate.DispatchError
	if !errors.As(err, &de) || de.Code != substrate.CodeUnknownKernel {
		t.Fatalf("err = %v", err)
	}
}
