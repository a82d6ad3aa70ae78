package pods

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/detector"
	"github.com/openfluke/gpuscan/substrate"
)

func newExec(opts substrate.SoftwareOptions) *ExecContext {
	return NewContext(context.Background(), substrate.NewSoftware(opts))
}

func TestRegistry(t *testing.T) {
	want := []string{"primitives/convolution", "primitives/reduce", "primitives/scan"}
	if diff := cmp.Diff(want, Names()); diff != "" {
		t.Fatalf("Names() (-want +got):\n%s", diff)
	}
	if _, err := Run(newExec(substrate.SoftwareOptions{}), "ml/gemm", nil); !errors.Is(err, ErrUnknownPod) {
		t.Fatalf("unknown pod err = %v", err)
	}
}

func TestScanPod(t *testing.T) {
	x := newExec(substrate.SoftwareOptions{})
	buf, _ := buffer.FromValues([]float32{1, 2, 3, 4, 5}, 0)
	out, err := Run(x, "primitives/scan", ScanIn{Buffer: buf})
	if err != nil {
		t.Fatal(err)
	}
	so := out.(ScanOut)
	if diff := cmp.Diff([]float32{1, 3, 6, 10, 15}, so.Buffer.Values()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if so.RunID == "" || so.RunID != x.RunID {
		t.Fatalf("run id %q, context %q", so.RunID, x.RunID)
	}
	if so.Schedule.Workgroup != 256 {
		t.Fatalf("workgroup %d", so.Schedule.Workgroup)
	}

	if _, err := Run(x, "primitives/scan", []float32{1}); !errors.Is(err, ErrBadInput) {
		t.Fatalf("bad input err = %v", err)
	}
}

func TestScanPodDeviceWorkgroup(t *testing.T) {
	x := newExec(substrate.SoftwareOptions{PreferredWorkgroup: 48})
	p := ScanPod{Workgroup: WorkgroupPolicy{Mode: ModeDevice}}
	buf, _ := buffer.NewPadded(1000, 0)
	buf.Fill(1)
	out, err := p.Run(x, ScanIn{Buffer: buf})
	if err != nil {
		t.Fatal(err)
	}
	if wg := out.(ScanOut).Schedule.Workgroup; wg != 32 {
		t.Fatalf("workgroup %d, want 32", wg)
	}
	if got := buf.Values()[999]; got != 1000 {
		t.Fatalf("last = %v", got)
	}
}

func TestReducePod(t *testing.T) {
	x := newExec(substrate.SoftwareOptions{})
	tests := []struct {
		kind string
		in   []float32
		want float32
	}{
		{"sum", []float32{1, 2, 3, 4}, 10},
		{"product", []float32{1, 2, 3, 4}, 24},
		{"max", []float32{-3, 7, 2}, 7},
		{"min", []float32{-3, 7, 2}, -3},
		{"sum", nil, 0},
		{"product", nil, 1},
	}
	for _, tt := range tests {
		out, err := Run(x, "primitives/reduce", ReduceIn{In: tt.in, Kind: tt.kind})
		if err != nil {
			t.Fatalf("%s %v: %v", tt.kind, tt.in, err)
		}
		if got := out.(ReduceOut).Value; got != tt.want {
			t.Errorf("%s %v = %v, want %v", tt.kind, tt.in, got, tt.want)
		}
	}
	if _, err := Run(x, "primitives/reduce", ReduceIn{In: []float32{1}, Kind: "mean"}); err == nil {
		t.Fatal("unknown kind succeeded")
	}
}

func TestConvolutionPod(t *testing.T) {
	x := newExec(substrate.SoftwareOptions{PreferredWorkgroup: 16})
	in, _ := buffer.MatrixFrom(3, []float32{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	})
	mask, _ := buffer.NewMatrix(3, 1)
	out, err := Run(x, "primitives/convolution", ConvolveIn{Input: in, Mask: mask})
	if err != nil {
		t.Fatal(err)
	}
	co := out.(ConvolveOut)
	want := []float32{
		12, 21, 16,
		27, 45, 33,
		24, 39, 28,
	}
	if diff := cmp.Diff(want, co.Result.Raw()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if co.Workgroup != 16 {
		t.Fatalf("workgroup %d, want device preference 16", co.Workgroup)
	}

	p := ConvolutionPod{Workgroup: WorkgroupPolicy{Mode: ModeFixed, Size: 4}}
	out, err = p.Run(x, ConvolveIn{Input: in, Mask: mask})
	if err != nil {
		t.Fatal(err)
	}
	if co := out.(ConvolveOut); co.Workgroup != 4 {
		t.Fatalf("fixed workgroup %d", co.Workgroup)
	}
}

func TestWorkgroupPolicy(t *testing.T) {
	info := substrate.DeviceInfo{PreferredWorkgroup: 256, MaxWorkgroup: 128}
	tests := []struct {
		p    WorkgroupPolicy
		want int
	}{
		{WorkgroupPolicy{}, 256},
		{WorkgroupPolicy{Mode: ModeFixed, Size: 64}, 64},
		{WorkgroupPolicy{Mode: ModeDevice}, 128},
	}
	for _, tt := range tests {
		got, err := tt.p.Resolve(info)
		if err != nil || got != tt.want {
			t.Errorf("%+v.Resolve = %d, %v; want %d", tt.p, got, err, tt.want)
		}
	}
	if _, err := (WorkgroupPolicy{Mode: "auto"}).Resolve(info); err == nil {
		t.Fatal("unknown mode resolved")
	}
}

func TestProgramsReuseBuilds(t *testing.T) {
	ps := NewPrograms()
	sub := substrate.NewSoftware(substrate.SoftwareOptions{PreferredWorkgroup: 8})
	run := func(p ScanPod, vals []float32, want float32) {
		t.Helper()
		x := NewContext(context.Background(), sub).WithPrograms(ps)
		buf, _ := buffer.FromValues(vals, p.Operator.Identity)
		if _, err := p.Run(x, ScanIn{Buffer: buf}); err != nil {
			t.Fatal(err)
		}
		if got := buf.Values()[len(vals)-1]; got != want {
			t.Fatalf("%s last = %v, want %v", p.Operator.Name, got, want)
		}
	}

	addPod := ScanPod{Operator: substrate.OpAdd}
	maxPod := ScanPod{Operator: substrate.OpMax}
	vals := []float32{3, 9, 1, 4, 2}
	run(addPod, vals, 19)
	run(addPod, vals, 19)
	if n := ps.Builds(); n != 1 {
		t.Fatalf("builds after two add scans = %d, want 1", n)
	}
	run(maxPod, vals, 9)
	// max replaced the add kernels, so add must build again
	run(addPod, vals, 19)
	if n := ps.Builds(); n != 3 {
		t.Fatalf("builds = %d, want 3", n)
	}

	conv := ConvolutionPod{}
	x := NewContext(context.Background(), sub).WithPrograms(ps)
	if err := conv.Prepare(x); err != nil {
		t.Fatal(err)
	}
	in, _ := buffer.MatrixFrom(2, []float32{1, 2, 3, 4})
	mask, _ := buffer.NewMatrix(1, 2)
	out, err := conv.Run(x, ConvolveIn{Input: in, Mask: mask})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{2, 4, 6, 8}, out.(ConvolveOut).Result.Raw()); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if n := ps.Builds(); n != 4 {
		t.Fatalf("builds after prepared convolution = %d, want 4", n)
	}
	// the convolution kernel does not disturb the scan kernels
	run(addPod, vals, 19)
	if n := ps.Builds(); n != 4 {
		t.Fatalf("builds = %d, want 4", n)
	}
}

func TestScanPodUsesReport(t *testing.T) {
	rep := &detector.Report{Recommended: detector.Recommendations{Workgroup: 16, MaxScanCapacity: 64}}
	x := newExec(substrate.SoftwareOptions{}).WithReport(rep)
	p := ScanPod{Workgroup: WorkgroupPolicy{Mode: ModeDevice}}

	buf, _ := buffer.NewPadded(40, 0)
	buf.Fill(1)
	out, err := p.Run(x, ScanIn{Buffer: buf})
	if err != nil {
		t.Fatal(err)
	}
	if wg := out.(ScanOut).Schedule.Workgroup; wg != 16 {
		t.Fatalf("workgroup %d, want reported 16", wg)
	}
	if got := buf.Values()[39]; got != 40 {
		t.Fatalf("last = %v", got)
	}

	big, _ := buffer.NewPadded(65, 0)
	if _, err := p.Run(x, ScanIn{Buffer: big}); !errors.Is(err, ErrBadInput) {
		t.Fatalf("capacity 128 over limit 64 err = %v, want ErrBadInput", err)
	}
}
