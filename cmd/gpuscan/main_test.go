package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/config"
	"github.com/openfluke/gpuscan/pods"
	"github.com/openfluke/gpuscan/substrate"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScanFileRoundTrip(t *testing.T) {
	in := writeFile(t, "5\n1 2 3 4 5\n")
	buf, err := readScanInput(in, 0)
	if err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Backend = config.BackendSoftware
	pod, err := scanPod(cfg)
	if err != nil {
		t.Fatal(err)
	}
	sub, release, err := openSubstrate(context.Background(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	if _, err := pod.Run(pods.NewContext(context.Background(), sub), pods.ScanIn{Buffer: buf}); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "output.txt")
	if err := writeOutput(out, buf); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff("1.000 3.000 6.000 10.000 15.000\n", string(got)); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

func TestReadScanInputErrors(t *testing.T) {
	tests := []struct {
		name, body string
		want       error
	}{
		{"zero size", "0\n", buffer.ErrInvalidSize},
		{"short", "3\n1 2\n", buffer.ErrParse},
		{"garbage", "3\n1 x 2\n", buffer.ErrParse},
		{"no size", "", buffer.ErrParse},
		{"oversized", "4611686018427387905\n1 2 3\n", buffer.ErrInvalidSize},
		{"above max", "2147483649\n1\n", buffer.ErrInvalidSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := readScanInput(writeFile(t, tt.body), 0); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
	if _, err := readScanInput(filepath.Join(t.TempDir(), "missing.txt"), 0); err == nil {
		t.Fatal("missing input succeeded")
	}
}

func TestReadConvolveInput(t *testing.T) {
	in, mask, err := readConvolveInput(writeFile(t, "2 1\n1 2\n3 4\n5\n"))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{1, 2, 3, 4}, in.Raw()); diff != "" {
		t.Fatalf("matrix (-want +got):\n%s", diff)
	}
	if mask.Size() != 1 || mask.At(0, 0) != 5 {
		t.Fatalf("mask = %v", mask.Raw())
	}
	if _, _, err := readConvolveInput(writeFile(t, "2 1\n1 2 3\n")); !errors.Is(err, buffer.ErrParse) {
		t.Fatalf("short matrix err = %v", err)
	}
}

func TestConvolutionPodMode(t *testing.T) {
	cfg := config.Default()
	cfg.Convolution.Mode = ""
	if p := convolutionPod(cfg); p.Workgroup.Mode != pods.ModeDevice {
		t.Fatalf("mode = %q", p.Workgroup.Mode)
	}
	cfg.Operator = "xor"
	if _, err := scanPod(cfg); err == nil {
		t.Fatal("unknown operator accepted")
	}
}

func TestRegisteredPodsFollowConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Operator = "max"
	cfg.Scan = config.Workgroup{Mode: pods.ModeFixed, Size: 8}
	if err := registerPods(cfg); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := registerPods(config.Default()); err != nil {
			t.Fatal(err)
		}
	})

	p, ok := pods.Lookup(pods.ScanName)
	if !ok {
		t.Fatal("scan pod not registered")
	}
	if sp := p.(pods.ScanPod); sp.Operator.Name != "max" || sp.Workgroup.Size != 8 {
		t.Fatalf("scan pod = %+v", sp)
	}

	sub, release, err := openSubstrate(context.Background(), config.Config{Backend: config.BackendSoftware})
	if err != nil {
		t.Fatal(err)
	}
	defer release()
	x := newExec(context.Background(), sub)
	out, err := pods.Run(x, pods.ReduceName, pods.ReduceIn{In: []float32{4, 1, 3, 9, 2}, Kind: "sum"})
	if err != nil {
		t.Fatal(err)
	}
	if v := out.(pods.ReduceOut).Value; v != 19 {
		t.Fatalf("sum = %v, want 19", v)
	}
	buf, err := buffer.FromValues([]float32{4, 1, 3, 9, 2}, substrate.OpMax.Identity)
	if err != nil {
		t.Fatal(err)
	}
	so, err := pods.Run(x, pods.ScanName, pods.ScanIn{Buffer: buf})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]float32{4, 4, 4, 9, 9}, so.(pods.ScanOut).Buffer.Values()); diff != "" {
		t.Fatalf("max scan (-want +got):\n%s", diff)
	}
	if wg := so.(pods.ScanOut).Schedule.Workgroup; wg != 8 {
		t.Fatalf("workgroup %d, want 8", wg)
	}
}
