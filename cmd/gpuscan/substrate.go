package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/openfluke/gpuscan/config"
	"github.com/openfluke/gpuscan/detector"
	"github.com/openfluke/gpuscan/gpu"
	"github.com/openfluke/gpuscan/kernels"
	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/pods"
	"github.com/openfluke/gpuscan/substrate"
)

// openSubstrate opens the configured backend. auto tries the GPU first and
// falls back to the software substrate. The returned func releases it.
func openSubstrate(ctx context.Context, cfg config.Config) (substrate.Substrate, func(), error) {
	log := logger.FromContext(ctx)
	if cfg.Backend != config.BackendSoftware {
		dev, err := gpu.Open(gpu.Options{Prefer: cfg.Adapter, Log: log})
		switch {
		case err == nil:
			return dev, dev.Close, nil
		case cfg.Backend == config.BackendGPU || !errors.Is(err, substrate.ErrDeviceUnavailable):
			return nil, nil, err
		default:
			log.Warn("no GPU available, using software substrate", "error", err)
		}
	}
	return substrate.NewSoftware(substrate.SoftwareOptions{}), func() {}, nil
}

// deviceReport describes sub: from its adapter when it is a GPU device,
// otherwise from what it reports about itself.
func deviceReport(sub substrate.Substrate) *detector.Report {
	if dev, ok := sub.(*gpu.Device); ok {
		return detector.FromAdapter(dev.Context().Adapter)
	}
	return detector.FromInfo(sub.Info())
}

// newExec starts a pod run on sub carrying its device report.
func newExec(ctx context.Context, sub substrate.Substrate) *pods.ExecContext {
	return pods.NewContext(ctx, sub).WithReport(deviceReport(sub))
}

// registerPods replaces the built-in pods with ones configured by cfg.
func registerPods(cfg config.Config) error {
	sp, err := scanPod(cfg)
	if err != nil {
		return err
	}
	pods.Register(sp)
	pods.Register(pods.ReducePod{Scan: sp})
	pods.Register(convolutionPod(cfg))
	return nil
}

func scanPod(cfg config.Config) (pods.ScanPod, error) {
	op, err := substrate.ParseOperator(cfg.Operator)
	if err != nil {
		return pods.ScanPod{}, err
	}
	return pods.ScanPod{
		Workgroup: pods.WorkgroupPolicy{Mode: cfg.Scan.Mode, Size: cfg.Scan.Size},
		Operator:  op,
		Kernels:   kernels.Loader{Dir: cfg.KernelsDir},
	}, nil
}

func convolutionPod(cfg config.Config) pods.ConvolutionPod {
	mode := cfg.Convolution.Mode
	if mode == "" {
		mode = pods.ModeDevice
	}
	return pods.ConvolutionPod{
		Workgroup: pods.WorkgroupPolicy{Mode: mode, Size: cfg.Convolution.Size},
		Kernels:   kernels.Loader{Dir: cfg.KernelsDir},
	}
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// writeOutput writes w's content to path, or stdout for "-".
func writeOutput(path string, w io.WriterTo) error {
	if path == "-" {
		_, err := w.WriteTo(os.Stdout)
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if _, err := w.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("write output: %w", err)
	}
	return f.Close()
}
