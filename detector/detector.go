package detector

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/gpuscan/buffer"
	"github.com/openfluke/gpuscan/substrate"
)

/* ---------- public API ---------- */

// BudgetEnv overrides the staging budget, in MiB.
const BudgetEnv = "GPUSCAN_BUDGET_MB"

// Report is a portable summary of the current adapter/device caps.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"`
	Backend     string            `json:"backend"`
	AdapterType string            `json:"adapter_type"`
	VendorID    string            `json:"vendor_id_hex"`
	DeviceID    string            `json:"device_id_hex"`
	Name        string            `json:"name"`
	Driver      string            `json:"driver"`
	Recommended Recommendations   `json:"recommended"`
	Limits      Limits            `json:"limits"`
	Features    []string          `json:"features"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Largest power-of-two 1D work-group the device runs, capped at 256.
	Workgroup uint32 `json:"workgroup"`

	// Largest scan capacity one storage binding holds.
	MaxScanCapacity uint64 `json:"max_scan_capacity"`

	// Soft VRAM budget in bytes for staging.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// JSON renders rep indented.
func JSON(rep *Report) (string, error) {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Detect probes the high-performance adapter and synthesizes a report.
func Detect() (*Report, error) {
	inst := wgpu.CreateInstance(nil)
	if inst == nil {
		return nil, fmt.Errorf("%w: wgpu.CreateInstance returned nil", substrate.ErrDeviceUnavailable)
	}
	defer inst.Release()

	adapter, err := inst.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: request adapter: %w", substrate.ErrDeviceUnavailable, err)
	}
	if adapter == nil {
		return nil, fmt.Errorf("%w: no adapter", substrate.ErrDeviceUnavailable)
	}
	defer adapter.Release()
	return FromAdapter(adapter), nil
}

// FromAdapter reports an adapter that is already open.
func FromAdapter(adapter *wgpu.Adapter) *Report {
	info := adapter.GetInfo()
	limits := adapter.GetLimits()

	var feats []string
	for _, f := range adapter.EnumerateFeatures() {
		feats = append(feats, f.String())
	}

	l := Limits{
		MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
		MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
		MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     limits.Limits.MaxBufferSize,
	}
	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     info.BackendType.String(),
		AdapterType: info.AdapterType.String(),
		VendorID:    fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:    fmt.Sprintf("0x%04x", info.DeviceId),
		Name:        strings.TrimSpace(info.Name),
		Driver:      strings.TrimSpace(info.DriverDescription),
		Limits:      l,
		Features:    feats,
		Recommended: recommend(l),
		Env:         pickEnv([]string{BudgetEnv}),
	}
}

// FromInfo reports a substrate that has no adapter behind it. Its bindings
// hold the largest buffer the host accepts.
func FromInfo(info substrate.DeviceInfo) *Report {
	const hostBinding = uint64(buffer.MaxSize) * 4
	l := Limits{
		MaxComputeInvocationsPerWorkgroup: uint32(info.MaxWorkgroup),
		MaxComputeWorkgroupSizeX:          uint32(info.MaxWorkgroup),
		MaxComputeWorkgroupsPerDimension:  uint32(info.MaxWorkgroupsPerDim),
		MaxStorageBufferBindingSize:       hostBinding,
		MaxBufferSize:                     hostBinding,
	}
	return &Report{
		WhenISO:     time.Now().UTC().Format(time.RFC3339),
		Runtime:     detectRuntime(),
		Backend:     info.Backend,
		AdapterType: "cpu",
		Name:        info.Name,
		Limits:      l,
		Recommended: recommend(l),
		Env:         pickEnv([]string{BudgetEnv}),
	}
}

/* ---------- helpers ---------- */

func recommend(l Limits) Recommendations {
	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv(BudgetEnv); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	return Recommendations{
		Workgroup:       chooseWorkgroup(l.MaxComputeWorkgroupSizeX, l.MaxComputeInvocationsPerWorkgroup),
		MaxScanCapacity: maxScanCapacity(l.MaxStorageBufferBindingSize),
		BudgetBytes:     budget,
	}
}

func chooseWorkgroup(maxX, maxTot uint32) uint32 {
	candidates := []uint32{256, 128, 64, 32, 16, 8, 4, 2}
	for _, c := range candidates {
		if c <= maxX && c <= maxTot {
			return c
		}
	}
	// absolute portability fallback
	return 1
}

// maxScanCapacity is the largest power of two of float32 values that fits
// a binding of the given size.
func maxScanCapacity(bindingBytes uint64) uint64 {
	n := bindingBytes / 4
	if n == 0 {
		return 0
	}
	c := uint64(1)
	for c*2 <= n {
		c *= 2
	}
	return c
}

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
