// Package gpu is the WebGPU-backed compute substrate.
package gpu

import (
	"errors"
	"fmt"
	"strings"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/gpuscan/logger"
	"github.com/openfluke/gpuscan/substrate"
)

// Options selects and configures the adapter.
type Options struct {
	// Prefer picks the first enumerated adapter whose name or vendor contains
	// this string (case-insensitive). Empty or unmatched falls back to the
	// power-preference requests.
	Prefer string
	// PreferredWorkgroup overrides the work-group size reported by Info. Zero
	// reports the largest power of two the device accepts, capped at 256.
	PreferredWorkgroup int
	Log                logger.Logger
}

// Context owns one WebGPU instance, adapter, device and queue. Several may
// coexist in a process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	Name    string
	Vendor  string
	Backend string

	maxWorkgroupSizeX uint32
	maxInvocations    uint32
	maxGroupsPerDim   uint32

	log logger.Logger
}

// NewContext opens an adapter and device. Any failure is reported as
// substrate.ErrDeviceUnavailable.
func NewContext(opts Options) (*Context, error) {
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	c := &Context{log: opts.Log}

	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return nil, fmt.Errorf("%w: failed to create WebGPU instance", substrate.ErrDeviceUnavailable)
	}

	if opts.Prefer != "" {
		want := strings.ToLower(opts.Prefer)
		for _, a := range c.Instance.EnumerateAdapters(nil) {
			info := a.GetInfo()
			c.log.Debug("adapter found", "name", info.Name, "vendor", info.VendorName,
				"device_id", fmt.Sprintf("0x%X", info.DeviceId), "vendor_id", fmt.Sprintf("0x%X", info.VendorId))
			if c.Adapter == nil && (strings.Contains(strings.ToLower(info.Name), want) ||
				strings.Contains(strings.ToLower(info.VendorName), want)) {
				c.Adapter = a
			}
		}
	}

	var errs []error
	for _, opt := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		a, err := c.Instance.RequestAdapter(opt)
		if err != nil {
			errs = append(errs, err)
			c.log.Debug("adapter request failed", "error", err)
			continue
		}
		if a == nil {
			errs = append(errs, errors.New("no adapter returned"))
			continue
		}
		c.Adapter = a
	}
	if c.Adapter == nil {
		c.Instance.Release()
		return nil, fmt.Errorf("%w: all adapter attempts failed: %w", substrate.ErrDeviceUnavailable, errors.Join(errs...))
	}

	info := c.Adapter.GetInfo()
	c.Name = strings.TrimSpace(info.Name)
	c.Vendor = info.VendorName
	c.Backend = info.BackendType.String()
	limits := c.Adapter.GetLimits()
	c.maxWorkgroupSizeX = limits.Limits.MaxComputeWorkgroupSizeX
	c.maxInvocations = limits.Limits.MaxComputeInvocationsPerWorkgroup
	c.maxGroupsPerDim = limits.Limits.MaxComputeWorkgroupsPerDimension

	device, err := c.Adapter.RequestDevice(nil)
	if err != nil {
		c.Adapter.Release()
		c.Instance.Release()
		return nil, fmt.Errorf("%w: request device: %w", substrate.ErrDeviceUnavailable, err)
	}
	c.Device = device
	c.Queue = device.GetQueue()

	c.log.Info("using GPU adapter",
		"name", c.Name,
		"vendor", c.Vendor,
		"backend", c.Backend,
		"max_workgroup", c.maxWorkgroupSizeX)
	return c, nil
}

// Release frees the device, adapter and instance.
func (c *Context) Release() {
	if c.Device != nil {
		c.Device.Release()
	}
	if c.Adapter != nil {
		c.Adapter.Release()
	}
	if c.Instance != nil {
		c.Instance.Release()
	}
}

// maxWorkgroup is the largest 1D work-group the device runs.
func (c *Context) maxWorkgroup() int {
	return int(min(c.maxWorkgroupSizeX, c.maxInvocations))
}
