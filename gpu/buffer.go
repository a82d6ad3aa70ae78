package gpu

import (
	"context"
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"

	"github.com/openfluke/gpuscan/substrate"
)

const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

// mapTimeout bounds a single readback once the queue is idle.
const mapTimeout = 5 * time.Second

type deviceBuffer struct {
	buf *wgpu.Buffer
	n   int
}

func (b *deviceBuffer) Len() int { return b.n }

// newFloatBuffer uploads data into a new storage buffer. The upload completes
// before any later submission reads it.
func (c *Context) newFloatBuffer(label string, data []float32) (*deviceBuffer, error) {
	buf, err := c.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    label,
		Contents: wgpu.ToBytes(data),
		Usage:    storageUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	return &deviceBuffer{buf: buf, n: len(data)}, nil
}

func (c *Context) newEmptyBuffer(label string, n int) (*deviceBuffer, error) {
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  uint64(n) * 4,
		Usage: storageUsage,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	return &deviceBuffer{buf: buf, n: n}, nil
}

// readBuffer copies the first len(dst) values of b into dst through a
// mappable staging buffer.
func (c *Context) readBuffer(ctx context.Context, b *deviceBuffer, dst []float32) error {
	size := uint64(len(dst)) * 4
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  size,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	encoder.CopyBufferToBuffer(b.buf, 0, staging, 0, size)
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish copy: %w", err)
	}
	c.Queue.Submit(cmd)
	cmd.Release()

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, size, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = &substrate.DispatchError{Kernel: "readback", Code: substrate.CodeMapFailed, Err: fmt.Errorf("map status %v", status)}
		}
		close(done)
	})
	if err != nil {
		return fmt.Errorf("map async: %w", err)
	}

	timeout := time.After(mapTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout:
			return fmt.Errorf("readback timed out after %s", mapTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return mapErr
	}

	data := staging.GetMappedRange(0, uint(size))
	if data == nil {
		return fmt.Errorf("mapped range nil")
	}
	copy(dst, wgpu.FromBytes[float32](data))
	staging.Unmap()
	return nil
}
