package substrate

import (
	"errors"
	"fmt"
)

var (
	ErrDeviceUnavailable = errors.New("substrate: no compatible device")
	ErrCompile           = errors.New("substrate: kernel build failed")
	ErrDispatch          = errors.New("substrate: dispatch failed")
)

// Device-independent fault codes reported by the software substrate. Hardware
// backends report their own status values instead.
const (
	CodeUnknownKernel    = -48
	CodeInvalidWorkgroup = -54
	CodeInvalidBuffer    = -38
	CodeOutOfRange       = -30
	CodeMapFailed        = -12
)

// DispatchError is a device-reported execution fault.
type DispatchError struct {
	Kernel string
	Code   int
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("dispatch %s: code %d", e.Kernel, e.Code)
	}
	return fmt.Sprintf("dispatch %s: %v (code %d)", e.Kernel, e.Err, e.Code)
}

func (e *DispatchError) Unwrap() error { return e.Err }

func (e *DispatchError) Is(target error) bool { return target == ErrDispatch }

func dispatchErr(kernel string, code int, format string, args ...any) error {
	return &DispatchError{Kernel: kernel, Code: code, Err: fmt.Errorf(format, args...)}
}
