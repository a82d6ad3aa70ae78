package pods

import "errors"

var (
	ErrUnknownPod = errors.New("unknown pod")
	ErrBadInput   = errors.New("unexpected pod input")
)
