package device

import (
	"errors"
	"fmt"
)

// ErrNoControlEntity is returned by Init when a device exposes no switch or select.
var ErrNoControlEntity = errors.New("device: no control entity")

// CommandError wraps a failed host call with device context.
type CommandError struct {
	Room   string
	Device string
	Op     string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device %s/%s: %s: %v", e.Room, e.Device, e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
