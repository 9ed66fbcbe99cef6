package room

import "errors"

var (
	// ErrUnhandledKey is returned by Dispatch for configuration entities without a setter.
	ErrUnhandledKey = errors.New("unhandled configuration key")
	// ErrConfigInvalid is returned when a configuration value fails validation.
	ErrConfigInvalid = errors.New("invalid configuration value")
)
