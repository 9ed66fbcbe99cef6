package store

import "errors"

var (
	// ErrNoState is returned by LoadFile when no snapshot exists yet.
	ErrNoState = errors.New("store: no saved state")
	// ErrStateInvalid is returned when a snapshot cannot be decoded.
	ErrStateInvalid = errors.New("store: invalid saved state")
)
