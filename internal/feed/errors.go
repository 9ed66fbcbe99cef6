package feed

import "errors"

var (
	// ErrNoPump is returned when no pump of the requested type is present.
	ErrNoPump = errors.New("no pump of this type")
	// ErrRateLimited is returned when a pump ran less than PumpInterval ago.
	ErrRateLimited = errors.New("pump activated too recently")
)
