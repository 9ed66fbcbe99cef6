package growplan

import "errors"

var (
	// ErrInvalidDate is returned for plant dates not in YYYY-MM-DD form.
	ErrInvalidDate = errors.New("invalid plant date")
	// ErrScript is returned when a stage script fails to load or run.
	ErrScript = errors.New("stage script error")
)
