package config

import "errors"

// ErrInvalid is returned when the configuration file fails validation.
var ErrInvalid = errors.New("config: invalid")
