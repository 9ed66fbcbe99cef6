package registry

import "errors"

// ErrSensorInvalid is returned by Poll when an entity kept reporting an invalid value.
var ErrSensorInvalid = errors.New("sensor value invalid")
