package premium

import "errors"

var (
	// ErrInvalidBatch is returned for batches that cannot be decoded or name an
	// unknown controller type.
	ErrInvalidBatch = errors.New("premium: invalid batch")
	// ErrControllerMismatch is returned when the room is not in the batch's premium mode.
	ErrControllerMismatch = errors.New("premium: controller type does not match tent mode")
)
