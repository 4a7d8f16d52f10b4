package boundary

import "errors"

var (
	// ErrUnknownActivation is returned for a sparse activation other than sigmoid or relu
	ErrUnknownActivation = errors.New("unknown sparse activation")

	// ErrInvalidOptions is returned when encoder dimensions are not positive
	ErrInvalidOptions = errors.New("invalid boundary encoder options")
)
