package utils

import "errors"

// Failure classes surfaced by the forward core. Call sites wrap these with
// context; callers match with errors.Is.
var (
	ErrShapeMismatch      = errors.New("shape mismatch")
	ErrIndexOutOfRange    = errors.New("index out of range")
	ErrConfiguration      = errors.New("configuration error")
	ErrNumericInstability = errors.New("numeric instability")
)
