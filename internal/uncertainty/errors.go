package uncertainty

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNotReady        = errors.New("metric not ready: call Update before Compute")
	ErrUnsupportedTask = errors.New("unsupported task type")
)

// InvalidInputError describes why a batch was rejected. It matches
// ErrInvalidInput with errors.Is.
type InvalidInputError struct {
	Reason string
}

func (e InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

func (e InvalidInputError) Unwrap() error {
	return ErrInvalidInput
}
