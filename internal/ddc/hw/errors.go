package hw

import "errors"

// Hardware errors. Backends wrap one of these so callers can classify a
// failure with errors.Is without knowing the backend.
var (
	// ErrEnumeration is returned when the display list cannot be obtained.
	ErrEnumeration = errors.New("hw: enumeration failed")

	// ErrTransport is returned when a DDC/CI read or write fails.
	ErrTransport = errors.New("hw: transport error")

	// ErrTimeout is returned when a hardware call exceeds its deadline.
	ErrTimeout = errors.New("hw: timeout")
)
