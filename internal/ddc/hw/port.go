package hw

import (
	"context"
	"errors"
	"fmt"
)

// Handle identifies one physical display as reported by enumeration.
// It is only meaningful to the Port that produced it.
type Handle struct {
	// ID is the backend's opaque identifier (an I2C bus for ddcutil).
	ID string

	// Description is the monitor's self-reported model string.
	Description string

	// Serial is the EDID serial number, when available.
	Serial string
}

// Reading is one VCP feature reply.
type Reading struct {
	Current uint16
	Max     uint16
}

// Port is the hardware access boundary. Every method may block on the
// DDC/CI bus and must honour ctx.
type Port interface {
	// Enumerate lists the physical displays currently attached, in a
	// stable bus order.
	Enumerate(ctx context.Context) ([]Handle, error)

	// ReadFeature reads the current and maximum value of a VCP code.
	ReadFeature(ctx context.Context, h Handle, code uint8) (Reading, error)

	// WriteFeature sets a VCP code.
	WriteFeature(ctx context.Context, h Handle, code uint8, value uint16) error

	// Release frees any resources held for h. A released handle must not
	// be used again.
	Release(h Handle) error
}

// Classify wraps err with ErrTimeout when ctx expired and with ErrTransport
// otherwise. Errors that already carry a hardware sentinel are returned
// unchanged.
func Classify(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) || errors.Is(err, ErrEnumeration) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTransport, err)
}
