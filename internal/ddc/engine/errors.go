package engine

import (
	"errors"

	"github.com/nerrad567/ddc-bridge/internal/ddc/vcp"
)

// Command and scheduling errors.
var (
	// ErrMalformedIdentifier is returned when a command identifier is not
	// of the form "{index}:{feature}".
	ErrMalformedIdentifier = errors.New("engine: malformed identifier")

	// ErrUnknownDevice is returned when a command targets an index that is
	// not configured.
	ErrUnknownDevice = errors.New("engine: unknown device")

	// ErrDeviceUnavailable is returned when a command targets a display
	// that is configured but not currently attached.
	ErrDeviceUnavailable = errors.New("engine: device unavailable")

	// ErrTickInProgress is returned by Tick when the previous tick has not
	// finished. The tick is skipped, not queued.
	ErrTickInProgress = errors.New("engine: tick already in progress")

	// ErrUnknownFeature and ErrInvalidSymbol are the codec errors, re-exported
	// so callers can classify command outcomes from this package alone.
	ErrUnknownFeature = vcp.ErrUnknownFeature
	ErrInvalidSymbol  = vcp.ErrInvalidSymbol
)
