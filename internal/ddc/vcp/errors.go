package vcp

import "errors"

// Domain errors for the feature codec.
var (
	// ErrInvalidSymbol is returned when a symbol is not in the device's
	// option table for the feature.
	ErrInvalidSymbol = errors.New("vcp: invalid symbol")

	// ErrUnknownFeature is returned when a feature is not configured for
	// the device.
	ErrUnknownFeature = errors.New("vcp: unknown feature")

	// ErrDuplicateOption is returned when building an option table with a
	// repeated name or raw value.
	ErrDuplicateOption = errors.New("vcp: duplicate option")
)
