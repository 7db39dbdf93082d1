package ddc

import "errors"

// Domain errors for the DDC bridge package.
var (
	// ErrNotConnected is returned when a publish is attempted while the
	// MQTT client is disconnected.
	ErrNotConnected = errors.New("ddc: not connected to broker")

	// ErrInvalidTopic is returned when an inbound message arrives on a topic
	// that is not a command topic.
	ErrInvalidTopic = errors.New("ddc: invalid command topic")

	// ErrQueueFull is returned when a display already has the maximum
	// number of pending commands. The command is dropped.
	ErrQueueFull = errors.New("ddc: command queue full")

	// ErrStopped is returned when a command arrives after Stop.
	ErrStopped = errors.New("ddc: bridge stopped")
)
