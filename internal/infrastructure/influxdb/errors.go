package influxdb

import "errors"

var (
	// ErrNotConnected is returned by HealthCheck after Close.
	ErrNotConnected = errors.New("influxdb: client closed")

	// ErrConnectionFailed wraps a failed or unhealthy ping during Connect.
	ErrConnectionFailed = errors.New("influxdb: connect failed")

	// ErrDisabled is returned by Connect when influxdb.enabled is false.
	ErrDisabled = errors.New("influxdb: disabled")
)
