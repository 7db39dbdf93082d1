package registry

import "errors"

// ErrUnknownDevice is returned for an index that is not configured.
var ErrUnknownDevice = errors.New("registry: unknown device")
