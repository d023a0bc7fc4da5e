package trusteddevice

import "errors"

var (
	// ErrNotFound covers both a missing device and a device owned by a
	// different user; callers must not be able to tell the two apart.
	ErrNotFound = errors.New("trusted device not found")
	// ErrInvalidTrustLevel is returned for a trust level outside low/medium/high.
	ErrInvalidTrustLevel = errors.New("invalid trust level")
)
