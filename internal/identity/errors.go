package identity

import "errors"

var (
	// ErrNotFound is returned when a session cannot be found in the store.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned when a session exists but is past its expiry.
	ErrExpired = errors.New("session has expired")
	// ErrUnauthorized is returned when no valid caller session can be resolved.
	ErrUnauthorized = errors.New("unauthorized")
)
