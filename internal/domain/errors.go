package domain

import "errors"

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")

	// ErrUnauthenticated marks a gateway auth failure. It never implies the
	// local session must be cleared.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrNotReady is returned when the session guard has not resolved a user.
	ErrNotReady = errors.New("session not ready")
)
