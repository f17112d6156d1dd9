package session

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacityExceeded is wrapped by CapacityError.
	ErrCapacityExceeded = errors.New("session capacity exceeded")
	// ErrNotFound is returned when no live session matches.
	ErrNotFound = errors.New("session not found")
	// ErrSessionExists is returned when a thread already has a live session.
	ErrSessionExists = errors.New("thread already has a session")
	// ErrNotAllowed is returned when a user may not start or drive a session.
	ErrNotAllowed = errors.New("user not allowed")
	// ErrUnknownPlatform is returned for events from an unregistered platform.
	ErrUnknownPlatform = errors.New("unknown platform")
)

// CapacityError reports a refused session start.
type CapacityError struct {
	Active int
	Limit  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%v: %d of %d sessions active", ErrCapacityExceeded, e.Active, e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// IsCapacityExceeded reports whether err is a refused session start.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}
