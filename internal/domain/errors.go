package domain

import "errors"

var (
	// ErrNotFound: unknown or closed session code/id.
	ErrNotFound = errors.New("session not found")
	// ErrInvalidInput: empty message body, bad kind, missing device.
	ErrInvalidInput = errors.New("invalid input")
	// ErrSignalingDesync: envelope for an unknown viewer or in the wrong state.
	// Logged and dropped, never shown to a user.
	ErrSignalingDesync = errors.New("signaling desync")
	// ErrTransportLost: the signaling channel dropped unexpectedly.
	ErrTransportLost = errors.New("transport lost")
	// ErrCapacityExceeded: no free session code after bounded retries.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	ErrMediaAcquisitionFailed = errors.New("media acquisition failed")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrNoDevice               = errors.New("no device")
)
