package ota

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingLocation is returned when a redirect response carries no Location header.
	ErrMissingLocation = errors.New("redirect response has no Location header")

	// ErrEmptyOrUnknownSize is returned when the firmware response declares no positive length.
	ErrEmptyOrUnknownSize = errors.New("firmware size is empty or unknown")

	// ErrInsufficientSpace is returned when the flash sink cannot hold the declared image.
	ErrInsufficientSpace = errors.New("insufficient space for firmware image")

	// ErrFinalizeFailed is returned when the written image fails validation.
	ErrFinalizeFailed = errors.New("firmware image finalization failed")

	// ErrWriteFailed is returned when the flash sink fails or accepts fewer bytes than offered.
	ErrWriteFailed = errors.New("flash write failed")

	// ErrStreamClosed is returned when the connection ends before the declared length arrived.
	ErrStreamClosed = errors.New("stream ended before the declared length")

	// ErrIdleTimeout is returned when no bytes arrive for longer than the idle timeout.
	ErrIdleTimeout = errors.New("no data received within the idle timeout")

	// ErrUpdateInProgress is returned when an update is requested while another one runs.
	ErrUpdateInProgress = errors.New("an update is already in progress")
)

// TransportError reports a failed GET.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("GET %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a final response whose status is not 200.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}
