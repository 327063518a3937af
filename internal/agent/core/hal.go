package core

import (
	"context"
)

// Transport performs a single HTTP GET without following redirects.
type Transport interface {
	Get(ctx context.Context, url string) (Response, error)
}

// Response is one HTTP exchange. It must not be used after Close.
type Response interface {
	StatusCode() int
	// Header returns the first value of the named header, case-insensitively.
	Header(name string) string
	// ContentLength is -1 when the length is unknown.
	ContentLength() int64
	Stream() Stream
	// URL is the address that produced this response.
	URL() string
	Close() error
}

// Stream is the body of a Response.
type Stream interface {
	// Available reports how many bytes can be read without blocking.
	// It returns an error once the body has ended and every byte was consumed.
	Available() (int, error)
	Read(p []byte) (int, error)
}

// FlashSink writes an image into the inactive bank.
type FlashSink interface {
	// Begin opens a session for an image of total bytes.
	Begin(total int64) error
	Write(p []byte) (int, error)
	// End finalizes and validates the image and selects it for the next boot.
	End() error
	// IsFinished reports whether the last session was finalized successfully.
	IsFinished() bool
	// Abort discards the open session, if any.
	Abort() error
}

// Store opens namespaced persistent key-value storage.
type Store interface {
	Open(namespace string, readOnly bool) (Namespace, error)
}

// Namespace is an open handle on a Store namespace. Puts are durable when they return.
type Namespace interface {
	String(key, def string) string
	Bool(key string, def bool) bool
	PutString(key, value string) error
	PutBool(key string, value bool) error
	Close() error
}

// Restarter reboots the device. On real hardware Restart does not return.
type Restarter interface {
	Restart(ctx context.Context) error
}

// RollbackPlatform is the bootloader's rollback API.
type RollbackPlatform interface {
	MarkValidCancelRollback() error
	CheckRollbackPossible() bool
	MarkInvalidRollbackAndReboot() error
}

// Locator turns a firmware reference into a fetchable URL.
type Locator interface {
	Locate(ctx context.Context, rawURL string) (string, error)
}
