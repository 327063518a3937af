package mqtt

import (
	"context"
	"errors"
)

// ErrNotStarted is returned by operations that need the connection manager before Start.
var ErrNotStarted = errors.New("mqtt client not started")

// MessageHandler processes one received message. ctx is cancelled when the client stops.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the agent's view of an MQTT v5 session with automatic reconnects.
type Client interface {
	// Start begins connecting in the background and returns. The connection
	// lives until ctx is cancelled or Disconnect is called.
	Start(ctx context.Context) error

	// Disconnect sends DISCONNECT, so the broker does not publish the last will.
	Disconnect(ctx context.Context)

	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe routes messages matching the topic filter to handler. The
	// subscription is renewed after every reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	Unsubscribe(ctx context.Context, topic string) error

	// AwaitConnection blocks until the broker connection is up or ctx is done.
	AwaitConnection(ctx context.Context) error

	IsConnected() bool
}
