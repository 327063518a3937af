package core

import (
	"context"
)

// Module is a feature plugged into the agent. Its routes are subscribed on the hub
// before the connection is started.
type Module interface {
	Name() string

	Setup(ctx context.Context, sender Sender) error

	Routes() map[EventType]HandlerFunc
}
