package core

import (
	"context"
)

type Sender interface {
	Send(ctx context.Context, event EventType, payload []byte) error
	SendJSON(ctx context.Context, event EventType, msg any) error
}
