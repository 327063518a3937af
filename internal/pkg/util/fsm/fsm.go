package fsm

import (
	"context"

	"github.com/looplab/fsm"
)

// WrapEvent adapts an error-returning callback to fsm.Callback.
// A non-nil error cancels the event; from a before_ callback this aborts the transition.
func WrapEvent(fn func(ctx context.Context, event *fsm.Event) error) fsm.Callback {
	return func(ctx context.Context, event *fsm.Event) {
		if err := fn(ctx, event); err != nil {
			event.Cancel(err)
		}
	}
}

// BeforeEvent returns the callback key run before the given event.
func BeforeEvent(event string) string {
	return "before_" + event
}

// EnterAnyState is the callback key run after every state change.
const EnterAnyState = "enter_state"
