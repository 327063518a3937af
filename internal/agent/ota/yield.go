package ota

import (
	"context"
	"time"

	"k8s.io/utils/clock"
)

// DefaultPollInterval is how long the default Yielder waits when the stream has no data.
const DefaultPollInterval = 10 * time.Millisecond

// Yielder is the downloader's suspension point while no bytes are available.
type Yielder interface {
	Yield(ctx context.Context) error
}

// YieldFunc adapts a function to Yielder.
type YieldFunc func(ctx context.Context) error

func (f YieldFunc) Yield(ctx context.Context) error {
	return f(ctx)
}

// NewClockYielder returns a Yielder that waits one interval on clk.
func NewClockYielder(clk clock.Clock, interval time.Duration) Yielder {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &clockYielder{clock: clk, interval: interval}
}

type clockYielder struct {
	clock    clock.Clock
	interval time.Duration
}

func (y *clockYielder) Yield(ctx context.Context) error {
	t := y.clock.NewTimer(y.interval)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
