package agent

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/pkg/metrics"
	"github.com/autopeer-io/otaagent/pkg/log"
)

// hubLink is the agent's connection to the fleet backend.
type hubLink interface {
	core.Sender
	Register(event core.EventType, handler core.HandlerFunc) error
	Start(ctx context.Context) error
	Stop()
	IsConnected() bool
}

// bootGuard confirms or rejects the running firmware.
type bootGuard interface {
	CurrentVersion() (string, error)
	PendingValidation() (bool, error)
	MarkAsValid(ctx context.Context) error
	MarkAsInvalid(ctx context.Context) error
}

// waiter is implemented by modules that run work past their handler call.
type waiter interface {
	Wait()
}

type Agent struct {
	deviceID string

	hub     hubLink
	guard   bootGuard
	modules []core.Module
	server  *Server

	bootBank          func() int
	validationTimeout time.Duration
	restartRequested  <-chan struct{}

	clock  clock.Clock
	logger log.Logger
}

// Run serves until ctx is done or a simulated restart is requested.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting ota-agent")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, m := range a.modules {
		if err := m.Setup(ctx, a.hub); err != nil {
			return fmt.Errorf("module %s setup failed: %w", m.Name(), err)
		}

		for event, handler := range m.Routes() {
			if err := a.hub.Register(event, handler); err != nil {
				return fmt.Errorf("module %s register event %s failed: %w", m.Name(), event, err)
			}
		}
	}

	hubUp := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(gctx)
		})
	}

	g.Go(func() error {
		if err := a.hub.Start(gctx); err != nil {
			if gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to start hub: %w", err)
		}
		close(hubUp)
		a.announce(gctx)
		return nil
	})

	g.Go(func() error {
		return a.validateBoot(gctx, hubUp)
	})

	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-a.restartRequested:
			a.logger.Info("Restart requested, exiting for the supervisor to relaunch")
			cancel()
		}
		return nil
	})

	err := g.Wait()

	a.logger.Info("Agent shutting down...")
	for _, m := range a.modules {
		if w, ok := m.(waiter); ok {
			w.Wait()
		}
	}
	a.hub.Stop()

	return err
}

// validateBoot is the health check for freshly installed firmware: reaching the
// hub within the validation timeout confirms it, otherwise it is rolled back.
func (a *Agent) validateBoot(ctx context.Context, hubUp <-chan struct{}) error {
	pending, err := a.guard.PendingValidation()
	if err != nil {
		return fmt.Errorf("failed to read validation state: %w", err)
	}
	if !pending {
		metrics.PendingValidation.Set(0)
		return nil
	}

	metrics.PendingValidation.Set(1)
	a.logger.Info("Running firmware awaits validation", "timeout", a.validationTimeout)

	timer := a.clock.NewTimer(a.validationTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-hubUp:
		if err := a.guard.MarkAsValid(ctx); err != nil {
			a.logger.Error(err, "Failed to mark firmware as valid")
		}
	case <-timer.C():
		a.logger.Warn("Hub unreachable within validation timeout")
		if err := a.guard.MarkAsInvalid(ctx); err != nil {
			a.logger.Error(err, "Failed to roll back firmware")
		}
	}
	return nil
}

// announce publishes the registration and online status. QoS 1 covers delivery.
func (a *Agent) announce(ctx context.Context) {
	version, err := a.guard.CurrentVersion()
	if err != nil {
		a.logger.Error(err, "Failed to read firmware version")
	}
	pending, err := a.guard.PendingValidation()
	if err != nil {
		a.logger.Error(err, "Failed to read validation state")
	}

	reg := &core.Registration{
		DeviceID:          a.deviceID,
		FirmwareVersion:   version,
		PendingValidation: pending,
		BootBank:          a.bootBank(),
		Timestamp:         time.Now().Unix(),
	}
	if err := a.hub.SendJSON(ctx, core.EventRegister, reg); err != nil {
		a.logger.Error(err, "Failed to send registration")
		return
	}

	online := &core.OnlineStatus{DeviceID: a.deviceID, Online: true}
	if err := a.hub.SendJSON(ctx, core.EventOnline, online); err != nil {
		a.logger.Error(err, "Failed to send online status")
		return
	}

	a.logger.Info("Registered with hub", "version", version, "bootBank", reg.BootBank)
}
