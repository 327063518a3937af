package hal

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/pkg/log"
)

// flushDelay gives in-flight MQTT publishes a moment before the process goes away.
const flushDelay = time.Second

// SystemRestarter reboots the machine.
type SystemRestarter struct {
	logger log.Logger
}

func NewSystemRestarter(logger log.Logger) *SystemRestarter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SystemRestarter{logger: logger}
}

func (r *SystemRestarter) Restart(ctx context.Context) error {
	r.logger.Warn("System is rebooting now")
	sleep(ctx, flushDelay)
	_ = r.logger.Sync()
	return systemReboot()
}

// ExecRestarter replaces the running process with a fresh copy of itself.
type ExecRestarter struct {
	logger log.Logger
}

func NewExecRestarter(logger log.Logger) *ExecRestarter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ExecRestarter{logger: logger}
}

func (r *ExecRestarter) Restart(ctx context.Context) error {
	r.logger.Warn("Re-executing agent binary")
	sleep(ctx, flushDelay)
	_ = r.logger.Sync()
	return execSelf()
}

// SimulatedRestarter only signals that a restart was requested. The agent
// exits on the signal and its supervisor starts it again, which re-runs the
// boot-time flash transitions.
type SimulatedRestarter struct {
	logger    log.Logger
	once      sync.Once
	requested chan struct{}
}

func NewSimulatedRestarter(logger log.Logger) *SimulatedRestarter {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &SimulatedRestarter{logger: logger, requested: make(chan struct{})}
}

func (r *SimulatedRestarter) Restart(context.Context) error {
	r.once.Do(func() {
		r.logger.Warn(">>> RESTART REQUESTED <<<")
		close(r.requested)
	})
	return nil
}

// Requested is closed on the first Restart call.
func (r *SimulatedRestarter) Requested() <-chan struct{} {
	return r.requested
}

var (
	_ core.Restarter = (*SystemRestarter)(nil)
	_ core.Restarter = (*ExecRestarter)(nil)
	_ core.Restarter = (*SimulatedRestarter)(nil)
)

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
