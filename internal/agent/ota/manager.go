package ota

import (
	"context"
	"sync"
	"time"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/pkg/log"
)

// CommandTypeOTA is the command type handled by Manager.
const CommandTypeOTA = "OTA"

// firmwareUpdater is the part of Updater the Manager drives.
type firmwareUpdater interface {
	BeginVersionedUpdate(ctx context.Context, target, url string) (bool, error)
	PerformUpdateAndRestart(ctx context.Context, url string) error
	AddObserver(o Observer)
}

// Manager is the agent module that runs OTA commands received from the hub.
// Only one update runs at a time.
type Manager struct {
	updater firmwareUpdater
	sender  core.Sender
	logger  log.Logger

	// ctx outlives the MQTT handler invocation so updates stop with the agent.
	ctx context.Context

	lock      sync.Mutex
	upgrading bool
	active    string
	wg        sync.WaitGroup
}

var _ core.Module = (*Manager)(nil)

func NewManager(updater firmwareUpdater, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Manager{
		updater: updater,
		logger:  logger,
	}
}

func (m *Manager) Name() string {
	return "OTA"
}

func (m *Manager) Setup(ctx context.Context, sender core.Sender) error {
	m.ctx = ctx
	m.sender = sender
	m.updater.AddObserver(m.onSessionEvent)
	return nil
}

func (m *Manager) Routes() map[core.EventType]core.HandlerFunc {
	return map[core.EventType]core.HandlerFunc{
		core.EventOTACommand: core.JSONAdapter(m.HandleCommand),
	}
}

// Wait blocks until the running update, if any, has returned.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// AckCommand publishes the status of a command. Failures are logged.
func (m *Manager) AckCommand(ctx context.Context, commandID string, status core.CommandState, message string) {
	ack := &core.CommandStatus{
		CommandID: commandID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().Unix(),
	}

	if err := m.sender.SendJSON(ctx, core.EventCommandStatus, ack); err != nil {
		m.logger.Error(err, "Failed to ack command status", "commandID", commandID, "status", status, "message", message)
	}
}

func (m *Manager) tryAcquire(commandID string) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.upgrading {
		return false
	}
	m.upgrading = true
	m.active = commandID
	m.wg.Add(1)
	return true
}

func (m *Manager) release() {
	m.lock.Lock()
	m.upgrading = false
	m.active = ""
	m.lock.Unlock()
	m.wg.Done()
}

func (m *Manager) activeCommand() string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.active
}

// onSessionEvent forwards session progress of the active command to the hub.
func (m *Manager) onSessionEvent(snap Snapshot) {
	commandID := m.activeCommand()
	if commandID == "" {
		return
	}

	ctx := m.runContext(context.Background())
	if snap.Phase == PhaseRestarting {
		m.AckCommand(ctx, commandID, core.CommandRunning, "Rebooting into new firmware")
		return
	}

	progress := &core.Progress{
		CommandID:    commandID,
		Phase:        string(snap.Phase),
		Percentage:   snap.Percent(),
		BytesWritten: snap.BytesWritten,
		TotalBytes:   snap.TotalBytes,
	}
	if err := m.sender.SendJSON(ctx, core.EventOTAProgress, progress); err != nil {
		m.logger.Error(err, "Failed to publish update progress", "commandID", commandID)
	}
}

func (m *Manager) runContext(fallback context.Context) context.Context {
	if m.ctx != nil {
		return m.ctx
	}
	return fallback
}
