package ota

import (
	"context"
	"errors"
	"fmt"

	"github.com/autopeer-io/otaagent/internal/agent/core"
)

func (m *Manager) HandleCommand(ctx context.Context, cmd *core.Command) error {
	m.logger.Info("Processing command", "type", cmd.Type, "commandID", cmd.CommandID, "params", cmd.Parameters)

	if cmd.Type != CommandTypeOTA {
		return nil
	}

	url := cmd.Parameters["url"]
	if url == "" {
		m.AckCommand(ctx, cmd.CommandID, core.CommandFailed, "missing url parameter")
		return fmt.Errorf("command %s: missing url parameter", cmd.CommandID)
	}

	if !m.tryAcquire(cmd.CommandID) {
		m.AckCommand(ctx, cmd.CommandID, core.CommandFailed, ErrUpdateInProgress.Error())
		return fmt.Errorf("command %s: %w", cmd.CommandID, ErrUpdateInProgress)
	}

	m.AckCommand(ctx, cmd.CommandID, core.CommandReceived, "Update accepted")

	go m.execute(m.runContext(ctx), cmd.CommandID, cmd.Parameters["version"], url)

	return nil
}

func (m *Manager) execute(ctx context.Context, commandID, version, url string) {
	defer m.release()

	m.AckCommand(ctx, commandID, core.CommandRunning, "Downloading firmware")

	// Without a version the update is unconditional and no bookkeeping is kept.
	if version == "" {
		if err := m.updater.PerformUpdateAndRestart(ctx, url); err != nil {
			m.fail(ctx, commandID, err)
			return
		}
		m.AckCommand(ctx, commandID, core.CommandSucceeded, "Update installed")
		return
	}

	updated, err := m.updater.BeginVersionedUpdate(ctx, version, url)
	switch {
	case err != nil:
		m.fail(ctx, commandID, err)
	case !updated:
		m.AckCommand(ctx, commandID, core.CommandUpToDate, fmt.Sprintf("Firmware already at %s", version))
	default:
		m.AckCommand(ctx, commandID, core.CommandSucceeded, fmt.Sprintf("Firmware %s installed", version))
	}
}

func (m *Manager) fail(ctx context.Context, commandID string, err error) {
	m.logger.Error(err, "Update failed", "commandID", commandID)

	if errors.Is(err, context.Canceled) {
		// The agent is shutting down; the publish would fail as well.
		return
	}
	m.AckCommand(ctx, commandID, core.CommandFailed, err.Error())
}
