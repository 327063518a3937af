package ota

import (
	"context"
	"fmt"

	"github.com/autopeer-io/otaagent/internal/pkg/metrics"
)

// MarkAsValid confirms the running image when it is pending validation.
// The flag is cleared only after the platform cancelled the rollback.
// Calling it again, or with no pending image, does nothing.
func (u *Updater) MarkAsValid(ctx context.Context) (err error) {
	ns, err := u.deps.Store.Open(u.namespace, false)
	if err != nil {
		return fmt.Errorf("open namespace %q: %w", u.namespace, err)
	}
	defer func() {
		if cerr := ns.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close namespace %q: %w", u.namespace, cerr)
		}
	}()

	if !ns.Bool(KeyPendingValidation, false) {
		u.logger.Debug("No pending firmware to validate")
		metrics.RollbackActionsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	if err := u.deps.Rollback.MarkValidCancelRollback(); err != nil {
		return fmt.Errorf("cancel rollback: %w", err)
	}
	if err := ns.PutBool(KeyPendingValidation, false); err != nil {
		return fmt.Errorf("clear %s: %w", KeyPendingValidation, err)
	}

	metrics.RollbackActionsTotal.WithLabelValues("mark_valid").Inc()
	metrics.PendingValidation.Set(0)
	u.logger.Info("Firmware marked as valid", "version", ns.String(KeyAppVersion, ""))
	return nil
}

// MarkAsInvalid rolls back to the other bank and reboots when a valid image is there.
// Without a rollback target it returns nil and the device keeps running.
//
// The persisted version and flag are left untouched; after the rollback they describe
// the rejected image until the next versioned update.
func (u *Updater) MarkAsInvalid(ctx context.Context) error {
	if !u.deps.Rollback.CheckRollbackPossible() {
		u.logger.Warn("Rollback not possible, keeping current firmware")
		metrics.RollbackActionsTotal.WithLabelValues("noop").Inc()
		return nil
	}

	u.logger.Warn("Firmware marked as invalid, rolling back")
	metrics.RollbackActionsTotal.WithLabelValues("mark_invalid").Inc()
	if err := u.deps.Rollback.MarkInvalidRollbackAndReboot(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}
