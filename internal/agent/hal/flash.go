package hal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/pkg/log"
)

// FlashConfig configures an emulated dual-bank flash.
type FlashConfig struct {
	// Dir holds bank0.bin, bank1.bin and the boot record.
	Dir string
	// BankSize is the capacity of each bank in bytes.
	BankSize int64
	// VerifyImage checks the app image header when a session is finalized.
	VerifyImage bool
	// Restarter reboots the device after a rollback.
	Restarter core.Restarter
}

// Flash emulates a two-bank flash with a bootloader-maintained boot record.
// It is both the update sink and the rollback platform.
type Flash struct {
	mu  sync.Mutex
	cfg FlashConfig
	// rec.Boot is the bank for the next boot; running is fixed when the flash is opened.
	rec     BootRecord
	running int

	logger log.Logger

	// Open session.
	file    *os.File
	target  int
	total   int64
	written int64

	finished bool
}

// ErrRunningUnconfirmed is returned by Begin while the running image awaits
// validation. Overwriting the other bank would destroy the only rollback target.
var ErrRunningUnconfirmed = errors.New("running image is not validated yet")

var (
	_ core.FlashSink        = (*Flash)(nil)
	_ core.RollbackPlatform = (*Flash)(nil)
)

// OpenFlash loads the boot record and applies the boot-time transitions a
// bootloader performs: a freshly installed image becomes pending_verify, and an
// image still pending from the previous boot is aborted in favour of the other bank.
func OpenFlash(cfg FlashConfig, logger log.Logger) (*Flash, error) {
	if cfg.Dir == "" {
		return nil, errors.New("flash directory is required")
	}
	if cfg.BankSize <= 0 {
		return nil, errors.New("bank size must be greater than zero")
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create flash directory: %w", err)
	}

	rec, err := loadOrInitBootRecord(cfg.Dir)
	if err != nil {
		return nil, err
	}

	f := &Flash{cfg: cfg, rec: rec, logger: logger}
	f.boot()
	f.running = f.rec.Boot

	if err := saveBootRecord(cfg.Dir, f.rec); err != nil {
		return nil, err
	}

	logger.Info("Flash opened", "bootBank", f.rec.Boot, "state", f.rec.Banks[f.rec.Boot].State)
	return f, nil
}

func (f *Flash) boot() {
	active := &f.rec.Banks[f.rec.Boot]
	switch active.State {
	case BankNew:
		active.State = BankPendingVerify
		f.logger.Info("Booting new image, validation pending", "bank", f.rec.Boot)
	case BankPendingVerify:
		active.State = BankAborted
		if f.rec.Banks[f.rec.other()].State == BankValid {
			f.logger.Warn("Image was not validated before reboot, rolling back", "bank", f.rec.Boot, "to", f.rec.other())
			f.rec.Boot = f.rec.other()
		} else {
			f.logger.Warn("Image was not validated before reboot and no rollback target exists", "bank", f.rec.Boot)
		}
	}
}

func (f *Flash) bankPath(bank int) string {
	return filepath.Join(f.cfg.Dir, fmt.Sprintf("bank%d.bin", bank))
}

// Record returns a copy of the current boot record.
func (f *Flash) Record() BootRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := f.rec
	rec.Banks = append([]BankInfo(nil), f.rec.Banks...)
	return rec
}

// BootBank returns the bank the device booted from.
func (f *Flash) BootBank() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *Flash) inactive() int {
	return 1 - f.running
}

func (f *Flash) Begin(total int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return errors.New("a flash session is already open")
	}
	if total <= 0 {
		return fmt.Errorf("invalid image size %d", total)
	}
	if total > f.cfg.BankSize {
		return fmt.Errorf("image of %d bytes exceeds bank capacity of %d bytes", total, f.cfg.BankSize)
	}

	switch state := f.rec.Banks[f.running].State; state {
	case BankNew, BankPendingVerify:
		return fmt.Errorf("%w: bank %d is %s", ErrRunningUnconfirmed, f.running, state)
	}

	target := f.inactive()
	file, err := os.OpenFile(f.bankPath(target), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("erase bank %d: %w", target, err)
	}

	f.rec.Banks[target] = BankInfo{State: BankUndefined}
	// An image installed earlier without a reboot is erased, so boot the running bank again.
	f.rec.Boot = f.running
	if err := saveBootRecord(f.cfg.Dir, f.rec); err != nil {
		file.Close()
		return err
	}

	f.file = file
	f.target = target
	f.total = total
	f.written = 0
	f.finished = false

	f.logger.Debug("Flash session opened", "bank", target, "size", total)
	return nil
}

func (f *Flash) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return 0, errors.New("no flash session open")
	}
	if f.written+int64(len(p)) > f.total {
		return 0, fmt.Errorf("write of %d bytes at offset %d exceeds declared size %d", len(p), f.written, f.total)
	}

	n, err := f.file.Write(p)
	f.written += int64(n)
	return n, err
}

// End closes the session, verifies the image and selects its bank for the next boot.
// On failure the bank is marked invalid and the boot selection is unchanged.
func (f *Flash) End() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return errors.New("no flash session open")
	}
	file := f.file
	f.file = nil

	if err := file.Sync(); err != nil {
		file.Close()
		return f.reject(fmt.Errorf("sync bank %d: %w", f.target, err))
	}
	if err := file.Close(); err != nil {
		return f.reject(fmt.Errorf("close bank %d: %w", f.target, err))
	}

	if f.written != f.total {
		return f.reject(fmt.Errorf("image incomplete: %d of %d bytes written", f.written, f.total))
	}
	if f.cfg.VerifyImage {
		if err := verifyImage(f.bankPath(f.target), f.total); err != nil {
			return f.reject(err)
		}
	}

	f.rec.Banks[f.target] = BankInfo{State: BankNew, Size: f.total, Seq: f.rec.nextSeq()}
	f.rec.Boot = f.target
	if err := saveBootRecord(f.cfg.Dir, f.rec); err != nil {
		return err
	}

	f.finished = true
	f.logger.Info("Image written and selected for next boot", "bank", f.target, "size", f.total)
	return nil
}

func (f *Flash) reject(cause error) error {
	f.rec.Banks[f.target] = BankInfo{State: BankInvalid}
	if err := saveBootRecord(f.cfg.Dir, f.rec); err != nil {
		f.logger.Error(err, "Failed to record rejected image", "bank", f.target)
	}
	return cause
}

func (f *Flash) IsFinished() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finished
}

// Abort discards the open session and leaves the target bank undefined.
func (f *Flash) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.logger.Warn("Flash session aborted", "bank", f.target, "written", f.written, "total", f.total)
	return err
}

// MarkValidCancelRollback confirms the running image.
func (f *Flash) MarkValidCancelRollback() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	active := &f.rec.Banks[f.running]
	switch active.State {
	case BankValid:
		return nil
	case BankPendingVerify:
		active.State = BankValid
		return saveBootRecord(f.cfg.Dir, f.rec)
	default:
		return fmt.Errorf("running bank %d is %s", f.running, active.State)
	}
}

// CheckRollbackPossible reports whether the other bank holds a valid image.
func (f *Flash) CheckRollbackPossible() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rec.Banks[f.inactive()].State == BankValid
}

// MarkInvalidRollbackAndReboot marks the running image invalid, boots the
// other bank and restarts.
func (f *Flash) MarkInvalidRollbackAndReboot() error {
	if f.cfg.Restarter == nil {
		return errors.New("no restarter configured")
	}

	f.mu.Lock()
	if f.file != nil {
		f.mu.Unlock()
		return errors.New("a flash session is open")
	}
	if f.rec.Banks[f.inactive()].State != BankValid {
		f.mu.Unlock()
		return errors.New("no valid image to roll back to")
	}
	f.rec.Banks[f.running].State = BankInvalid
	f.rec.Boot = f.inactive()
	err := saveBootRecord(f.cfg.Dir, f.rec)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	return f.cfg.Restarter.Restart(context.Background())
}
