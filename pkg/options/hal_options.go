package options

import (
	"errors"
	"fmt"

	"github.com/spf13/pflag"
)

var _ IOptions = (*HALOptions)(nil)

// Reboot modes understood by the HAL restarter.
const (
	RebootModeSystem   = "system"
	RebootModeExec     = "exec"
	RebootModeSimulate = "simulate"
)

// HALOptions configures the device adapters: flash banks, persistent store and restart.
type HALOptions struct {
	// DataDir holds the flash bank images, the boot record and the persistent store.
	DataDir string `json:"data-dir" mapstructure:"data-dir"`

	// BankSize is the capacity of one flash bank in bytes.
	BankSize int64 `json:"bank-size" mapstructure:"bank-size"`

	// VerifyImage enables the app image header check when an update is finalized.
	VerifyImage bool `json:"verify-image" mapstructure:"verify-image"`

	// RebootMode selects how a restart is carried out: system, exec or simulate.
	RebootMode string `json:"reboot-mode" mapstructure:"reboot-mode"`
}

// NewHALOptions creates a HALOptions with default values.
func NewHALOptions() *HALOptions {
	return &HALOptions{
		DataDir:     "/var/lib/ota-agent",
		BankSize:    4 << 20,
		VerifyImage: true,
		RebootMode:  RebootModeSimulate,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *HALOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.DataDir == "" {
		errs = append(errs, errors.New("--hal.data-dir must not be empty"))
	}
	if o.BankSize <= 0 {
		errs = append(errs, fmt.Errorf("--hal.bank-size must be positive, got %d", o.BankSize))
	}
	switch o.RebootMode {
	case RebootModeSystem, RebootModeExec, RebootModeSimulate:
	default:
		errs = append(errs, fmt.Errorf("--hal.reboot-mode must be one of system, exec, simulate; got %q", o.RebootMode))
	}

	return errs
}

// AddFlags adds flags for HALOptions to the specified FlagSet.
func (o *HALOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DataDir, "hal.data-dir", o.DataDir, "Directory holding flash banks, boot record and persistent store.")
	fs.Int64Var(&o.BankSize, "hal.bank-size", o.BankSize, "Capacity of a single flash bank in bytes.")
	fs.BoolVar(&o.VerifyImage, "hal.verify-image", o.VerifyImage, "Check the app image header before marking an update bootable.")
	fs.StringVar(&o.RebootMode, "hal.reboot-mode", o.RebootMode, "How to restart after an update: system, exec or simulate.")
}
