package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*AgentOptions)(nil)

// AgentOptions holds the device identity and boot validation settings.
type AgentOptions struct {
	// DeviceID names the device on the hub. When empty it is discovered from
	// the OTA_DEVICE_ID environment variable or DeviceIDFile.
	DeviceID     string `json:"device-id" mapstructure:"device-id"`
	DeviceIDFile string `json:"device-id-file" mapstructure:"device-id-file"`

	// ValidationTimeout is how long a pending image has to reach the hub
	// before it is rolled back.
	ValidationTimeout time.Duration `json:"validation-timeout" mapstructure:"validation-timeout"`
}

func NewAgentOptions() *AgentOptions {
	return &AgentOptions{
		DeviceIDFile:      "/etc/ota-agent/device-id",
		ValidationTimeout: 2 * time.Minute,
	}
}

func (o *AgentOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.ValidationTimeout <= 0 {
		errs = append(errs, fmt.Errorf("--agent.validation-timeout must be positive, got %s", o.ValidationTimeout))
	}

	return errs
}

func (o *AgentOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.DeviceID, "agent.device-id", o.DeviceID, "Device identity used in hub topics. Discovered when empty.")
	fs.StringVar(&o.DeviceIDFile, "agent.device-id-file", o.DeviceIDFile, "File holding the device identity when --agent.device-id and OTA_DEVICE_ID are unset.")
	fs.DurationVar(&o.ValidationTimeout, "agent.validation-timeout", o.ValidationTimeout, "How long newly installed firmware has to reach the hub before it is rolled back.")
}
