package options

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/otaagent/pkg/mqtt"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions configures the device's link to the update service broker.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	// ClientID defaults to ota-agent-<device id>.
	ClientID string `json:"client-id" mapstructure:"client-id"`

	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify disables broker certificate checks. Bench use only.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// TopicRoot prefixes every topic: {TopicRoot}/{segment}/{deviceID}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`
}

func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:         "tcp://localhost:1883",
		KeepAlive:      time.Duration(mqtt.DefaultKeepAlive) * time.Second,
		ConnectTimeout: mqtt.DefaultConnectTimeout,
		ReconnectDelay: mqtt.DefaultReconnectDelay,
		SessionExpiry:  300,
		TopicRoot:      "ota/v1",
	}
}

func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Broker == "" {
		errs = append(errs, fmt.Errorf("--mqtt.broker is required"))
	} else if u, err := url.Parse(o.Broker); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.broker: %w", err))
	} else if u.Host == "" {
		errs = append(errs, fmt.Errorf("--mqtt.broker %q has no host", o.Broker))
	}
	if o.TopicRoot == "" {
		errs = append(errs, fmt.Errorf("--mqtt.topic-root must not be empty"))
	}
	if o.KeepAlive < time.Second && o.KeepAlive != 0 {
		errs = append(errs, fmt.Errorf("--mqtt.keep-alive must be at least 1s"))
	}
	if o.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("--mqtt.reconnect-delay must not be negative"))
	}
	return errs
}

func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "Broker URL, e.g. tcp://host:1883 or ssl://host:8883.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "Broker username.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "Broker password.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "MQTT client id. Defaults to ota-agent-<device id>.")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "Keep alive interval, whole seconds.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout of a single connection attempt.")
	fs.DurationVar(&o.ReconnectDelay, "mqtt.reconnect-delay", o.ReconnectDelay, "Pause between connection attempts.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "Session expiry interval in seconds.")
	fs.BoolVar(&o.CleanStart, "mqtt.clean-start", o.CleanStart, "Start a clean session instead of resuming queued commands.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "Skip broker TLS certificate verification.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Topic prefix shared with the update service.")
}

// ToClientConfig returns the client settings. Will and logger are left to the caller.
func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive / time.Second),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectDelay:     o.ReconnectDelay,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
