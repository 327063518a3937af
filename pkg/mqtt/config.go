package mqtt

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/autopeer-io/otaagent/pkg/log"
)

// Defaults applied by NewClient.
const (
	DefaultKeepAlive      uint16 = 60
	DefaultConnectTimeout        = 5 * time.Second
	DefaultReconnectDelay        = 3 * time.Second
)

// ClientConfig configures a Client.
type ClientConfig struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds.
	KeepAlive      uint16
	ConnectTimeout time.Duration
	// ReconnectDelay is the pause between connection attempts.
	ReconnectDelay time.Duration

	// SessionExpiry is the MQTT v5 session expiry interval in seconds.
	SessionExpiry uint32

	// CleanStart discards the broker-side session on the first connect.
	// Devices keep it false so commands queued while offline are delivered.
	CleanStart bool

	InsecureSkipVerify bool

	// Last will, published by the broker when the device drops off without DISCONNECT.
	WillTopic   string
	WillPayload []byte
	WillQoS     byte
	WillRetain  bool

	// Logger defaults to the package logger.
	Logger log.Logger
}

func setDefaultConfig(cfg *ClientConfig) {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = DefaultKeepAlive
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Std()
	}
}

func (c *ClientConfig) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	u, err := url.Parse(c.BrokerURL)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("broker url %q must be scheme://host:port", c.BrokerURL)
	}
	if c.ClientID == "" {
		return errors.New("client id is required")
	}
	if c.WillQoS > 2 {
		return fmt.Errorf("will qos %d is out of range", c.WillQoS)
	}
	return nil
}
