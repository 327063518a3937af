package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/otaagent/internal/agent/core"
	"github.com/autopeer-io/otaagent/internal/agent/hal"
	"github.com/autopeer-io/otaagent/internal/agent/hub"
	"github.com/autopeer-io/otaagent/internal/agent/ota"
	"github.com/autopeer-io/otaagent/internal/agent/source"
	"github.com/autopeer-io/otaagent/internal/pkg/mqtt/paths"
	"github.com/autopeer-io/otaagent/pkg/log"
	"github.com/autopeer-io/otaagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/otaagent/pkg/mqtt/topic"
	"github.com/autopeer-io/otaagent/pkg/options"
)

// Config is the completed agent configuration.
type Config struct {
	Agent *options.AgentOptions
	OTA   *options.OTAOptions
	HAL   *options.HALOptions
	Mqtt  *options.MqttOptions
	Http  *options.HttpOptions
	S3    *options.S3Options
}

// NewAgent wires the device adapters, the update core and the hub link.
func (cfg *Config) NewAgent() (*Agent, error) {
	deviceID := cfg.Agent.DeviceID
	if deviceID == "" {
		deviceID = DiscoverDeviceID(cfg.Agent.DeviceIDFile)
	}
	if deviceID == "" {
		return nil, errors.New("unable to determine the device id, set --agent.device-id or " + DeviceIDEnv)
	}

	halLogger := log.WithName("hal")

	store, err := hal.NewFileStore(filepath.Join(cfg.HAL.DataDir, "nvs"))
	if err != nil {
		return nil, fmt.Errorf("failed to open persistent store: %w", err)
	}

	restarter, restartRequested := cfg.newRestarter(halLogger)

	flash, err := hal.OpenFlash(hal.FlashConfig{
		Dir:         filepath.Join(cfg.HAL.DataDir, "flash"),
		BankSize:    cfg.HAL.BankSize,
		VerifyImage: cfg.HAL.VerifyImage,
		Restarter:   restarter,
	}, halLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash: %w", err)
	}

	locator, err := source.NewLocator(cfg.S3, cfg.OTA.InsecureSkipVerify)
	if err != nil {
		return nil, fmt.Errorf("failed to init firmware locator: %w", err)
	}

	transport := hal.NewHTTPTransport(hal.TransportConfig{
		ConnectTimeout:     cfg.OTA.ConnectTimeout,
		InsecureSkipVerify: cfg.OTA.InsecureSkipVerify,
	}, halLogger)

	otaLogger := log.WithName("ota")
	updater, err := ota.NewUpdater(ota.Dependencies{
		Transport: transport,
		Sink:      flash,
		Store:     store,
		Restarter: restarter,
		Rollback:  flash,
		Locator:   locator,
	},
		ota.WithNamespace(cfg.OTA.Namespace),
		ota.WithIdleTimeout(cfg.OTA.IdleTimeout),
		ota.WithChunkSize(cfg.OTA.ChunkSize),
		ota.WithProgressStep(cfg.OTA.ProgressStep),
		ota.WithMaxRedirects(cfg.OTA.MaxRedirects),
		ota.WithYielder(ota.NewClockYielder(clock.RealClock{}, cfg.OTA.PollInterval)),
		ota.WithLogger(otaLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to init updater: %w", err)
	}

	mqttClient, topicBuilder, err := cfg.initMqttClientAndTopicBuilder(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	link := hub.New(deviceID, mqttClient, topicBuilder, log.WithName("hub"))

	a := &Agent{
		deviceID:          deviceID,
		hub:               link,
		guard:             updater,
		modules:           []core.Module{ota.NewManager(updater, otaLogger)},
		bootBank:          flash.BootBank,
		validationTimeout: cfg.Agent.ValidationTimeout,
		restartRequested:  restartRequested,
		clock:             clock.RealClock{},
		logger:            log.WithValues("deviceID", deviceID),
	}
	if cfg.Http.Addr != "" {
		a.server = NewServer(cfg.Http, link.IsConnected, log.WithName("http"))
	}

	return a, nil
}

// newRestarter returns the restarter for the configured reboot mode. The channel
// is closed when a simulated restart is requested and is nil otherwise.
func (cfg *Config) newRestarter(logger log.Logger) (core.Restarter, <-chan struct{}) {
	switch cfg.HAL.RebootMode {
	case options.RebootModeSystem:
		return hal.NewSystemRestarter(logger), nil
	case options.RebootModeExec:
		return hal.NewExecRestarter(logger), nil
	default:
		r := hal.NewSimulatedRestarter(logger)
		return r, r.Requested()
	}
}

func (cfg *Config) initMqttClientAndTopicBuilder(deviceID string) (mqtt.Client, *mqtttopic.Builder, error) {
	topicBuilder := mqtttopic.NewBuilder(cfg.Mqtt.TopicRoot)

	mqttConfig := cfg.Mqtt.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("ota-agent-%s", deviceID)
	}

	offlinePayload, err := json.Marshal(core.OnlineStatus{
		DeviceID: deviceID,
		Online:   false,
		Reason:   "UnexpectedDisconnect",
	})
	if err != nil {
		return nil, nil, err
	}

	mqttConfig.WillTopic = topicBuilder.Build(paths.Online, deviceID)
	mqttConfig.WillPayload = offlinePayload
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true
	mqttConfig.Logger = log.WithName("mqtt")

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}

	return mqttClient, topicBuilder, nil
}
