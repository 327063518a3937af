package agent

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/autopeer-io/otaagent/internal/agent/hal"
	"github.com/autopeer-io/otaagent/pkg/options"
)

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := &Config{
		Agent: options.NewAgentOptions(),
		OTA:   options.NewOTAOptions(),
		HAL:   options.NewHALOptions(),
		Mqtt:  options.NewMqttOptions(),
		Http:  options.NewHttpOptions(),
		S3:    options.NewS3Options(),
	}
	cfg.Agent.DeviceID = "dev-1"
	cfg.OTA.IdleTimeout = 30 * time.Second
	cfg.HAL.DataDir = t.TempDir()
	cfg.HAL.BankSize = 1 << 16
	cfg.Mqtt.Broker = "tcp://127.0.0.1:1883"
	cfg.Http.Addr = ""
	return cfg
}

func TestNewAgentWiresAdapters(t *testing.T) {
	cfg := testConfig(t)

	a, err := cfg.NewAgent()
	if err != nil {
		t.Fatalf("NewAgent() error = %v", err)
	}

	if a.deviceID != "dev-1" || len(a.modules) != 1 || a.server != nil {
		t.Errorf("agent = %+v", a)
	}
	if a.restartRequested == nil {
		t.Error("simulated reboot mode should expose a restart channel")
	}
	if _, err := os.Stat(filepath.Join(cfg.HAL.DataDir, "flash", "otadata.toml")); err != nil {
		t.Errorf("boot record not created: %v", err)
	}
	if pending, err := a.guard.PendingValidation(); err != nil || pending {
		t.Errorf("PendingValidation() = %v, %v on a fresh device", pending, err)
	}
	if a.bootBank() != 0 {
		t.Errorf("bootBank() = %d, want 0", a.bootBank())
	}
}

func TestNewAgentRequiresDeviceID(t *testing.T) {
	cfg := testConfig(t)
	cfg.Agent.DeviceID = ""
	cfg.Agent.DeviceIDFile = filepath.Join(t.TempDir(), "missing")
	t.Setenv(DeviceIDEnv, "")

	if _, err := cfg.NewAgent(); err == nil {
		t.Fatal("NewAgent() without a device id succeeded")
	}
}

func TestNewRestarter(t *testing.T) {
	tests := []struct {
		mode      string
		simulated bool
	}{
		{options.RebootModeSystem, false},
		{options.RebootModeExec, false},
		{options.RebootModeSimulate, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.HAL.RebootMode = tt.mode

			r, requested := cfg.newRestarter(nil)
			_, ok := r.(*hal.SimulatedRestarter)
			if ok != tt.simulated || (requested != nil) != tt.simulated {
				t.Errorf("restarter %T, channel %v", r, requested)
			}
		})
	}
}

func TestDiscoverDeviceID(t *testing.T) {
	file := filepath.Join(t.TempDir(), "device-id")
	if err := os.WriteFile(file, []byte("  from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		env  string
		file string
		want string
	}{
		{name: "env wins", env: "from-env", file: file, want: "from-env"},
		{name: "file", file: file, want: "from-file"},
		{name: "missing file", file: file + ".missing", want: ""},
		{name: "no source", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(DeviceIDEnv, tt.env)
			if got := DiscoverDeviceID(tt.file); got != tt.want {
				t.Errorf("DiscoverDeviceID() = %q, want %q", got, tt.want)
			}
		})
	}
}
