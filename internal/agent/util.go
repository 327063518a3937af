package agent

import (
	"os"
	"strings"

	"github.com/autopeer-io/otaagent/pkg/log"
)

const (
	// DeviceIDEnv overrides every other device id source.
	DeviceIDEnv = "OTA_DEVICE_ID"

	// DefaultDeviceIDFile is written by provisioning.
	DefaultDeviceIDFile = "/etc/ota-agent/device-id"
)

// DiscoverDeviceID returns the device identity from the environment or, failing
// that, from file. It returns "" when neither is set.
func DiscoverDeviceID(file string) string {
	if envID := strings.TrimSpace(os.Getenv(DeviceIDEnv)); envID != "" {
		log.Info("DeviceID detected from env", "id", envID)
		return envID
	}

	if file == "" {
		return ""
	}
	if content, err := os.ReadFile(file); err == nil {
		if id := strings.TrimSpace(string(content)); id != "" {
			log.Info("DeviceID detected from file", "id", id, "path", file)
			return id
		}
	}

	return ""
}
