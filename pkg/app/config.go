package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const configFlagName = "config"

// addConfigFlag registers --config on fs and returns where the path is stored.
func addConfigFlag(basename string, fs *pflag.FlagSet) *string {
	return fs.StringP(configFlagName, "c", "",
		fmt.Sprintf("Read configuration from the specified file; defaults to $HOME/.%s/%s.yaml, then /etc/%s/%s.yaml.", basename, basename, basename, basename))
}

// loadConfig prepares v to read the config file and the environment. Values
// from flags set on the command line take precedence over both.
func loadConfig(v *viper.Viper, basename, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, "."+basename))
		}
		v.AddConfigPath(filepath.Join("/etc", basename))
		v.SetConfigName(basename)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(envPrefix(basename))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && cfgFile == "" {
			return nil
		}
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	return nil
}

func envPrefix(basename string) string {
	return strings.ToUpper(strings.ReplaceAll(basename, "-", "_"))
}
