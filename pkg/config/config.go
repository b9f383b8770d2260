// Package config loads service configuration from a YAML file with environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const configDir = "configs"

// Load reads the configuration of serviceName into out.
//
// The file is taken from CONFIG_PATH when set, otherwise from
// configs/<serviceName>.yaml and then configs/<APP_ENV>/<serviceName>.yaml.
// Every key can be overridden by an environment variable prefixed with the
// upper-cased service name, with dots replaced by underscores
// (billing: stripe.webhook_secret -> BILLING_STRIPE_WEBHOOK_SECRET).
func Load(serviceName string, defaults map[string]interface{}, out interface{}) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(strings.ToUpper(serviceName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		env := os.Getenv("APP_ENV")
		if env == "" {
			env = "dev"
		}
		v.SetConfigName(serviceName)
		v.AddConfigPath(configDir)
		v.AddConfigPath(filepath.Join(configDir, env))
	}

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(out); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return nil
}
