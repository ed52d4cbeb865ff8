// This file defines the configuration structure for the application.
package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration settings for the application.
// It maps directly to the structure of config.yml.
type Config struct {
	Port        int    `mapstructure:"port"`
	HostVersion string `mapstructure:"host_version"`
	Database    struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Plugins struct {
		Path           string `mapstructure:"path"`
		DefaultProfile string `mapstructure:"default_profile"`
		SettleDelayMs  int    `mapstructure:"settle_delay_ms"`
	} `mapstructure:"plugins"`
	Registry struct {
		URL             string `mapstructure:"url"`
		RefreshInterval int    `mapstructure:"refresh_interval"` // minutes, 0 disables
		Timeout         int    `mapstructure:"timeout"`          // seconds
		RetryMax        int    `mapstructure:"retry_max"`
	} `mapstructure:"registry"`
	GitHub struct {
		DefaultBranch string `mapstructure:"default_branch"`
	} `mapstructure:"github"`
	Report struct {
		URLTemplate string `mapstructure:"url_template"`
	} `mapstructure:"report"`
}

// Load reads configuration from a file named "config.yml" in the
// current directory and unmarshals it into a Config struct.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom is Load with an explicit directory to look for config.yml in.
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(dir)

	// PLUGMAN_REGISTRY_URL overrides `registry.url`, and so on.
	v.SetEnvPrefix("PLUGMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("host_version", "1.0.0")
	v.SetDefault("database.path", "./plugman.db")
	v.SetDefault("plugins.path", "./plugins")
	v.SetDefault("plugins.default_profile", "default")
	v.SetDefault("plugins.settle_delay_ms", 500)
	v.SetDefault("registry.url", "https://registry.plugman.dev/api/plugins")
	v.SetDefault("registry.refresh_interval", 60)
	v.SetDefault("registry.timeout", 30)
	v.SetDefault("registry.retry_max", 3)
	v.SetDefault("github.default_branch", "master")
	v.SetDefault("report.url_template", "https://github.com/plugman/registry/issues/new?title=Report+{id}+{version}")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error was produced
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
