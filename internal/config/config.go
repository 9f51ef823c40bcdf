// Package config loads rdpd's layered configuration: defaults, an optional
// YAML file, environment variables, and CLI flags, in that increasing
// priority order via viper.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the daemon's full runtime configuration.
type Config struct {
	Display struct {
		Index int `mapstructure:"index" yaml:"index"`
	} `mapstructure:"display" yaml:"display"`

	Listen struct {
		Address string `mapstructure:"address" yaml:"address"`
		TLSCert string `mapstructure:"tls_cert" yaml:"tls_cert"`
		TLSKey  string `mapstructure:"tls_key" yaml:"tls_key"`
	} `mapstructure:"listen" yaml:"listen"`

	Encoding struct {
		Mode                 string        `mapstructure:"mode" yaml:"mode"`
		LargeChangeThreshold float64       `mapstructure:"large_change_threshold" yaml:"large_change_threshold"`
		RefreshIntervalFrames int          `mapstructure:"refresh_interval_frames" yaml:"refresh_interval_frames"`
		RefreshTimeout       time.Duration `mapstructure:"refresh_timeout" yaml:"refresh_timeout"`
	} `mapstructure:"encoding" yaml:"encoding"`

	Dispatch struct {
		SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
	} `mapstructure:"dispatch" yaml:"dispatch"`

	Log struct {
		Level string `mapstructure:"level" yaml:"level"`
	} `mapstructure:"log" yaml:"log"`
}

// Defaults returns the configuration used when no file, environment
// variable, or flag overrides a field.
func Defaults() Config {
	var c Config
	c.Display.Index = 0
	c.Listen.Address = ":3389"
	c.Encoding.Mode = "auto"
	c.Encoding.LargeChangeThreshold = 0.15
	c.Encoding.RefreshIntervalFrames = 4
	c.Encoding.RefreshTimeout = 2 * time.Second
	c.Dispatch.SocketPath = "/run/rdpd/control.sock"
	c.Log.Level = "info"
	return c
}

// Load builds a Config from (in ascending priority) built-in defaults, an
// optional YAML file at path, environment variables prefixed RDPD_, and CLI
// flags already registered on flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("RDPD")
	v.AutomaticEnv()

	defaults := Defaults()
	v.SetDefault("display.index", defaults.Display.Index)
	v.SetDefault("listen.address", defaults.Listen.Address)
	v.SetDefault("encoding.mode", defaults.Encoding.Mode)
	v.SetDefault("encoding.large_change_threshold", defaults.Encoding.LargeChangeThreshold)
	v.SetDefault("encoding.refresh_interval_frames", defaults.Encoding.RefreshIntervalFrames)
	v.SetDefault("encoding.refresh_timeout", defaults.Encoding.RefreshTimeout)
	v.SetDefault("dispatch.socket_path", defaults.Dispatch.SocketPath)
	v.SetDefault("log.level", defaults.Log.Level)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("config: bind flags: %w", err)
		}
	}

	var out Config
	if err := v.Unmarshal(&out); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return out, nil
}

// WriteExampleFile renders the default configuration as YAML to path, as a
// starter config file that Load can read back.
func WriteExampleFile(path string) error {
	data, err := yaml.Marshal(Defaults())
	if err != nil {
		return fmt.Errorf("config: marshal defaults: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
