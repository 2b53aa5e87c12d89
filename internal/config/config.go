// Package config loads device configuration from file, environment, and
// defaults, in that order of increasing precedence for the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all tunables for a tally device.
type Config struct {
	// DataDir is the device state directory (database, trigger file,
	// daemon log).
	DataDir string `mapstructure:"data_dir"`

	// RemoteURL is the base URL of the authoritative remote store.
	RemoteURL string `mapstructure:"remote_url"`

	// APIKey authenticates the device against the remote store.
	APIKey string `mapstructure:"api_key"`

	// ProbeInterval is the connectivity probe cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// BadgePollInterval is the badge recomputation cadence.
	BadgePollInterval time.Duration `mapstructure:"badge_poll_interval"`

	// PartitionTimeout bounds each push partition and the pull step.
	PartitionTimeout time.Duration `mapstructure:"partition_timeout"`

	// AttemptCeiling is the rejected-push retry limit before an outbox
	// entry is flagged for manual review.
	AttemptCeiling int `mapstructure:"attempt_ceiling"`

	// SeverityThreshold is the HIGH-severity cutoff for cash
	// differences, in minor currency units.
	SeverityThreshold int64 `mapstructure:"severity_threshold"`

	// StatusAddr is the diagnostics endpoint bind address.
	StatusAddr string `mapstructure:"status_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir:           filepath.Join(home, ".tally"),
		RemoteURL:         "http://localhost:8090",
		ProbeInterval:     30 * time.Second,
		BadgePollInterval: 5 * time.Second,
		PartitionTimeout:  15 * time.Second,
		AttemptCeiling:    5,
		SeverityThreshold: 500,
		StatusAddr:        "127.0.0.1:7337",
	}
}

// Load reads configuration from the given file (optional), the TALLY_*
// environment, and defaults.
//
// A missing config file is not an error when path is empty; an explicit
// path that cannot be read is.
func Load(path string) (*Config, error) {
	def := Default()

	v := viper.New()
	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("remote_url", def.RemoteURL)
	v.SetDefault("api_key", "")
	v.SetDefault("probe_interval", def.ProbeInterval)
	v.SetDefault("badge_poll_interval", def.BadgePollInterval)
	v.SetDefault("partition_timeout", def.PartitionTimeout)
	v.SetDefault("attempt_ceiling", def.AttemptCeiling)
	v.SetDefault("severity_threshold", def.SeverityThreshold)
	v.SetDefault("status_addr", def.StatusAddr)

	v.SetEnvPrefix("TALLY")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(def.DataDir)
		if err := v.ReadInConfig(); err != nil {
			// Defaults apply when no config file exists.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}

// DBPath returns the path of the device database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "tally.db")
}

// TriggerFile returns the path of the manual sync trigger file.
func (c *Config) TriggerFile() string {
	return filepath.Join(c.DataDir, "sync.trigger")
}

// LogFile returns the path of the rotating daemon log.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "daemon.log")
}
