// Package config handles pulse-bridge configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/pulse-bridge/config.yaml,
// /etc/pulse-bridge/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "pulse-bridge", "config.yaml"))
	}

	paths = append(paths, "/etc/pulse-bridge/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all pulse-bridge configuration.
type Config struct {
	Pulse     PulseConfig     `yaml:"pulse"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Intervals IntervalsConfig `yaml:"intervals"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	DataDir   string          `yaml:"data_dir"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"` // "text" (default) or "json"
}

// PulseConfig defines the Pulse cloud API connection settings.
type PulseConfig struct {
	// BaseURL is the API root, without a trailing slash.
	BaseURL string `yaml:"base_url"`
	// APIKey is sent in the x-api-key header on every request.
	APIKey string `yaml:"api_key"`
	// TimeoutSec is the per-request timeout in seconds (default 20).
	TimeoutSec int `yaml:"timeout_sec"`
}

// MQTTConfig defines the MQTT broker connection and topic settings.
type MQTTConfig struct {
	// Broker is the broker URL (mqtt://, mqtts://, or ssl:// scheme).
	Broker   string `yaml:"broker"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DeviceName identifies this bridge instance in topic paths and
	// the MQTT client ID. Defaults to "pulse-bridge".
	DeviceName string `yaml:"device_name"`
	// DiscoveryPrefix is the Home Assistant discovery topic prefix
	// (default "homeassistant").
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	// StatePrefix is the prefix for sensor state topics
	// (default "pulseapp").
	StatePrefix string `yaml:"state_prefix"`
}

// IntervalsConfig defines the two polling intervals, in seconds.
type IntervalsConfig struct {
	// StateUpdateSec is how often sensor readings are fetched and
	// republished (default 60).
	StateUpdateSec int `yaml:"state_update_sec"`
	// DiscoverySec is how often the hub/sensor inventory is re-listed
	// and discovery descriptors are republished (default 3600).
	DiscoverySec int `yaml:"discovery_sec"`
}

// MetricsConfig defines the optional Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default ":9187"
}

// Defaults applied by Load for fields left unset.
const (
	DefaultPulseBaseURL    = "https://api.pulsegrow.com"
	DefaultAPITimeoutSec   = 20
	DefaultStateUpdateSec  = 60
	DefaultDiscoverySec    = 3600
	DefaultDeviceName      = "pulse-bridge"
	DefaultDiscoveryPrefix = "homeassistant"
	DefaultStatePrefix     = "pulseapp"
	DefaultMetricsAddress  = ":9187"
)

// Load reads configuration from a YAML file. Environment variable
// references (${VAR}) in the file are expanded before parsing, so
// secrets like the API key can live outside the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a configuration with all defaults applied and no
// credentials set.
func Default() *Config {
	return &Config{
		Pulse: PulseConfig{
			BaseURL:    DefaultPulseBaseURL,
			TimeoutSec: DefaultAPITimeoutSec,
		},
		MQTT: MQTTConfig{
			DeviceName:      DefaultDeviceName,
			DiscoveryPrefix: DefaultDiscoveryPrefix,
			StatePrefix:     DefaultStatePrefix,
		},
		Intervals: IntervalsConfig{
			StateUpdateSec: DefaultStateUpdateSec,
			DiscoverySec:   DefaultDiscoverySec,
		},
		Metrics: MetricsConfig{
			Address: DefaultMetricsAddress,
		},
		DataDir: ".",
	}
}

// Validate checks that required fields are set and values are usable.
// Returns the first problem found.
func (c *Config) Validate() error {
	if c.Pulse.BaseURL == "" {
		return fmt.Errorf("pulse.base_url is required")
	}
	if c.Pulse.APIKey == "" {
		return fmt.Errorf("pulse.api_key is required")
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if c.Intervals.StateUpdateSec <= 0 {
		return fmt.Errorf("intervals.state_update_sec must be positive, got %d", c.Intervals.StateUpdateSec)
	}
	if c.Intervals.DiscoverySec <= 0 {
		return fmt.Errorf("intervals.discovery_sec must be positive, got %d", c.Intervals.DiscoverySec)
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// APITimeout returns the Pulse API request timeout as a duration.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.Pulse.TimeoutSec) * time.Second
}

// StateUpdateInterval returns the state job interval as a duration.
func (c *Config) StateUpdateInterval() time.Duration {
	return time.Duration(c.Intervals.StateUpdateSec) * time.Second
}

// DiscoveryInterval returns the discovery job interval as a duration.
func (c *Config) DiscoveryInterval() time.Duration {
	return time.Duration(c.Intervals.DiscoverySec) * time.Second
}
