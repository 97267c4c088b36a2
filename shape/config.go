package shape

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the unified toolkit configuration.
type Config struct {
	HTTP   HTTPConfig   `yaml:"http" json:"http"`
	Data   DataConfig   `yaml:"data" json:"data"`
	Dedupe DedupeConfig `yaml:"dedupe" json:"dedupe"`
	MQTT   MQTTConfig   `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
}

// HTTPConfig configures the HTTP service.
type HTTPConfig struct {
	Port        int `yaml:"port" json:"port"`
	MaxUploadMB int `yaml:"maxUploadMb" json:"maxUploadMb"`
}

// DataConfig configures on-disk storage.
type DataConfig struct {
	Dir        string `yaml:"dir" json:"dir"`
	TTLMinutes int    `yaml:"ttlMinutes" json:"ttlMinutes"`
	HistoryDB  string `yaml:"historyDb" json:"historyDb"`
}

// DedupeConfig holds the default thresholds for duplicate detection.
type DedupeConfig struct {
	AreaTolerancePct    float64 `yaml:"areaTolerancePct" json:"areaTolerancePct"`
	OverlapThresholdPct float64 `yaml:"overlapThresholdPct" json:"overlapThresholdPct"`
	KeepFirst           bool    `yaml:"keepFirst" json:"keepFirst"`
}

// MQTTConfig configures the optional job event notifier.
type MQTTConfig struct {
	Broker   string `yaml:"broker,omitempty" json:"broker,omitempty"`
	ClientID string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	Prefix   string `yaml:"prefix,omitempty" json:"prefix,omitempty"`
}

// DefaultConfig returns the configuration used when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Port:        8080,
			MaxUploadMB: 64,
		},
		Data: DataConfig{
			Dir:        "data",
			TTLMinutes: 60,
			HistoryDB:  "data/jobs.db",
		},
		Dedupe: DedupeConfig{
			AreaTolerancePct:    0,
			OverlapThresholdPct: 100,
			KeepFirst:           true,
		},
	}
}

// LoadConfig loads the configuration from a YAML file. Fields absent from
// the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks all fields for usable values.
func (c *Config) Validate() error {
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if c.HTTP.MaxUploadMB < 1 {
		return fmt.Errorf("http.maxUploadMb must be positive, got %d", c.HTTP.MaxUploadMB)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is required")
	}
	if c.Data.TTLMinutes < 0 {
		return fmt.Errorf("data.ttlMinutes must not be negative, got %d", c.Data.TTLMinutes)
	}
	if c.Data.HistoryDB == "" {
		return fmt.Errorf("data.historyDb is required")
	}
	if c.Dedupe.AreaTolerancePct < 0 || c.Dedupe.AreaTolerancePct > 100 {
		return fmt.Errorf("dedupe.areaTolerancePct must be between 0 and 100, got %g", c.Dedupe.AreaTolerancePct)
	}
	if c.Dedupe.OverlapThresholdPct < 0 || c.Dedupe.OverlapThresholdPct > 100 {
		return fmt.Errorf("dedupe.overlapThresholdPct must be between 0 and 100, got %g", c.Dedupe.OverlapThresholdPct)
	}
	return nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// TTL returns the dataset expiry as a duration.
func (c *Config) TTL() time.Duration {
	return time.Duration(c.Data.TTLMinutes) * time.Minute
}

// DedupeOptions returns the configured thresholds as engine options.
func (c *Config) DedupeOptions() DedupeOptions {
	return DedupeOptions{
		AreaTolerancePct:    c.Dedupe.AreaTolerancePct,
		OverlapThresholdPct: c.Dedupe.OverlapThresholdPct,
		KeepFirst:           c.Dedupe.KeepFirst,
	}
}
