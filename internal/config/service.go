package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ServiceConfig is the daemon-level configuration: listen addresses and
// file locations. Engine tuning lives in the JSON tuning file so the two
// can be updated independently.
type ServiceConfig struct {
	Listen    string `yaml:"listen" validate:"required"`
	UDPListen string `yaml:"udp_listen"`

	Database string `yaml:"database"`
	Tuning   string `yaml:"tuning"`
	Beacons  string `yaml:"beacons"`
	Zones    string `yaml:"zones"`

	Retention    string `yaml:"retention"`     // duration string like "720h"
	TickInterval string `yaml:"tick_interval"` // duration string like "30s"
}

// DefaultServiceConfig returns the daemon defaults.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Listen:       ":8080",
		UDPListen:    ":9035",
		Retention:    "720h",
		TickInterval: "30s",
	}
}

// LoadServiceConfig loads and validates the daemon configuration from a
// YAML file. Omitted fields keep their defaults.
func LoadServiceConfig(path string) (ServiceConfig, error) {
	cfg := DefaultServiceConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read service config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse service config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("invalid service config: %w", err)
	}

	for name, v := range map[string]string{
		"retention":     cfg.Retention,
		"tick_interval": cfg.TickInterval,
	} {
		if v != "" {
			if _, err := time.ParseDuration(v); err != nil {
				return cfg, fmt.Errorf("invalid %s '%s': %w", name, v, err)
			}
		}
	}
	return cfg, nil
}

// GetRetention returns the event retention period.
func (c ServiceConfig) GetRetention() time.Duration {
	return durationOrString(c.Retention, 720*time.Hour)
}

// GetTickInterval returns the housekeeping tick interval.
func (c ServiceConfig) GetTickInterval() time.Duration {
	return durationOrString(c.TickInterval, 30*time.Second)
}

func durationOrString(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
