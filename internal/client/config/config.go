// Package config loads and validates the tunnel client's configuration:
// a YAML file with defaults applied, then HA_TUNNEL_<UPPER_KEY>
// environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the client's recognized configuration, spec.md §6.
type Config struct {
	Server            string `yaml:"server"`
	Secret            string `yaml:"secret"`
	HAServer          string `yaml:"ha_server"`
	HATimeout         int    `yaml:"ha_timeout"`
	ReconnectInterval int    `yaml:"reconnect_interval"`
	HeartbeatInterval int    `yaml:"heartbeat_interval"`
	LogLevel          string `yaml:"log_level"`

	// AssistantAlexa/AssistantGoogle are informational flags, consumed
	// by the server-side routing layer this repo does not implement
	// (spec.md §6); they are carried through so the client's
	// configuration surface matches spec, not acted upon here.
	AssistantAlexa  bool `yaml:"assistant_alexa"`
	AssistantGoogle bool `yaml:"assistant_google"`
}

func defaults() Config {
	return Config{
		HATimeout:         10,
		ReconnectInterval: 5,
		HeartbeatInterval: 30,
		LogLevel:          "error",
	}
}

// Load reads path (if it exists) as YAML over the built-in defaults,
// then applies HA_TUNNEL_<UPPER_KEY> environment overrides, clamps
// interval fields, and validates the result.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	cfg.clamp()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("SERVER"); ok {
		cfg.Server = v
	}
	if v, ok := lookupEnv("SECRET"); ok {
		cfg.Secret = v
	}
	if v, ok := lookupEnv("HA_SERVER"); ok {
		cfg.HAServer = v
	}
	if v, ok := lookupEnvInt("HA_TIMEOUT"); ok {
		cfg.HATimeout = v
	}
	if v, ok := lookupEnvInt("RECONNECT_INTERVAL"); ok {
		cfg.ReconnectInterval = v
	}
	if v, ok := lookupEnvInt("HEARTBEAT_INTERVAL"); ok {
		cfg.HeartbeatInterval = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnvBool("ASSISTANT_ALEXA"); ok {
		cfg.AssistantAlexa = v
	}
	if v, ok := lookupEnvBool("ASSISTANT_GOOGLE"); ok {
		cfg.AssistantGoogle = v
	}
}

const envPrefix = "HA_TUNNEL_"

func lookupEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func lookupEnvInt(key string) (int, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvBool(key string) (bool, bool) {
	v, ok := lookupEnv(key)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// clamp enforces spec.md §6's interval ranges: reconnect_interval in
// [1,300], heartbeat_interval in [5,120].
func (c *Config) clamp() {
	c.ReconnectInterval = clampInt(c.ReconnectInterval, 1, 300)
	c.HeartbeatInterval = clampInt(c.HeartbeatInterval, 5, 120)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate checks required fields.
func (c Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("config: server is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("config: secret is required")
	}
	if c.HAServer == "" {
		return fmt.Errorf("config: ha_server is required")
	}
	return nil
}

// HATimeoutDuration returns HATimeout as a time.Duration.
func (c Config) HATimeoutDuration() time.Duration {
	return time.Duration(c.HATimeout) * time.Second
}

// ReconnectIntervalDuration returns ReconnectInterval as a time.Duration.
func (c Config) ReconnectIntervalDuration() time.Duration {
	return time.Duration(c.ReconnectInterval) * time.Second
}

// HeartbeatIntervalDuration returns HeartbeatInterval as a time.Duration.
func (c Config) HeartbeatIntervalDuration() time.Duration {
	return time.Duration(c.HeartbeatInterval) * time.Second
}
