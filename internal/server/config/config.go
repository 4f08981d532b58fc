// Package config loads and validates the tunnel server's configuration:
// a YAML file with defaults applied, then HA_TUNNEL_<UPPER_KEY>
// environment variables layered on top.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PeerPolicy controls what happens when a second client authenticates
// while a session is already bound.
type PeerPolicy string

const (
	PeerPolicyRejectNew PeerPolicy = "reject_new"
	PeerPolicySupersede PeerPolicy = "supersede"
)

// Config is the server's recognized configuration, spec.md §6.
type Config struct {
	Secret         string     `yaml:"secret"`
	Host           string     `yaml:"host"`
	Port           int        `yaml:"port"`
	ClientTimeout  int        `yaml:"client_timeout"`
	RequestTimeout int        `yaml:"request_timeout"`
	LogLevel       string     `yaml:"log_level"`
	PeerPolicy     PeerPolicy `yaml:"peer_policy"`

	ProxyMode      string   `yaml:"proxy_mode"`
	TrustedProxies []string `yaml:"trusted_proxies"`

	AutoTLS     bool   `yaml:"auto_tls"`
	TLSDomain   string `yaml:"tls_domain"`
	TLSCacheDir string `yaml:"tls_cache_dir"`
}

func defaults() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           3000,
		ClientTimeout:  10,
		RequestTimeout: 30,
		LogLevel:       "info",
		PeerPolicy:     PeerPolicyRejectNew,
		ProxyMode:      "none",
	}
}

// Load reads path (if it exists) as YAML over the built-in defaults,
// then applies HA_TUNNEL_<UPPER_KEY> environment overrides, and
// validates the result.
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := lookupEnv("SECRET"); ok {
		cfg.Secret = v
	}
	if v, ok := lookupEnv("HOST"); ok {
		cfg.Host = v
	}
	if v, ok := lookupEnvInt("PORT"); ok {
		cfg.Port = v
	}
	if v, ok := lookupEnvInt("CLIENT_TIMEOUT"); ok {
		cfg.ClientTimeout = v
	}
	if v, ok := lookupEnvInt("REQUEST_TIMEOUT"); ok {
		cfg.RequestTimeout = v
	}
	if v, ok := lookupEnv("LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
	if v, ok := lookupEnv("PEER_POLICY"); ok {
		cfg.PeerPolicy = PeerPolicy(v)
	}
	if v, ok := lookupEnv("PROXY_MODE"); ok {
		cfg.ProxyMode = v
	}
	if v, ok := lookupEnv("TRUSTED_PROXIES"); ok {
		cfg.TrustedProxies = splitAndTrim(v)
	}
	if v, ok := lookupEnvBool("AUTO_TLS"); ok {
		cfg.AutoTLS = v
	}
	if v, ok := lookupEnv("TLS_DOMAIN"); ok {
		cfg.TLSDomain = v
	}
	if v, ok := lookupEnv("TLS_CACHE_DIR"); ok {
		cfg.TLSCacheDir = v
	}
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

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks required fields and value ranges.
func (c Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("config: secret is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.ClientTimeout <= 0 {
		return fmt.Errorf("config: client_timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("config: request_timeout must be positive")
	}
	switch c.PeerPolicy {
	case PeerPolicyRejectNew, PeerPolicySupersede:
	default:
		return fmt.Errorf("config: peer_policy %q must be reject_new or supersede", c.PeerPolicy)
	}
	if c.AutoTLS && c.TLSDomain == "" {
		return fmt.Errorf("config: tls_domain is required when auto_tls is enabled")
	}
	return nil
}

// ClientTimeoutDuration returns ClientTimeout as a time.Duration.
func (c Config) ClientTimeoutDuration() time.Duration {
	return time.Duration(c.ClientTimeout) * time.Second
}

// RequestTimeoutDuration returns RequestTimeout as a time.Duration.
func (c Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

// Addr returns the host:port the server should listen on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OutboundQueueSize returns the bound on a session's outbound message
// queue (spec.md §5). Not currently user-configurable.
func (c Config) OutboundQueueSize() int {
	return 256
}
