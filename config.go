package gateway

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config controls gateway behavior. Zero values are filled in by defaults
// where a default exists; ForwardBackendErrors and NotifyTransportErrors are
// optional switches; the remaining fields are required and validated at
// startup. Validation failures are fatal.
type Config struct {
	// Transport endpoint and mutual-TLS material for the broker session.
	BrokerHost string `yaml:"broker_host"`
	BrokerPort int    `yaml:"broker_port"`
	CAFile     string `yaml:"ca_file"`
	CertFile   string `yaml:"cert_file"`
	KeyFile    string `yaml:"key_file"`

	// URL prefix for backend forwarding.
	BackendBaseURL string `yaml:"backend_base_url"`

	// Freshness tolerance in seconds, applied symmetrically around now().
	SkewBudgetSeconds int64 `yaml:"skew_budget_seconds"`

	// Per-device replay identifier retention.
	ReplayCacheSize int `yaml:"replay_cache_size"`

	// Timeout for backend POSTs.
	HTTPTimeoutSeconds int `yaml:"http_timeout_seconds"`

	// Shared bearer token accepted by the command endpoint.
	CommandBearerToken string `yaml:"command_bearer_token"`

	// Bind address for the command HTTP server.
	CommandListenAddr string `yaml:"command_listen_addr"`

	// Path to the SQLite devices table.
	CredentialsPath string `yaml:"credentials_path"`

	// ForwardBackendErrors routes a non-2xx backend body to the device's
	// response topic as-is. Unset means enabled.
	ForwardBackendErrors *bool `yaml:"forward_backend_errors"`

	// NotifyTransportErrors publishes a failure notice on the response topic
	// when the backend is unreachable. Disabled by default.
	NotifyTransportErrors bool `yaml:"notify_transport_errors"`
}

// LoadConfig reads a YAML configuration file, applies defaults, and validates.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills unset optional fields with their documented defaults.
func (c *Config) ApplyDefaults() {
	if c.BrokerPort == 0 {
		c.BrokerPort = 8883
	}
	if c.SkewBudgetSeconds == 0 {
		c.SkewBudgetSeconds = 300
	}
	if c.ReplayCacheSize == 0 {
		c.ReplayCacheSize = 1000
	}
	if c.HTTPTimeoutSeconds == 0 {
		c.HTTPTimeoutSeconds = 10
	}
	if c.CommandListenAddr == "" {
		c.CommandListenAddr = ":8080"
	}
}

// Validate reports the first configuration error found.
func (c Config) Validate() error {
	required := []struct {
		name, value string
	}{
		{"broker_host", c.BrokerHost},
		{"ca_file", c.CAFile},
		{"cert_file", c.CertFile},
		{"key_file", c.KeyFile},
		{"backend_base_url", c.BackendBaseURL},
		{"command_bearer_token", c.CommandBearerToken},
		{"credentials_path", c.CredentialsPath},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("config: %s is required", f.name)
		}
	}
	if c.BrokerPort <= 0 || c.BrokerPort > 65535 {
		return fmt.Errorf("config: broker_port %d out of range", c.BrokerPort)
	}
	if c.SkewBudgetSeconds <= 0 {
		return fmt.Errorf("config: skew_budget_seconds must be positive")
	}
	if c.ReplayCacheSize <= 0 {
		return fmt.Errorf("config: replay_cache_size must be positive")
	}
	if c.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("config: http_timeout_seconds must be positive")
	}
	return nil
}

func (c Config) forwardBackendErrors() bool {
	return c.ForwardBackendErrors == nil || *c.ForwardBackendErrors
}

func (c Config) httpTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSeconds) * time.Second
}
