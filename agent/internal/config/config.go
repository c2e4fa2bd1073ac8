package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultConnectTimeout        = 5 * time.Second
	DefaultReadTimeout           = 10 * time.Second
	DefaultWriteTimeout          = 10 * time.Second
	DefaultMaxIdleConnections    = 5
	DefaultMaxConnectionsPerHost = 16
	DefaultFlushInterval         = 10 * time.Second
	DefaultMetricsInterval       = 30 * time.Second
	DefaultBufferSize            = 1000
	DefaultServiceName           = "unknown-service"
	DefaultLogLevel              = "info"
)

// Config is the top-level agent configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Reporter ReporterConfig `yaml:"reporter"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// ServiceConfig identifies the instrumented service in intake metadata.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

// ReporterConfig holds everything needed to talk to the collector.
// It is read once per transport client and never mutated by consumers.
type ReporterConfig struct {
	// ServerURLs are the collector base URLs. The shipper fails over between
	// them in order.
	ServerURLs []string `yaml:"server_urls"`

	// VerifyServerCert enables certificate chain and hostname verification.
	// Disable only for collectors with self-signed or test certificates.
	VerifyServerCert bool `yaml:"verify_server_cert"`

	// ConnectTimeout bounds the TCP dial and, separately, the TLS handshake, so
	// establishing a connection can take up to twice this value. Zero means default.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReadTimeout bounds the wait for response headers. Zero means default.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds each socket write. Zero means default.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxIdleConnections caps idle pooled connections per origin. Zero means default.
	MaxIdleConnections int `yaml:"max_idle_connections"`

	// MaxConnectionsPerHost caps concurrent connections per origin. Zero means default.
	MaxConnectionsPerHost int `yaml:"max_connections_per_host"`

	// FlushInterval controls how often buffered events are sent.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// BufferSize is the maximum number of events held in memory while the
	// collector is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// DisableCompression sends intake bodies uncompressed.
	DisableCompression bool `yaml:"disable_compression"`

	// Auth configures how the agent authenticates to the collector.
	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig specifies the collector authentication mode.
type AuthConfig struct {
	// Mode is one of: secret_token | api_key | none.
	Mode string `yaml:"mode"`

	// SecretTokenEnv names the environment variable holding the secret token.
	SecretTokenEnv string `yaml:"secret_token_env"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `yaml:"api_key_env"`
}

// SecretToken returns the secret token resolved from the environment.
// Returns empty string if SecretTokenEnv is unset or the variable is not found.
func (a AuthConfig) SecretToken() string {
	if a.SecretTokenEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretTokenEnv)
}

// APIKey returns the API key resolved from the environment.
func (a AuthConfig) APIKey() string {
	if a.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(a.APIKeyEnv)
}

// MetricsConfig controls self-metrics collection and exposure.
type MetricsConfig struct {
	// Interval controls how often metricsets are collected.
	Interval time.Duration `yaml:"interval"`

	// Sources are extra Prometheus text endpoints scraped into metricsets.
	Sources []string `yaml:"sources"`

	// ListenAddr exposes the agent registry on /metrics. Empty disables it.
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name: DefaultServiceName,
		},
		Reporter: ReporterConfig{
			VerifyServerCert:      true,
			ConnectTimeout:        DefaultConnectTimeout,
			ReadTimeout:           DefaultReadTimeout,
			WriteTimeout:          DefaultWriteTimeout,
			MaxIdleConnections:    DefaultMaxIdleConnections,
			MaxConnectionsPerHost: DefaultMaxConnectionsPerHost,
			FlushInterval:         DefaultFlushInterval,
			BufferSize:            DefaultBufferSize,
		},
		Metrics: MetricsConfig{
			Interval: DefaultMetricsInterval,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	r := cfg.Reporter
	if len(r.ServerURLs) == 0 {
		return fmt.Errorf("reporter.server_urls is required")
	}
	for i, raw := range r.ServerURLs {
		if err := ValidateServerURL(raw); err != nil {
			return fmt.Errorf("reporter.server_urls[%d]: %w", i, err)
		}
	}
	if r.ConnectTimeout < 0 {
		return fmt.Errorf("reporter.connect_timeout must not be negative")
	}
	if r.ReadTimeout < 0 {
		return fmt.Errorf("reporter.read_timeout must not be negative")
	}
	if r.WriteTimeout < 0 {
		return fmt.Errorf("reporter.write_timeout must not be negative")
	}
	if r.MaxIdleConnections < 0 {
		return fmt.Errorf("reporter.max_idle_connections must not be negative")
	}
	if r.MaxConnectionsPerHost < 0 {
		return fmt.Errorf("reporter.max_connections_per_host must not be negative")
	}
	if r.FlushInterval <= 0 {
		return fmt.Errorf("reporter.flush_interval must be positive")
	}
	if r.BufferSize <= 0 {
		return fmt.Errorf("reporter.buffer_size must be positive")
	}
	switch r.Auth.Mode {
	case "secret_token", "api_key", "none", "":
	default:
		return fmt.Errorf("reporter.auth: unknown mode %q", r.Auth.Mode)
	}
	if cfg.Metrics.Interval <= 0 {
		return fmt.Errorf("metrics.interval must be positive")
	}
	for i, raw := range cfg.Metrics.Sources {
		if err := ValidateServerURL(raw); err != nil {
			return fmt.Errorf("metrics.sources[%d]: %w", i, err)
		}
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	return nil
}

// ValidateServerURL checks that raw is an absolute http or https URL with a host.
func ValidateServerURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("malformed url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q: scheme must be http or https", raw)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("url %q: host is required", raw)
	}
	return nil
}
