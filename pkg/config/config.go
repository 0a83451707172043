package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aixgo-dev/promdoc/pkg/security"
)

// Defaults
const (
	DefaultHost           = "127.0.0.1"
	DefaultPort    uint16 = 9095
	DefaultService        = "promdoc"

	DefaultPrometheusURL = "http://localhost:9090"

	DefaultReadHeaderTimeout = 10 * time.Second
	DefaultReadTimeout       = 30 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultShutdownTimeout   = 30 * time.Second
)

// Tracing exporters
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var (
	ErrNoPrometheusURLs  = errors.New("prometheus_urls must not be empty")
	ErrInvalidURL        = errors.New("invalid prometheus url")
	ErrInvalidTimeout    = errors.New("timeouts must not be negative")
	ErrInvalidRateLimit  = errors.New("rate_limit must not be negative")
	ErrUnknownExporter   = errors.New("unknown tracing exporter")
	ErrInvalidListenAddr = errors.New("invalid metrics_addr")
)

// Config represents the promdoc configuration
type Config struct {
	// Main listener
	Host string `yaml:"host"`
	Port uint16 `yaml:"port"`

	// PrometheusURLs is handed to the UI through /config.
	PrometheusURLs []string `yaml:"prometheus_urls"`

	// MetricsAddr enables the admin listener (metrics and health JSON) when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Timeouts  TimeoutConfig   `yaml:"timeouts"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// TimeoutConfig holds connection timeouts
type TimeoutConfig struct {
	ReadHeader time.Duration `yaml:"read_header"`
	Read       time.Duration `yaml:"read"`
	Write      time.Duration `yaml:"write"`
	Shutdown   time.Duration `yaml:"shutdown"`
}

// RateLimitConfig holds per-client throttling settings. A zero rate disables it.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Enabled reports whether throttling is on
func (r RateLimitConfig) Enabled() bool {
	return r.RequestsPerSecond > 0
}

// TracingConfig selects the span exporter
type TracingConfig struct {
	Exporter    string `yaml:"exporter"`
	Endpoint    string `yaml:"endpoint,omitempty"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()

	var cfg Config
	parser := security.NewSafeYAMLParser(security.DefaultYAMLLimits())
	if err := parser.UnmarshalYAMLFromReader(f, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyDefaults fills zero values. Tracing falls back to the standard
// OpenTelemetry environment variables before the built-in defaults.
func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if len(c.PrometheusURLs) == 0 {
		c.PrometheusURLs = []string{DefaultPrometheusURL}
	}

	if c.Timeouts.ReadHeader == 0 {
		c.Timeouts.ReadHeader = DefaultReadHeaderTimeout
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = DefaultReadTimeout
	}
	if c.Timeouts.Write == 0 {
		c.Timeouts.Write = DefaultWriteTimeout
	}
	if c.Timeouts.Shutdown == 0 {
		c.Timeouts.Shutdown = DefaultShutdownTimeout
	}

	if c.RateLimit.Enabled() && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond + 0.5)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = getEnv("OTEL_TRACES_EXPORTER", ExporterNone)
	}
	if c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = getEnv("OTEL_SERVICE_NAME", DefaultService)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.PrometheusURLs) == 0 {
		return ErrNoPrometheusURLs
	}
	for _, raw := range c.PrometheusURLs {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidURL, raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("%w %q: must be an absolute http(s) url", ErrInvalidURL, raw)
		}
	}

	if c.MetricsAddr != "" {
		if _, _, err := net.SplitHostPort(c.MetricsAddr); err != nil {
			return fmt.Errorf("%w %q: %v", ErrInvalidListenAddr, c.MetricsAddr, err)
		}
	}

	t := c.Timeouts
	if t.ReadHeader < 0 || t.Read < 0 || t.Write < 0 || t.Shutdown < 0 {
		return ErrInvalidTimeout
	}

	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return ErrInvalidRateLimit
	}

	switch c.Tracing.Exporter {
	case ExporterNone, ExporterStdout, ExporterOTLP:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownExporter, c.Tracing.Exporter)
	}

	return nil
}

// ListenAddr returns the main listener address as host:port
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
