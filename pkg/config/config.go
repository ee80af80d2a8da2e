package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for all configuration environment variables.
const EnvPrefix = "CADBRIDGE_"

// Config is the full bridge configuration.
type Config struct {
	// Mode selects the transport kind: http-rpc, socket-rpc, in-process.
	Mode string `yaml:"mode" validate:"required,oneof=http-rpc socket-rpc in-process"`

	// Host is the engine endpoint hostname for the network transports.
	Host string `yaml:"host" validate:"required"`

	// SocketPort is the socket-RPC port.
	SocketPort int `yaml:"socket_port" validate:"gte=1,lte=65535"`

	// HTTPPort is the HTTP-RPC port.
	HTTPPort int `yaml:"http_port" validate:"gte=1,lte=65535"`

	// TimeoutMS is the default per-call budget in milliseconds.
	TimeoutMS int `yaml:"timeout_ms" validate:"gte=100,lte=600000"`

	// Retry configures the retry policy around connects and calls.
	Retry RetryConfig `yaml:"retry"`

	// ForceRecompute makes the validation engine recompute the document
	// before judging validity.
	ForceRecompute bool `yaml:"force_recompute"`

	// StorePath is the SQLite audit store location. Empty disables the store.
	StorePath string `yaml:"store_path"`

	// PolicyDir holds Rego policy files gating mutations. Empty means
	// builtin policies only.
	PolicyDir string `yaml:"policy_dir"`

	// Sandbox enables the builtin sandbox policies.
	Sandbox bool `yaml:"sandbox"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log"`

	// Metrics configures the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing configures OpenTelemetry tracing.
	Tracing TracingConfig `yaml:"tracing"`
}

// RetryConfig bounds retry behavior.
type RetryConfig struct {
	// MaxAttempts is the attempt ceiling including the first try.
	MaxAttempts int `yaml:"max_attempts" validate:"gte=1,lte=20"`

	// BaseDelayMS is the initial backoff, doubled per attempt.
	BaseDelayMS int `yaml:"base_delay_ms" validate:"gte=1"`

	// MaxDelayMS caps the per-attempt backoff.
	MaxDelayMS int `yaml:"max_delay_ms" validate:"gte=1"`

	// BudgetMS bounds total wall-clock time across retries.
	BudgetMS int `yaml:"budget_ms" validate:"gte=0"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is trace, debug, info, warn, or error.
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`

	// Format is console or json.
	Format string `yaml:"format" validate:"oneof=console json"`
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter" validate:"omitempty,oneof=otlp stdout none"`
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// Default returns the configuration defaults.
func Default() Config {
	return Config{
		Mode:       "socket-rpc",
		Host:       "127.0.0.1",
		SocketPort: 9876,
		HTTPPort:   9875,
		TimeoutMS:  30000,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMS: 250,
			MaxDelayMS:  5000,
			BudgetMS:    30000,
		},
		ForceRecompute: true,
		Sandbox:        true,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Metrics: MetricsConfig{
			ListenAddress: ":9090",
		},
		Tracing: TracingConfig{
			Exporter: "none",
		},
	}
}

// Load builds the configuration: defaults, then the optional YAML file,
// then environment overrides, then validation.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// FromEnv builds the configuration from defaults and environment only.
func FromEnv() (Config, error) {
	return Load("")
}

func (c *Config) applyEnv() error {
	envString(&c.Mode, "MODE")
	envString(&c.Host, "HOST")
	envString(&c.StorePath, "STORE_PATH")
	envString(&c.PolicyDir, "POLICY_DIR")
	envString(&c.Log.Level, "LOG_LEVEL")
	envString(&c.Log.Format, "LOG_FORMAT")
	envString(&c.Metrics.ListenAddress, "METRICS_ADDR")
	envString(&c.Tracing.Exporter, "TRACE_EXPORTER")
	envString(&c.Tracing.Endpoint, "TRACE_ENDPOINT")

	for _, e := range []struct {
		target *int
		key    string
	}{
		{&c.SocketPort, "SOCKET_PORT"},
		{&c.HTTPPort, "HTTP_PORT"},
		{&c.TimeoutMS, "TIMEOUT_MS"},
		{&c.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS"},
		{&c.Retry.BaseDelayMS, "RETRY_BASE_DELAY_MS"},
		{&c.Retry.MaxDelayMS, "RETRY_MAX_DELAY_MS"},
		{&c.Retry.BudgetMS, "RETRY_BUDGET_MS"},
	} {
		if err := envInt(e.target, e.key); err != nil {
			return err
		}
	}

	for _, e := range []struct {
		target *bool
		key    string
	}{
		{&c.ForceRecompute, "FORCE_RECOMPUTE"},
		{&c.Sandbox, "SANDBOX"},
		{&c.Metrics.Enabled, "METRICS_ENABLED"},
		{&c.Tracing.Enabled, "TRACE_ENABLED"},
	} {
		if err := envBool(e.target, e.key); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Timeout returns the per-call budget as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func envString(target *string, key string) {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		*target = v
	}
}

func envInt(target *int, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*target = n
	return nil
}

func envBool(target *bool, key string) error {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
	}
	*target = b
	return nil
}
