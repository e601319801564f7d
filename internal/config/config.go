// Package config loads the dirigent runtime configuration from YAML with
// DIRIGENT_* environment overrides, applies defaults, and validates the
// result. Manager adds hot-reload on top.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Error wraps any failure to read, parse, or validate configuration so
// callers can tell bad config apart from other startup failures.
type Error struct {
	Err error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

// Config is the full runtime configuration.
type Config struct {
	Service      ServiceConfig      `mapstructure:"service" yaml:"service"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Async        AsyncConfig        `mapstructure:"async" yaml:"async"`
	Agents       AgentsConfig       `mapstructure:"agents" yaml:"agents"`
	Inference    InferenceConfig    `mapstructure:"inference" yaml:"inference"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Events       EventsConfig       `mapstructure:"events" yaml:"events"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Tracing      TracingConfig      `mapstructure:"tracing" yaml:"tracing"`
}

// ServiceConfig contains the HTTP listener settings.
type ServiceConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout" yaml:"graceful_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
}

// LoggingConfig mirrors logging.Options.
type LoggingConfig struct {
	Level     string `mapstructure:"level" yaml:"level"`
	File      string `mapstructure:"file" yaml:"file"`
	FileMaxMB int    `mapstructure:"file_max_mb" yaml:"file_max_mb"`
	RingSize  int    `mapstructure:"ring_size" yaml:"ring_size"`
}

// AsyncConfig sizes the task layer.
type AsyncConfig struct {
	Workers       int           `mapstructure:"workers" yaml:"workers"`
	QueueCapacity int           `mapstructure:"queue_capacity" yaml:"queue_capacity"`
	HistorySize   int           `mapstructure:"history_size" yaml:"history_size"`
	Retention     time.Duration `mapstructure:"retention" yaml:"retention"`
	ReapInterval  time.Duration `mapstructure:"reap_interval" yaml:"reap_interval"`
}

// AgentsConfig carries per-agent defaults.
type AgentsConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs" yaml:"max_concurrent_jobs"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	// SkillsDir names a directory of markdown skill files installed as
	// tools at startup. Empty disables skill loading.
	SkillsDir string `mapstructure:"skills_dir" yaml:"skills_dir"`
}

// InferenceConfig configures the inference HTTP client.
type InferenceConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries     int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps" yaml:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`
	CacheSize      int           `mapstructure:"cache_size" yaml:"cache_size"`
	BreakerEnabled bool          `mapstructure:"breaker_enabled" yaml:"breaker_enabled"`
}

// OrchestratorConfig bounds workflow executions.
type OrchestratorConfig struct {
	// ExecutionTimeout caps a single workflow run. Zero disables the cap.
	ExecutionTimeout time.Duration `mapstructure:"execution_timeout" yaml:"execution_timeout"`
	// MaxExecutions bounds how many finished executions stay queryable;
	// the oldest terminal record is evicted past this point.
	MaxExecutions int `mapstructure:"max_executions" yaml:"max_executions"`
	// TemplatesDir names a directory of YAML workflow templates registered
	// at startup. Empty disables template loading.
	TemplatesDir string `mapstructure:"templates_dir" yaml:"templates_dir"`
}

// EventsConfig sizes the event bus and its optional Redis mirror.
type EventsConfig struct {
	HistorySize int         `mapstructure:"history_size" yaml:"history_size"`
	Redis       RedisMirror `mapstructure:"redis" yaml:"redis"`
}

// RedisMirror configures mirroring of bus events into Redis Streams.
type RedisMirror struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr         string `mapstructure:"addr" yaml:"addr"`
	Password     string `mapstructure:"password" yaml:"password"`
	DB           int    `mapstructure:"db" yaml:"db"`
	StreamPrefix string `mapstructure:"stream_prefix" yaml:"stream_prefix"`
	MaxLen       int64  `mapstructure:"max_len" yaml:"max_len"`
}

// MetricsConfig sizes the JSON snapshot collector.
type MetricsConfig struct {
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`
}

// TracingConfig configures OTLP trace export.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate" yaml:"sampling_rate"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Listen:          ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			GracefulTimeout: 15 * time.Second,
			MaxHeaderBytes:  1 << 20,
		},
		Logging: LoggingConfig{
			Level:     "info",
			FileMaxMB: 50,
			RingSize:  100,
		},
		Async: AsyncConfig{
			Workers:       runtime.NumCPU(),
			QueueCapacity: 1000,
			HistorySize:   100,
			Retention:     time.Hour,
			ReapInterval:  5 * time.Minute,
		},
		Agents: AgentsConfig{
			MaxConcurrentJobs: 5,
			HeartbeatInterval: 30 * time.Second,
		},
		Inference: InferenceConfig{
			Endpoint:       "http://localhost:8084",
			Timeout:        30 * time.Second,
			MaxRetries:     3,
			RetryDelay:     time.Second,
			RateLimitRPS:   50,
			RateLimitBurst: 100,
			CacheSize:      512,
			BreakerEnabled: true,
		},
		Orchestrator: OrchestratorConfig{
			ExecutionTimeout: 10 * time.Minute,
			MaxExecutions:    1000,
		},
		Events: EventsConfig{
			HistorySize: 100,
			Redis: RedisMirror{
				StreamPrefix: "dirigent:events",
				MaxLen:       1024,
			},
		},
		Metrics: MetricsConfig{
			WindowSize: 1000,
		},
		Tracing: TracingConfig{
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Load reads the config file at path (or $DIRIGENT_CONFIG, or
// ./dirigent.yaml when neither is set) over the defaults. A missing
// implicit file is not an error; an explicitly named one must exist.
// Environment variables with the DIRIGENT_ prefix override file values,
// e.g. DIRIGENT_SERVICE_LISTEN=:9090.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DIRIGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindKeys(v)

	if path == "" {
		path = os.Getenv("DIRIGENT_CONFIG")
	}
	explicit := path != ""
	if path == "" {
		path = "dirigent.yaml"
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if explicit {
			return nil, &Error{Err: fmt.Errorf("read config %s: %w", path, err)}
		}
		// The implicit file is optional, but if it exists it must parse.
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, &Error{Err: fmt.Errorf("read config %s: %w", path, err)}
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, &Error{Err: fmt.Errorf("unmarshal config: %w", err)}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Err: err}
	}
	return cfg, nil
}

// bindKeys makes AutomaticEnv see nested keys that never appear in the
// config file. Viper only consults the environment for keys it knows.
func bindKeys(v *viper.Viper) {
	for _, key := range []string{
		"service.listen", "service.read_timeout", "service.write_timeout",
		"service.graceful_timeout", "service.max_header_bytes",
		"logging.level", "logging.file", "logging.file_max_mb", "logging.ring_size",
		"async.workers", "async.queue_capacity", "async.history_size",
		"async.retention", "async.reap_interval",
		"agents.max_concurrent_jobs", "agents.heartbeat_interval", "agents.skills_dir",
		"inference.endpoint", "inference.timeout", "inference.max_retries",
		"inference.retry_delay", "inference.rate_limit_rps", "inference.rate_limit_burst",
		"inference.cache_size", "inference.breaker_enabled",
		"orchestrator.execution_timeout", "orchestrator.max_executions",
		"orchestrator.templates_dir",
		"events.history_size", "events.redis.enabled", "events.redis.addr",
		"events.redis.password", "events.redis.db", "events.redis.stream_prefix",
		"events.redis.max_len",
		"metrics.window_size",
		"tracing.enabled", "tracing.otlp_endpoint", "tracing.sampling_rate",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate rejects configurations the runtime cannot start with.
func (c *Config) Validate() error {
	if c.Service.Listen == "" {
		return fmt.Errorf("service.listen cannot be empty")
	}
	if c.Async.Workers <= 0 {
		return fmt.Errorf("async.workers must be positive, got %d", c.Async.Workers)
	}
	if c.Async.QueueCapacity <= 0 {
		return fmt.Errorf("async.queue_capacity must be positive, got %d", c.Async.QueueCapacity)
	}
	if c.Async.HistorySize < 0 {
		return fmt.Errorf("async.history_size cannot be negative")
	}
	if c.Agents.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("agents.max_concurrent_jobs must be positive, got %d", c.Agents.MaxConcurrentJobs)
	}
	if c.Inference.MaxRetries < 0 {
		return fmt.Errorf("inference.max_retries cannot be negative")
	}
	if c.Orchestrator.ExecutionTimeout < 0 {
		return fmt.Errorf("orchestrator.execution_timeout cannot be negative")
	}
	if c.Orchestrator.MaxExecutions <= 0 {
		return fmt.Errorf("orchestrator.max_executions must be positive, got %d", c.Orchestrator.MaxExecutions)
	}
	if c.Inference.Timeout <= 0 {
		return fmt.Errorf("inference.timeout must be positive")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing.sampling_rate must be in [0,1], got %v", c.Tracing.SamplingRate)
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

// Clone returns a copy; Config holds only value fields so a shallow copy
// is a deep one.
func (c *Config) Clone() *Config {
	out := *c
	return &out
}
