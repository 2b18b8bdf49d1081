package config

import (
	"context"
	"time"
)

// Config represents the complete configuration for the autoflow engine.
type Config struct {
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Database   DatabaseConfig   `koanf:"database"   validate:"required"`
	Redis      RedisConfig      `koanf:"redis"`
	Webhook    WebhookConfig    `koanf:"webhook"`
	Queue      QueueConfig      `koanf:"queue"      validate:"required"`
	Poller     PollerConfig     `koanf:"poller"     validate:"required"`
	Processor  ProcessorConfig  `koanf:"processor"  validate:"required"`
	Schedule   ScheduleConfig   `koanf:"schedule"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host    string        `koanf:"host"    validate:"required"        env:"SERVER_HOST"`
	Port    int           `koanf:"port"    validate:"min=1,max=65535" env:"SERVER_PORT"`
	Timeout time.Duration `koanf:"timeout"                            env:"SERVER_TIMEOUT"`
	// MaxBodyBytes bounds inbound webhook payloads.
	MaxBodyBytes int64           `koanf:"max_body_bytes" validate:"min=1" env:"SERVER_MAX_BODY_BYTES"`
	RateLimit    RateLimitConfig `koanf:"rate_limit"`
	Auth         AuthConfig      `koanf:"auth"`
}

// AuthConfig secures the queue processor endpoint.
type AuthConfig struct {
	ProcessToken SensitiveString `koanf:"process_token" env:"SERVER_AUTH_PROCESS_TOKEN" sensitive:"true"`
}

// RateLimitConfig limits public webhook traffic per client.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled" env:"SERVER_RATE_LIMIT_ENABLED"`
	Limit   int64         `koanf:"limit"   env:"SERVER_RATE_LIMIT_LIMIT"   validate:"min=0"`
	Period  time.Duration `koanf:"period"  env:"SERVER_RATE_LIMIT_PERIOD"`
}

// DatabaseConfig selects and configures the durable store driver.
type DatabaseConfig struct {
	Driver     string          `koanf:"driver"      validate:"oneof=postgres sqlite memory" env:"DB_DRIVER"`
	ConnString string          `koanf:"conn_string"                                         env:"DB_CONN_STRING"`
	Host       string          `koanf:"host"                                                env:"DB_HOST"`
	Port       string          `koanf:"port"                                                env:"DB_PORT"`
	User       string          `koanf:"user"                                                env:"DB_USER"`
	Password   SensitiveString `koanf:"password"                                            env:"DB_PASSWORD"    sensitive:"true"`
	DBName     string          `koanf:"name"                                                env:"DB_NAME"`
	SSLMode    string          `koanf:"ssl_mode"                                            env:"DB_SSL_MODE"`
	MaxConns   int             `koanf:"max_conns"                                           env:"DB_MAX_CONNS"`
	// SQLitePath is the database file for the sqlite driver, or ":memory:".
	SQLitePath  string `koanf:"sqlite_path"  env:"DB_SQLITE_PATH"`
	AutoMigrate bool   `koanf:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

// RedisConfig configures the webhook idempotency store. Dedupe is disabled
// unless URL is set or Embedded runs an in-process server.
type RedisConfig struct {
	URL         string        `koanf:"url"          env:"REDIS_URL"`
	Embedded    bool          `koanf:"embedded"     env:"REDIS_EMBEDDED"`
	PingTimeout time.Duration `koanf:"ping_timeout" env:"REDIS_PING_TIMEOUT"`
	PoolSize    int           `koanf:"pool_size"    env:"REDIS_POOL_SIZE"`
	DedupeTTL   time.Duration `koanf:"dedupe_ttl"   env:"REDIS_DEDUPE_TTL"`
	Prefix      string        `koanf:"prefix"       env:"REDIS_PREFIX"`
}

// WebhookConfig sets the signature check applied to every inbound hook.
type WebhookConfig struct {
	VerifyStrategy string          `koanf:"verify_strategy" validate:"oneof=none hmac stripe github" env:"WEBHOOK_VERIFY_STRATEGY"`
	VerifySecret   SensitiveString `koanf:"verify_secret"                                            env:"WEBHOOK_VERIFY_SECRET" sensitive:"true"`
	VerifyHeader   string          `koanf:"verify_header"                                            env:"WEBHOOK_VERIFY_HEADER"`
	VerifySkew     time.Duration   `koanf:"verify_skew"                                              env:"WEBHOOK_VERIFY_SKEW"`
}

// QueueConfig controls trigger queue claiming and retry.
type QueueConfig struct {
	BatchSize         int           `koanf:"batch_size"         validate:"min=1" env:"QUEUE_BATCH_SIZE"`
	MaxRetries        int           `koanf:"max_retries"        validate:"min=1" env:"QUEUE_MAX_RETRIES"`
	Workers           int           `koanf:"workers"            validate:"min=1" env:"QUEUE_WORKERS"`
	ProcessingTimeout time.Duration `koanf:"processing_timeout"                  env:"QUEUE_PROCESSING_TIMEOUT"`
}

// PollerConfig controls scheduled job resumption.
type PollerConfig struct {
	BatchSize    int           `koanf:"batch_size"    validate:"min=1" env:"POLLER_BATCH_SIZE"`
	MaxRetries   int           `koanf:"max_retries"   validate:"min=1" env:"POLLER_MAX_RETRIES"`
	RetryBackoff time.Duration `koanf:"retry_backoff"                  env:"POLLER_RETRY_BACKOFF"`
	ClaimTimeout time.Duration `koanf:"claim_timeout"                  env:"POLLER_CLAIM_TIMEOUT"`
}

// ProcessorConfig controls the per-tick orchestration loop.
type ProcessorConfig struct {
	TickInterval  time.Duration `koanf:"tick_interval"  env:"PROCESSOR_TICK_INTERVAL"`
	TickTimeout   time.Duration `koanf:"tick_timeout"   env:"PROCESSOR_TICK_TIMEOUT"`
	ActionTimeout time.Duration `koanf:"action_timeout" env:"PROCESSOR_ACTION_TIMEOUT"`
	MaxSteps      int           `koanf:"max_steps"      env:"PROCESSOR_MAX_STEPS"      validate:"min=1"`
}

// ScheduleConfig controls cron-driven schedule triggers.
type ScheduleConfig struct {
	Enabled  bool   `koanf:"enabled"  env:"SCHEDULE_ENABLED"`
	Timezone string `koanf:"timezone" env:"SCHEDULE_TIMEZONE" validate:"omitempty,timezone"`
	// ReconcileInterval re-reads active definitions so new schedules register
	// without a restart. Zero reconciles only at startup.
	ReconcileInterval time.Duration `koanf:"reconcile_interval" env:"SCHEDULE_RECONCILE_INTERVAL"`
}

// MonitoringConfig toggles the Prometheus exporter.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error"          env:"RUNTIME_LOG_LEVEL"`
}

// Service defines the configuration loading interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks if the configuration meets all validation requirements.
	Validate(config *Config) error
	// GetSource returns the source type for a specific configuration key.
	GetSource(key string) SourceType
}

// Source defines the interface for configuration sources.
type Source interface {
	// Load reads configuration from the source.
	Load() (map[string]any, error)
	// Type returns the source type identifier.
	Type() SourceType
}

// SourceType identifies the type of configuration source.
type SourceType string

const (
	SourceCLI     SourceType = "cli"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceDefault SourceType = "default"
)

// Metadata contains metadata about configuration sources.
type Metadata struct {
	Sources  map[string]SourceType `json:"sources"`
	LoadedAt time.Time             `json:"loaded_at"`
}

// Load loads configuration using the default service.
func Load(ctx context.Context, sources ...Source) (*Config, error) {
	return NewService().Load(ctx, sources...)
}

// Default returns a Config with default values for development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5001,
			Timeout:      30 * time.Second,
			MaxBodyBytes: 1 << 20,
			RateLimit: RateLimitConfig{
				Enabled: true,
				Limit:   120,
				Period:  time.Minute,
			},
		},
		Database: DatabaseConfig{
			Driver:      "postgres",
			Host:        "localhost",
			Port:        "5432",
			User:        "postgres",
			DBName:      "autoflow",
			SSLMode:     "disable",
			MaxConns:    20,
			SQLitePath:  "autoflow.db",
			AutoMigrate: true,
		},
		Redis: RedisConfig{
			PingTimeout: 5 * time.Second,
			PoolSize:    10,
			DedupeTTL:   10 * time.Minute,
			Prefix:      "autoflow",
		},
		Webhook: WebhookConfig{
			VerifyStrategy: "none",
			VerifySkew:     5 * time.Minute,
		},
		Queue: QueueConfig{
			BatchSize:         10,
			MaxRetries:        3,
			Workers:           4,
			ProcessingTimeout: 15 * time.Minute,
		},
		Poller: PollerConfig{
			BatchSize:    50,
			MaxRetries:   3,
			RetryBackoff: time.Minute,
			ClaimTimeout: 15 * time.Minute,
		},
		Processor: ProcessorConfig{
			TickInterval:  5 * time.Minute,
			TickTimeout:   4 * time.Minute,
			ActionTimeout: 30 * time.Second,
			MaxSteps:      1000,
		},
		Schedule: ScheduleConfig{
			Enabled:           true,
			Timezone:          "UTC",
			ReconcileInterval: time.Minute,
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
	}
}
