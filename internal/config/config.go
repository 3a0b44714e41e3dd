package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Auth     AuthConfig     `mapstructure:"auth" validate:"required"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Queue    QueueConfig    `mapstructure:"queue" validate:"required"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port                   int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel               string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"required,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"gt=0"`
	MaxIdleConns int    `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains all authentication and authorization settings.
type AuthConfig struct {
	JWTSecret            string `mapstructure:"jwt_secret" validate:"required,min=32"`
	TokenLifetimeMinutes int    `mapstructure:"token_lifetime_minutes" validate:"gt=0"`
}

// LLMConfig contains the generation backend settings. The API key is only
// required by commands that generate content and is checked there.
type LLMConfig struct {
	GeminiAPIKey       string  `mapstructure:"gemini_api_key"`
	ModelName          string  `mapstructure:"model_name" validate:"required"`
	PromptTemplatePath string  `mapstructure:"prompt_template_path"`
	Temperature        float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
}

// QueueConfig controls claiming, retries, leases and the worker pool.
type QueueConfig struct {
	WorkerCount int `mapstructure:"worker_count" validate:"gt=0"`

	// RetryBudget is the number of requeues a job gets before it fails.
	RetryBudget          int    `mapstructure:"retry_budget" validate:"gte=0"`
	RetryDelaySeconds    int    `mapstructure:"retry_delay_seconds" validate:"gte=0"`
	Backoff              string `mapstructure:"backoff" validate:"oneof=constant exponential"`
	MaxRetryDelaySeconds int    `mapstructure:"max_retry_delay_seconds" validate:"gte=0"`

	// FailFastOnRejection fails a job on its first content-policy rejection
	// instead of spending the retry budget.
	FailFastOnRejection bool `mapstructure:"fail_fast_on_rejection"`

	LeaseSeconds             int `mapstructure:"lease_seconds" validate:"gt=0"`
	SweepIntervalSeconds     int `mapstructure:"sweep_interval_seconds" validate:"gt=0"`
	GenerationTimeoutSeconds int `mapstructure:"generation_timeout_seconds" validate:"gt=0"`
	PollIntervalMillis       int `mapstructure:"poll_interval_millis" validate:"gt=0"`
}

// RetryDelay returns the base delay before a requeued job becomes claimable.
func (q QueueConfig) RetryDelay() time.Duration {
	return time.Duration(q.RetryDelaySeconds) * time.Second
}

// MaxRetryDelay returns the cap applied by exponential backoff.
func (q QueueConfig) MaxRetryDelay() time.Duration {
	return time.Duration(q.MaxRetryDelaySeconds) * time.Second
}

// Lease returns the claim lease length.
func (q QueueConfig) Lease() time.Duration {
	return time.Duration(q.LeaseSeconds) * time.Second
}

// SweepInterval returns how often expired leases are swept.
func (q QueueConfig) SweepInterval() time.Duration {
	return time.Duration(q.SweepIntervalSeconds) * time.Second
}

// GenerationTimeout returns the deadline given to one backend call.
func (q QueueConfig) GenerationTimeout() time.Duration {
	return time.Duration(q.GenerationTimeoutSeconds) * time.Second
}

// PollInterval returns how long an idle worker waits before claiming again.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalMillis) * time.Millisecond
}

// RedisConfig configures the lifecycle event publisher. An empty Addr
// disables publishing.
type RedisConfig struct {
	Addr    string `mapstructure:"addr" validate:"omitempty,hostname_port"`
	Channel string `mapstructure:"channel" validate:"required"`
}

// MetricsConfig toggles the Prometheus collector and /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
