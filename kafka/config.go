package kafka

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// LogLevel and LogFormat mirror the teacher's internal/shared/types
// logging knobs, carried into the core so programs that use LoadConfig get
// the same ambient logging story as the rest of the pack.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type LogFormat string

const (
	LogFormatJSON   LogFormat = "json"
	LogFormatPretty LogFormat = "pretty"
)

// Config holds the recognized options from spec.md §6's Configuration
// table, plus the brokers/group a consumerFactory needs.
type Config struct {
	KafkaBrokers  string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	ConsumerGroup string `env:"KAFKA_CONSUMER_GROUP" envDefault:""`

	// PollInterval is T_poll: the fixed interval at which the poll
	// scheduler enqueues a Poll request.
	PollInterval time.Duration `env:"KAFKA_POLL_INTERVAL" envDefault:"100ms"`
	// PollTimeout is the argument passed to client.Poll.
	PollTimeout time.Duration `env:"KAFKA_POLL_TIMEOUT" envDefault:"500ms"`
	// FetchTimeout is T_fetch: how long an ExpiringFetch slot waits
	// before resolving with FetchReasonExpired.
	FetchTimeout time.Duration `env:"KAFKA_FETCH_TIMEOUT" envDefault:"500ms"`
	// CloseTimeout bounds client.Close during teardown.
	CloseTimeout time.Duration `env:"KAFKA_CLOSE_TIMEOUT" envDefault:"5s"`
	// DefaultAPITimeout is the default timeout for BeginningOffsets.
	DefaultAPITimeout time.Duration `env:"KAFKA_DEFAULT_API_TIMEOUT" envDefault:"10s"`
	// RequestTimeout is the default timeout for EndOffsets.
	RequestTimeout time.Duration `env:"KAFKA_REQUEST_TIMEOUT" envDefault:"10s"`

	LogLevel  LogLevel  `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat LogFormat `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadConfig reads configuration from a .env file (if present) and the
// environment, in the teacher's priority order: ENV vars > .env file >
// defaults (config.go's LoadConfig in the teacher). It is a convenience
// for standalone programs; library users who already have a config story
// can just construct a Config literal.
func LoadConfig(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("kafka: parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kafka: invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations that would make the actor or poll
// scheduler misbehave before either is ever started.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("KAFKA_POLL_INTERVAL must be > 0")
	}
	if c.PollTimeout <= 0 {
		return fmt.Errorf("KAFKA_POLL_TIMEOUT must be > 0")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("KAFKA_FETCH_TIMEOUT must be >= 0")
	}
	if c.CloseTimeout <= 0 {
		return fmt.Errorf("KAFKA_CLOSE_TIMEOUT must be > 0")
	}

	validLevels := map[LogLevel]bool{LogLevelDebug: true, LogLevelInfo: true, LogLevelWarn: true, LogLevelError: true}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error (got %q)", c.LogLevel)
	}
	validFormats := map[LogFormat]bool{LogFormatJSON: true, LogFormatPretty: true}
	if !validFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json, pretty (got %q)", c.LogFormat)
	}
	return nil
}

func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("kafka_brokers", c.KafkaBrokers).
		Str("consumer_group", c.ConsumerGroup).
		Dur("poll_interval", c.PollInterval).
		Dur("poll_timeout", c.PollTimeout).
		Dur("fetch_timeout", c.FetchTimeout).
		Dur("close_timeout", c.CloseTimeout).
		Str("log_level", string(c.LogLevel)).
		Str("log_format", string(c.LogFormat)).
		Msg("kafka consumer configuration loaded")
}
