// Package config loads service configuration from the environment and an
// optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration. Sections are squashed so every
// key is a flat environment variable.
type Config struct {
	Server    Server    `mapstructure:",squash"`
	Redis     Redis     `mapstructure:",squash"`
	Postgres  Postgres  `mapstructure:",squash"`
	OTP       OTP       `mapstructure:",squash"`
	RateLimit RateLimit `mapstructure:",squash"`
	Voting    Voting    `mapstructure:",squash"`
	SMS       SMS       `mapstructure:",squash"`
	NATS      NATS      `mapstructure:",squash"`
	Kafka     Kafka     `mapstructure:",squash"`
	Admin     Admin     `mapstructure:",squash"`
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr     string `mapstructure:"SERVER_ADDR"`
	Env      string `mapstructure:"APP_ENV"`
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// StoreBackend selects memory, redis or postgres implementations.
	StoreBackend string `mapstructure:"STORE_BACKEND"`
	// DefaultCountryCode is prefixed to national numbers during normalisation.
	DefaultCountryCode string `mapstructure:"DEFAULT_COUNTRY_CODE"`
	AuditBuffer        int    `mapstructure:"AUDIT_BUFFER"`
	// AuditOpsSampleRate is the share of operations audit events kept.
	AuditOpsSampleRate float64 `mapstructure:"AUDIT_OPS_SAMPLE_RATE"`
	// MembersFile is an optional JSON array of members loaded at start.
	MembersFile string `mapstructure:"MEMBERS_FILE"`
}

// Redis mirrors the go-redis pool options we override.
type Redis struct {
	URL          string        `mapstructure:"REDIS_URL"`
	PoolSize     int           `mapstructure:"REDIS_POOL_SIZE"`
	MinIdleConns int           `mapstructure:"REDIS_MIN_IDLE_CONNS"`
	DialTimeout  time.Duration `mapstructure:"REDIS_DIAL_TIMEOUT"`
	ReadTimeout  time.Duration `mapstructure:"REDIS_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"REDIS_WRITE_TIMEOUT"`
}

type Postgres struct {
	URL          string `mapstructure:"DATABASE_URL"`
	MaxOpenConns int    `mapstructure:"DB_MAX_OPEN_CONNS"`
	MaxIdleConns int    `mapstructure:"DB_MAX_IDLE_CONNS"`
}

type OTP struct {
	CodeLength    int           `mapstructure:"OTP_CODE_LENGTH"`
	TTL           time.Duration `mapstructure:"OTP_TTL"`
	MaxAttempts   int           `mapstructure:"OTP_MAX_ATTEMPTS"`
	HashSecret    string        `mapstructure:"OTP_HASH_SECRET"`
	SweepInterval time.Duration `mapstructure:"OTP_SWEEP_INTERVAL"`
	// Retention keeps failed challenges readable after expiry so verification
	// reports Expired or Exhausted instead of NotFound.
	Retention time.Duration `mapstructure:"OTP_RETENTION"`
}

// RateLimit holds the two OTP request windows.
type RateLimit struct {
	ShortWindow time.Duration `mapstructure:"OTP_RATE_SHORT_WINDOW"`
	ShortLimit  int           `mapstructure:"OTP_RATE_SHORT_LIMIT"`
	LongWindow  time.Duration `mapstructure:"OTP_RATE_LONG_WINDOW"`
	LongLimit   int           `mapstructure:"OTP_RATE_LONG_LIMIT"`
}

type Voting struct {
	DefaultDuration time.Duration `mapstructure:"VOTING_DEFAULT_DURATION"`
	Broadcast       bool          `mapstructure:"VOTING_BROADCAST"`
	// SweepInterval is how often proposals past their deadline are closed.
	SweepInterval time.Duration `mapstructure:"VOTING_SWEEP_INTERVAL"`
}

// SMS configures the carrier. Without credentials messages are only logged.
type SMS struct {
	TwilioAccountSID string        `mapstructure:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string        `mapstructure:"TWILIO_AUTH_TOKEN"`
	TwilioFromNumber string        `mapstructure:"TWILIO_FROM_NUMBER"`
	TwilioBaseURL    string        `mapstructure:"TWILIO_BASE_URL"`
	SendTimeout      time.Duration `mapstructure:"SMS_SEND_TIMEOUT"`
	// InboundMode is "sync" (reply in the webhook response) or "queue"
	// (enqueue on NATS and reply through the carrier).
	InboundMode string `mapstructure:"SMS_INBOUND_MODE"`
}

type NATS struct {
	URL             string `mapstructure:"NATS_URL"`
	InboundSubject  string `mapstructure:"NATS_INBOUND_SUBJECT"`
	ConsumerQueue   string `mapstructure:"NATS_QUEUE_GROUP"`
	ConsumerWorkers int    `mapstructure:"NATS_CONSUMER_WORKERS"`
}

type Kafka struct {
	Brokers    string `mapstructure:"KAFKA_BROKERS"`
	AuditTopic string `mapstructure:"KAFKA_AUDIT_TOPIC"`
}

type Admin struct {
	JWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`
}

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	InboundSync  = "sync"
	InboundQueue = "queue"
)

// Load reads .env (if present), then builds and validates Config from the environment.
// Missing .env is ignored. Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_ADDR", ":8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("DEFAULT_COUNTRY_CODE", "1")
	v.SetDefault("AUDIT_BUFFER", 1024)
	v.SetDefault("AUDIT_OPS_SAMPLE_RATE", 1.0)
	v.SetDefault("MEMBERS_FILE", "")

	v.SetDefault("REDIS_URL", "")
	v.SetDefault("REDIS_POOL_SIZE", 10)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 2)
	v.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	v.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	v.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("OTP_CODE_LENGTH", 6)
	v.SetDefault("OTP_TTL", 10*time.Minute)
	v.SetDefault("OTP_MAX_ATTEMPTS", 3)
	v.SetDefault("OTP_HASH_SECRET", "")
	v.SetDefault("OTP_SWEEP_INTERVAL", time.Minute)
	v.SetDefault("OTP_RETENTION", time.Hour)

	v.SetDefault("OTP_RATE_SHORT_WINDOW", time.Minute)
	v.SetDefault("OTP_RATE_SHORT_LIMIT", 1)
	v.SetDefault("OTP_RATE_LONG_WINDOW", time.Hour)
	v.SetDefault("OTP_RATE_LONG_LIMIT", 5)

	v.SetDefault("VOTING_DEFAULT_DURATION", 7*24*time.Hour)
	v.SetDefault("VOTING_BROADCAST", true)
	v.SetDefault("VOTING_SWEEP_INTERVAL", time.Minute)

	v.SetDefault("TWILIO_ACCOUNT_SID", "")
	v.SetDefault("TWILIO_AUTH_TOKEN", "")
	v.SetDefault("TWILIO_FROM_NUMBER", "")
	v.SetDefault("TWILIO_BASE_URL", "https://api.twilio.com")
	v.SetDefault("SMS_SEND_TIMEOUT", 10*time.Second)
	v.SetDefault("SMS_INBOUND_MODE", InboundSync)

	v.SetDefault("NATS_URL", "")
	v.SetDefault("NATS_INBOUND_SUBJECT", "sms.inbound")
	v.SetDefault("NATS_QUEUE_GROUP", "sms-ingest")
	v.SetDefault("NATS_CONSUMER_WORKERS", 4)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_AUDIT_TOPIC", "commonvote-audit")

	v.SetDefault("ADMIN_JWT_SECRET", "")
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Server.StoreBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("config: STORE_BACKEND must be memory, redis or postgres, got %q", c.Server.StoreBackend)
	}
	if c.Server.StoreBackend == BackendRedis && c.Redis.URL == "" {
		return errors.New("config: REDIS_URL is required when STORE_BACKEND=redis")
	}
	if c.Server.StoreBackend == BackendPostgres && c.Postgres.URL == "" {
		return errors.New("config: DATABASE_URL is required when STORE_BACKEND=postgres")
	}
	if c.OTP.CodeLength < 4 || c.OTP.CodeLength > 10 {
		return errors.New("config: OTP_CODE_LENGTH must be between 4 and 10")
	}
	if c.OTP.MaxAttempts < 1 {
		return errors.New("config: OTP_MAX_ATTEMPTS must be positive")
	}
	if c.OTP.SweepInterval <= 0 {
		return errors.New("config: OTP_SWEEP_INTERVAL must be positive")
	}
	if c.OTP.Retention < 0 {
		return errors.New("config: OTP_RETENTION must not be negative")
	}
	if c.Voting.SweepInterval <= 0 {
		return errors.New("config: VOTING_SWEEP_INTERVAL must be positive")
	}
	if c.RateLimit.ShortLimit < 1 || c.RateLimit.LongLimit < 1 {
		return errors.New("config: OTP rate limits must be positive")
	}
	if c.Server.AuditOpsSampleRate < 0 || c.Server.AuditOpsSampleRate > 1 {
		return errors.New("config: AUDIT_OPS_SAMPLE_RATE must be between 0 and 1")
	}
	if c.SMS.InboundMode != InboundSync && c.SMS.InboundMode != InboundQueue {
		return fmt.Errorf("config: SMS_INBOUND_MODE must be sync or queue, got %q", c.SMS.InboundMode)
	}
	if c.SMS.InboundMode == InboundQueue && c.NATS.URL == "" {
		return errors.New("config: NATS_URL is required when SMS_INBOUND_MODE=queue")
	}
	if c.Server.Env == "production" {
		if c.OTP.HashSecret == "" {
			return errors.New("config: OTP_HASH_SECRET must be set in production")
		}
		if c.Admin.JWTSecret == "" {
			return errors.New("config: ADMIN_JWT_SECRET must be set in production")
		}
	}
	return nil
}

// KafkaBrokers returns broker addresses from the comma-separated setting.
func (c *Config) KafkaBrokers() []string {
	if c == nil || c.Kafka.Brokers == "" {
		return nil
	}
	parts := strings.Split(c.Kafka.Brokers, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// TwilioEnabled reports whether carrier credentials are present.
func (s SMS) TwilioEnabled() bool {
	return s.TwilioAccountSID != "" && s.TwilioAuthToken != "" && s.TwilioFromNumber != ""
}
