package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

// Config is the process configuration, read once at startup.
type Config struct {
	Server   Server
	Database DatabaseConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Sumsub   SumsubConfig
	Auth     AuthConfig
	Business BusinessConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `env:"CAPSTACK_ADDR" envDefault:":8080"`
	MetricsAddr     string        `env:"CAPSTACK_METRICS_ADDR" envDefault:":9090"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// DatabaseConfig selects Postgres persistence when URL is set; otherwise
// stores are kept in memory.
type DatabaseConfig struct {
	URL             string        `env:"DATABASE_URL"`
	MaxOpenConns    int           `env:"DATABASE_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"DATABASE_MAX_IDLE_CONNS" envDefault:"5"`
	ConnMaxLifetime time.Duration `env:"DATABASE_CONN_MAX_LIFETIME" envDefault:"5m"`
	TxTimeout       time.Duration `env:"DATABASE_TX_TIMEOUT" envDefault:"5s"`
	Migrate         bool          `env:"DATABASE_MIGRATE" envDefault:"true"`
}

// RedisConfig enables the shared webhook replay guard when URL is set.
type RedisConfig struct {
	URL          string        `env:"REDIS_URL"`
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
	ReplayTTL    time.Duration `env:"WEBHOOK_REPLAY_TTL" envDefault:"72h"`
}

// KafkaConfig enables admin review fan-out when Brokers is non-empty.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS" envSeparator:","`
	ReviewTopic string   `env:"KAFKA_REVIEW_TOPIC" envDefault:"capstack.admin-reviews"`
}

// SumsubConfig configures the verification vendor. An empty AppToken
// leaves the provider unconfigured and identities fall back to form
// submission.
type SumsubConfig struct {
	BaseURL       string        `env:"SUMSUB_BASE_URL" envDefault:"https://api.sumsub.com"`
	AppToken      string        `env:"SUMSUB_APP_TOKEN"`
	SecretKey     string        `env:"SUMSUB_SECRET_KEY"`
	WebhookSecret string        `env:"SUMSUB_WEBHOOK_SECRET"`
	LevelName     string        `env:"SUMSUB_LEVEL_NAME" envDefault:"basic-kyc-level"`
	Timeout       time.Duration `env:"SUMSUB_TIMEOUT" envDefault:"10s"`
}

type AuthConfig struct {
	JWTSigningKey string `env:"JWT_SIGNING_KEY" envDefault:"dev-secret-key-change-in-production"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"capstack"`
}

// BusinessConfig holds tunable domain constants.
type BusinessConfig struct {
	FrontendURL         string          `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	InvitationTTLDays   int             `env:"INVITATION_TTL_DAYS" envDefault:"30"`
	EarlyTerminationFee decimal.Decimal `env:"EARLY_TERMINATION_FEE" envDefault:"5000"`
	// CompletionClaimTTL left at zero keeps the subscription service default.
	CompletionClaimTTL  time.Duration   `env:"COMPLETION_CLAIM_TTL"`
	LedgerWriteAttempts int             `env:"LEDGER_WRITE_ATTEMPTS" envDefault:"3"`
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.Business.InvitationTTLDays <= 0 {
		return Config{}, fmt.Errorf("INVITATION_TTL_DAYS must be positive")
	}
	if cfg.Business.LedgerWriteAttempts <= 0 {
		return Config{}, fmt.Errorf("LEDGER_WRITE_ATTEMPTS must be positive")
	}
	return cfg, nil
}
