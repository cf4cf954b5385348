// Package config loads process configuration from the environment and the
// economy policy from an optional TOML file.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"coinledger/internal/economy/commission"
	"coinledger/internal/economy/models"
)

//go:embed policy.toml
var defaultPolicy []byte

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
	AdminToken      string
	LogLevel        string
}

type Postgres struct {
	DSN          string
	MaxOpenConns int
	TxTimeout    time.Duration
	MaxRetries   int
}

// Redis is optional; an empty URL keeps the replay cache in process.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	KeyPrefix    string
}

// Kafka is optional; without brokers the outbox is drained into the log.
type Kafka struct {
	Brokers       []string
	Topic         string
	RelayInterval time.Duration
	RelayBatch    int
}

type Auth struct {
	JWTSigningKey string
	JWTIssuer     string
	VerifyRate    float64
	VerifyBurst   int
}

// Economy is the policy loaded from TOML.
type Economy struct {
	WelcomeBonus       int64                `toml:"welcome_bonus"`
	DefaultSessionCost int64                `toml:"default_session_cost"`
	CommissionRate     string               `toml:"commission_rate"`
	RefundThreshold    duration             `toml:"refund_threshold"`
	HistoryLimit       int                  `toml:"history_limit"`
	MaxHistoryLimit    int                  `toml:"max_history_limit"`
	TreasuryFloat      int64                `toml:"treasury_float"`
	ReplayTTL          duration             `toml:"replay_ttl"`
	Packages           []models.CoinPackage `toml:"packages"`

	// PaymentSecret comes from the environment, never the policy file.
	PaymentSecret string `toml:"-"`
}

type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Auth     Auth
	Economy  Economy
}

// duration decodes TOML strings such as "5m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Load reads an optional .env file, then the environment, then the policy
// file named by COINLEDGER_POLICY_FILE layered over the embedded defaults.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := FromEnv()

	policy, err := LoadPolicy(os.Getenv("COINLEDGER_POLICY_FILE"))
	if err != nil {
		return nil, err
	}
	policy.PaymentSecret = os.Getenv("PAYMENT_WEBHOOK_SECRET")
	cfg.Economy = policy

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv builds the process config from environment variables. The policy
// section is left empty.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:            envString("COINLEDGER_ADDR", ":8080"),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			RequestTimeout:  envDuration("REQUEST_TIMEOUT", 10*time.Second),
			AdminToken:      os.Getenv("ADMIN_API_TOKEN"),
			LogLevel:        envString("LOG_LEVEL", "info"),
		},
		Postgres: Postgres{
			DSN:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			TxTimeout:    envDuration("DATABASE_TX_TIMEOUT", 5*time.Second),
			MaxRetries:   envInt("DATABASE_TX_MAX_RETRIES", 8),
		},
		Redis: Redis{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
			KeyPrefix:    envString("REDIS_KEY_PREFIX", "coinledger:replay:"),
		},
		Kafka: Kafka{
			Brokers:       envList("KAFKA_BROKERS"),
			Topic:         envString("KAFKA_TOPIC", "coinledger.economy-events"),
			RelayInterval: envDuration("OUTBOX_RELAY_INTERVAL", time.Second),
			RelayBatch:    envInt("OUTBOX_RELAY_BATCH", 100),
		},
		Auth: Auth{
			JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
			JWTIssuer:     os.Getenv("JWT_ISSUER"),
			VerifyRate:    envFloat("PAYMENT_VERIFY_RATE", 1),
			VerifyBurst:   envInt("PAYMENT_VERIFY_BURST", 5),
		},
	}
}

// LoadPolicy decodes the embedded defaults and, when path is set, the file
// over them. Keys absent from the file keep their default.
func LoadPolicy(path string) (Economy, error) {
	var policy Economy
	if _, err := toml.Decode(string(defaultPolicy), &policy); err != nil {
		return Economy{}, fmt.Errorf("decode default policy: %w", err)
	}
	if path == "" {
		return policy, nil
	}
	md, err := toml.DecodeFile(path, &policy)
	if err != nil {
		return Economy{}, fmt.Errorf("decode policy file %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Economy{}, fmt.Errorf("policy file %s: unknown keys %v", path, undecoded)
	}
	return policy, nil
}

// Validate checks the fields every command needs. Serve-only requirements
// are checked by the serve command.
func (c *Config) Validate() error {
	var errs []error
	e := c.Economy
	if _, err := commission.Parse(e.CommissionRate); err != nil {
		errs = append(errs, fmt.Errorf("commission_rate %q: %w", e.CommissionRate, err))
	}
	if e.DefaultSessionCost <= 0 {
		errs = append(errs, errors.New("default_session_cost must be positive"))
	}
	if e.WelcomeBonus < 0 || e.TreasuryFloat < 0 {
		errs = append(errs, errors.New("welcome_bonus and treasury_float cannot be negative"))
	}
	if e.RefundThreshold.Duration < 0 {
		errs = append(errs, errors.New("refund_threshold cannot be negative"))
	}
	seen := make(map[string]bool, len(e.Packages))
	for _, p := range e.Packages {
		if p.ID == "" || p.Coins <= 0 {
			errs = append(errs, fmt.Errorf("package %q must have an id and positive coins", p.ID))
		}
		if seen[p.ID] {
			errs = append(errs, fmt.Errorf("duplicate package %q", p.ID))
		}
		seen[p.ID] = true
	}
	return errors.Join(errs...)
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
