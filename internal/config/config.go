package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"

	defaultAPIToken = "dev-token"
)

// Config is the process configuration, read from the environment
type Config struct {
	LedgerBackend  string        `validate:"oneof=postgres memory"`
	DBConnStr      string        `validate:"required_if=LedgerBackend postgres"`
	DBMaxOpenConns int           `validate:"gte=1"`
	LockTimeout    time.Duration `validate:"gt=0"`

	RedisAddr      string        `validate:"omitempty,hostname_port"`
	RedisDB        int           `validate:"gte=0"`
	CacheTTL       time.Duration `validate:"gt=0"`
	CacheLocalSize int           `validate:"gte=1"`
	RedisPassword  string

	KafkaBrokers []string `validate:"dive,hostname_port"`
	KafkaTopic   string   `validate:"required_with=KafkaBrokers"`

	GRPCPort string `validate:"required"`
	APIToken string `validate:"required"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	MaxMemoLength int `validate:"gte=1,lte=2000"`
	InitialGrant  decimal.Decimal
	MinTransfer   decimal.Decimal
	MaxTransfer   decimal.Decimal
	MaxAdjustment decimal.Decimal

	RetryMaxAttempts int           `validate:"gte=1,lte=10"`
	RetryBaseDelay   time.Duration `validate:"gt=0"`
	RetryMaxDelay    time.Duration `validate:"gtefield=RetryBaseDelay"`
}

// UsesDefaultToken reports whether API_TOKEN was left unset
func (c *Config) UsesDefaultToken() bool {
	return c.APIToken == defaultAPIToken
}

// Load reads the configuration. Values from a .env file in the working directory
// fill in variables the environment does not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	r := &reader{lookup: lookup}

	cfg := &Config{
		LedgerBackend:  r.string("LEDGER_BACKEND", BackendPostgres),
		DBConnStr:      r.string("DB_CONN_STR", ""),
		DBMaxOpenConns: r.int("DB_MAX_OPEN_CONNS", 25),
		LockTimeout:    r.duration("LOCK_TIMEOUT", 2*time.Second),

		RedisAddr:      r.string("REDIS_ADDR", ""),
		RedisPassword:  r.string("REDIS_PASSWORD", ""),
		RedisDB:        r.int("REDIS_DB", 0),
		CacheTTL:       r.duration("CACHE_TTL", 5*time.Minute),
		CacheLocalSize: r.int("CACHE_LOCAL_SIZE", 10000),

		KafkaBrokers: r.list("KAFKA_BROKERS"),
		KafkaTopic:   r.string("KAFKA_TOPIC", "transactions.recorded"),

		GRPCPort: r.string("GRPC_PORT", ":8080"),
		APIToken: r.string("API_TOKEN", defaultAPIToken),

		LogLevel:  strings.ToLower(r.string("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(r.string("LOG_FORMAT", "json")),

		InitialGrant:  r.decimal("INITIAL_GRANT", "1000.00"),
		MinTransfer:   r.decimal("MIN_TRANSFER", "0.01"),
		MaxTransfer:   r.decimal("MAX_TRANSFER", "10000.00"),
		MaxAdjustment: r.decimal("MAX_ADJUSTMENT", "1000000.00"),
		MaxMemoLength: r.int("MAX_MEMO_LENGTH", 200),

		RetryMaxAttempts: r.int("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   r.duration("RETRY_BASE_DELAY", 10*time.Millisecond),
		RetryMaxDelay:    r.duration("RETRY_MAX_DELAY", 200*time.Millisecond),
	}

	if cfg.DBConnStr == "" && cfg.LedgerBackend == BackendPostgres {
		// If explicit string is missing, build it from individual vars (Docker friendly)
		cfg.DBConnStr = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			r.string("DB_HOST", "localhost"),
			r.string("DB_PORT", "5432"),
			r.string("DB_USER", "postgres"),
			r.string("DB_PASSWORD", "postgres"),
			r.string("DB_NAME", "guildbank"),
		)
	}

	if len(r.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %w", errors.Join(r.errs...))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the relations between amount limits
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	switch {
	case c.InitialGrant.IsNegative():
		return errors.New("invalid configuration: INITIAL_GRANT cannot be negative")
	case !c.MinTransfer.IsPositive():
		return errors.New("invalid configuration: MIN_TRANSFER must be positive")
	case c.MaxTransfer.LessThan(c.MinTransfer):
		return errors.New("invalid configuration: MAX_TRANSFER must not be below MIN_TRANSFER")
	case !c.MaxAdjustment.IsPositive():
		return errors.New("invalid configuration: MAX_ADJUSTMENT must be positive")
	}
	return nil
}

// reader parses typed values and collects every malformed variable
type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) string(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	raw := r.string(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	raw := r.string(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func (r *reader) decimal(key, def string) decimal.Decimal {
	raw := r.string(key, def)
	v, err := decimal.NewFromString(raw)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return decimal.RequireFromString(def)
	}
	return v
}

func (r *reader) list(key string) []string {
	raw := r.string(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
