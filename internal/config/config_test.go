package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(env(nil))

	require.NoError(t, err)
	assert.Equal(t, BackendPostgres, cfg.LedgerBackend)
	assert.Equal(t, "host=localhost port=5432 user=postgres password=postgres dbname=guildbank sslmode=disable", cfg.DBConnStr)
	assert.Equal(t, ":8080", cfg.GRPCPort)
	assert.True(t, cfg.UsesDefaultToken())
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 10000, cfg.CacheLocalSize)
	assert.Equal(t, "transactions.recorded", cfg.KafkaTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.True(t, cfg.InitialGrant.Equal(decimal.NewFromInt(1000)))
	assert.True(t, cfg.MinTransfer.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, cfg.MaxTransfer.Equal(decimal.NewFromInt(10000)))
	assert.True(t, cfg.MaxAdjustment.Equal(decimal.NewFromInt(1000000)))
	assert.Equal(t, 200, cfg.MaxMemoLength)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.Equal(t, 10*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 200*time.Millisecond, cfg.RetryMaxDelay)
	assert.Equal(t, 2*time.Second, cfg.LockTimeout)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := load(env(map[string]string{
		"LEDGER_BACKEND":     "memory",
		"REDIS_ADDR":         "redis:6379",
		"KAFKA_BROKERS":      "kafka-1:9092, kafka-2:9092,",
		"API_TOKEN":          "secret",
		"LOG_LEVEL":          "DEBUG",
		"LOG_FORMAT":         "console",
		"INITIAL_GRANT":      "0",
		"MAX_TRANSFER":       "250.50",
		"RETRY_MAX_ATTEMPTS": "5",
		"RETRY_BASE_DELAY":   "50ms",
		"RETRY_MAX_DELAY":    "1s",
	}))

	require.NoError(t, err)
	assert.Equal(t, BackendMemory, cfg.LedgerBackend)
	assert.Empty(t, cfg.DBConnStr)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.False(t, cfg.UsesDefaultToken())
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.True(t, cfg.InitialGrant.IsZero())
	assert.True(t, cfg.MaxTransfer.Equal(decimal.RequireFromString("250.50")))
	assert.Equal(t, 5, cfg.RetryMaxAttempts)
	assert.Equal(t, time.Second, cfg.RetryMaxDelay)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
	}{
		{name: "Unknown Backend", vars: map[string]string{"LEDGER_BACKEND": "sqlite"}},
		{name: "Malformed Duration", vars: map[string]string{"CACHE_TTL": "five minutes"}},
		{name: "Malformed Integer", vars: map[string]string{"DB_MAX_OPEN_CONNS": "many"}},
		{name: "Malformed Decimal", vars: map[string]string{"INITIAL_GRANT": "lots"}},
		{name: "Zero Attempts", vars: map[string]string{"RETRY_MAX_ATTEMPTS": "0"}},
		{name: "Max Delay Below Base", vars: map[string]string{"RETRY_BASE_DELAY": "1s", "RETRY_MAX_DELAY": "10ms"}},
		{name: "Max Below Min Transfer", vars: map[string]string{"MIN_TRANSFER": "50", "MAX_TRANSFER": "10"}},
		{name: "Negative Grant", vars: map[string]string{"INITIAL_GRANT": "-1"}},
		{name: "Bad Redis Address", vars: map[string]string{"REDIS_ADDR": "not an address"}},
		{name: "Bad Log Level", vars: map[string]string{"LOG_LEVEL": "verbose"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := load(env(tt.vars))

			assert.Nil(t, cfg)
			assert.ErrorContains(t, err, "invalid configuration")
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("warn", "json")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = NewLogger("loud", "json")
	assert.Error(t, err)

	_, err = NewLogger("info", "xml")
	assert.Error(t, err)
}
