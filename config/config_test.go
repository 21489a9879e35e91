package config

import (
	"testing"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/crypto"
	"github.com/root-sector-ltd-and-co-kg/framesync/storage"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, zerolog.InfoLevel, cfg.Level())
	assert.Equal(t, crypto.DefaultIterations, cfg.Vault.Iterations)
	assert.Equal(t, "pebble", cfg.Vault.Backend)
	assert.Equal(t, 5, cfg.Vault.UnlockBurst)
	assert.Equal(t, 30*time.Second, cfg.Vault.UnlockInterval)
	assert.True(t, cfg.Threshold().Equal(decimal.NewFromInt(1000)))
	assert.Nil(t, cfg.Vault.Envelope())
	assert.Equal(t, "framesync.executions", cfg.Journal.KafkaTopic)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("FRAMESYNC_LOG_LEVEL", "debug")
	t.Setenv("FRAMESYNC_VAULT_PASSWORD", "correct horse")
	t.Setenv("FRAMESYNC_VAULT_BACKEND", "redis")
	t.Setenv("FRAMESYNC_VAULT_REDIS_ADDR", "localhost:6379")
	t.Setenv("FRAMESYNC_ENVELOPE_PROVIDER", "aead")
	t.Setenv("FRAMESYNC_ENVELOPE_KEY_ID", "local")
	t.Setenv("FRAMESYNC_GRANTS", "accounts:read,transfer:execute")
	t.Setenv("FRAMESYNC_JOURNAL_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FRAMESYNC_HIGH_VALUE_THRESHOLD", "2500.50")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, zerolog.DebugLevel, cfg.Level())
	assert.Equal(t, "correct horse", cfg.Vault.Password)
	assert.Equal(t, []string{"accounts:read", "transfer:execute"}, cfg.Permission.Grants)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Journal.KafkaBrokers)
	assert.True(t, cfg.Threshold().Equal(decimal.RequireFromString("2500.5")))

	opts := cfg.Vault.StorageOptions()
	assert.Equal(t, storage.BackendRedis, opts.Backend)
	assert.Equal(t, "localhost:6379", opts.RedisAddr)

	envelope := cfg.Vault.Envelope()
	require.NotNil(t, envelope)
	assert.Equal(t, types.ProviderAead, envelope.Provider)
	assert.Equal(t, "local", envelope.KeyID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		require.NoError(t, ParseEnv(cfg))
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "invalid log level"},
		{"iterations", func(c *Config) { c.Vault.Iterations = 1000 }, "iteration count"},
		{"backend", func(c *Config) { c.Vault.Backend = "etcd" }, "unsupported vault backend"},
		{"throttle", func(c *Config) { c.Vault.UnlockBurst = 0 }, "unlock throttle"},
		{"envelope", func(c *Config) { c.Vault.EnvelopeProvider = "hsm" }, "unsupported envelope provider"},
		{"threshold", func(c *Config) { c.Permission.HighValueThreshold = "lots" }, "invalid high value threshold"},
		{"negative threshold", func(c *Config) { c.Permission.HighValueThreshold = "-1" }, "cannot be negative"},
		{"kafka topic", func(c *Config) {
			c.Journal.KafkaBrokers = []string{"k:9092"}
			c.Journal.KafkaTopic = " "
		}, "requires a topic"},
		{"mongo journal", func(c *Config) { c.Journal.Mongo = true }, "requires FRAMESYNC_MONGO_URI"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
