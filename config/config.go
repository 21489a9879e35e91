// Package config loads process configuration from FRAMESYNC_* environment variables
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/crypto"
	"github.com/root-sector-ltd-and-co-kg/framesync/storage"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config is the full process configuration
type Config struct {
	LogLevel   string `env:"FRAMESYNC_LOG_LEVEL" envDefault:"info"`
	LogConsole bool   `env:"FRAMESYNC_LOG_CONSOLE" envDefault:"false"`

	// SnapshotPath is the JSON snapshot the sandbox ledger starts from
	SnapshotPath string `env:"FRAMESYNC_SNAPSHOT_PATH" envDefault:"snapshot.json"`

	Vault      VaultConfig
	Permission PermissionConfig
	Rules      RulesConfig
	Journal    JournalConfig
}

// VaultConfig configures the vault and its durable store
type VaultConfig struct {
	// Password is removed from the environment once read
	Password   string `env:"FRAMESYNC_VAULT_PASSWORD,unset"`
	Iterations int    `env:"FRAMESYNC_VAULT_ITERATIONS" envDefault:"600000"`

	Backend   string `env:"FRAMESYNC_VAULT_BACKEND" envDefault:"pebble"`
	KeyPrefix string `env:"FRAMESYNC_VAULT_KEY_PREFIX"`
	PebbleDir string `env:"FRAMESYNC_VAULT_PEBBLE_DIR" envDefault:"data/vault"`

	RedisAddr     string `env:"FRAMESYNC_VAULT_REDIS_ADDR"`
	RedisPassword string `env:"FRAMESYNC_VAULT_REDIS_PASSWORD,unset"`
	RedisDB       int    `env:"FRAMESYNC_VAULT_REDIS_DB" envDefault:"0"`

	MongoURI        string `env:"FRAMESYNC_MONGO_URI"`
	MongoDatabase   string `env:"FRAMESYNC_MONGO_DATABASE" envDefault:"framesync"`
	MongoCollection string `env:"FRAMESYNC_VAULT_MONGO_COLLECTION" envDefault:"vault_records"`

	EnvelopeProvider     string `env:"FRAMESYNC_ENVELOPE_PROVIDER"`
	EnvelopeKeyID        string `env:"FRAMESYNC_ENVELOPE_KEY_ID"`
	EnvelopeRegion       string `env:"FRAMESYNC_ENVELOPE_REGION"`
	EnvelopeVaultAddress string `env:"FRAMESYNC_ENVELOPE_VAULT_ADDRESS"`
	EnvelopeVaultMount   string `env:"FRAMESYNC_ENVELOPE_VAULT_MOUNT"`
	EnvelopeAeadKey      string `env:"FRAMESYNC_ENVELOPE_AEAD_KEY,unset"`

	UnlockBurst    int           `env:"FRAMESYNC_VAULT_UNLOCK_BURST" envDefault:"5"`
	UnlockInterval time.Duration `env:"FRAMESYNC_VAULT_UNLOCK_INTERVAL" envDefault:"30s"`
}

// PermissionConfig configures the identity/permission collaborator
type PermissionConfig struct {
	HighValueThreshold string `env:"FRAMESYNC_HIGH_VALUE_THRESHOLD" envDefault:"1000"`

	// GrantToken selects the JWT provider; Grants is used when it is empty
	GrantToken  string   `env:"FRAMESYNC_GRANT_TOKEN,unset"`
	GrantIssuer string   `env:"FRAMESYNC_GRANT_ISSUER" envDefault:"framesync"`
	Grants      []string `env:"FRAMESYNC_GRANTS" envSeparator:","`

	// SigningKey, when set, is stored in the vault for the JWT grant provider
	SigningKey string `env:"FRAMESYNC_GRANT_SIGNING_KEY,unset"`
}

// RulesConfig locates the rule document
type RulesConfig struct {
	Path string `env:"FRAMESYNC_RULES_PATH" envDefault:"rules.yaml"`
}

// JournalConfig selects the execution record sinks
type JournalConfig struct {
	SQLitePath      string   `env:"FRAMESYNC_JOURNAL_SQLITE_PATH"`
	KafkaBrokers    []string `env:"FRAMESYNC_JOURNAL_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string   `env:"FRAMESYNC_JOURNAL_KAFKA_TOPIC" envDefault:"framesync.executions"`
	Mongo           bool     `env:"FRAMESYNC_JOURNAL_MONGO" envDefault:"false"`
	MongoCollection string   `env:"FRAMESYNC_JOURNAL_MONGO_COLLECTION" envDefault:"execution_records"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates the configuration
func Load() (*Config, error) {
	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot run with
func (c *Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	if c.Vault.Iterations < crypto.MinIterations {
		return fmt.Errorf("vault iterations: %w", crypto.ErrIterationsTooLow)
	}
	switch storage.Backend(c.Vault.Backend) {
	case storage.BackendMemory, storage.BackendPebble, storage.BackendRedis, storage.BackendMongo:
	default:
		return fmt.Errorf("unsupported vault backend: %s", c.Vault.Backend)
	}
	if c.Vault.UnlockBurst < 1 || c.Vault.UnlockInterval <= 0 {
		return fmt.Errorf("unlock throttle needs a positive burst and interval")
	}

	switch types.ProviderType(c.Vault.EnvelopeProvider) {
	case types.ProviderNone, types.ProviderAWS, types.ProviderAzure, types.ProviderGCP, types.ProviderVault, types.ProviderAead:
	default:
		return fmt.Errorf("unsupported envelope provider: %s", c.Vault.EnvelopeProvider)
	}

	threshold, err := decimal.NewFromString(c.Permission.HighValueThreshold)
	if err != nil {
		return fmt.Errorf("invalid high value threshold %q", c.Permission.HighValueThreshold)
	}
	if threshold.IsNegative() {
		return fmt.Errorf("high value threshold cannot be negative")
	}

	if len(c.Journal.KafkaBrokers) > 0 && strings.TrimSpace(c.Journal.KafkaTopic) == "" {
		return fmt.Errorf("kafka journal requires a topic")
	}
	if c.Journal.Mongo && c.Vault.MongoURI == "" {
		return fmt.Errorf("mongodb journal requires FRAMESYNC_MONGO_URI")
	}
	return nil
}

// Level returns the configured zerolog level
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

// Threshold returns the high-value transfer threshold
func (c *Config) Threshold() decimal.Decimal {
	return decimal.RequireFromString(c.Permission.HighValueThreshold)
}

// Envelope returns the KMS envelope settings, nil when disabled
func (v VaultConfig) Envelope() *types.EnvelopeConfig {
	if v.EnvelopeProvider == "" {
		return nil
	}
	return &types.EnvelopeConfig{
		Provider:     types.ProviderType(v.EnvelopeProvider),
		KeyID:        v.EnvelopeKeyID,
		Region:       v.EnvelopeRegion,
		VaultAddress: v.EnvelopeVaultAddress,
		VaultMount:   v.EnvelopeVaultMount,
		AeadKey:      v.EnvelopeAeadKey,
	}
}

// StorageOptions returns the options for storage.Open
func (v VaultConfig) StorageOptions() storage.Options {
	return storage.Options{
		Backend:         storage.Backend(v.Backend),
		KeyPrefix:       v.KeyPrefix,
		PebbleDir:       v.PebbleDir,
		RedisAddr:       v.RedisAddr,
		RedisPassword:   v.RedisPassword,
		RedisDB:         v.RedisDB,
		MongoURI:        v.MongoURI,
		MongoDatabase:   v.MongoDatabase,
		MongoCollection: v.MongoCollection,
	}
}
