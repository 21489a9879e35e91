// Package interfaces defines all service interfaces for the application.
// IMPORTANT: This is the single source of truth for service interfaces.
// Do not define interfaces in other files.
package interfaces

import (
	"context"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
)

// Crypto Interfaces
// CryptoService provides the primitives the vault is built on
type CryptoService interface {
	// DeriveKey stretches a password with a salt into a symmetric key
	DeriveKey(password, salt []byte, iterations int) ([]byte, error)

	// Encrypt seals plaintext under key
	Encrypt(key, plaintext []byte) ([]byte, error)

	// Decrypt opens ciphertext sealed by Encrypt. Every failure is the same error.
	Decrypt(key, ciphertext []byte) ([]byte, error)

	// GenerateSalt returns fresh random salt
	GenerateSalt() ([]byte, error)

	// Hash returns the hex digest of data
	Hash(data []byte) string
}

// Storage Interfaces
// Store is a durable key/value store. Get returns types.ErrNotFound for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Vault Interfaces
// SecretReader reads secrets from an unlocked vault
type SecretReader interface {
	Get(key string) ([]byte, error)
	IsUnlocked() bool
}

// SecretStore is the mutating view of the vault used by credential handling
type SecretStore interface {
	SecretReader
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	Keys() ([]string, error)
}

// CredentialsManager moves connector credentials in and out of the vault
type CredentialsManager interface {
	StoreCredentials(ctx context.Context, creds *types.ConnectorCredentials) error
	ResolveCredentials(connector string) (*types.ConnectorCredentials, error)
	RemoveCredentials(ctx context.Context, connector string) error
}

// KMS Interfaces
// KMSProvider defines the interface for KMS providers
type KMSProvider interface {
	// GetWrapper returns the underlying KMS wrapper
	GetWrapper() wrapping.Wrapper

	// Test performs a test encryption/decryption
	Test(ctx context.Context) error

	// HealthCheck performs a comprehensive health check
	HealthCheck(ctx context.Context) error

	// GetLastHealthCheckError returns the last health check error
	GetLastHealthCheckError() error
}

// Collaborator Interfaces
// SnapshotSource supplies the current financial state
type SnapshotSource interface {
	Snapshot(ctx context.Context) (*types.Snapshot, error)
}

// Committer applies a real, irreversible mutation for an action. The
// revision is the snapshot revision the action was validated against; a
// committer that refuses it because the state has moved wraps
// types.ErrRevisionConflict.
type Committer interface {
	Commit(ctx context.Context, action types.Action, revision uint64) (*types.CommitResult, error)
}

// GrantProvider returns the capabilities of the current user
type GrantProvider interface {
	Grants(ctx context.Context) ([]types.Permission, error)
}

// RuleSource returns the user's rule set
type RuleSource interface {
	Rules(ctx context.Context) ([]types.Rule, error)
}

// Pipeline Interfaces
// RuleEvaluator turns a snapshot and rules into candidate actions
type RuleEvaluator interface {
	EvaluateRules(snapshot *types.Snapshot, rules []types.Rule) []types.Action
}

// Simulator projects an action against a snapshot without side effects
type Simulator interface {
	Simulate(action types.Action, snapshot *types.Snapshot) (*types.Outcome, error)
}

// Authorizer decides whether an action may run
type Authorizer interface {
	Authorize(ctx context.Context, action types.Action) types.Decision
}

// Audit Interfaces
// AuditLogger defines the interface for audit logging
type AuditLogger interface {
	LogEvent(ctx context.Context, event *types.AuditEvent) error
}

// RecordSink persists or publishes execution records
type RecordSink interface {
	Append(ctx context.Context, record *types.ExecutionRecord) error
	Close() error
}

// RecordSource loads previously persisted execution records in sequence order
type RecordSource interface {
	Load(ctx context.Context) ([]*types.ExecutionRecord, error)
}
