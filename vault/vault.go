// Package vault implements the password-gated secret store. A vault is either
// locked or unlocked; while unlocked it holds the derived key and the decrypted
// entries in memory, and every mutation re-seals and persists the whole map.
package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/audit"
	"github.com/root-sector-ltd-and-co-kg/framesync/crypto"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/storage"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// SaltRecordKey holds the versioned KDF parameters
	SaltRecordKey = "framesync.vault.v1.salt"

	// BlobRecordKey holds the sealed entry map
	BlobRecordKey = "framesync.vault.v1.blob"

	saltRecordVersion = 1
	kdfName           = "pbkdf2-sha256"

	defaultUnlockBurst    = 5
	defaultUnlockInterval = 30 * time.Second
)

var (
	// ErrLocked is returned by every entry operation while the vault is locked
	ErrLocked = errors.New("vault is locked")

	// ErrKeyNotFound is returned when an entry does not exist
	ErrKeyNotFound = errors.New("vault key not found")

	// ErrUnlockFailed covers a wrong password and a corrupted blob alike
	ErrUnlockFailed = errors.New("failed to unlock vault")

	// ErrAlreadyUnlocked is returned by Unlock on an unlocked vault
	ErrAlreadyUnlocked = errors.New("vault is already unlocked")

	// ErrUnlockThrottled is returned while too many unlocks have failed recently.
	// It is an ErrUnlockFailed.
	ErrUnlockThrottled = fmt.Errorf("%w: too many failed unlock attempts, try again later", ErrUnlockFailed)
)

// saltRecord is the persisted KDF parameter record
type saltRecord struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Iterations int    `json:"iterations"`
	Salt       []byte `json:"salt"`
}

// Vault is an owned, independently constructible secret store
type Vault struct {
	store       interfaces.Store
	crypto      interfaces.CryptoService
	auditLogger interfaces.AuditLogger
	iterations  int
	limiter     *rate.Limiter
	logger      zerolog.Logger

	// mu serializes unlock, lock and the read-modify-write-persist of Set and
	// Remove; readers share it
	mu      sync.RWMutex
	key     *types.SecureBytes
	entries map[string]*types.SecureBytes
}

var _ interfaces.SecretStore = (*Vault)(nil)

// Option configures a Vault
type Option func(*Vault)

// WithIterations sets the KDF iteration count used when the salt record is created
func WithIterations(iterations int) Option {
	return func(v *Vault) {
		v.iterations = iterations
	}
}

// WithAuditLogger sets the audit logger for vault events
func WithAuditLogger(logger interfaces.AuditLogger) Option {
	return func(v *Vault) {
		v.auditLogger = logger
	}
}

// WithUnlockLimiter replaces the failed-unlock limiter
func WithUnlockLimiter(limiter *rate.Limiter) Option {
	return func(v *Vault) {
		v.limiter = limiter
	}
}

// New creates a locked vault backed by store
func New(store interfaces.Store, cryptoService interfaces.CryptoService, opts ...Option) (*Vault, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required for vault")
	}
	if cryptoService == nil {
		return nil, fmt.Errorf("crypto service is required for vault")
	}

	v := &Vault{
		store:      store,
		crypto:     cryptoService,
		iterations: crypto.DefaultIterations,
		limiter:    rate.NewLimiter(rate.Every(defaultUnlockInterval), defaultUnlockBurst),
		logger:     log.With().Str("component", "vault").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}

	if v.iterations < crypto.MinIterations {
		return nil, crypto.ErrIterationsTooLow
	}
	return v, nil
}

// Unlock derives the key from password and opens the persisted entries. The
// first unlock of an empty store creates the salt record and always succeeds.
func (v *Vault) Unlock(ctx context.Context, password []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return ErrAlreadyUnlocked
	}
	if v.limiter.Tokens() < 1 {
		v.emit(ctx, audit.EventTypeVaultUnlock, audit.OperationUnlock, audit.StatusDenied, "", "throttled")
		return ErrUnlockThrottled
	}

	record, err := v.loadSaltRecord(ctx)
	if err != nil {
		return v.unlockFailed(ctx, err)
	}

	key, err := v.crypto.DeriveKey(password, record.Salt, record.Iterations)
	if err != nil {
		return v.unlockFailed(ctx, fmt.Errorf("%w: %v", ErrUnlockFailed, err))
	}
	defer crypto.Wipe(key)

	entries := make(map[string]*types.SecureBytes)
	sealed, err := v.store.Get(ctx, BlobRecordKey)
	switch {
	case errors.Is(err, types.ErrNotFound):
		v.logger.Info().Msg("No vault blob found, starting with an empty vault")
	case errors.Is(err, storage.ErrEnvelope):
		return v.unlockFailed(ctx, ErrUnlockFailed)
	case err != nil:
		return fmt.Errorf("failed to read vault blob: %w", err)
	default:
		plain, err := v.crypto.Decrypt(key, sealed)
		if err != nil {
			return v.unlockFailed(ctx, ErrUnlockFailed)
		}
		var decoded map[string][]byte
		err = json.Unmarshal(plain, &decoded)
		crypto.Wipe(plain)
		if err != nil {
			return v.unlockFailed(ctx, ErrUnlockFailed)
		}
		for k, val := range decoded {
			entries[k] = types.NewSecureBytes(val)
			crypto.Wipe(val)
		}
	}

	v.key = types.NewSecureBytes(key)
	v.entries = entries

	v.logger.Info().Int("entries", len(entries)).Msg("Vault unlocked")
	v.emit(ctx, audit.EventTypeVaultUnlock, audit.OperationUnlock, audit.StatusSuccess, "", "")
	return nil
}

// loadSaltRecord reads the salt record, creating and persisting one on first run
func (v *Vault) loadSaltRecord(ctx context.Context) (*saltRecord, error) {
	data, err := v.store.Get(ctx, SaltRecordKey)
	if errors.Is(err, types.ErrNotFound) {
		salt, err := v.crypto.GenerateSalt()
		if err != nil {
			return nil, err
		}
		record := &saltRecord{
			Version:    saltRecordVersion,
			KDF:        kdfName,
			Iterations: v.iterations,
			Salt:       salt,
		}
		encoded, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf("failed to encode salt record: %w", err)
		}
		if err := v.store.Put(ctx, SaltRecordKey, encoded); err != nil {
			return nil, fmt.Errorf("failed to persist salt record: %w", err)
		}
		v.logger.Info().Int("iterations", v.iterations).Msg("Created vault salt record")
		return record, nil
	}
	if errors.Is(err, storage.ErrEnvelope) {
		return nil, ErrUnlockFailed
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read salt record: %w", err)
	}

	record := &saltRecord{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, ErrUnlockFailed
	}
	if record.Version != saltRecordVersion || record.KDF != kdfName {
		v.logger.Error().Int("version", record.Version).Str("kdf", record.KDF).Msg("Unsupported vault salt record")
		return nil, ErrUnlockFailed
	}
	if record.Iterations < crypto.MinIterations {
		v.logger.Error().Int("iterations", record.Iterations).Msg("Vault salt record below minimum iteration count")
		return nil, ErrUnlockFailed
	}
	return record, nil
}

// unlockFailed counts a failed attempt when err is an unlock failure
func (v *Vault) unlockFailed(ctx context.Context, err error) error {
	if errors.Is(err, ErrUnlockFailed) {
		v.limiter.Allow()
		v.logger.Warn().Msg("Vault unlock failed")
		v.emit(ctx, audit.EventTypeVaultUnlock, audit.OperationUnlock, audit.StatusFailed, "", "")
		return ErrUnlockFailed
	}
	return err
}

// Lock forgets the key and every entry. It is idempotent.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return
	}
	v.key.Clear()
	v.key = nil
	for k, entry := range v.entries {
		entry.Clear()
		delete(v.entries, k)
	}
	v.entries = nil

	v.logger.Info().Msg("Vault locked")
	v.emit(context.Background(), audit.EventTypeVaultLock, audit.OperationLock, audit.StatusSuccess, "", "")
}

// IsUnlocked reports the vault state
func (v *Vault) IsUnlocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.key != nil
}

// Get returns a copy of the value stored under key
func (v *Vault) Get(key string) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil {
		return nil, ErrLocked
	}
	entry, ok := v.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	return entry.Get(), nil
}

// GetString returns the value stored under key as a string
func (v *Vault) GetString(key string) (string, error) {
	value, err := v.Get(key)
	if err != nil {
		return "", err
	}
	return string(value), nil
}

// Keys returns the entry names in sorted order
func (v *Vault) Keys() ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.key == nil {
		return nil, ErrLocked
	}
	keys := make([]string, 0, len(v.entries))
	for k := range v.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Set stores value under key and persists the re-sealed map. On a persist
// failure the in-memory entries are left unchanged.
func (v *Vault) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("vault key cannot be empty")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return ErrLocked
	}

	plain := v.plainEntries()
	defer wipeEntries(plain)
	crypto.Wipe(plain[key])
	plain[key] = append([]byte(nil), value...)

	if err := v.persist(ctx, plain); err != nil {
		v.emit(ctx, audit.EventTypeVaultSet, audit.OperationWrite, audit.StatusFailed, key, err.Error())
		return err
	}

	if old, ok := v.entries[key]; ok {
		old.Clear()
	}
	v.entries[key] = types.NewSecureBytes(value)

	v.logger.Debug().Str("key", key).Msg("Vault entry stored")
	v.emit(ctx, audit.EventTypeVaultSet, audit.OperationWrite, audit.StatusSuccess, key, "")
	return nil
}

// Remove deletes key and persists the re-sealed map
func (v *Vault) Remove(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key == nil {
		return ErrLocked
	}
	entry, ok := v.entries[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}

	plain := v.plainEntries()
	defer wipeEntries(plain)
	delete(plain, key)

	if err := v.persist(ctx, plain); err != nil {
		v.emit(ctx, audit.EventTypeVaultRemove, audit.OperationDelete, audit.StatusFailed, key, err.Error())
		return err
	}

	entry.Clear()
	delete(v.entries, key)

	v.logger.Debug().Str("key", key).Msg("Vault entry removed")
	v.emit(ctx, audit.EventTypeVaultRemove, audit.OperationDelete, audit.StatusSuccess, key, "")
	return nil
}

// plainEntries copies the entries out of their secure buffers. Caller holds mu.
func (v *Vault) plainEntries() map[string][]byte {
	plain := make(map[string][]byte, len(v.entries)+1)
	for k, entry := range v.entries {
		plain[k] = entry.Get()
	}
	return plain
}

// persist seals the whole map under the session key. Caller holds mu.
func (v *Vault) persist(ctx context.Context, plain map[string][]byte) error {
	encoded, err := json.Marshal(plain)
	if err != nil {
		return fmt.Errorf("failed to encode vault entries: %w", err)
	}
	defer crypto.Wipe(encoded)

	key := v.key.Get()
	defer crypto.Wipe(key)

	sealed, err := v.crypto.Encrypt(key, encoded)
	if err != nil {
		return fmt.Errorf("failed to seal vault entries: %w", err)
	}
	if err := v.store.Put(ctx, BlobRecordKey, sealed); err != nil {
		return fmt.Errorf("failed to persist vault blob: %w", err)
	}
	return nil
}

func (v *Vault) emit(ctx context.Context, eventType, operation, status, key, reason string) {
	if v.auditLogger == nil {
		return
	}
	event := audit.NewAuditEvent(eventType, operation)
	event.Status = status
	if key != "" {
		event.Context[string(audit.KeyVaultKey)] = key
	}
	if reason != "" {
		event.Context[string(audit.KeyReason)] = reason
	}
	audit.Emit(ctx, v.auditLogger, event)
}

func wipeEntries(entries map[string][]byte) {
	for k, val := range entries {
		crypto.Wipe(val)
		delete(entries, k)
	}
}
