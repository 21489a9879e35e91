// Package storage provides the persisted key/value backends the vault writes its records to
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Stats holds access counters for an adapter
type Stats struct {
	Size        int       `json:"size"`
	Reads       int64     `json:"reads"`
	Writes      int64     `json:"writes"`
	Misses      int64     `json:"misses"`
	LastAccess  time.Time `json:"lastAccess"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// MemoryAdapter implements interfaces.Store in process memory. Values are held
// in SecureBytes and wiped when overwritten, deleted or closed.
type MemoryAdapter struct {
	mu     sync.RWMutex
	data   map[string]*types.SecureBytes
	stats  Stats
	closed bool
	logger zerolog.Logger
}

var _ interfaces.Store = (*MemoryAdapter)(nil)

// NewMemoryAdapter creates a new, independent in-memory store
func NewMemoryAdapter() *MemoryAdapter {
	logger := log.With().Str("component", "memory_store").Logger()
	logger.Debug().Msg("Memory store initialized")

	now := time.Now().UTC()
	return &MemoryAdapter{
		data: make(map[string]*types.SecureBytes),
		stats: Stats{
			LastAccess:  now,
			LastUpdated: now,
		},
		logger: logger,
	}
}

// Get returns a copy of the value stored under key
func (a *MemoryAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, fmt.Errorf("memory store is closed")
	}

	a.stats.Reads++
	a.stats.LastAccess = time.Now().UTC()

	entry, ok := a.data[key]
	if !ok {
		a.stats.Misses++
		a.logger.Trace().Str("key", key).Msg("Key not found")
		return nil, types.ErrNotFound
	}
	return entry.Get(), nil
}

// Put stores a copy of value under key
func (a *MemoryAdapter) Put(ctx context.Context, key string, value []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("memory store is closed")
	}

	if old, ok := a.data[key]; ok {
		old.Clear()
	}
	a.data[key] = types.NewSecureBytes(value)
	a.stats.Writes++
	a.stats.Size = len(a.data)
	a.stats.LastUpdated = time.Now().UTC()

	a.logger.Trace().Str("key", key).Int("size", len(value)).Msg("Value stored")
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (a *MemoryAdapter) Delete(ctx context.Context, key string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if entry, ok := a.data[key]; ok {
		entry.Clear()
		delete(a.data, key)
		a.stats.Size = len(a.data)
		a.stats.LastUpdated = time.Now().UTC()
	}
	return nil
}

// Keys returns the stored keys in sorted order
func (a *MemoryAdapter) Keys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.data))
	for k := range a.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetStats returns a copy of the access counters
func (a *MemoryAdapter) GetStats() Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stats
}

// Close wipes all values. The adapter cannot be used afterwards.
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for key, entry := range a.data {
		entry.Clear()
		delete(a.data, key)
	}
	a.closed = true
	a.stats.Size = 0
	a.logger.Debug().Msg("Memory store closed and wiped")
	return nil
}
