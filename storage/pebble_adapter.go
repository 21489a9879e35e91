package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"
)

// PebbleAdapter implements interfaces.Store on an embedded pebble database.
// Every write is synced before returning.
type PebbleAdapter struct {
	db *pebble.DB
}

var _ interfaces.Store = (*PebbleAdapter)(nil)

// OpenPebble opens (or creates) a pebble database in dir
func OpenPebble(dir string) (*PebbleAdapter, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", dir, err)
	}
	log.Debug().Str("dir", dir).Msg("Pebble store opened")
	return &PebbleAdapter{db: db}, nil
}

// Get returns a copy of the value stored under key
func (p *PebbleAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	value, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	defer closer.Close()

	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

// Put writes value under key with a synced write
func (p *PebbleAdapter) Put(ctx context.Context, key string, value []byte) error {
	if err := p.db.Set([]byte(key), value, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Delete removes key with a synced write
func (p *PebbleAdapter) Delete(ctx context.Context, key string) error {
	if err := p.db.Delete([]byte(key), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (p *PebbleAdapter) Close() error {
	return p.db.Close()
}
