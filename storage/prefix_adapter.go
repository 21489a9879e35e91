package storage

import (
	"context"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
)

// PrefixAdapter namespaces every key of an underlying store
type PrefixAdapter struct {
	inner     interfaces.Store
	keyPrefix string
}

// NewPrefixAdapter wraps inner so that all keys are stored as keyPrefix+key.
// An empty prefix returns inner unchanged.
func NewPrefixAdapter(inner interfaces.Store, keyPrefix string) interfaces.Store {
	if keyPrefix == "" {
		return inner
	}
	return &PrefixAdapter{
		inner:     inner,
		keyPrefix: keyPrefix,
	}
}

func (p *PrefixAdapter) prefixedKey(key string) string {
	return p.keyPrefix + key
}

// Get retrieves a value using the prefixed key
func (p *PrefixAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	return p.inner.Get(ctx, p.prefixedKey(key))
}

// Put stores a value using the prefixed key
func (p *PrefixAdapter) Put(ctx context.Context, key string, value []byte) error {
	return p.inner.Put(ctx, p.prefixedKey(key), value)
}

// Delete removes a value using the prefixed key
func (p *PrefixAdapter) Delete(ctx context.Context, key string) error {
	return p.inner.Delete(ctx, p.prefixedKey(key))
}

// Close closes the underlying store
func (p *PrefixAdapter) Close() error {
	return p.inner.Close()
}
