package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/proto"
)

// ErrEnvelope is returned when a stored record cannot be unwrapped by the KMS key
var ErrEnvelope = errors.New("failed to open KMS envelope")

// EnvelopeAdapter wraps every value with an external KMS key before it
// reaches the underlying store
type EnvelopeAdapter struct {
	inner   interfaces.Store
	wrapper wrapping.Wrapper
}

var _ interfaces.Store = (*EnvelopeAdapter)(nil)

// NewEnvelopeAdapter wraps inner with the provider's KMS wrapper
func NewEnvelopeAdapter(inner interfaces.Store, provider interfaces.KMSProvider) *EnvelopeAdapter {
	return &EnvelopeAdapter{
		inner:   inner,
		wrapper: provider.GetWrapper(),
	}
}

// Get reads and unwraps the value stored under key
func (e *EnvelopeAdapter) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := e.inner.Get(ctx, key)
	if err != nil {
		return nil, err
	}

	blob := &wrapping.BlobInfo{}
	if err := proto.Unmarshal(data, blob); err != nil {
		log.Warn().Str("key", key).Msg("Stored record is not a KMS envelope")
		return nil, ErrEnvelope
	}

	plaintext, err := e.wrapper.Decrypt(ctx, blob)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("KMS envelope could not be opened")
		return nil, ErrEnvelope
	}
	return plaintext, nil
}

// Put wraps value and writes the envelope under key
func (e *EnvelopeAdapter) Put(ctx context.Context, key string, value []byte) error {
	blob, err := e.wrapper.Encrypt(ctx, value)
	if err != nil {
		return fmt.Errorf("failed to wrap %s: %w", key, err)
	}
	data, err := proto.Marshal(blob)
	if err != nil {
		return fmt.Errorf("failed to encode envelope for %s: %w", key, err)
	}
	return e.inner.Put(ctx, key, data)
}

// Delete removes key from the underlying store
func (e *EnvelopeAdapter) Delete(ctx context.Context, key string) error {
	return e.inner.Delete(ctx, key)
}

// Close closes the underlying store
func (e *EnvelopeAdapter) Close() error {
	return e.inner.Close()
}
