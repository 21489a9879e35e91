// Package crypto provides the key derivation and sealing primitives behind the vault
package crypto

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	"golang.org/x/crypto/pbkdf2"
	"google.golang.org/protobuf/proto"
)

const (
	// MinIterations is the lowest PBKDF2 iteration count DeriveKey accepts
	MinIterations = 100_000

	// DefaultIterations is used when no iteration count is configured
	DefaultIterations = 600_000

	// KeySize is the derived key length (AES-256)
	KeySize = 32

	// SaltSize is the length of generated salts
	SaltSize = 16

	// envelopeVersion prefixes every sealed payload
	envelopeVersion byte = 1
)

var (
	// ErrDecryption is returned for every decryption failure: wrong key,
	// truncated input, tampering or unknown format
	ErrDecryption = errors.New("decryption failed")

	// ErrIterationsTooLow is returned when a KDF iteration count is below MinIterations
	ErrIterationsTooLow = fmt.Errorf("iteration count must be at least %d", MinIterations)

	// ErrInvalidKey is returned when an encryption key has the wrong size
	ErrInvalidKey = fmt.Errorf("key must be %d bytes", KeySize)
)

// service implements interfaces.CryptoService
type service struct {
	random io.Reader
}

// NewService creates a new crypto service
func NewService() interfaces.CryptoService {
	return &service{random: rand.Reader}
}

// DeriveKey derives a KeySize key with PBKDF2-HMAC-SHA256
func (s *service) DeriveKey(password, salt []byte, iterations int) ([]byte, error) {
	if len(password) == 0 {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(salt) < 8 {
		return nil, fmt.Errorf("salt must be at least 8 bytes")
	}
	if iterations < MinIterations {
		return nil, ErrIterationsTooLow
	}
	return pbkdf2.Key(password, salt, iterations, KeySize, sha256.New), nil
}

// Encrypt seals plaintext with AES-256-GCM and returns a versioned envelope
func (s *service) Encrypt(key, plaintext []byte) ([]byte, error) {
	wrapper, err := newWrapper(key)
	if err != nil {
		return nil, err
	}

	blob, err := wrapper.Encrypt(context.Background(), plaintext)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt: %w", err)
	}

	encoded, err := proto.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	return append([]byte{envelopeVersion}, encoded...), nil
}

// Decrypt opens an envelope produced by Encrypt
func (s *service) Decrypt(key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 2 || ciphertext[0] != envelopeVersion {
		return nil, ErrDecryption
	}

	wrapper, err := newWrapper(key)
	if err != nil {
		return nil, ErrDecryption
	}

	blob := &wrapping.BlobInfo{}
	if err := proto.Unmarshal(ciphertext[1:], blob); err != nil {
		return nil, ErrDecryption
	}
	// nonce + tag
	if len(blob.Ciphertext) < 12+16 {
		return nil, ErrDecryption
	}

	plaintext, err := wrapper.Decrypt(context.Background(), blob)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// GenerateSalt returns SaltSize random bytes
func (s *service) GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(s.random, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// Hash returns the hex encoded SHA-256 digest of data
func (s *service) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Wipe zeroes b in place
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

func newWrapper(key []byte) (*kmsaead.Wrapper, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	wrapper := kmsaead.NewWrapper()
	if err := wrapper.SetAesGcmKeyBytes(key); err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}
	return wrapper, nil
}
