package kms

import (
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"
)

// Provider represents a KMS provider
type Provider = interfaces.KMSProvider

// Config describes one external key. KeyID is interpreted per provider: an ARN
// for aws, a key URL for azure, a resource name for gcp, a transit key name for
// vault and a free-form id for aead.
type Config struct {
	Type          types.ProviderType    `json:"type"`
	KeyID         string                `json:"keyId"`
	Region        string                `json:"region,omitempty"`
	VaultAddress  string                `json:"vaultAddress,omitempty"`
	VaultMount    string                `json:"vaultMount,omitempty"`
	AeadKeyBase64 string                `json:"-"`
	Credentials   *types.KMSCredentials `json:"-"`
}

// ConfigFromEnvelope converts the vault envelope settings into a provider config
func ConfigFromEnvelope(env *types.EnvelopeConfig) Config {
	if env == nil {
		return Config{}
	}
	return Config{
		Type:          env.Provider,
		KeyID:         env.KeyID,
		Region:        env.Region,
		VaultAddress:  env.VaultAddress,
		VaultMount:    env.VaultMount,
		AeadKeyBase64: env.AeadKey,
		Credentials:   env.Credentials,
	}
}
