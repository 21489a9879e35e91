package types

// ProviderType represents the type of KMS provider
type ProviderType string

const (
	ProviderAWS   ProviderType = "aws"
	ProviderAzure ProviderType = "azure"
	ProviderGCP   ProviderType = "gcp"
	ProviderVault ProviderType = "vault"
	ProviderAead  ProviderType = "aead"
	ProviderNone  ProviderType = ""
)

// KMSCredentials represents KMS provider credentials
type KMSCredentials struct {
	// AWS credentials
	AccessKeyID     string `json:"accessKeyId,omitempty" bson:"accessKeyId,omitempty"`
	SecretAccessKey string `json:"secretAccessKey,omitempty" bson:"secretAccessKey,omitempty"`
	SessionToken    string `json:"sessionToken,omitempty" bson:"sessionToken,omitempty"`

	// Azure credentials
	TenantID     string `json:"tenantId,omitempty" bson:"tenantId,omitempty"`
	ClientID     string `json:"clientId,omitempty" bson:"clientId,omitempty"`
	ClientSecret string `json:"clientSecret,omitempty" bson:"clientSecret,omitempty"`

	// GCP credentials
	CredentialsJSON string `json:"credentialsJson,omitempty" bson:"credentialsJson,omitempty"`

	// Vault credentials
	Token string `json:"token,omitempty" bson:"token,omitempty"`
}

// EnvelopeConfig selects the external key that wraps persisted vault records
type EnvelopeConfig struct {
	Provider     ProviderType    `json:"provider" bson:"provider"`
	KeyID        string          `json:"keyId" bson:"keyId"`
	Region       string          `json:"region,omitempty" bson:"region,omitempty"`
	VaultAddress string          `json:"vaultAddress,omitempty" bson:"vaultAddress,omitempty"`
	VaultMount   string          `json:"vaultMount,omitempty" bson:"vaultMount,omitempty"`
	AeadKey      string          `json:"aeadKey,omitempty" bson:"aeadKey,omitempty"`
	Credentials  *KMSCredentials `json:"credentials,omitempty" bson:"credentials,omitempty"`
}

// Enabled reports whether an envelope provider is configured
func (c *EnvelopeConfig) Enabled() bool {
	return c != nil && c.Provider != ProviderNone
}
