// Package kms builds the external key wrappers used to envelope persisted vault records
package kms

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	wrapping "github.com/hashicorp/go-kms-wrapping/v2"
	kmsaead "github.com/hashicorp/go-kms-wrapping/v2/aead"
	awskms "github.com/hashicorp/go-kms-wrapping/wrappers/awskms/v2"
	azurekeyvault "github.com/hashicorp/go-kms-wrapping/wrappers/azurekeyvault/v2"
	gcpckms "github.com/hashicorp/go-kms-wrapping/wrappers/gcpckms/v2"
	transit "github.com/hashicorp/go-kms-wrapping/wrappers/transit/v2"

	"github.com/rs/zerolog/log"
)

var logger = log.With().Str("component", "kms").Logger()

// provider implements the Provider interface
type provider struct {
	wrapper         wrapping.Wrapper
	lastHealthCheck error
}

// NewProvider creates a new KMS provider based on the configuration
func NewProvider(config Config) (Provider, error) {
	var (
		wrapper  wrapping.Wrapper
		err      error
		location string
	)

	logger.Debug().Str("provider", string(config.Type)).Msg("Initializing KMS provider")

	switch config.Type {
	case types.ProviderAWS:
		if err = validateAWSConfig(config); err != nil {
			return nil, fmt.Errorf("invalid AWS KMS configuration: %w", err)
		}
		location = config.Region
		wrapper, err = createAWSWrapper(config)
	case types.ProviderAzure:
		if err = validateAzureConfig(config); err != nil {
			return nil, fmt.Errorf("invalid Azure Key Vault configuration: %w", err)
		}
		location = config.VaultAddress
		wrapper, err = createAzureWrapper(config)
	case types.ProviderGCP:
		if err = validateGCPConfig(config); err != nil {
			return nil, fmt.Errorf("invalid GCP KMS configuration: %w", err)
		}
		location = strings.Split(config.KeyID, "/")[3]
		wrapper, err = createGCPWrapper(config)
	case types.ProviderVault:
		if err = validateVaultConfig(config); err != nil {
			return nil, fmt.Errorf("invalid Vault configuration: %w", err)
		}
		location = config.VaultAddress
		wrapper, err = createVaultWrapper(config)
	case types.ProviderAead:
		location = "local"
		wrapper, err = createAeadWrapper(config)
	default:
		return nil, fmt.Errorf("unsupported KMS provider type: %s", config.Type)
	}

	if err != nil {
		logger.Error().Err(err).Str("provider", string(config.Type)).Msg("Failed to create KMS provider wrapper")
		return nil, fmt.Errorf("failed to create wrapper: %w", err)
	}

	logger.Info().
		Str("provider", string(config.Type)).
		Str("keyIdentifier", config.KeyID).
		Str("locationContext", location).
		Msg("KMS provider initialized")

	return &provider{wrapper: wrapper}, nil
}

// GetWrapper returns the underlying KMS wrapper
func (p *provider) GetWrapper() wrapping.Wrapper {
	return p.wrapper
}

// Test performs a round trip through the wrapper
func (p *provider) Test(ctx context.Context) error {
	if p.wrapper == nil {
		return fmt.Errorf("wrapper not initialized")
	}

	probe := []byte("framesync-kms-probe")
	encrypted, err := p.wrapper.Encrypt(ctx, probe)
	if err != nil {
		return fmt.Errorf("encryption test failed: %w", err)
	}
	decrypted, err := p.wrapper.Decrypt(ctx, encrypted)
	if err != nil {
		return fmt.Errorf("decryption test failed: %w", err)
	}
	if string(decrypted) != string(probe) {
		return fmt.Errorf("decrypted data does not match original")
	}
	return nil
}

// HealthCheck runs Test and remembers the result
func (p *provider) HealthCheck(ctx context.Context) error {
	if err := p.Test(ctx); err != nil {
		p.lastHealthCheck = fmt.Errorf("KMS provider health check failed: %w", err)
		return p.lastHealthCheck
	}
	p.lastHealthCheck = nil
	return nil
}

// GetLastHealthCheckError returns the last health check error if any
func (p *provider) GetLastHealthCheckError() error {
	return p.lastHealthCheck
}

func validateAWSConfig(config Config) error {
	if config.KeyID == "" {
		return fmt.Errorf("key ID (ARN) is required")
	}
	if config.Region == "" {
		return fmt.Errorf("region is required")
	}
	if creds := config.Credentials; creds != nil {
		if (creds.AccessKeyID == "") != (creds.SecretAccessKey == "") {
			return fmt.Errorf("both accessKeyId and secretAccessKey must be provided if using credentials")
		}
	} else {
		logger.Info().Msg("AWS credentials not provided, assuming environment variables or default credentials")
	}
	return nil
}

func validateAzureConfig(config Config) error {
	if config.KeyID == "" {
		return fmt.Errorf("key ID (URL) is required")
	}
	if !strings.HasPrefix(config.VaultAddress, "https://") || !strings.Contains(config.VaultAddress, ".vault.azure.net") {
		return fmt.Errorf("vault address must be a valid Azure Key Vault URL (e.g., https://myvault.vault.azure.net)")
	}
	if creds := config.Credentials; creds != nil {
		required := map[string]string{
			"tenantId":     creds.TenantID,
			"clientId":     creds.ClientID,
			"clientSecret": creds.ClientSecret,
		}
		for _, field := range []string{"tenantId", "clientId", "clientSecret"} {
			if required[field] == "" {
				return fmt.Errorf("%s is required in credentials and cannot be empty", field)
			}
		}
	} else {
		logger.Info().Msg("Azure credentials not provided, assuming managed identity")
	}
	return nil
}

// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}
func parseGCPResourceName(name string) ([]string, error) {
	parts := strings.Split(name, "/")
	if len(parts) != 8 || parts[0] != "projects" || parts[2] != "locations" || parts[4] != "keyRings" || parts[6] != "cryptoKeys" {
		return nil, fmt.Errorf("invalid resource name format. Expected: projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{cryptoKey}")
	}
	if parts[1] == "" || parts[3] == "" || parts[5] == "" || parts[7] == "" {
		return nil, fmt.Errorf("project, location, keyRing, and cryptoKey components in resource name cannot be empty")
	}
	return parts, nil
}

func validateGCPConfig(config Config) error {
	if config.KeyID == "" {
		return fmt.Errorf("resource name is required")
	}
	if _, err := parseGCPResourceName(config.KeyID); err != nil {
		return err
	}
	if config.Credentials != nil && config.Credentials.CredentialsJSON == "" {
		return fmt.Errorf("credentialsJson is required when credentials are provided")
	}
	if config.Credentials == nil {
		logger.Info().Msg("GCP credentials not provided, relying on Application Default Credentials")
	}
	return nil
}

func validateVaultConfig(config Config) error {
	if config.KeyID == "" {
		return fmt.Errorf("key ID (key name) is required")
	}
	if config.VaultAddress == "" {
		return fmt.Errorf("vault address is required")
	}
	if config.Credentials != nil && config.Credentials.Token == "" {
		return fmt.Errorf("token is required when credentials are provided")
	}
	if config.Credentials == nil {
		logger.Info().Msg("Vault token not provided, assuming VAULT_TOKEN or another auth method")
	}
	return nil
}

func createAWSWrapper(config Config) (wrapping.Wrapper, error) {
	configMap := map[string]string{
		"kms_key_id": config.KeyID,
		"region":     config.Region,
	}
	if creds := config.Credentials; creds != nil {
		logger.Debug().
			Interface("credentials", map[string]bool{
				"accessKey":    creds.AccessKeyID != "",
				"secretKey":    creds.SecretAccessKey != "",
				"sessionToken": creds.SessionToken != "",
			}).
			Msg("Configuring AWS KMS credentials from config")
		setIfPresent(configMap, "access_key", creds.AccessKeyID)
		setIfPresent(configMap, "secret_key", creds.SecretAccessKey)
		setIfPresent(configMap, "session_token", creds.SessionToken)
	}

	wrapper := awskms.NewWrapper()
	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure AWS KMS wrapper: %w", err)
	}
	return wrapper, nil
}

func createAzureWrapper(config Config) (wrapping.Wrapper, error) {
	// https://myvault.vault.azure.net/keys/mykey/version
	keyName, keyVersion := config.KeyID, ""
	parts := strings.Split(config.KeyID, "/")
	if len(parts) >= 5 && parts[3] == "keys" {
		keyName = parts[4]
		if len(parts) >= 6 {
			keyVersion = parts[5]
		}
	} else {
		logger.Warn().Str("keyId", config.KeyID).Msg("Azure key id is not a key URL, using it as key_name")
	}
	vaultName := strings.Split(strings.TrimPrefix(config.VaultAddress, "https://"), ".")[0]

	configMap := map[string]string{
		"key_name":   keyName,
		"vault_name": vaultName,
		"vault_url":  config.VaultAddress,
	}
	setIfPresent(configMap, "key_version", keyVersion)
	if creds := config.Credentials; creds != nil {
		setIfPresent(configMap, "tenant_id", creds.TenantID)
		setIfPresent(configMap, "client_id", creds.ClientID)
		setIfPresent(configMap, "client_secret", creds.ClientSecret)
	}

	wrapper := azurekeyvault.NewWrapper()
	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure Azure Key Vault wrapper: %w", err)
	}
	return wrapper, nil
}

func createGCPWrapper(config Config) (wrapping.Wrapper, error) {
	parts, err := parseGCPResourceName(config.KeyID)
	if err != nil {
		return nil, err
	}
	configMap := map[string]string{
		"project":    parts[1],
		"region":     parts[3],
		"key_ring":   parts[5],
		"crypto_key": parts[7],
	}

	// The library only accepts a credentials file path.
	if config.Credentials != nil {
		tempFile, err := os.CreateTemp("", "gcp-creds-*.json")
		if err != nil {
			return nil, fmt.Errorf("failed to create temporary credentials file: %w", err)
		}
		defer func() {
			if err := os.Remove(tempFile.Name()); err != nil {
				logger.Error().Err(err).Str("filePath", tempFile.Name()).Msg("Failed to remove temporary credentials file")
			}
		}()
		if _, err := tempFile.WriteString(config.Credentials.CredentialsJSON); err != nil {
			_ = tempFile.Close()
			return nil, fmt.Errorf("failed to write credentials to temporary file: %w", err)
		}
		if err := tempFile.Close(); err != nil {
			logger.Error().Err(err).Str("filePath", tempFile.Name()).Msg("Failed to close temporary credentials file")
		}
		configMap["credentials"] = tempFile.Name()
	}

	wrapper := gcpckms.NewWrapper()
	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure GCP KMS wrapper: %w", err)
	}
	return wrapper, nil
}

func createVaultWrapper(config Config) (wrapping.Wrapper, error) {
	configMap := map[string]string{
		"address":  config.VaultAddress,
		"key_name": config.KeyID,
	}
	setIfPresent(configMap, "mount_path", config.VaultMount)
	if config.Credentials != nil {
		setIfPresent(configMap, "token", config.Credentials.Token)
	}

	wrapper := transit.NewWrapper()
	if _, err := wrapper.SetConfig(context.Background(), wrapping.WithConfigMap(configMap)); err != nil {
		return nil, fmt.Errorf("failed to configure Vault Transit wrapper: %w", err)
	}
	return wrapper, nil
}

func createAeadWrapper(config Config) (wrapping.Wrapper, error) {
	if config.AeadKeyBase64 == "" {
		return nil, fmt.Errorf("AEAD provider requires a base64 key")
	}
	key, err := base64.StdEncoding.DecodeString(config.AeadKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode AEAD key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("decoded AEAD key must be 32 bytes for AES-256-GCM, got %d", len(key))
	}

	wrapper := kmsaead.NewWrapper()
	if err := wrapper.SetAesGcmKeyBytes(key); err != nil {
		return nil, fmt.Errorf("failed to configure AEAD wrapper: %w", err)
	}
	return wrapper, nil
}

func setIfPresent(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
