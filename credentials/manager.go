// Package credentials keeps connector secrets in the vault
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"
	"github.com/root-sector-ltd-and-co-kg/framesync/vault"

	"github.com/rs/zerolog/log"
)

const (
	maskedValue = "[MASKED]"
	keyPrefix   = "credentials"
)

// ErrNoCredentials is returned when a connector has nothing stored
var ErrNoCredentials = errors.New("no credentials stored for connector")

type credentialField struct {
	name string
	get  func(*types.ConnectorCredentials) string
	set  func(*types.ConnectorCredentials, string)
}

var credentialFields = []credentialField{
	{
		name: "apiToken",
		get:  func(c *types.ConnectorCredentials) string { return c.APIToken },
		set:  func(c *types.ConnectorCredentials, v string) { c.APIToken = v },
	},
	{
		name: "clientSecret",
		get:  func(c *types.ConnectorCredentials) string { return c.ClientSecret },
		set:  func(c *types.ConnectorCredentials, v string) { c.ClientSecret = v },
	},
	{
		name: "signingKey",
		get:  func(c *types.ConnectorCredentials) string { return c.SigningKey },
		set:  func(c *types.ConnectorCredentials, v string) { c.SigningKey = v },
	},
	{
		name: "password",
		get:  func(c *types.ConnectorCredentials) string { return c.Password },
		set:  func(c *types.ConnectorCredentials, v string) { c.Password = v },
	},
}

// credentialManager implements the CredentialsManager interface on top of the vault
type credentialManager struct {
	secrets interfaces.SecretStore
}

// NewManager creates a new credential manager
func NewManager(secrets interfaces.SecretStore) interfaces.CredentialsManager {
	return &credentialManager{secrets: secrets}
}

// Key returns the vault entry name of one connector field
func Key(connector, field string) string {
	return keyPrefix + "/" + connector + "/" + field
}

func validateConnector(connector string) error {
	if connector == "" {
		return fmt.Errorf("connector name is required")
	}
	if strings.Contains(connector, "/") {
		return fmt.Errorf("connector name %q must not contain '/'", connector)
	}
	return nil
}

// StoreCredentials writes every present, unmasked field to the vault. Masked
// values are round-tripped from display copies and leave the stored secret alone.
func (m *credentialManager) StoreCredentials(ctx context.Context, creds *types.ConnectorCredentials) error {
	if creds == nil {
		return nil
	}
	if err := validateConnector(creds.Connector); err != nil {
		return err
	}

	for _, field := range credentialFields {
		value := field.get(creds)
		if value == "" || value == maskedValue {
			continue
		}
		if err := m.secrets.Set(ctx, Key(creds.Connector, field.name), []byte(value)); err != nil {
			return fmt.Errorf("failed to store %s for %s: %w", field.name, creds.Connector, err)
		}
	}

	log.Debug().
		Str("connector", creds.Connector).
		Interface("credentialStatus", Presence(creds)).
		Msg("Credentials stored")

	return nil
}

// ResolveCredentials reads a connector's fields from the vault
func (m *credentialManager) ResolveCredentials(connector string) (*types.ConnectorCredentials, error) {
	if err := validateConnector(connector); err != nil {
		return nil, err
	}

	creds := &types.ConnectorCredentials{Connector: connector}
	found := false
	for _, field := range credentialFields {
		value, err := m.secrets.Get(Key(connector, field.name))
		if errors.Is(err, vault.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s for %s: %w", field.name, connector, err)
		}
		field.set(creds, string(value))
		found = true
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNoCredentials, connector)
	}
	return creds, nil
}

// RemoveCredentials deletes every stored field of a connector
func (m *credentialManager) RemoveCredentials(ctx context.Context, connector string) error {
	if err := validateConnector(connector); err != nil {
		return err
	}

	for _, field := range credentialFields {
		err := m.secrets.Remove(ctx, Key(connector, field.name))
		if err != nil && !errors.Is(err, vault.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove %s for %s: %w", field.name, connector, err)
		}
	}

	log.Debug().Str("connector", connector).Msg("Credentials removed")
	return nil
}

// Mask returns a copy with every present secret replaced by a placeholder
func Mask(creds *types.ConnectorCredentials) *types.ConnectorCredentials {
	if creds == nil {
		return nil
	}
	masked := &types.ConnectorCredentials{Connector: creds.Connector}
	for _, field := range credentialFields {
		if field.get(creds) != "" {
			field.set(masked, maskedValue)
		}
	}
	return masked
}

// Presence reports which fields are set, for logging
func Presence(creds *types.ConnectorCredentials) map[string]bool {
	status := make(map[string]bool, len(credentialFields))
	if creds == nil {
		return status
	}
	for _, field := range credentialFields {
		status["has"+strings.ToUpper(field.name[:1])+field.name[1:]] = field.get(creds) != ""
	}
	return status
}
