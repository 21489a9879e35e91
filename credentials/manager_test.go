package credentials

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/root-sector-ltd-and-co-kg/framesync/crypto"
	"github.com/root-sector-ltd-and-co-kg/framesync/storage"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"
	"github.com/root-sector-ltd-and-co-kg/framesync/vault"
)

func newUnlockedVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(storage.NewMemoryAdapter(), crypto.NewService(), vault.WithIterations(crypto.MinIterations))
	if err != nil {
		t.Fatalf("vault.New() error = %v", err)
	}
	if err := v.Unlock(context.Background(), []byte("test password")); err != nil {
		t.Fatalf("Unlock() error = %v", err)
	}
	return v
}

func TestStoreAndResolveCredentials(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	m := NewManager(v)

	input := &types.ConnectorCredentials{
		Connector:    "bank",
		APIToken:     "tok-123",
		ClientSecret: "shh",
	}
	if err := m.StoreCredentials(ctx, input); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}

	raw, err := v.GetString("credentials/bank/apiToken")
	if err != nil || raw != "tok-123" {
		t.Fatalf("vault entry = %q, %v", raw, err)
	}

	got, err := m.ResolveCredentials("bank")
	if err != nil {
		t.Fatalf("ResolveCredentials() error = %v", err)
	}
	if !reflect.DeepEqual(got, input) {
		t.Errorf("ResolveCredentials() = %+v, want %+v", got, input)
	}
}

func TestStoreCredentialsSkipsMaskedValues(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	m := NewManager(v)

	if err := m.StoreCredentials(ctx, &types.ConnectorCredentials{Connector: "bank", APIToken: "tok-123"}); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}

	masked := Mask(&types.ConnectorCredentials{Connector: "bank", APIToken: "tok-123"})
	masked.Password = "new-password"
	if err := m.StoreCredentials(ctx, masked); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}

	got, err := m.ResolveCredentials("bank")
	if err != nil {
		t.Fatalf("ResolveCredentials() error = %v", err)
	}
	if got.APIToken != "tok-123" {
		t.Errorf("APIToken = %q, want original value", got.APIToken)
	}
	if got.Password != "new-password" {
		t.Errorf("Password = %q, want new-password", got.Password)
	}
}

func TestCredentialErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		run       func(m *credentialManager) error
		locked    bool
		errSubstr string
	}{
		{
			name: "empty connector",
			run: func(m *credentialManager) error {
				return m.StoreCredentials(ctx, &types.ConnectorCredentials{APIToken: "x"})
			},
			errSubstr: "connector name is required",
		},
		{
			name: "connector with separator",
			run: func(m *credentialManager) error {
				_, err := m.ResolveCredentials("bank/other")
				return err
			},
			errSubstr: "must not contain",
		},
		{
			name: "nothing stored",
			run: func(m *credentialManager) error {
				_, err := m.ResolveCredentials("bank")
				return err
			},
			errSubstr: ErrNoCredentials.Error(),
		},
		{
			name: "locked vault",
			run: func(m *credentialManager) error {
				return m.StoreCredentials(ctx, &types.ConnectorCredentials{Connector: "bank", APIToken: "x"})
			},
			locked:    true,
			errSubstr: vault.ErrLocked.Error(),
		},
		{
			name: "resolve from locked vault",
			run: func(m *credentialManager) error {
				_, err := m.ResolveCredentials("bank")
				return err
			},
			locked:    true,
			errSubstr: vault.ErrLocked.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newUnlockedVault(t)
			if tt.locked {
				v.Lock()
			}
			m := &credentialManager{secrets: v}

			err := tt.run(m)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.errSubstr)
			}
			if !strings.Contains(err.Error(), tt.errSubstr) {
				t.Errorf("error = %v, want substring %q", err, tt.errSubstr)
			}
		})
	}
}

func TestRemoveCredentials(t *testing.T) {
	ctx := context.Background()
	v := newUnlockedVault(t)
	m := NewManager(v)

	if err := m.StoreCredentials(ctx, &types.ConnectorCredentials{Connector: "bank", APIToken: "tok", SigningKey: "sig"}); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}
	if err := m.StoreCredentials(ctx, &types.ConnectorCredentials{Connector: "journal", Password: "pw"}); err != nil {
		t.Fatalf("StoreCredentials() error = %v", err)
	}

	if err := m.RemoveCredentials(ctx, "bank"); err != nil {
		t.Fatalf("RemoveCredentials() error = %v", err)
	}

	keys, err := v.Keys()
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"credentials/journal/password"}) {
		t.Errorf("Keys() = %v", keys)
	}
}

func TestMaskAndPresence(t *testing.T) {
	creds := &types.ConnectorCredentials{Connector: "bank", APIToken: "tok", Password: "pw"}

	masked := Mask(creds)
	want := &types.ConnectorCredentials{Connector: "bank", APIToken: "[MASKED]", Password: "[MASKED]"}
	if !reflect.DeepEqual(masked, want) {
		t.Errorf("Mask() = %+v, want %+v", masked, want)
	}
	if creds.APIToken != "tok" {
		t.Errorf("Mask() modified its input")
	}
	if Mask(nil) != nil {
		t.Errorf("Mask(nil) should be nil")
	}

	presence := Presence(creds)
	wantPresence := map[string]bool{
		"hasApiToken":     true,
		"hasClientSecret": false,
		"hasSigningKey":   false,
		"hasPassword":     true,
	}
	if !reflect.DeepEqual(presence, wantPresence) {
		t.Errorf("Presence() = %v, want %v", presence, wantPresence)
	}
}
