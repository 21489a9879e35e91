package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/root-sector-ltd-and-co-kg/framesync/credentials"
	"github.com/root-sector-ltd-and-co-kg/framesync/interfaces"
	"github.com/root-sector-ltd-and-co-kg/framesync/types"

	"github.com/golang-jwt/jwt/v5"
)

// GrantConnector is the credentials connector holding the grant signing key
const GrantConnector = "grants"

// KnownPermissions lists every grant the enforcer understands
var KnownPermissions = []types.Permission{
	types.PermissionAccountsRead,
	types.PermissionTransferExecute,
	types.PermissionTransferHighRisk,
	types.PermissionGoalAdjust,
	types.PermissionNotify,
}

var (
	// ErrInvalidGrantToken is returned for a token that fails verification
	ErrInvalidGrantToken = errors.New("invalid grant token")

	// ErrUnknownPermission is returned when parsing an unrecognised grant
	ErrUnknownPermission = errors.New("unknown permission")
)

// ParsePermissions converts configured grant names
func ParsePermissions(names []string) ([]types.Permission, error) {
	perms := make([]types.Permission, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p := types.Permission(name)
		known := false
		for _, k := range KnownPermissions {
			if p == k {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %s", ErrUnknownPermission, name)
		}
		perms = append(perms, p)
	}
	return perms, nil
}

// StaticGrantProvider returns a fixed grant set
type StaticGrantProvider struct {
	permissions []types.Permission
}

var _ interfaces.GrantProvider = (*StaticGrantProvider)(nil)

// NewStaticGrantProvider creates a provider granting exactly perms
func NewStaticGrantProvider(perms ...types.Permission) *StaticGrantProvider {
	return &StaticGrantProvider{permissions: append([]types.Permission(nil), perms...)}
}

// Grants returns a copy of the configured grants
func (s *StaticGrantProvider) Grants(context.Context) ([]types.Permission, error) {
	return append([]types.Permission(nil), s.permissions...), nil
}

// grantClaims is the internal claims type used for JWT parsing
type grantClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// JWTGrantProvider verifies an HS256 grant token. The signing key is read from
// the vault on every call, so a locked vault yields no grants.
type JWTGrantProvider struct {
	secrets interfaces.SecretReader
	token   string
	issuer  string
	now     func() time.Time
}

var _ interfaces.GrantProvider = (*JWTGrantProvider)(nil)

// NewJWTGrantProvider creates a provider for token. An empty issuer skips the issuer check.
func NewJWTGrantProvider(secrets interfaces.SecretReader, token, issuer string) *JWTGrantProvider {
	return &JWTGrantProvider{
		secrets: secrets,
		token:   strings.TrimSpace(token),
		issuer:  issuer,
		now:     time.Now,
	}
}

// SigningKeyName is the vault entry holding the HMAC secret
func SigningKeyName() string {
	return credentials.Key(GrantConnector, "signingKey")
}

// Grants verifies the token and returns its scopes
func (p *JWTGrantProvider) Grants(context.Context) ([]types.Permission, error) {
	if p.token == "" {
		return nil, fmt.Errorf("%w: token is required", ErrInvalidGrantToken)
	}

	key, err := p.secrets.Get(SigningKeyName())
	if err != nil {
		return nil, fmt.Errorf("failed to read grant signing key: %w", err)
	}

	var claims grantClaims
	_, err = jwt.ParseWithClaims(p.token, &claims, func(token *jwt.Token) (any, error) {
		return key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrantToken, err)
	}

	now := p.now()
	if claims.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: exp is required", ErrInvalidGrantToken)
	}
	if !now.Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w: token expired", ErrInvalidGrantToken)
	}
	if claims.NotBefore != nil && now.Before(claims.NotBefore.Time) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrInvalidGrantToken)
	}
	if p.issuer != "" && claims.Issuer != p.issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalidGrantToken)
	}

	perms, err := ParsePermissions(claims.Scopes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGrantToken, err)
	}
	return perms, nil
}

// SignGrantToken issues an HS256 grant token carrying scopes
func SignGrantToken(key []byte, issuer, subject string, scopes []types.Permission, now time.Time, ttl time.Duration) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("signing key is required")
	}
	names := make([]string, 0, len(scopes))
	for _, s := range scopes {
		names = append(names, string(s))
	}
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scopes: names,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign grant token: %w", err)
	}
	return token, nil
}
