package auth

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/esusuhq/esusu/internal/platform/errors"
)

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer    string `env:"ESUSU_GRANT_ISSUER"`
	Audience  string `env:"ESUSU_GRANT_AUDIENCE"`
	PublicKey string `env:"ESUSU_GRANT_PUBLIC_KEY"`
}

// GrantConfig defines how identity grants are verified.
type GrantConfig struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// LoadGrantConfigFromEnv reads grant verification configuration.
func LoadGrantConfigFromEnv(now func() time.Time) (GrantConfig, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return GrantConfig{}, fmt.Errorf("parse grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return GrantConfig{}, fmt.Errorf("ESUSU_GRANT_ISSUER is required")
	}
	if audience == "" {
		return GrantConfig{}, fmt.Errorf("ESUSU_GRANT_AUDIENCE is required")
	}
	if publicKey == "" {
		return GrantConfig{}, fmt.Errorf("ESUSU_GRANT_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return GrantConfig{}, fmt.Errorf("decode grant public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return GrantConfig{}, fmt.Errorf("grant public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return GrantConfig{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// GrantVerifier validates ed25519-signed identity grants from the context.
type GrantVerifier struct {
	cfg GrantConfig
}

// NewGrantVerifier creates a GrantVerifier for cfg.
func NewGrantVerifier(cfg GrantConfig) (*GrantVerifier, error) {
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Key) != ed25519.PublicKeySize {
		return nil, errors.New("grant verifier is not configured")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &GrantVerifier{cfg: cfg}, nil
}

// Verify implements Verifier. The grant subject must match identity exactly.
func (v *GrantVerifier) Verify(ctx context.Context, identity string) error {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return apperrors.New(apperrors.CodeIdentityRequired, "identity is required")
	}
	grant := strings.TrimSpace(GrantFromContext(ctx))
	if grant == "" {
		return apperrors.New(apperrors.CodeGrantInvalid, "identity grant is required")
	}

	var parsed jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(grant, &parsed, func(token *jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeGrantInvalid, "parse identity grant", err)
	}

	if parsed.Issuer == "" || parsed.Issuer != v.cfg.Issuer {
		return apperrors.WithMetadata(apperrors.CodeGrantInvalid, "identity grant issuer mismatch", map[string]string{
			"field": "issuer",
		})
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return apperrors.WithMetadata(apperrors.CodeGrantInvalid, "identity grant audience mismatch", map[string]string{
			"field": "audience",
		})
	}
	if parsed.ExpiresAt == nil {
		return apperrors.New(apperrors.CodeGrantInvalid, "identity grant exp is required")
	}

	now := v.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return apperrors.New(apperrors.CodeGrantExpired, "identity grant is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return apperrors.New(apperrors.CodeGrantInvalid, "identity grant not active yet")
	}

	if strings.TrimSpace(parsed.Subject) == "" || parsed.Subject != identity {
		return apperrors.WithMetadata(apperrors.CodeUnauthorized, "identity grant subject mismatch", map[string]string{
			"field": "subject",
		})
	}

	return nil
}

func audienceContains(audience jwt.ClaimStrings, expected string) bool {
	for _, value := range audience {
		if value == expected {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}
