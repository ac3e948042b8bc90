// Package auth verifies the bearer credential presented at channel open.
//
// Verification happens exactly once, at the WebSocket handshake: later
// delivery attempts have no request context to re-verify in, so trust is
// bound to the physical channel for its whole lifetime.
package auth

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
)

// ErrRejected indicates a missing or invalid channel credential.
var ErrRejected = errors.New("channel credential rejected")

// verifierEnv holds raw env values before post-parse validation.
type verifierEnv struct {
	Issuer    string `env:"FRONTDESK_CHANNEL_TOKEN_ISSUER"`
	Audience  string `env:"FRONTDESK_CHANNEL_TOKEN_AUDIENCE"`
	PublicKey string `env:"FRONTDESK_CHANNEL_TOKEN_PUBLIC_KEY"`
}

// Config defines how channel tokens are verified.
type Config struct {
	Issuer   string
	Audience string
	Key      ed25519.PublicKey
	Now      func() time.Time
}

// Verifier validates channel bearer tokens and extracts the account identity.
type Verifier struct {
	cfg Config
}

type channelClaims struct {
	jwt.RegisteredClaims
}

// LoadConfigFromEnv reads channel token verification configuration.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw verifierEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse channel token env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	publicKey := strings.TrimSpace(raw.PublicKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("FRONTDESK_CHANNEL_TOKEN_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("FRONTDESK_CHANNEL_TOKEN_AUDIENCE is required")
	}
	if publicKey == "" {
		return Config{}, fmt.Errorf("FRONTDESK_CHANNEL_TOKEN_PUBLIC_KEY is required")
	}
	keyBytes, err := decodeBase64(publicKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode channel token public key: %w", err)
	}
	if len(keyBytes) != ed25519.PublicKeySize {
		return Config{}, fmt.Errorf("channel token public key must be %d bytes", ed25519.PublicKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Key:      ed25519.PublicKey(keyBytes),
		Now:      now,
	}, nil
}

// NewVerifier creates a token verifier from a validated config.
func NewVerifier(cfg Config) (*Verifier, error) {
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("issuer and audience are required")
	}
	if len(cfg.Key) != ed25519.PublicKeySize {
		return nil, errors.New("ed25519 public key is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Verifier{cfg: cfg}, nil
}

// Verify checks the token signature and standard claims and returns the
// account ID the channel authenticates as (the subject claim).
func (v *Verifier) Verify(token string) (string, error) {
	if v == nil {
		return "", errors.New("verifier is not configured")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", fmt.Errorf("token is required: %w", ErrRejected)
	}

	var parsed channelClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.cfg.Key, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("parse token: %w", ErrRejected)
	}

	if parsed.Issuer != v.cfg.Issuer {
		return "", fmt.Errorf("issuer mismatch: %w", ErrRejected)
	}
	if !audienceContains(parsed.Audience, v.cfg.Audience) {
		return "", fmt.Errorf("audience mismatch: %w", ErrRejected)
	}
	if parsed.ExpiresAt == nil {
		return "", fmt.Errorf("exp is required: %w", ErrRejected)
	}

	now := v.cfg.Now().UTC()
	if !parsed.ExpiresAt.Time.UTC().After(now) {
		return "", fmt.Errorf("token expired: %w", ErrRejected)
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return "", fmt.Errorf("token not active yet: %w", ErrRejected)
	}

	accountID := strings.TrimSpace(parsed.Subject)
	if accountID == "" {
		return "", fmt.Errorf("subject is required: %w", ErrRejected)
	}
	return accountID, nil
}

func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}
