package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	testIssuer   = "https://auth.frontdesk.test"
	testAudience = "frontdesk-gateway"
)

func newTestKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return public, private
}

func newTestVerifier(t *testing.T, key ed25519.PublicKey, now time.Time) *Verifier {
	t.Helper()
	verifier, err := NewVerifier(Config{
		Issuer:   testIssuer,
		Audience: testAudience,
		Key:      key,
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	return verifier
}

func signToken(t *testing.T, private ed25519.PrivateKey, claims jwt.RegisteredClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(private)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestVerifyAcceptsValidToken(t *testing.T) {
	t.Parallel()

	public, private := newTestKeys(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, public, now)

	token := signToken(t, private, jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		Subject:   "acct-42",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(now),
	})

	accountID, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if accountID != "acct-42" {
		t.Fatalf("account id = %q, want %q", accountID, "acct-42")
	}
}

func TestVerifyRejections(t *testing.T) {
	t.Parallel()

	public, private := newTestKeys(t)
	_, otherPrivate := newTestKeys(t)
	now := time.Date(2026, 2, 21, 21, 0, 0, 0, time.UTC)
	verifier := newTestVerifier(t, public, now)

	valid := jwt.RegisteredClaims{
		Issuer:    testIssuer,
		Audience:  jwt.ClaimStrings{testAudience},
		Subject:   "acct-42",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}

	cases := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt"},
		{
			name: "wrong signing key",
			token: signToken(t, otherPrivate, valid),
		},
		{
			name: "issuer mismatch",
			token: signToken(t, private, jwt.RegisteredClaims{
				Issuer:    "https://other.test",
				Audience:  valid.Audience,
				Subject:   valid.Subject,
				ExpiresAt: valid.ExpiresAt,
			}),
		},
		{
			name: "audience mismatch",
			token: signToken(t, private, jwt.RegisteredClaims{
				Issuer:    valid.Issuer,
				Audience:  jwt.ClaimStrings{"other-service"},
				Subject:   valid.Subject,
				ExpiresAt: valid.ExpiresAt,
			}),
		},
		{
			name: "expired",
			token: signToken(t, private, jwt.RegisteredClaims{
				Issuer:    valid.Issuer,
				Audience:  valid.Audience,
				Subject:   valid.Subject,
				ExpiresAt: jwt.NewNumericDate(now.Add(-time.Minute)),
			}),
		},
		{
			name: "not active yet",
			token: signToken(t, private, jwt.RegisteredClaims{
				Issuer:    valid.Issuer,
				Audience:  valid.Audience,
				Subject:   valid.Subject,
				ExpiresAt: valid.ExpiresAt,
				NotBefore: jwt.NewNumericDate(now.Add(time.Minute)),
			}),
		},
		{
			name: "missing subject",
			token: signToken(t, private, jwt.RegisteredClaims{
				Issuer:    valid.Issuer,
				Audience:  valid.Audience,
				ExpiresAt: valid.ExpiresAt,
			}),
		},
		{
			name: "missing exp",
			token: signToken(t, private, jwt.RegisteredClaims{
				Issuer:   valid.Issuer,
				Audience: valid.Audience,
				Subject:  valid.Subject,
			}),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := verifier.Verify(tc.token); !errors.Is(err, ErrRejected) {
				t.Fatalf("err = %v, want ErrRejected", err)
			}
		})
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	public, _ := newTestKeys(t)
	t.Setenv("FRONTDESK_CHANNEL_TOKEN_ISSUER", testIssuer)
	t.Setenv("FRONTDESK_CHANNEL_TOKEN_AUDIENCE", testAudience)
	t.Setenv("FRONTDESK_CHANNEL_TOKEN_PUBLIC_KEY", base64.StdEncoding.EncodeToString(public))

	cfg, err := LoadConfigFromEnv(nil)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Issuer != testIssuer {
		t.Fatalf("issuer = %q, want %q", cfg.Issuer, testIssuer)
	}
	if len(cfg.Key) != 32 {
		t.Fatalf("key length = %d, want 32", len(cfg.Key))
	}
}

func TestLoadConfigFromEnvRequiresKey(t *testing.T) {
	t.Setenv("FRONTDESK_CHANNEL_TOKEN_ISSUER", testIssuer)
	t.Setenv("FRONTDESK_CHANNEL_TOKEN_AUDIENCE", testAudience)
	t.Setenv("FRONTDESK_CHANNEL_TOKEN_PUBLIC_KEY", "")

	if _, err := LoadConfigFromEnv(nil); err == nil {
		t.Fatal("expected missing key error")
	}
}
