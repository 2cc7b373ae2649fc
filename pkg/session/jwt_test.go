package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

func newTestManager(t *testing.T, cfg Config, revoker Revoker) *Manager {
	t.Helper()
	m, err := NewEphemeral(cfg, revoker)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestManagerIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{TTL: time.Minute}, NewMemoryRevoker())

	token, err := m.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := m.Verify(ctx, token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UserID != "user-1" || claims.TokenID == "" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt.Sub(claims.IssuedAt) > time.Minute+time.Second {
		t.Fatalf("ttl not applied: %+v", claims)
	}
}

func TestManagerEnforcesAudience(t *testing.T) {
	ctx := context.Background()
	signing := newTestManager(t, Config{Issuer: "issuer-a", Audience: "aud-a"}, nil)
	verify := &Manager{
		verifiers: signing.verifiers,
		issuer:    "issuer-a",
		audience:  "aud-b",
		leeway:    time.Second,
	}
	token, err := signing.Issue(ctx, "user-claim")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := verify.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected audience mismatch to fail, got %v", err)
	}
}

func TestManagerRejectsForeignKey(t *testing.T) {
	ctx := context.Background()
	a := newTestManager(t, Config{}, nil)
	b := newTestManager(t, Config{}, nil)
	token, err := a.Issue(ctx, "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token signed by another key must fail, got %v", err)
	}
}

func TestManagerRejectsHS256(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "admin"})
	forged.Header["kid"] = "jwt-active"
	raw, err := forged.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := m.Verify(context.Background(), raw); err == nil {
		t.Fatalf("hs256 token must be rejected")
	}
}

func TestManagerRevokeByTokenID(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{}, NewMemoryRevoker())
	token, err := m.Issue(ctx, "user-revoke")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Revoke(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.Verify(ctx, token); !errors.Is(err, ErrRevoked) {
		t.Fatalf("expected revoked token to fail, got %v", err)
	}
	if err := m.Revoke(ctx, "garbage"); err != nil {
		t.Fatalf("revoking an invalid token should be a no-op, got %v", err)
	}
}

func TestManagerRevokeUserKeepsLaterTokens(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Config{}, NewMemoryRevoker())
	before, err := m.Issue(ctx, "user-cutoff")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.RevokeUser(ctx, "user-cutoff"); err != nil {
		t.Fatalf("revoke user: %v", err)
	}
	after, err := m.Issue(ctx, "user-cutoff")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(ctx, before); !errors.Is(err, ErrRevoked) {
		t.Fatalf("token issued before cutoff must fail, got %v", err)
	}
	if _, err := m.Verify(ctx, after); err != nil {
		t.Fatalf("token issued after cutoff must pass, got %v", err)
	}
}

func TestNewFromPEMAndJWKS(t *testing.T) {
	privatePath, publicPath := writeRSAKeyPairFiles(t, "active")
	_, oldPublic := writeRSAKeyPairFiles(t, "old")

	m, err := NewFromPEM(Config{
		PrivateKeyPath: privatePath,
		PublicKeyPath:  publicPath,
		KeyID:          "kid-active",
		VerifyKeys:     map[string]string{"kid-old": oldPublic},
	}, nil)
	if err != nil {
		t.Fatalf("new from pem: %v", err)
	}
	token, err := m.Issue(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Verify(context.Background(), token); err != nil {
		t.Fatalf("verify: %v", err)
	}
	keys := m.JWKS()
	if len(keys) != 2 || keys[0].Kid != "kid-active" || keys[1].Kid != "kid-old" {
		t.Fatalf("unexpected jwks: %+v", keys)
	}
	if keys[0].N == "" || keys[0].E == "" || keys[0].Alg != "RS256" {
		t.Fatalf("incomplete jwk: %+v", keys[0])
	}
}

func writeRSAKeyPairFiles(t *testing.T, name string) (string, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	dir := t.TempDir()
	privatePath := filepath.Join(dir, name+"-private.pem")
	publicPath := filepath.Join(dir, name+"-public.pem")

	privatePEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		t.Fatalf("write private key: %v", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshal public key: %v", err)
	}
	publicPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		t.Fatalf("write public key: %v", err)
	}
	return privatePath, publicPath
}
