package session

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"os"
	"sort"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	defaultIssuer   = "library-api"
	defaultAudience = "library-web"
	defaultTTL      = 24 * time.Hour
	defaultLeeway   = 30 * time.Second
)

var (
	ErrInvalidToken = errors.New("session: invalid token")
	ErrRevoked      = errors.New("session: token revoked")
)

// Config configures token issuance and validation.
type Config struct {
	PrivateKeyPath string
	PublicKeyPath  string
	KeyID          string
	// VerifyKeys maps kid -> public key path for keys retired from signing.
	VerifyKeys map[string]string
	TTL        time.Duration
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

// Claims identifies the caller behind a verified token.
type Claims struct {
	UserID    string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	// IssuedAtNano orders tokens against user-wide revocation cutoffs; iat only
	// has second precision.
	IssuedAtNano int64 `json:"iat_ns"`
}

// JWK represents a JSON Web Key entry used by JWKS endpoints.
type JWK struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n,omitempty"`
	E   string `json:"e,omitempty"`
}

// Manager issues and validates RS256 session tokens.
type Manager struct {
	ttl     time.Duration
	revoker Revoker

	signer    *rsa.PrivateKey
	signerKid string
	verifiers map[string]*rsa.PublicKey

	issuer   string
	audience string
	leeway   time.Duration
}

// NewFromPEM builds a Manager from PEM key files.
func NewFromPEM(cfg Config, revoker Revoker) (*Manager, error) {
	privateKey, err := loadRSAPrivateKeyFromPEMFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("load jwt private key: %w", err)
	}
	verifiers := make(map[string]*rsa.PublicKey)
	if strings.TrimSpace(cfg.PublicKeyPath) != "" {
		pub, err := loadRSAPublicKeyFromPEMFile(cfg.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("load jwt public key: %w", err)
		}
		verifiers[keyID(cfg.KeyID)] = pub
	}
	for kid, path := range cfg.VerifyKeys {
		kid = strings.TrimSpace(kid)
		path = strings.TrimSpace(path)
		if kid == "" || path == "" {
			continue
		}
		pub, err := loadRSAPublicKeyFromPEMFile(path)
		if err != nil {
			return nil, fmt.Errorf("load verify key %q: %w", kid, err)
		}
		verifiers[kid] = pub
	}
	return newManager(privateKey, verifiers, cfg, revoker), nil
}

// NewEphemeral builds a Manager with a freshly generated key. Tokens do not
// survive a restart; meant for local runs and tests.
func NewEphemeral(cfg Config, revoker Revoker) (*Manager, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate jwt key: %w", err)
	}
	return newManager(key, nil, cfg, revoker), nil
}

func newManager(key *rsa.PrivateKey, verifiers map[string]*rsa.PublicKey, cfg Config, revoker Revoker) *Manager {
	kid := keyID(cfg.KeyID)
	if verifiers == nil {
		verifiers = make(map[string]*rsa.PublicKey)
	}
	if _, ok := verifiers[kid]; !ok {
		verifiers[kid] = &key.PublicKey
	}
	cfg = normalize(cfg)
	return &Manager{
		ttl:       cfg.TTL,
		revoker:   revoker,
		signer:    key,
		signerKid: kid,
		verifiers: verifiers,
		issuer:    cfg.Issuer,
		audience:  cfg.Audience,
		leeway:    cfg.Leeway,
	}
}

// Issue creates a signed token for userID.
func (m *Manager) Issue(_ context.Context, userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("session: user id required")
	}
	now := time.Now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        randomHexID(12),
		},
		IssuedAtNano: now.UnixNano(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = m.signerKid
	return token.SignedString(m.signer)
}

// Verify validates a token and its revocation state.
func (m *Manager) Verify(ctx context.Context, token string) (Claims, error) {
	claims, err := m.parseAndVerify(token)
	if err != nil {
		return Claims{}, err
	}
	issued := time.Unix(0, claims.IssuedAtNano).UTC()
	if m.revoker != nil {
		revoked, err := m.revoker.IsRevoked(ctx, claims.ID)
		if err != nil {
			return Claims{}, fmt.Errorf("check revocation: %w", err)
		}
		if revoked {
			return Claims{}, ErrRevoked
		}
		cutoff, err := m.revoker.RevokedAfter(ctx, claims.Subject)
		if err != nil {
			return Claims{}, fmt.Errorf("check user revocation: %w", err)
		}
		if !cutoff.IsZero() && !issued.After(cutoff) {
			return Claims{}, ErrRevoked
		}
	}
	return Claims{
		UserID:    claims.Subject,
		TokenID:   claims.ID,
		IssuedAt:  issued,
		ExpiresAt: claims.ExpiresAt.Time.UTC(),
	}, nil
}

// Revoke invalidates one token until it would have expired. Invalid tokens
// are ignored.
func (m *Manager) Revoke(ctx context.Context, token string) error {
	if m.revoker == nil {
		return nil
	}
	claims, err := m.parseAndVerify(token)
	if err != nil {
		return nil
	}
	return m.revoker.Revoke(ctx, claims.ID, time.Until(claims.ExpiresAt.Time))
}

// RevokeUser invalidates every token of userID issued up to now.
func (m *Manager) RevokeUser(ctx context.Context, userID string) error {
	if m.revoker == nil {
		return nil
	}
	return m.revoker.RevokeUser(ctx, userID, time.Now().UTC(), m.ttl+m.leeway)
}

// TTL is the lifetime of issued tokens.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// JWKS returns the public keys tokens may be verified with.
func (m *Manager) JWKS() []JWK {
	kids := make([]string, 0, len(m.verifiers))
	for kid := range m.verifiers {
		kids = append(kids, kid)
	}
	sort.Strings(kids)
	out := make([]JWK, 0, len(kids))
	for _, kid := range kids {
		pub := m.verifiers[kid]
		out = append(out, JWK{
			Kty: "RSA",
			Use: "sig",
			Kid: kid,
			Alg: "RS256",
			N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		})
	}
	return out
}

func (m *Manager) parseAndVerify(token string) (tokenClaims, error) {
	claims := tokenClaims{}
	token = strings.TrimSpace(token)
	if token == "" {
		return claims, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		pub, ok := m.verifiers[strings.TrimSpace(kid)]
		if !ok {
			return nil, errors.New("unknown token key")
		}
		return pub, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.leeway),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return claims, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.ID) == "" || strings.TrimSpace(claims.Subject) == "" || claims.IssuedAtNano == 0 {
		return claims, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	return claims, nil
}

func keyID(kid string) string {
	kid = strings.TrimSpace(kid)
	if kid == "" {
		return "jwt-active"
	}
	return kid
}

func normalize(cfg Config) Config {
	cfg.Issuer = strings.TrimSpace(cfg.Issuer)
	cfg.Audience = strings.TrimSpace(cfg.Audience)
	if cfg.Issuer == "" {
		cfg.Issuer = defaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = defaultAudience
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = defaultLeeway
	}
	return cfg
}

func loadRSAPrivateKeyFromPEMFile(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pkcs1, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return pkcs1, nil
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	privateKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("private key is not rsa")
	}
	return privateKey, nil
}

func loadRSAPublicKeyFromPEMFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	if pubAny, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		pub, ok := pubAny.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("public key is not rsa")
		}
		return pub, nil
	}
	if cert, err := x509.ParseCertificate(block.Bytes); err == nil {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("certificate public key is not rsa")
		}
		return pub, nil
	}
	return nil, errors.New("failed to parse rsa public key")
}

func randomHexID(nBytes int) string {
	buf := make([]byte, nBytes)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}
