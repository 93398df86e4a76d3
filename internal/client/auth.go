package client

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenSource supplies the bearer credential for provider requests.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, typically from WEATHER_API_BEARER_TOKEN.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", newError(ErrAuthenticationFailed, "token", 0, errors.New("empty bearer token"))
	}
	return string(s), nil
}

// clockSkew backdates iat so a provider with a slightly fast clock still accepts the token.
const clockSkew = 30 * time.Second

// refreshBefore is how long before expiry a cached token is replaced.
const refreshBefore = time.Minute

// JWTSource mints EdDSA-signed JWTs (header kid, claims sub/iat/exp) and reuses each
// token until it is within refreshBefore of expiring.
type JWTSource struct {
	keyID   string
	subject string
	key     ed25519.PrivateKey
	ttl     time.Duration
	now     func() time.Time

	mu      sync.Mutex
	cached  string
	expires time.Time
}

// NewJWTSource returns a source signing with key. ttl <= 0 defaults to 15 minutes.
func NewJWTSource(keyID, subject string, key ed25519.PrivateKey, ttl time.Duration) (*JWTSource, error) {
	if keyID == "" || subject == "" {
		return nil, fmt.Errorf("%w: jwt key id and subject are required", ErrAuthenticationFailed)
	}
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: ed25519 private key has %d bytes", ErrAuthenticationFailed, len(key))
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &JWTSource{keyID: keyID, subject: subject, key: key, ttl: ttl, now: time.Now}, nil
}

// LoadEd25519Key reads a PEM-encoded PKCS#8 Ed25519 private key.
func LoadEd25519Key(path string) (ed25519.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jwt private key: %w", err)
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse jwt private key: %w", err)
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("jwt private key is %T, want ed25519", parsed)
	}
	return key, nil
}

func (s *JWTSource) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != "" && now.Add(refreshBefore).Before(s.expires) {
		return s.cached, nil
	}

	expires := now.Add(s.ttl)
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		"sub": s.subject,
		"iat": now.Add(-clockSkew).Unix(),
		"exp": expires.Unix(),
	})
	tok.Header["kid"] = s.keyID

	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", newError(ErrAuthenticationFailed, "token", 0, err)
	}
	s.cached, s.expires = signed, expires
	return signed, nil
}
