package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer is the iss claim of every admin session token.
const TokenIssuer = "missions-api"

// ErrNoAdminSecret is returned outside development mode when no signing secret is configured.
var ErrNoAdminSecret = errors.New("admin token secret is required: set auth.admin.jwt_secret or MDA_JWT_SECRET " +
	"(generate one with: openssl rand -hex 32)")

// Claims are the claims carried by an admin session token.
type Claims struct {
	jwt.RegisteredClaims
}

// AdminTokens issues and verifies HS256 admin session tokens.
type AdminTokens struct {
	secret []byte
	ttl    time.Duration
}

// isDevMode checks if we're in development mode
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewAdminTokens creates the admin token signer. An empty secret is an error unless the
// process runs in development mode, where a random per-process secret is used instead.
// A zero ttl defaults to one hour.
func NewAdminTokens(secret string, ttl time.Duration) (*AdminTokens, error) {
	if secret == "" {
		if !isDevMode() {
			return nil, ErrNoAdminSecret
		}
		generated, err := generateRandomSecret()
		if err != nil {
			return nil, err
		}
		slog.Warn("admin token secret not set, using a generated secret; sessions will not survive restarts")
		secret = generated
	} else if len(secret) < 32 {
		slog.Warn("admin token secret is shorter than the recommended 32 characters")
	}

	if ttl <= 0 {
		ttl = time.Hour
	}
	return &AdminTokens{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime of issued tokens.
func (t *AdminTokens) TTL() time.Duration {
	return t.ttl
}

// Issue signs a token for subject.
func (t *AdminTokens) Issue(subject string) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is required")
	}
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    TokenIssuer,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}

// Verify parses and validates an admin token.
func (t *AdminTokens) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return t.secret, nil
	}, jwt.WithIssuer(TokenIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
