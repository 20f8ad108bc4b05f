// Package auth issues and verifies session tokens and checks credentials.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/khaledrefaat/TaskSimple/internal/errs"
)

// Session lifetime defaults.
const (
	DefaultLifetime         = 365 * 24 * time.Hour
	DefaultRefreshThreshold = 7 * 24 * time.Hour
	ClockTolerance          = 15 * time.Second

	// MinSecretLength is enforced in production.
	MinSecretLength = 32
)

// Claims is the JWT payload of a session token.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	secret           []byte
	lifetime         time.Duration
	refreshThreshold time.Duration
	now              func() time.Time
}

// NewTokens returns a token issuer. Zero durations select the defaults.
func NewTokens(secret string, lifetime, refreshThreshold time.Duration) (*Tokens, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	if lifetime <= 0 {
		lifetime = DefaultLifetime
	}
	if refreshThreshold <= 0 {
		refreshThreshold = DefaultRefreshThreshold
	}
	if refreshThreshold >= lifetime {
		return nil, fmt.Errorf("refresh threshold %s must be shorter than token lifetime %s", refreshThreshold, lifetime)
	}
	return &Tokens{
		secret:           []byte(secret),
		lifetime:         lifetime,
		refreshThreshold: refreshThreshold,
		now:              time.Now,
	}, nil
}

// Lifetime returns how long issued tokens are valid.
func (t *Tokens) Lifetime() time.Duration {
	return t.lifetime
}

// Issue signs a new token for userID.
func (t *Tokens) Issue(userID string) (string, *Claims, error) {
	now := t.now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, claims, nil
}

// Verify parses and validates a token. Any failure, including expiry and a
// wrong signing method, is reported as errs.ErrAuth.
func (t *Tokens) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", errs.ErrAuth)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(ClockTolerance),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid token: %v: %w", err, errs.ErrAuth)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("invalid token: %w", errs.ErrAuth)
	}
	return claims, nil
}

// ShouldRefresh reports whether the remaining validity of c has dropped
// below the refresh threshold.
func (t *Tokens) ShouldRefresh(c *Claims) bool {
	if c == nil || c.ExpiresAt == nil {
		return false
	}
	return c.ExpiresAt.Time.Sub(t.now()) < t.refreshThreshold
}
