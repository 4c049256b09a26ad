// internal/auth/token.go

// Package auth mints and verifies conductor tokens. A token is issued when a
// session is created and authorizes the mutating conductor endpoints for
// that session's PIN. Players need no token; they are identified by PIN and
// name.
package auth

import (
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for missing, malformed, expired, or
// wrong-session tokens.
var ErrInvalidToken = errors.New("auth: invalid conductor token")

const roleConductor = "conductor"

// TokenIssuer signs and verifies HS256 conductor tokens.
type TokenIssuer struct {
	secret []byte
	expiry time.Duration
}

// NewTokenIssuer builds an issuer. An empty secret generates a random one,
// which means tokens do not survive a process restart.
func NewTokenIssuer(secret string, expiry time.Duration) (*TokenIssuer, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("failed to generate token secret: %w", err)
		}
	}
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &TokenIssuer{secret: key, expiry: expiry}, nil
}

// IssueConductor creates a token scoped to one session PIN.
func (t *TokenIssuer) IssueConductor(pin string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":  pin,
		"role": roleConductor,
		"iat":  now.Unix(),
		"exp":  now.Add(t.expiry).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign conductor token: %w", err)
	}
	return signed, nil
}

// VerifyConductor checks that the token is valid and scoped to pin.
func (t *TokenIssuer) VerifyConductor(tokenString, pin string) error {
	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ErrInvalidToken
	}
	if role, _ := claims["role"].(string); role != roleConductor {
		return ErrInvalidToken
	}
	if sub, _ := claims["sub"].(string); sub != pin {
		return ErrInvalidToken
	}
	return nil
}
