// internal/auth/token_test.go
package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueAndVerify(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	token, err := issuer.IssueConductor("1234")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	assert.NoError(t, issuer.VerifyConductor(token, "1234"))
	assert.ErrorIs(t, issuer.VerifyConductor(token, "9999"), ErrInvalidToken,
		"token is scoped to its session")
	assert.ErrorIs(t, issuer.VerifyConductor("not-a-token", "1234"), ErrInvalidToken)
	assert.ErrorIs(t, issuer.VerifyConductor("", "1234"), ErrInvalidToken)
}

func TestRandomSecretWhenUnset(t *testing.T) {
	a, err := NewTokenIssuer("", time.Hour)
	require.NoError(t, err)
	b, err := NewTokenIssuer("", time.Hour)
	require.NoError(t, err)

	token, err := a.IssueConductor("1234")
	require.NoError(t, err)
	assert.NoError(t, a.VerifyConductor(token, "1234"))
	assert.ErrorIs(t, b.VerifyConductor(token, "1234"), ErrInvalidToken,
		"each process gets its own generated secret")
}

func TestExpiredTokenRejected(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"sub":  "1234",
		"role": "conductor",
		"iat":  time.Now().Add(-2 * time.Hour).Unix(),
		"exp":  time.Now().Add(-time.Hour).Unix(),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	assert.ErrorIs(t, issuer.VerifyConductor(expired, "1234"), ErrInvalidToken)
}

func TestWrongRoleRejected(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour)
	require.NoError(t, err)

	claims := jwt.MapClaims{
		"sub":  "1234",
		"role": "player",
		"exp":  time.Now().Add(time.Hour).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	assert.ErrorIs(t, issuer.VerifyConductor(token, "1234"), ErrInvalidToken)
}
