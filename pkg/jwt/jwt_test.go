package jwt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierSignAndValidate(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "wes-auth"})
	require.NoError(t, err)

	token, err := v.Sign("u1", "alice", time.Minute)
	require.NoError(t, err)

	claims, err := v.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestVerifierRejectsExpiredToken(t *testing.T) {
	v, err := NewVerifier(Config{Secret: "s3cret"})
	require.NoError(t, err)

	token, err := v.Sign("u1", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestVerifierRejectsForeignSecretAndIssuer(t *testing.T) {
	issuer, err := NewVerifier(Config{Secret: "other", Issuer: "wes-auth"})
	require.NoError(t, err)
	token, err := issuer.Sign("u1", "alice", time.Minute)
	require.NoError(t, err)

	v, err := NewVerifier(Config{Secret: "s3cret", Issuer: "wes-auth"})
	require.NoError(t, err)
	_, err = v.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer, err := NewVerifier(Config{Secret: "other", Issuer: "someone-else"})
	require.NoError(t, err)
	_, err = wrongIssuer.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewVerifierRequiresKey(t *testing.T) {
	_, err := NewVerifier(Config{})
	assert.Error(t, err)
}
