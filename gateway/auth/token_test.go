package auth

import (
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"dework/crypto"
)

func TestIssueAndVerify(t *testing.T) {
	subject := crypto.ModuleAddress("auth/tenant")
	now := time.Now()
	token, err := Issue("secret", subject, []string{ScopeTenant, ScopeAdmin}, time.Hour, now)
	require.NoError(t, err)

	verifier, err := NewVerifier("secret", DefaultIssuer, 0)
	require.NoError(t, err)
	principal, err := verifier.Verify(token)
	require.NoError(t, err)
	require.Equal(t, subject, principal.Address)
	require.True(t, principal.HasScope(ScopeAdmin))
	require.False(t, principal.HasScope(ScopeKeeper))

	other, err := NewVerifier("other", "", 0)
	require.NoError(t, err)
	_, err = other.Verify(token)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRejectsExpiredAndForeignTokens(t *testing.T) {
	subject := crypto.ModuleAddress("auth/tenant")
	verifier, err := NewVerifier("secret", DefaultIssuer, time.Second)
	require.NoError(t, err)

	expired, err := Issue("secret", subject, nil, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = verifier.Verify(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   subject.Hex(),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	signed, err := foreign.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = verifier.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidToken)

	badSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    DefaultIssuer,
		Subject:   "not-an-address",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	signed, err = badSubject.SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = verifier.Verify(signed)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = Issue(" ", subject, nil, time.Hour, time.Now())
	require.ErrorIs(t, err, ErrSecretMissing)
}
