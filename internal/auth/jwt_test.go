package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aura-remote/backend/internal/auth"
)

func TestJWT_RoundTrip(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)

	token, err := svc.Generate("user-1", "Ada", "ada@example.com")
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.Identity())
	assert.Equal(t, "Ada", claims.Name)

	id, err := svc.UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := auth.NewJWTService("one", 1).Generate("user-1", "", "")
	require.NoError(t, err)

	_, err = auth.NewJWTService("two", 1).Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_SubjectFallback(t *testing.T) {
	claims := jwt.RegisteredClaims{Subject: "sub-7", ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	id, err := auth.NewJWTService("secret", 1).UserID(token)
	require.NoError(t, err)
	assert.Equal(t, "sub-7", id)
}

func TestJWT_Expired(t *testing.T) {
	claims := auth.Claims{
		UserID:           "u",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = auth.NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestJWT_RejectsNoneAlgorithm(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, auth.Claims{UserID: "u"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = auth.NewJWTService("secret", 1).Validate(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}
