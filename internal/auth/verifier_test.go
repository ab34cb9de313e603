package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/models"
)

var testSecret = []byte("test-secret")

var testIdentity = models.Identity{
	ID:    "user-1",
	Email: "user-1@plant.example",
	Role:  "analyst",
}

func TestVerifyValidToken(t *testing.T) {
	token, err := IssueToken(testSecret, testIdentity, time.Minute)
	require.NoError(t, err)

	verifier := NewJWTVerifier(testSecret)
	identity, err := verifier.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, testIdentity, identity)
}

func TestVerifyMissingToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	_, err := verifier.Verify("")
	assert.True(t, apperrors.Is(err, apperrors.ErrAuthRequired))
}

func TestVerifyExpiredToken(t *testing.T) {
	token, err := IssueToken(testSecret, testIdentity, -time.Minute)
	require.NoError(t, err)

	verifier := NewJWTVerifier(testSecret)
	_, err = verifier.Verify(token)
	assert.True(t, apperrors.Is(err, apperrors.ErrTokenExpired))
}

func TestVerifyWrongSecret(t *testing.T) {
	token, err := IssueToken([]byte("other-secret"), testIdentity, time.Minute)
	require.NoError(t, err)

	verifier := NewJWTVerifier(testSecret)
	_, err = verifier.Verify(token)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
}

func TestVerifyGarbageToken(t *testing.T) {
	verifier := NewJWTVerifier(testSecret)

	_, err := verifier.Verify("not.a.jwt")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
}

func TestVerifyTokenMissingIdentityClaims(t *testing.T) {
	token, err := IssueToken(testSecret, models.Identity{ID: "user-1"}, time.Minute)
	require.NoError(t, err)

	verifier := NewJWTVerifier(testSecret)
	_, err = verifier.Verify(token)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidToken))
}
