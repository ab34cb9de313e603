// Package auth verifies credential tokens presented during the connection
// handshake and maps them to verified identities.
package auth

import (
	stderrors "errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/models"
)

// Verifier turns a credential token into a verified identity, or reports
// why it cannot.
type Verifier interface {
	Verify(token string) (models.Identity, error)
}

// Claims are the JWT claims HazSync expects from the identity issuer.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier over the shared signing secret.
func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify parses and validates the token. Failures carry the wire error
// code the gateway reports before closing the connection.
func (v *JWTVerifier) Verify(token string) (models.Identity, error) {
	if token == "" {
		return models.Identity{}, errors.New(errors.ErrAuthRequired, "missing credential token")
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, errors.Wrap(errors.ErrTokenExpired, "credential token expired", err)
		}
		return models.Identity{}, errors.Wrap(errors.ErrInvalidToken, "credential token rejected", err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || claims.Subject == "" || claims.Email == "" {
		return models.Identity{}, errors.New(errors.ErrInvalidToken, "credential token missing identity claims")
	}

	return models.Identity{
		ID:    claims.Subject,
		Email: claims.Email,
		Role:  claims.Role,
	}, nil
}

// IssueToken mints a token for the identity, valid for ttl. Used by the
// development tooling and tests; production tokens come from the external
// identity service.
func IssueToken(secret []byte, identity models.Identity, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Email: identity.Email,
		Role:  identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}
