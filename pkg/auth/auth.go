// Package auth verifies signed bearer tokens (RS256) and extracts caller
// identity. The public key, expected issuer and expected audience are fixed
// at process start; verification never touches the network.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/voyagekit/lifeboat/pkg/apierr"
)

// Identity is the caller extracted from a verified token. It lives for one
// request and is never persisted.
type Identity struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Issuer    string
	Audience  string
}

// Verifier checks RS256 token signatures and registered claims.
type Verifier struct {
	publicKey *rsa.PublicKey
	issuer    string
	audience  string
	parser    *jwt.Parser
}

type claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// NewVerifier builds a verifier from a PEM-encoded RSA public key. The key
// must be configured independently; deriving it from a signing key is a
// deployment error, not a supported mode.
func NewVerifier(publicKeyPEM []byte, issuer, audience string) (*Verifier, error) {
	if issuer == "" || audience == "" {
		return nil, errors.New("issuer and audience are required")
	}

	key, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key: %w", err)
	}

	return &Verifier{
		publicKey: key,
		issuer:    issuer,
		audience:  audience,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
			jwt.WithIssuer(issuer),
			jwt.WithAudience(audience),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

// Verify checks the token's signature and claims and returns the caller
// identity. Failures are *apierr.AuthError with a specific reason.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, &apierr.AuthError{Reason: apierr.ReasonMissing}
	}

	var c claims
	_, err := v.parser.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return Identity{}, &apierr.AuthError{Reason: classify(err)}
	}

	if c.UserID == "" {
		return Identity{}, &apierr.AuthError{Reason: apierr.ReasonMalformed}
	}

	id := Identity{
		UserID:   c.UserID,
		Issuer:   c.Issuer,
		Audience: v.audience,
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}

	return id, nil
}

func classify(err error) apierr.AuthReason {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return apierr.ReasonMalformed
	case errors.Is(err, jwt.ErrTokenExpired):
		return apierr.ReasonExpired
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apierr.ReasonIssuerMismatch
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return apierr.ReasonAudienceMismatch
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return apierr.ReasonMalformed
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return apierr.ReasonMalformed
	default:
		return apierr.ReasonBadSignature
	}
}

// Peek decodes a token's payload WITHOUT verifying its signature.
//
// This is not authentication. It exists solely for diagnostics, such as
// logging the expiry of a rejected token, and its result must never grant
// access.
func Peek(tokenString string) (Identity, error) {
	var c claims
	_, _, err := jwt.NewParser().ParseUnverified(tokenString, &c)
	if err != nil {
		return Identity{}, fmt.Errorf("decode token payload: %w", err)
	}

	id := Identity{UserID: c.UserID, Issuer: c.Issuer}
	if len(c.Audience) > 0 {
		id.Audience = c.Audience[0]
	}
	if c.IssuedAt != nil {
		id.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		id.ExpiresAt = c.ExpiresAt.Time
	}

	return id, nil
}
