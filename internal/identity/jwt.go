package identity

import (
	"context"
	"errors"

	"github.com/golang-jwt/jwt/v5"

	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
)

// Claims are the token claims the oracle understands. The identity provider
// issues HS256 tokens with the platform role and email verification state.
type Claims struct {
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	jwt.RegisteredClaims
}

// JWTVerifier validates identity-provider tokens.
type JWTVerifier struct {
	signingKey []byte
	issuer     string
}

// NewJWTVerifier constructs a verifier for tokens signed with signingKey.
// When issuer is non-empty, the iss claim must match.
func NewJWTVerifier(signingKey string, issuer string) *JWTVerifier {
	return &JWTVerifier{signingKey: []byte(signingKey), issuer: issuer}
}

// Verify parses and validates a token and extracts the identity claims.
func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, dErrors.New(dErrors.CodeValidation, "token must not be empty")
	}

	options := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		options = append(options, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.signingKey, nil
	}, options...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, dErrors.Wrap(err, dErrors.CodeForbidden, "token expired")
		}
		return Identity{}, dErrors.Wrap(err, dErrors.CodeForbidden, "token invalid")
	}
	if !parsed.Valid {
		return Identity{}, dErrors.New(dErrors.CodeForbidden, "token invalid")
	}

	userID, err := id.ParseUserID(claims.Subject)
	if err != nil {
		return Identity{}, dErrors.New(dErrors.CodeForbidden, "token missing subject")
	}
	role := Role(claims.Role)
	if !role.Valid() {
		return Identity{}, dErrors.New(dErrors.CodeForbidden, "token carries unknown role")
	}

	return Identity{
		UserID:        userID,
		Role:          role,
		EmailVerified: claims.EmailVerified,
	}, nil
}
