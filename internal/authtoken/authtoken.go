// Package authtoken issues and verifies the JWT session tokens used
// to establish a session's user identity before the command
// dispatcher's USER verb takes over (spec.md §4.9 "A session holds an
// opaque user string"). Grounded on the teacher's internal/auth/service.go
// generateTokens/parseToken pair, adapted from its access/refresh-token
// pair into a single session token plus a separate admin token.
package authtoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the minted token's payload. UserID is the opaque user
// string spec.md §4.9 describes; an empty UserID identifies an admin
// session.
type Claims struct {
	UserID string
	jwt.RegisteredClaims
}

// Issuer mints and verifies session tokens with a single HMAC secret.
type Issuer struct {
	secret   []byte
	issuer   string
	lifetime time.Duration
}

// New creates an Issuer. lifetime <= 0 defaults to 24 hours.
func New(secret []byte, issuer string, lifetime time.Duration) *Issuer {
	if lifetime <= 0 {
		lifetime = 24 * time.Hour
	}
	if issuer == "" {
		issuer = "hoststar"
	}
	return &Issuer{secret: secret, issuer: issuer, lifetime: lifetime}
}

// Mint issues a signed token for userID, valid from now for the
// issuer's configured lifetime.
func (i *Issuer) Mint(userID string) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.lifetime)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("authtoken: sign: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning the user id it
// was minted for. An expired or tampered token is rejected.
func (i *Issuer) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("authtoken: unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(i.issuer))
	if err != nil {
		return "", fmt.Errorf("authtoken: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("authtoken: invalid token")
	}
	return claims.UserID, nil
}
