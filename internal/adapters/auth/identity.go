// Package auth derives the local identity from the bearer token. The
// backend verifies the signature; the client only reads the claims.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/chatlink/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenEmpty   = errors.New("token empty")
	ErrTokenExpired = errors.New("token expired")
)

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username,omitempty"`
}

// FromToken reads sub and username from token. fallbackName is used
// when the token carries no username claim.
func FromToken(token, fallbackName string, now time.Time) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, ErrTokenEmpty
	}
	var c claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return domain.Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if c.ExpiresAt != nil && !now.Before(c.ExpiresAt.Time) {
		return domain.Identity{}, ErrTokenExpired
	}
	id, err := domain.ParseUserID(c.Subject)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("token subject %q: %w", c.Subject, err)
	}
	name := c.Username
	if name == "" {
		name = fallbackName
	}
	return domain.NewIdentity(id, name, token)
}
