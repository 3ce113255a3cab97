// Package identity reads the session credential owned by the portal's
// authentication subsystem. This package never creates or refreshes tokens;
// it only decodes who the session belongs to.
package identity

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrNoCredential is returned when no session credential is available.
	ErrNoCredential = errors.New("no credential")
	// ErrTokenExpired is returned when the stored token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// Identity is the decoded user behind a session credential.
type Identity struct {
	ID       string
	FullName string
	Role     string
}

// Credential pairs the opaque bearer token with its decoded identity.
type Credential struct {
	Token string
	User  Identity
}

// Claims mirrors the portal's access-token claims.
type Claims struct {
	UserID   string `json:"user_id"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// FromToken decodes a credential from a bearer token. The signature is not
// verified: the client holds no signing key, and the server re-validates the
// token on every request anyway.
func FromToken(token string) (Credential, error) {
	if token == "" {
		return Credential{}, ErrNoCredential
	}

	var claims Claims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return Credential{}, fmt.Errorf("parse token: %w", err)
	}

	id := claims.UserID
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Credential{}, fmt.Errorf("token carries no user id")
	}
	if claims.ExpiresAt != nil && time.Now().After(claims.ExpiresAt.Time) {
		return Credential{}, ErrTokenExpired
	}

	return Credential{
		Token: token,
		User: Identity{
			ID:       id,
			FullName: claims.FullName,
			Role:     claims.Role,
		},
	}, nil
}

// Provider yields the current session credential.
type Provider interface {
	Credential() (Credential, error)
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func() (Credential, error)

// Credential implements Provider.
func (f ProviderFunc) Credential() (Credential, error) { return f() }

// Static is a fixed-credential provider, used by one-shot commands and tests.
type Static struct {
	Cred Credential
}

// Credential implements Provider.
func (s Static) Credential() (Credential, error) {
	if s.Cred.Token == "" {
		return Credential{}, ErrNoCredential
	}
	return s.Cred, nil
}
