// Package auth checks the shared secrets that guard the bridge's HTTP
// surfaces: the provisioning secret and the homeserver's hs_token.
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
)

// Placeholder is the shipped provisioning secret. It never authenticates.
const Placeholder = "CHANGE_ME"

var (
	// ErrNotConfigured is returned when no usable secret is set.
	ErrNotConfigured = errors.New("shared secret not configured")

	// ErrMissingToken is returned when the request carries no token.
	ErrMissingToken = errors.New("missing token")

	// ErrInvalidToken is returned when the presented token does not match.
	ErrInvalidToken = errors.New("invalid token")
)

// SharedSecret validates tokens against one secret. The secret can be
// swapped at runtime, e.g. on configuration reload.
type SharedSecret struct {
	hash atomic.Pointer[[sha256.Size]byte]
}

// NewSharedSecret creates a validator for secret.
func NewSharedSecret(secret string) *SharedSecret {
	s := &SharedSecret{}
	s.Set(secret)
	return s
}

// Set replaces the secret. Empty and placeholder secrets disable access.
func (s *SharedSecret) Set(secret string) {
	if secret == "" || secret == Placeholder {
		s.hash.Store(nil)
		return
	}
	h := sha256.Sum256([]byte(secret))
	s.hash.Store(&h)
}

// Configured reports whether a usable secret is set.
func (s *SharedSecret) Configured() bool {
	return s.hash.Load() != nil
}

// Validate compares token with the secret in constant time.
func (s *SharedSecret) Validate(token string) error {
	want := s.hash.Load()
	if want == nil {
		return ErrNotConfigured
	}
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(got[:], want[:]) != 1 {
		return ErrInvalidToken
	}
	return nil
}

// ExtractBearer extracts the token from the Authorization header
func ExtractBearer(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", fmt.Errorf("missing Authorization header")
	}

	// Support "Bearer <token>" format
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid Authorization header format")
	}

	if strings.ToLower(parts[0]) != "bearer" {
		return "", fmt.Errorf("unsupported authorization scheme")
	}

	return parts[1], nil
}

// TokenFromRequest returns the bearer token, falling back to the named
// query parameter.
func TokenFromRequest(r *http.Request, queryParam string) string {
	if token, err := ExtractBearer(r); err == nil && token != "" {
		return token
	}
	return r.URL.Query().Get(queryParam)
}
