package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CredentialVerifier resolves a bearer credential to the user it was issued
// for. Implementations must verify signature, expiry, audience and issuer.
type CredentialVerifier interface {
	ResolveUserID(ctx context.Context, credential string) (string, error)
}

// ErrMissingCredential is the reason given when no credential was presented.
var ErrMissingCredential = errors.New("credential is required")

// AuthenticationError reports a credential that could not be verified.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// Unauthenticated builds an AuthenticationError.
func Unauthenticated(reason string, err error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Err: err}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", Unauthenticated("missing authorization header", ErrMissingCredential)
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", Unauthenticated("invalid authorization header format", nil)
	}
	return strings.TrimSpace(token), nil
}
