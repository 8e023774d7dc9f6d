package firebase

import (
	"context"
	"fmt"

	"firebase.google.com/go/v4/auth"

	sharedauth "juggle/internal/shared/auth"
)

// tokenVerifier is the subset of *auth.Client the verifier needs.
type tokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
	VerifyIDTokenAndCheckRevoked(ctx context.Context, idToken string) (*auth.Token, error)
}

// Verifier resolves Firebase ID tokens through the Admin SDK.
type Verifier struct {
	client       tokenVerifier
	checkRevoked bool
}

var _ sharedauth.CredentialVerifier = (*Verifier)(nil)

// NewVerifier creates a Verifier. With checkRevoked every call also asks
// Firebase whether the user's sessions were revoked.
func NewVerifier(client *auth.Client, checkRevoked bool) *Verifier {
	return &Verifier{client: client, checkRevoked: checkRevoked}
}

func (v *Verifier) ResolveUserID(ctx context.Context, credential string) (string, error) {
	if credential == "" {
		return "", sharedauth.Unauthenticated("missing credential", sharedauth.ErrMissingCredential)
	}

	var (
		token *auth.Token
		err   error
	)
	if v.checkRevoked {
		token, err = v.client.VerifyIDTokenAndCheckRevoked(ctx, credential)
	} else {
		token, err = v.client.VerifyIDToken(ctx, credential)
	}
	if err != nil {
		if reason, ok := rejectionReason(err); ok {
			return "", sharedauth.Unauthenticated(reason, err)
		}
		// key fetch, transport and revocation lookup failures say nothing
		// about the credential itself
		return "", fmt.Errorf("failed to verify id token: %w", err)
	}
	if token.UID == "" {
		return "", sharedauth.Unauthenticated("id token has no subject", nil)
	}
	return token.UID, nil
}

// rejectionReason reports whether err means the token itself was refused.
func rejectionReason(err error) (string, bool) {
	switch {
	case auth.IsIDTokenExpired(err):
		return "id token expired", true
	case auth.IsIDTokenRevoked(err):
		return "id token revoked", true
	case auth.IsUserDisabled(err):
		return "user disabled", true
	case auth.IsUserNotFound(err):
		return "user not found", true
	case auth.IsIDTokenInvalid(err):
		return "invalid id token", true
	}
	return "", false
}
