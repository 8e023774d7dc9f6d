package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"juggle/internal/shared/auth"
)

type ContextKey string

const UserIDKey ContextKey = "user_id"

// SessionCookie carries the Firebase ID token for browser requests.
const SessionCookie = "__session"

// Auth resolves the caller through verifier and stores the user id in the
// request context. The Authorization header wins over the session cookie.
func Auth(verifier auth.CredentialVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential, err := credentialFrom(r)
			if err != nil {
				unauthorized(w, err)
				return
			}

			userID, err := verifier.ResolveUserID(r.Context(), credential)
			if err != nil {
				var authErr *auth.AuthenticationError
				if !errors.As(err, &authErr) {
					logger.Error("credential verification unavailable", zap.String("path", r.URL.Path), zap.Error(err))
					verifierUnavailable(w)
					return
				}
				logger.Debug("credential rejected", zap.String("path", r.URL.Path), zap.Error(err))
				unauthorized(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the verified user id stored by Auth.
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

func credentialFrom(r *http.Request) (string, error) {
	if header := r.Header.Get("Authorization"); header != "" {
		return auth.BearerToken(header)
	}
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	return "", auth.Unauthenticated("missing credential", auth.ErrMissingCredential)
}

func unauthorized(w http.ResponseWriter, err error) {
	reason := "invalid or expired credential"
	var authErr *auth.AuthenticationError
	if errors.As(err, &authErr) {
		reason = authErr.Reason
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="juggle"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Unauthorized", "details": reason})
}

func verifierUnavailable(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "5")
	w.WriteHeader(http.StatusServiceUnavailable)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Service Unavailable", "details": "could not verify credential"})
}
