package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juggle/internal/shared/auth"
)

// MockVerifier implements auth.CredentialVerifier
type MockVerifier struct {
	ResolveUserIDFunc func(ctx context.Context, credential string) (string, error)
}

func (m *MockVerifier) ResolveUserID(ctx context.Context, credential string) (string, error) {
	return m.ResolveUserIDFunc(ctx, credential)
}

func TestAuth(t *testing.T) {
	verifier := &MockVerifier{ResolveUserIDFunc: func(_ context.Context, credential string) (string, error) {
		switch credential {
		case "good-token":
			return "firebase-uid-1", nil
		case "unverifiable-token":
			return "", fmt.Errorf("failed to verify id token: %w", errors.New("dial tcp: i/o timeout"))
		}
		return "", auth.Unauthenticated("token expired", nil)
	}}

	tests := []struct {
		name           string
		setupRequest   func(r *http.Request)
		expectedStatus int
		expectedReason string
	}{
		{
			name:           "valid token in header",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer good-token") },
			expectedStatus: http.StatusOK,
		},
		{
			name:           "valid token in session cookie",
			setupRequest:   func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good-token"}) },
			expectedStatus: http.StatusOK,
		},
		{
			name: "header wins over cookie",
			setupRequest: func(r *http.Request) {
				r.Header.Set("Authorization", "Bearer bad-token")
				r.AddCookie(&http.Cookie{Name: SessionCookie, Value: "good-token"})
			},
			expectedStatus: http.StatusUnauthorized,
			expectedReason: "token expired",
		},
		{
			name:           "no credential",
			setupRequest:   func(r *http.Request) {},
			expectedStatus: http.StatusUnauthorized,
			expectedReason: "missing credential",
		},
		{
			name:           "malformed header",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "Token good-token") },
			expectedStatus: http.StatusUnauthorized,
			expectedReason: "invalid authorization header format",
		},
		{
			name:           "rejected token",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer bad-token") },
			expectedStatus: http.StatusUnauthorized,
			expectedReason: "token expired",
		},
		{
			name:           "verifier backend failure is not a rejection",
			setupRequest:   func(r *http.Request) { r.Header.Set("Authorization", "Bearer unverifiable-token") },
			expectedStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				userID, ok := GetUserID(r.Context())
				require.True(t, ok)
				assert.Equal(t, "firebase-uid-1", userID)
				w.WriteHeader(http.StatusOK)
			})
			handler := Auth(verifier, zap.NewNop())(next)

			req := httptest.NewRequest(http.MethodGet, "/api/plaid/transactions", nil)
			tt.setupRequest(req)
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			if tt.expectedStatus == http.StatusUnauthorized {
				var body map[string]string
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, "Unauthorized", body["error"])
				assert.Equal(t, tt.expectedReason, body["details"])
			}
			if tt.expectedStatus == http.StatusServiceUnavailable {
				assert.Empty(t, rr.Header().Get("WWW-Authenticate"))
				assert.Equal(t, "5", rr.Header().Get("Retry-After"))
			}
		})
	}
}

func TestGetUserID_Missing(t *testing.T) {
	_, ok := GetUserID(context.Background())
	assert.False(t, ok)
}
