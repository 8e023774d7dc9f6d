package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHostAllowed(t *testing.T) {
	allowed := []string{"api.juggle.app", "localhost:8080", "[::1]:8443"}

	tests := []struct {
		host    string
		allowed []string
		want    bool
	}{
		{host: "anything.example", allowed: nil, want: true},
		{host: "api.juggle.app", allowed: allowed, want: true},
		{host: "API.Juggle.App:443", allowed: allowed, want: true},
		{host: "localhost", allowed: allowed, want: true},
		{host: "localhost:9999", allowed: allowed, want: true},
		{host: "[::1]", allowed: allowed, want: true},
		{host: "::1", allowed: allowed, want: true},
		{host: "juggle.app", allowed: allowed, want: false},
		{host: "api.juggle.app.evil.com", allowed: allowed, want: false},
		{host: "", allowed: allowed, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHostAllowed(tt.host, tt.allowed))
		})
	}
}

func TestRequireHTTPS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequireHTTPS([]string{"juggle.app"})(next)

	tests := []struct {
		name     string
		host     string
		proto    string
		wantCode int
		wantLoc  string
	}{
		{name: "plain http redirected", host: "juggle.app", wantCode: http.StatusMovedPermanently, wantLoc: "https://juggle.app/api/plaid/sync"},
		{name: "forwarded https passes", host: "juggle.app", proto: "https", wantCode: http.StatusOK},
		{name: "unknown host refused", host: "evil.com", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "http://"+tt.host+"/api/plaid/sync", nil)
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			rr := httptest.NewRecorder()

			handler.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantLoc != "" {
				assert.Equal(t, tt.wantLoc, rr.Header().Get("Location"))
			}
		})
	}
}

func TestSecureHeaders(t *testing.T) {
	tests := []struct {
		name     string
		tls      bool
		wantHSTS string
	}{
		{name: "plain http omits hsts", tls: false, wantHSTS: ""},
		{name: "tls adds hsts", tls: true, wantHSTS: "max-age=31536000; includeSubDomains"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			SecureHeaders(tt.tls)(http.NotFoundHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/plaid/transactions", nil))

			assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
			assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
			assert.Equal(t, "no-referrer", rr.Header().Get("Referrer-Policy"))
			assert.Equal(t, tt.wantHSTS, rr.Header().Get("Strict-Transport-Security"))
		})
	}
}
