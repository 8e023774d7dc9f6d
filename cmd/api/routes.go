package main

import (
	"net/http"

	"go.uber.org/zap"

	httphandlers "juggle/internal/interfaces/http"
	"juggle/internal/shared/config"
	"juggle/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("/health", httphandlers.HandleHealth)

	// Protected routes
	authMiddleware := middleware.Auth(deps.Verifier, logger.Named("auth"))
	plaid := deps.PlaidHandler

	protected := map[string]http.HandlerFunc{
		"/api/plaid/link-token":     plaid.HandleCreateLinkToken,
		"/api/plaid/exchange-token": plaid.HandleExchangeToken,
		"/api/plaid/sync":           plaid.HandleSync,
		"/api/plaid/transactions":   plaid.HandleListTransactions,
		"/api/plaid/account":        plaid.HandleAccount,
		"/api/plaid/metrics":        plaid.HandleMetrics,
	}
	routes := []string{"/health"}
	for path, h := range protected {
		mux.Handle(path, authMiddleware(h))
		routes = append(routes, path)
	}

	// Apply global middleware
	handler := middleware.Tracing(routes...)(mux)
	handler = middleware.Telemetry(cfg.Telemetry.ServiceName, handler)
	handler = middleware.Logging(logger.Named("access"))(handler)
	handler = middleware.CORS(cfg.Server.AllowedHosts)(handler)
	handler = middleware.SecureHeaders(cfg.TLS.Enabled)(handler)

	return handler
}
