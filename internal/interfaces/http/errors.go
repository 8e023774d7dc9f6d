package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/openfinance"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/plaid"
	"juggle/internal/shared/auth"
)

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy onto status codes.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var (
		authErr     *auth.AuthenticationError
		providerErr *plaid.ProviderSyncError
		persistErr  *domain.PersistenceError
	)

	switch {
	case errors.As(err, &authErr):
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized", Details: authErr.Reason})
	case errors.Is(err, domain.ErrNotConnected):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "No linked bank account"})
	case errors.Is(err, domain.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "A sync is already running for this account"})
	case errors.Is(err, domain.ErrCursorConflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: "Account changed during sync, please retry"})
	case errors.As(err, &providerErr):
		logger.Warn("plaid request failed", zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Bank provider request failed", Details: providerErr})
	case errors.Is(err, openfinance.ErrMissingPublicToken),
		errors.Is(err, transaction.ErrInvalidMonth),
		errors.Is(err, linkedaccount.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.As(err, &persistErr):
		logger.Error("storage failure", zap.String("op", persistErr.Op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Storage failure"})
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "Internal server error"})
	}
}
