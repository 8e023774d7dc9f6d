package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/openfinance"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/plaid"
	"juggle/internal/shared/middleware"
)

// PlaidService is the operation surface the Plaid routes call into.
type PlaidService interface {
	CreateLinkToken(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error)
	ExchangeToken(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error)
	Sync(ctx context.Context, userID string) (*openfinance.SyncSummary, error)
	GetLinkedAccount(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error)
	GetStoredTransactions(ctx context.Context, userID string) ([]*transaction.Transaction, error)
	GetMetrics(ctx context.Context, userID, month string) (*transaction.Metrics, error)
	Disconnect(ctx context.Context, userID string) error
}

var _ PlaidService = (*openfinance.LinkService)(nil)

type PlaidHandler struct {
	service PlaidService
	logger  *zap.Logger
}

func NewPlaidHandler(service PlaidService, logger *zap.Logger) *PlaidHandler {
	return &PlaidHandler{
		service: service,
		logger:  logger,
	}
}

type LinkTokenResponse struct {
	LinkToken  string `json:"link_token"`
	Expiration string `json:"expiration,omitempty"`
}

type ExchangeTokenRequest struct {
	PublicToken string `json:"public_token"`
}

type ExchangeTokenResponse struct {
	Success         bool   `json:"success"`
	ItemID          string `json:"itemId"`
	InstitutionName string `json:"institutionName"`
	Sync            any    `json:"sync"`
}

// SyncFailure reports an initial sync that failed after a successful connect.
type SyncFailure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type SyncResponse struct {
	Success  bool   `json:"success"`
	Added    int    `json:"added"`
	Modified int    `json:"modified"`
	Removed  int    `json:"removed"`
	Cursor   string `json:"cursor"`
	Pages    int    `json:"pages"`
}

type TransactionsResponse struct {
	Transactions []*transaction.Transaction `json:"transactions"`
}

// AccountStatusResponse never carries the access token.
type AccountStatusResponse struct {
	Connected       bool       `json:"connected"`
	ItemID          string     `json:"itemId,omitempty"`
	InstitutionName string     `json:"institutionName,omitempty"`
	HasSynced       bool       `json:"hasSynced"`
	LastSyncedAt    *time.Time `json:"lastSyncedAt,omitempty"`
	ConnectedAt     *time.Time `json:"connectedAt,omitempty"`
}

func (h *PlaidHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "Unauthorized"})
		return "", false
	}
	return userID, true
}

// HandleCreateLinkToken starts a Plaid Link session.
func (h *PlaidHandler) HandleCreateLinkToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	resp, err := h.service.CreateLinkToken(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, LinkTokenResponse{
		LinkToken:  resp.LinkToken,
		Expiration: resp.Expiration,
	})
}

// HandleExchangeToken links the account and runs the initial sync.
func (h *PlaidHandler) HandleExchangeToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	var req ExchangeTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	result, err := h.service.ExchangeToken(r.Context(), userID, req.PublicToken)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := ExchangeTokenResponse{
		Success:         true,
		ItemID:          result.ItemID,
		InstitutionName: result.InstitutionName,
	}
	switch {
	case result.SyncError != nil:
		resp.Sync = SyncFailure{Success: false, Error: result.SyncError.Error()}
	case result.Sync != nil:
		resp.Sync = toSyncResponse(result.Sync)
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleSync pulls every pending change for the caller's linked account.
func (h *PlaidHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	summary, err := h.service.Sync(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncResponse(summary))
}

// HandleListTransactions returns every stored transaction for the caller.
func (h *PlaidHandler) HandleListTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	txns, err := h.service.GetStoredTransactions(r.Context(), userID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if txns == nil {
		txns = []*transaction.Transaction{}
	}

	writeJSON(w, http.StatusOK, TransactionsResponse{Transactions: txns})
}

// HandleAccount routes GET (status) and DELETE (disconnect) on the linked account.
func (h *PlaidHandler) HandleAccount(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleGetAccount(w, r)
	case http.MethodDelete:
		h.handleDisconnect(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *PlaidHandler) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetLinkedAccount(r.Context(), userID)
	if errors.Is(err, domain.ErrNotConnected) {
		writeJSON(w, http.StatusOK, AccountStatusResponse{Connected: false})
		return
	}
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, AccountStatusResponse{
		Connected:       true,
		ItemID:          account.ItemID,
		InstitutionName: account.Institution(),
		HasSynced:       account.Cursor != nil && *account.Cursor != "",
		LastSyncedAt:    account.LastSyncedAt,
		ConnectedAt:     &account.CreatedAt,
	})
}

func (h *PlaidHandler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	if err := h.service.Disconnect(r.Context(), userID); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// HandleMetrics returns dashboard totals, optionally for ?month=YYYY-MM.
func (h *PlaidHandler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	metrics, err := h.service.GetMetrics(r.Context(), userID, r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, metrics)
}

func toSyncResponse(s *openfinance.SyncSummary) SyncResponse {
	return SyncResponse{
		Success:  true,
		Added:    s.Added,
		Modified: s.Modified,
		Removed:  s.Removed,
		Cursor:   s.FinalCursor,
		Pages:    s.Pages,
	}
}
