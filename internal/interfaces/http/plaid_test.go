package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/openfinance"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/plaid"
	"juggle/internal/shared/auth"
	"juggle/internal/shared/middleware"
)

// MockPlaidService implements PlaidService for testing
type MockPlaidService struct {
	CreateLinkTokenFunc       func(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error)
	ExchangeTokenFunc         func(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error)
	SyncFunc                  func(ctx context.Context, userID string) (*openfinance.SyncSummary, error)
	GetLinkedAccountFunc      func(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error)
	GetStoredTransactionsFunc func(ctx context.Context, userID string) ([]*transaction.Transaction, error)
	GetMetricsFunc            func(ctx context.Context, userID, month string) (*transaction.Metrics, error)
	DisconnectFunc            func(ctx context.Context, userID string) error
}

func (m *MockPlaidService) CreateLinkToken(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error) {
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, userID)
	}
	return &plaid.LinkTokenResponse{}, nil
}

func (m *MockPlaidService) ExchangeToken(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error) {
	if m.ExchangeTokenFunc != nil {
		return m.ExchangeTokenFunc(ctx, userID, publicToken)
	}
	return &openfinance.ConnectResult{}, nil
}

func (m *MockPlaidService) Sync(ctx context.Context, userID string) (*openfinance.SyncSummary, error) {
	if m.SyncFunc != nil {
		return m.SyncFunc(ctx, userID)
	}
	return &openfinance.SyncSummary{}, nil
}

func (m *MockPlaidService) GetLinkedAccount(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error) {
	if m.GetLinkedAccountFunc != nil {
		return m.GetLinkedAccountFunc(ctx, userID)
	}
	return nil, domain.ErrNotConnected
}

func (m *MockPlaidService) GetStoredTransactions(ctx context.Context, userID string) ([]*transaction.Transaction, error) {
	if m.GetStoredTransactionsFunc != nil {
		return m.GetStoredTransactionsFunc(ctx, userID)
	}
	return nil, nil
}

func (m *MockPlaidService) GetMetrics(ctx context.Context, userID, month string) (*transaction.Metrics, error) {
	if m.GetMetricsFunc != nil {
		return m.GetMetricsFunc(ctx, userID, month)
	}
	return &transaction.Metrics{}, nil
}

func (m *MockPlaidService) Disconnect(ctx context.Context, userID string) error {
	if m.DisconnectFunc != nil {
		return m.DisconnectFunc(ctx, userID)
	}
	return nil
}

func authedRequest(method, target string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	ctx := context.WithValue(req.Context(), middleware.UserIDKey, "user-1")
	return req.WithContext(ctx)
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestHandleCreateLinkToken(t *testing.T) {
	service := &MockPlaidService{
		CreateLinkTokenFunc: func(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error) {
			assert.Equal(t, "user-1", userID)
			return &plaid.LinkTokenResponse{LinkToken: "link-sandbox-123", Expiration: "2024-03-01T00:00:00Z"}, nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleCreateLinkToken(rr, authedRequest(http.MethodPost, "/api/plaid/link-token", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, "link-sandbox-123", body["link_token"])
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
}

func TestHandleCreateLinkToken_MethodNotAllowed(t *testing.T) {
	handler := NewPlaidHandler(&MockPlaidService{}, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleCreateLinkToken(rr, authedRequest(http.MethodGet, "/api/plaid/link-token", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandlers_RequireUser(t *testing.T) {
	handler := NewPlaidHandler(&MockPlaidService{}, zap.NewNop())

	tests := []struct {
		name   string
		method string
		handle http.HandlerFunc
	}{
		{"link token", http.MethodPost, handler.HandleCreateLinkToken},
		{"sync", http.MethodPost, handler.HandleSync},
		{"transactions", http.MethodGet, handler.HandleListTransactions},
		{"account", http.MethodGet, handler.HandleAccount},
		{"metrics", http.MethodGet, handler.HandleMetrics},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			tt.handle(rr, httptest.NewRequest(tt.method, "/api/plaid/x", nil))
			assert.Equal(t, http.StatusUnauthorized, rr.Code)
		})
	}
}

func TestHandleExchangeToken(t *testing.T) {
	service := &MockPlaidService{
		ExchangeTokenFunc: func(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error) {
			assert.Equal(t, "public-sandbox-abc", publicToken)
			return &openfinance.ConnectResult{
				ItemID:          "item-1",
				InstitutionName: "First Platypus Bank",
				Sync:            &openfinance.SyncSummary{Added: 3, FinalCursor: "c1", Pages: 1},
			}, nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleExchangeToken(rr, authedRequest(http.MethodPost, "/api/plaid/exchange-token", []byte(`{"public_token":"public-sandbox-abc"}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "item-1", body["itemId"])
	assert.Equal(t, "First Platypus Bank", body["institutionName"])
	assert.NotContains(t, rr.Body.String(), "access")

	sync := body["sync"].(map[string]any)
	assert.Equal(t, float64(3), sync["added"])
	assert.Equal(t, "c1", sync["cursor"])
}

func TestHandleExchangeToken_InitialSyncFailed(t *testing.T) {
	service := &MockPlaidService{
		ExchangeTokenFunc: func(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error) {
			return &openfinance.ConnectResult{
				ItemID:    "item-1",
				SyncError: &plaid.ProviderSyncError{Endpoint: "/transactions/sync", StatusCode: 500},
			}, nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleExchangeToken(rr, authedRequest(http.MethodPost, "/api/plaid/exchange-token", []byte(`{"public_token":"p"}`)))

	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeBody(t, rr)
	assert.Equal(t, true, body["success"])
	sync := body["sync"].(map[string]any)
	assert.Equal(t, false, sync["success"])
	assert.Contains(t, sync["error"], "/transactions/sync")
}

func TestHandleExchangeToken_BadRequest(t *testing.T) {
	service := &MockPlaidService{
		ExchangeTokenFunc: func(ctx context.Context, userID, publicToken string) (*openfinance.ConnectResult, error) {
			return nil, openfinance.ErrMissingPublicToken
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"public_token":`},
		{"missing token", `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			handler.HandleExchangeToken(rr, authedRequest(http.MethodPost, "/api/plaid/exchange-token", []byte(tt.body)))
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestHandleSync(t *testing.T) {
	service := &MockPlaidService{
		SyncFunc: func(ctx context.Context, userID string) (*openfinance.SyncSummary, error) {
			return &openfinance.SyncSummary{Added: 1, Modified: 1, Removed: 0, FinalCursor: "c2", Pages: 2}, nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleSync(rr, authedRequest(http.MethodPost, "/api/plaid/sync", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"success":true,"added":1,"modified":1,"removed":0,"cursor":"c2","pages":2}`, rr.Body.String())
}

func TestHandleSync_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"not connected", domain.ErrNotConnected, http.StatusNotFound},
		{"lock held", fmt.Errorf("failed to acquire lock: %w", domain.ErrSyncInProgress), http.StatusConflict},
		{"cursor moved", domain.Persistence("merge page", domain.ErrCursorConflict), http.StatusConflict},
		{"provider", &plaid.ProviderSyncError{Endpoint: "/transactions/sync", StatusCode: 400, ErrorCode: "ITEM_LOGIN_REQUIRED"}, http.StatusBadGateway},
		{"persistence", domain.Persistence("merge page", errors.New("deadline exceeded")), http.StatusInternalServerError},
		{"authentication", &auth.AuthenticationError{Reason: "token expired"}, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockPlaidService{
				SyncFunc: func(ctx context.Context, userID string) (*openfinance.SyncSummary, error) {
					return nil, tt.err
				},
			}
			handler := NewPlaidHandler(service, zap.NewNop())

			rr := httptest.NewRecorder()
			handler.HandleSync(rr, authedRequest(http.MethodPost, "/api/plaid/sync", nil))

			assert.Equal(t, tt.wantStatus, rr.Code)
			body := decodeBody(t, rr)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestHandleSync_ProviderDetails(t *testing.T) {
	service := &MockPlaidService{
		SyncFunc: func(ctx context.Context, userID string) (*openfinance.SyncSummary, error) {
			return nil, fmt.Errorf("sync failed: %w", &plaid.ProviderSyncError{
				Endpoint:   "/transactions/sync",
				StatusCode: 400,
				ErrorType:  "ITEM_ERROR",
				ErrorCode:  "ITEM_LOGIN_REQUIRED",
			})
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleSync(rr, authedRequest(http.MethodPost, "/api/plaid/sync", nil))

	require.Equal(t, http.StatusBadGateway, rr.Code)
	details := decodeBody(t, rr)["details"].(map[string]any)
	assert.Equal(t, "ITEM_LOGIN_REQUIRED", details["error_code"])
	assert.Equal(t, float64(400), details["status_code"])
}

func TestHandleListTransactions(t *testing.T) {
	t.Run("returns stored transactions", func(t *testing.T) {
		service := &MockPlaidService{
			GetStoredTransactionsFunc: func(ctx context.Context, userID string) ([]*transaction.Transaction, error) {
				return []*transaction.Transaction{{TransactionID: "t1", Amount: 15, Date: "2024-03-02", Name: "Coffee"}}, nil
			},
		}
		handler := NewPlaidHandler(service, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.HandleListTransactions(rr, authedRequest(http.MethodGet, "/api/plaid/transactions", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp TransactionsResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Transactions, 1)
		assert.Equal(t, "t1", resp.Transactions[0].TransactionID)
	})

	t.Run("empty list is an array", func(t *testing.T) {
		handler := NewPlaidHandler(&MockPlaidService{}, zap.NewNop())

		rr := httptest.NewRecorder()
		handler.HandleListTransactions(rr, authedRequest(http.MethodGet, "/api/plaid/transactions", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"transactions":[]}`, rr.Body.String())
	})
}

func TestHandleAccount_Status(t *testing.T) {
	synced := time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC)
	cursor := "c2"
	service := &MockPlaidService{
		GetLinkedAccountFunc: func(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error) {
			return &linkedaccount.LinkedAccount{
				UserID:       userID,
				AccessToken:  "access-sandbox-secret",
				ItemID:       "item-1",
				Cursor:       &cursor,
				CreatedAt:    synced.Add(-time.Hour),
				LastSyncedAt: &synced,
			}, nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleAccount(rr, authedRequest(http.MethodGet, "/api/plaid/account", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotContains(t, rr.Body.String(), "access-sandbox-secret")

	var resp AccountStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Connected)
	assert.True(t, resp.HasSynced)
	assert.Equal(t, "item-1", resp.ItemID)
	assert.Equal(t, linkedaccount.UnknownInstitution, resp.InstitutionName)
	require.NotNil(t, resp.LastSyncedAt)
	assert.True(t, synced.Equal(*resp.LastSyncedAt))
}

func TestHandleAccount_NotConnected(t *testing.T) {
	handler := NewPlaidHandler(&MockPlaidService{}, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleAccount(rr, authedRequest(http.MethodGet, "/api/plaid/account", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"connected":false,"hasSynced":false}`, rr.Body.String())
}

func TestHandleAccount_Disconnect(t *testing.T) {
	var called string
	service := &MockPlaidService{
		DisconnectFunc: func(ctx context.Context, userID string) error {
			called = userID
			return nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleAccount(rr, authedRequest(http.MethodDelete, "/api/plaid/account", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "user-1", called)
	assert.JSONEq(t, `{"success":true}`, rr.Body.String())
}

func TestHandleAccount_DisconnectPersistenceFailure(t *testing.T) {
	service := &MockPlaidService{
		DisconnectFunc: func(ctx context.Context, userID string) error {
			return domain.Persistence("delete linked account", errors.New("unavailable"))
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleAccount(rr, authedRequest(http.MethodDelete, "/api/plaid/account", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestHandleAccount_MethodNotAllowed(t *testing.T) {
	handler := NewPlaidHandler(&MockPlaidService{}, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleAccount(rr, authedRequest(http.MethodPut, "/api/plaid/account", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHandleMetrics(t *testing.T) {
	var gotMonth string
	service := &MockPlaidService{
		GetMetricsFunc: func(ctx context.Context, userID, month string) (*transaction.Metrics, error) {
			gotMonth = month
			if month == "March" {
				return nil, fmt.Errorf("%w: %q", transaction.ErrInvalidMonth, month)
			}
			return &transaction.Metrics{
				CurrentBalance:   decimal.RequireFromString("1295.25"),
				Income:           decimal.NewFromInt(2500),
				Spending:         decimal.RequireFromString("1204.75"),
				Savings:          decimal.RequireFromString("1295.25"),
				TransactionCount: 3,
				Month:            month,
			}, nil
		},
	}
	handler := NewPlaidHandler(service, zap.NewNop())

	rr := httptest.NewRecorder()
	handler.HandleMetrics(rr, authedRequest(http.MethodGet, "/api/plaid/metrics?month=2024-03", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "2024-03", gotMonth)
	body := decodeBody(t, rr)
	assert.Equal(t, "1295.25", body["currentBalance"])
	assert.Equal(t, float64(3), body["transactionCount"])

	rr = httptest.NewRecorder()
	handler.HandleMetrics(rr, authedRequest(http.MethodGet, "/api/plaid/metrics?month=March", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleHealth(t *testing.T) {
	rr := httptest.NewRecorder()
	HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}
