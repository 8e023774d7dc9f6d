package openfinance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/memory"
	"juggle/internal/infrastructure/plaid"
)

// MockPlaidClient implements plaid.ClientInterface
type MockPlaidClient struct {
	SyncTransactionsFunc    func(ctx context.Context, accessToken string, cursor *string, count int) (*plaid.SyncResponse, error)
	CreateLinkTokenFunc     func(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error)
	ExchangePublicTokenFunc func(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error)
	GetItemFunc             func(ctx context.Context, accessToken string) (*plaid.ItemResponse, error)
	GetInstitutionByIDFunc  func(ctx context.Context, institutionID string) (*plaid.InstitutionResponse, error)
	RemoveItemFunc          func(ctx context.Context, accessToken string) error

	mu        sync.Mutex
	syncCalls []string
}

var _ plaid.ClientInterface = (*MockPlaidClient)(nil)

func (m *MockPlaidClient) SyncTransactions(ctx context.Context, accessToken string, cursor *string, count int) (*plaid.SyncResponse, error) {
	m.mu.Lock()
	m.syncCalls = append(m.syncCalls, deref(cursor))
	m.mu.Unlock()

	if m.SyncTransactionsFunc != nil {
		return m.SyncTransactionsFunc(ctx, accessToken, cursor, count)
	}
	return &plaid.SyncResponse{NextCursor: "cursor-empty"}, nil
}

func (m *MockPlaidClient) CreateLinkToken(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error) {
	if m.CreateLinkTokenFunc != nil {
		return m.CreateLinkTokenFunc(ctx, userID)
	}
	return &plaid.LinkTokenResponse{LinkToken: "link-sandbox-token"}, nil
}

func (m *MockPlaidClient) ExchangePublicToken(ctx context.Context, publicToken string) (*plaid.ExchangeResponse, error) {
	if m.ExchangePublicTokenFunc != nil {
		return m.ExchangePublicTokenFunc(ctx, publicToken)
	}
	return &plaid.ExchangeResponse{AccessToken: "access-sandbox-1", ItemID: "item-1"}, nil
}

func (m *MockPlaidClient) GetItem(ctx context.Context, accessToken string) (*plaid.ItemResponse, error) {
	if m.GetItemFunc != nil {
		return m.GetItemFunc(ctx, accessToken)
	}
	return &plaid.ItemResponse{}, nil
}

func (m *MockPlaidClient) GetInstitutionByID(ctx context.Context, institutionID string) (*plaid.InstitutionResponse, error) {
	if m.GetInstitutionByIDFunc != nil {
		return m.GetInstitutionByIDFunc(ctx, institutionID)
	}
	return nil, errors.New("unexpected institution lookup")
}

func (m *MockPlaidClient) RemoveItem(ctx context.Context, accessToken string) error {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, accessToken)
	}
	return nil
}

// SyncCalls returns the cursors SyncTransactions was called with, "" for nil.
func (m *MockPlaidClient) SyncCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.syncCalls...)
}

// servePages answers SyncTransactions from pages keyed by the requested
// cursor, "" standing for the first sync.
func servePages(pages map[string]*plaid.SyncResponse) func(context.Context, string, *string, int) (*plaid.SyncResponse, error) {
	return func(_ context.Context, _ string, cursor *string, _ int) (*plaid.SyncResponse, error) {
		page, ok := pages[deref(cursor)]
		if !ok {
			return nil, &plaid.ProviderSyncError{Endpoint: "/transactions/sync", StatusCode: 400, ErrorCode: "INVALID_CURSOR"}
		}
		return page, nil
	}
}

// failingTransactions fails ApplyBatch on the listed call numbers (1-based).
type failingTransactions struct {
	transaction.Repository
	failOn map[int]bool
	calls  int
}

func (f *failingTransactions) ApplyBatch(ctx context.Context, userID string, batch *transaction.Batch) error {
	f.calls++
	if f.failOn[f.calls] {
		return errors.New("firestore: deadline exceeded")
	}
	return f.Repository.ApplyBatch(ctx, userID, batch)
}

func txn(id string, amount float64, date string) plaid.Transaction {
	usd := "USD"
	return plaid.Transaction{
		TransactionID:   id,
		AccountID:       "acc-1",
		Amount:          amount,
		IsoCurrencyCode: &usd,
		Category:        []string{"Shops"},
		Date:            date,
		Name:            "Merchant " + id,
	}
}

func removed(ids ...string) []plaid.RemovedTransaction {
	out := make([]plaid.RemovedTransaction, 0, len(ids))
	for _, id := range ids {
		out = append(out, plaid.RemovedTransaction{TransactionID: id})
	}
	return out
}

// connectUser stores a linked account for userID with no cursor.
func connectUser(t *testing.T, store *memory.Store, userID string) {
	t.Helper()
	_, err := store.Save(context.Background(), linkedaccount.SaveParams{
		UserID:      userID,
		AccessToken: "access-sandbox-1",
		ItemID:      "item-1",
	})
	require.NoError(t, err)
}

func newSyncService(client plaid.ClientInterface, store *memory.Store, txns transaction.Repository) *TransactionSyncService {
	if txns == nil {
		txns = store
	}
	return NewTransactionSyncService(client, store, store, txns, zap.NewNop(), SyncOptions{
		PageSize: 100,
		LockTTL:  time.Minute,
		Timeout:  5 * time.Second,
	})
}

func storedAmounts(t *testing.T, store *memory.Store, userID string) map[string]float64 {
	t.Helper()
	txns, err := store.ListByUserID(context.Background(), userID)
	require.NoError(t, err)

	out := make(map[string]float64, len(txns))
	for _, tx := range txns {
		out[tx.TransactionID] = tx.Amount
	}
	return out
}
