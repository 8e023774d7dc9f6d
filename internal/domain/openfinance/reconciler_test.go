package openfinance

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/infrastructure/memory"
	"juggle/internal/infrastructure/plaid"
)

func newReconcilerWithUser(t *testing.T) (*Reconciler, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	connectUser(t, store, "user-1")
	return NewReconciler(store, zap.NewNop()), store
}

func TestReconciler_MergeAddedIsIdempotent(t *testing.T) {
	r, store := newReconcilerWithUser(t)
	ctx := context.Background()
	page := Page{Added: []plaid.Transaction{
		txn("t1", 12.50, "2024-01-05"),
		txn("t2", -100, "2024-01-06"),
	}}

	first, err := r.Merge(ctx, "user-1", page)
	require.NoError(t, err)
	once := storedAmounts(t, store, "user-1")

	second, err := r.Merge(ctx, "user-1", page)
	require.NoError(t, err)

	assert.Equal(t, once, storedAmounts(t, store, "user-1"))
	assert.Len(t, once, 2)
	assert.Equal(t, MergeCounts{Added: 2}, first)
	assert.Equal(t, first, second)
}

func TestReconciler_ModifiedIsFullReplace(t *testing.T) {
	r, store := newReconcilerWithUser(t)
	ctx := context.Background()

	_, err := r.Merge(ctx, "user-1", Page{Added: []plaid.Transaction{txn("t1", 12.50, "2024-01-05")}})
	require.NoError(t, err)

	replacement := plaid.Transaction{TransactionID: "t1", AccountID: "acc-2", Amount: 15, Date: "2024-01-07", Name: "Renamed", Pending: true}
	_, err = r.Merge(ctx, "user-1", Page{Modified: []plaid.Transaction{replacement}})
	require.NoError(t, err)

	txns, err := store.ListByUserID(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, txns, 1)
	got := txns[0]
	assert.Equal(t, "acc-2", got.AccountID)
	assert.Equal(t, 15.0, got.Amount)
	assert.Equal(t, "Renamed", got.Name)
	assert.True(t, got.Pending)
	assert.Nil(t, got.IsoCurrencyCode)
	assert.Empty(t, got.Category)
}

func TestReconciler_RemovingUnknownIDIsNoop(t *testing.T) {
	r, store := newReconcilerWithUser(t)
	ctx := context.Background()

	_, err := r.Merge(ctx, "user-1", Page{Added: []plaid.Transaction{txn("t1", 12.50, "2024-01-05")}})
	require.NoError(t, err)
	before := storedAmounts(t, store, "user-1")

	counts, err := r.Merge(ctx, "user-1", Page{Removed: removed("never-seen")})
	require.NoError(t, err)

	assert.Equal(t, MergeCounts{Removed: 1}, counts)
	assert.Equal(t, before, storedAmounts(t, store, "user-1"))
}

func TestReconciler_RejectsMissingIDBeforeWriting(t *testing.T) {
	tests := []struct {
		name string
		page Page
	}{
		{
			name: "added",
			page: Page{Added: []plaid.Transaction{txn("t2", 1, "2024-01-05"), txn("", 2, "2024-01-05")}},
		},
		{
			name: "modified",
			page: Page{Modified: []plaid.Transaction{txn("", 2, "2024-01-05")}},
		},
		{
			name: "removed",
			page: Page{Added: []plaid.Transaction{txn("t2", 1, "2024-01-05")}, Removed: removed("")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, store := newReconcilerWithUser(t)
			ctx := context.Background()
			_, err := r.Merge(ctx, "user-1", Page{Added: []plaid.Transaction{txn("t1", 12.50, "2024-01-05")}})
			require.NoError(t, err)

			_, err = r.Merge(ctx, "user-1", tt.page)

			assert.ErrorIs(t, err, ErrMissingTransactionID)
			assert.Equal(t, map[string]float64{"t1": 12.50}, storedAmounts(t, store, "user-1"))
		})
	}
}

func TestReconciler_MergeWithoutAccount(t *testing.T) {
	r := NewReconciler(memory.NewStore(), zap.NewNop())

	_, err := r.Merge(context.Background(), "nobody", Page{Added: []plaid.Transaction{txn("t1", 1, "2024-01-05")}})

	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestBuildBatch_CollapsesPerID(t *testing.T) {
	batch, err := buildBatch(Page{
		Added:    []plaid.Transaction{txn("t1", 1, "2024-01-01"), txn("t2", 2, "2024-01-02"), txn("t3", 3, "2024-01-03")},
		Modified: []plaid.Transaction{txn("t2", 20, "2024-01-02"), txn("t4", 4, "2024-01-04")},
		Removed:  removed("t3", "t5"),
	})
	require.NoError(t, err)

	ids := make([]string, 0, len(batch.Upserts))
	amounts := make(map[string]float64)
	for _, u := range batch.Upserts {
		ids = append(ids, u.TransactionID)
		amounts[u.TransactionID] = u.Amount
	}
	assert.Equal(t, []string{"t1", "t2", "t4"}, ids)
	assert.Equal(t, 20.0, amounts["t2"])
	assert.Equal(t, []string{"t3", "t5"}, batch.Deletes)
	assert.Nil(t, batch.Cursor)
}

func TestReconciler_MergeLeavesCursorAlone(t *testing.T) {
	r, store := newReconcilerWithUser(t)
	ctx := context.Background()

	_, err := r.Merge(ctx, "user-1", Page{Added: []plaid.Transaction{txn("t1", 12.50, "2024-01-05")}})
	require.NoError(t, err)

	acct, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, acct.Cursor)
}

func TestReconciler_CommitCursor(t *testing.T) {
	r, store := newReconcilerWithUser(t)
	ctx := context.Background()

	require.NoError(t, r.CommitCursor(ctx, "user-1", nil, "c1"))
	acct, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, acct.Cursor)
	assert.Equal(t, "c1", *acct.Cursor)

	// a second writer that also started from nil loses
	err = r.CommitCursor(ctx, "user-1", nil, "other")
	assert.ErrorIs(t, err, domain.ErrCursorConflict)
	var perr *domain.PersistenceError
	assert.False(t, errors.As(err, &perr), "sentinels pass through unwrapped")

	from := "c1"
	require.NoError(t, r.CommitCursor(ctx, "user-1", &from, "c2"))
	acct, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "c2", *acct.Cursor)

	assert.ErrorIs(t, r.CommitCursor(ctx, "nobody", nil, "c1"), domain.ErrNotConnected)
}

func TestToDomainTransaction_PersonalFinanceCategoryFallback(t *testing.T) {
	legacy := txn("t1", 1, "2024-01-01")
	legacy.PersonalFinanceCategory = &plaid.PersonalFinanceCategory{Primary: "FOOD_AND_DRINK", Detailed: "FOOD_AND_DRINK_COFFEE"}
	assert.Equal(t, []string{"Shops"}, toDomainTransaction(&legacy).Category)

	modern := txn("t2", 1, "2024-01-01")
	modern.Category = nil
	modern.PersonalFinanceCategory = &plaid.PersonalFinanceCategory{Primary: "FOOD_AND_DRINK", Detailed: "FOOD_AND_DRINK_COFFEE"}
	got := toDomainTransaction(&modern)
	assert.Equal(t, []string{"FOOD_AND_DRINK", "FOOD_AND_DRINK_COFFEE"}, got.Category)
	assert.Equal(t, "FOOD_AND_DRINK", got.PrimaryCategory())

	bare := txn("t3", 1, "2024-01-01")
	bare.Category = nil
	assert.Empty(t, toDomainTransaction(&bare).Category)
}
