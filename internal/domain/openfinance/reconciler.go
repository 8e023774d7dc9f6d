package openfinance

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/plaid"
)

// ErrMissingTransactionID rejects a page before anything is written.
var ErrMissingTransactionID = errors.New("provider transaction without id")

// Page is one provider delta page.
type Page struct {
	Added    []plaid.Transaction
	Modified []plaid.Transaction
	Removed  []plaid.RemovedTransaction
}

// MergeCounts mirrors the sizes of the page lists that were merged.
type MergeCounts struct {
	Added    int
	Modified int
	Removed  int
}

func (c *MergeCounts) add(o MergeCounts) {
	c.Added += o.Added
	c.Modified += o.Modified
	c.Removed += o.Removed
}

// Reconciler turns provider pages into atomic store batches.
type Reconciler struct {
	repo   transaction.Repository
	logger *zap.Logger
}

// NewReconciler creates a new reconciler
func NewReconciler(repo transaction.Repository, logger *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, logger: logger}
}

// Merge applies added, then modified, then removed, collapsed per id, and
// commits them in a single batch. The stored cursor is left alone; replaying
// a page is harmless because every write is keyed by transaction id.
func (r *Reconciler) Merge(ctx context.Context, userID string, page Page) (MergeCounts, error) {
	batch, err := buildBatch(page)
	if err != nil {
		return MergeCounts{}, err
	}

	if err := r.repo.ApplyBatch(ctx, userID, batch); err != nil {
		return MergeCounts{}, domain.Persistence("merge page", err)
	}

	counts := MergeCounts{
		Added:    len(page.Added),
		Modified: len(page.Modified),
		Removed:  len(page.Removed),
	}
	r.logger.Debug("merged provider page",
		zap.String("user_id", userID),
		zap.Int("added", counts.Added),
		zap.Int("modified", counts.Modified),
		zap.Int("removed", counts.Removed),
		zap.Int("upserts", len(batch.Upserts)),
		zap.Int("deletes", len(batch.Deletes)),
	)
	return counts, nil
}

// CommitCursor moves the stored cursor from from to to in one conditional
// write. A stored cursor other than from yields domain.ErrCursorConflict.
func (r *Reconciler) CommitCursor(ctx context.Context, userID string, from *string, to string) error {
	batch := &transaction.Batch{Cursor: &transaction.CursorAdvance{From: from, To: to}}
	if err := r.repo.ApplyBatch(ctx, userID, batch); err != nil {
		return domain.Persistence("persist cursor", err)
	}
	return nil
}

// op is the last write seen for one id; a nil txn means delete.
type op struct {
	txn *transaction.Transaction
}

func buildBatch(page Page) (*transaction.Batch, error) {
	var (
		order []string
		final = make(map[string]op)
	)
	set := func(id string, o op) {
		if _, seen := final[id]; !seen {
			order = append(order, id)
		}
		final[id] = o
	}

	for _, list := range [][]plaid.Transaction{page.Added, page.Modified} {
		for i := range list {
			t := &list[i]
			if t.TransactionID == "" {
				return nil, fmt.Errorf("%w (account %s, date %s)", ErrMissingTransactionID, t.AccountID, t.Date)
			}
			set(t.TransactionID, op{txn: toDomainTransaction(t)})
		}
	}
	for _, rm := range page.Removed {
		if rm.TransactionID == "" {
			return nil, fmt.Errorf("%w in removed list", ErrMissingTransactionID)
		}
		set(rm.TransactionID, op{})
	}

	batch := &transaction.Batch{}
	for _, id := range order {
		if o := final[id]; o.txn != nil {
			batch.Upserts = append(batch.Upserts, o.txn)
		} else {
			batch.Deletes = append(batch.Deletes, id)
		}
	}
	return batch, nil
}

func toDomainTransaction(t *plaid.Transaction) *transaction.Transaction {
	category := t.Category
	if len(category) == 0 && t.PersonalFinanceCategory != nil {
		for _, c := range []string{t.PersonalFinanceCategory.Primary, t.PersonalFinanceCategory.Detailed} {
			if c != "" {
				category = append(category, c)
			}
		}
	}

	var currency *string
	if t.IsoCurrencyCode != nil {
		c := *t.IsoCurrencyCode
		currency = &c
	}

	return &transaction.Transaction{
		TransactionID:   t.TransactionID,
		AccountID:       t.AccountID,
		Amount:          t.Amount,
		IsoCurrencyCode: currency,
		Category:        append([]string(nil), category...),
		Date:            t.Date,
		Name:            t.Name,
		Pending:         t.Pending,
	}
}
