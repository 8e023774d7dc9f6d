package firestore

import (
	"context"
	"errors"
	"fmt"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"juggle/internal/domain"
	"juggle/internal/domain/transaction"
)

// TransactionRepository stores transactions under users/{userId}/transactions.
type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ApplyBatch reads the linked account inside the transaction so a concurrent
// disconnect or cursor move aborts the commit instead of interleaving with it.
func (r *TransactionRepository) ApplyBatch(ctx context.Context, userID string, batch *transaction.Batch) error {
	if batch == nil {
		return errors.New("nil batch")
	}

	acctRef := r.db.linkedAccount(userID)
	coll := r.db.transactions(userID)

	return r.db.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(acctRef)
		if isNotFound(err) {
			return domain.ErrNotConnected
		}
		if err != nil {
			return fmt.Errorf("failed to read linked account: %w", err)
		}

		if batch.Cursor != nil {
			var doc linkedAccountDoc
			if err := snap.DataTo(&doc); err != nil {
				return fmt.Errorf("failed to decode linked account: %w", err)
			}
			if !sameCursor(doc.Cursor, batch.Cursor.From) {
				return domain.ErrCursorConflict
			}
		}

		for _, t := range batch.Upserts {
			if err := tx.Set(coll.Doc(t.TransactionID), t); err != nil {
				return fmt.Errorf("failed to stage transaction %s: %w", t.TransactionID, err)
			}
		}
		for _, id := range batch.Deletes {
			if err := tx.Delete(coll.Doc(id)); err != nil {
				return fmt.Errorf("failed to stage removal of %s: %w", id, err)
			}
		}

		if batch.Cursor == nil {
			return nil
		}
		return tx.Update(acctRef, []fs.Update{
			{Path: "cursor", Value: batch.Cursor.To},
			{Path: "updatedAt", Value: r.db.now().UTC()},
		})
	})
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string) ([]*transaction.Transaction, error) {
	iter := r.db.transactions(userID).OrderBy("date", fs.Desc).Documents(ctx)
	defer iter.Stop()

	var txns []*transaction.Transaction
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list transactions: %w", err)
		}

		var t transaction.Transaction
		if err := snap.DataTo(&t); err != nil {
			return nil, fmt.Errorf("failed to decode transaction %s: %w", snap.Ref.ID, err)
		}
		if t.TransactionID == "" {
			t.TransactionID = snap.Ref.ID
		}
		txns = append(txns, &t)
	}
	return txns, nil
}

func sameCursor(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
