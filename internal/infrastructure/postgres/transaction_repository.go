package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"juggle/internal/domain"
	"juggle/internal/domain/transaction"
)

type TransactionRepository struct {
	db *DB
}

var _ transaction.Repository = (*TransactionRepository)(nil)

func NewTransactionRepository(db *DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

// ApplyBatch locks the linked account row first, so a concurrent commit or
// disconnect for the same user waits and then sees the moved cursor.
func (r *TransactionRepository) ApplyBatch(ctx context.Context, userID string, batch *transaction.Batch) error {
	if batch == nil {
		return errors.New("nil batch")
	}

	return r.db.WithTx(ctx, "apply_batch", func(tx *sql.Tx) error {
		var stored sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT cursor FROM linked_accounts WHERE user_id = $1 FOR UPDATE`, userID,
		).Scan(&stored)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrNotConnected
		}
		if err != nil {
			return fmt.Errorf("failed to lock linked account: %w", err)
		}

		if batch.Cursor != nil {
			from := batch.Cursor.From
			if stored.Valid != (from != nil) || (from != nil && stored.String != *from) {
				return domain.ErrCursorConflict
			}
		}

		for _, t := range batch.Upserts {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO transactions (user_id, transaction_id, account_id, amount, iso_currency_code, category, date, name, pending)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				ON CONFLICT (user_id, transaction_id) DO UPDATE SET
					account_id = EXCLUDED.account_id,
					amount = EXCLUDED.amount,
					iso_currency_code = EXCLUDED.iso_currency_code,
					category = EXCLUDED.category,
					date = EXCLUDED.date,
					name = EXCLUDED.name,
					pending = EXCLUDED.pending
			`, userID, t.TransactionID, t.AccountID, t.Amount, t.IsoCurrencyCode,
				pq.Array(nonNil(t.Category)), t.Date, t.Name, t.Pending)
			if err != nil {
				return fmt.Errorf("failed to upsert transaction %s: %w", t.TransactionID, err)
			}
		}

		if len(batch.Deletes) > 0 {
			_, err := tx.ExecContext(ctx,
				`DELETE FROM transactions WHERE user_id = $1 AND transaction_id = ANY($2)`,
				userID, pq.Array(batch.Deletes),
			)
			if err != nil {
				return fmt.Errorf("failed to delete transactions: %w", err)
			}
		}

		if batch.Cursor != nil {
			_, err := tx.ExecContext(ctx,
				`UPDATE linked_accounts SET cursor = $2, updated_at = $3 WHERE user_id = $1`,
				userID, batch.Cursor.To, r.db.now().UTC(),
			)
			if err != nil {
				return fmt.Errorf("failed to advance cursor: %w", err)
			}
		}
		return nil
	})
}

func (r *TransactionRepository) ListByUserID(ctx context.Context, userID string) ([]*transaction.Transaction, error) {
	query := `
		SELECT transaction_id, account_id, amount, iso_currency_code, category,
		       to_char(date, 'YYYY-MM-DD'), name, pending
		FROM transactions
		WHERE user_id = $1
		ORDER BY date DESC, transaction_id
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var txns []*transaction.Transaction
	for rows.Next() {
		var (
			t        transaction.Transaction
			currency sql.NullString
		)
		if err := rows.Scan(
			&t.TransactionID, &t.AccountID, &t.Amount, &currency,
			pq.Array(&t.Category), &t.Date, &t.Name, &t.Pending,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if currency.Valid {
			t.IsoCurrencyCode = &currency.String
		}
		txns = append(txns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txns, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
