package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/infrastructure/crypto"
)

type LinkedAccountRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ linkedaccount.Repository = (*LinkedAccountRepository)(nil)

func NewLinkedAccountRepository(db *DB, encryptor *crypto.Encryptor) *LinkedAccountRepository {
	return &LinkedAccountRepository{db: db, encryptor: encryptor}
}

func (r *LinkedAccountRepository) Get(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error) {
	query := `
		SELECT user_id, access_token, item_id, cursor, institution_name,
		       created_at, updated_at, last_synced_at
		FROM linked_accounts
		WHERE user_id = $1
	`

	var (
		acct         linkedaccount.LinkedAccount
		encrypted    string
		cursor, inst sql.NullString
		lastSyncedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&acct.UserID, &encrypted, &acct.ItemID, &cursor, &inst,
		&acct.CreatedAt, &acct.UpdatedAt, &lastSyncedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}

	acct.AccessToken, err = r.encryptor.Decrypt(encrypted)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if cursor.Valid {
		acct.Cursor = &cursor.String
	}
	if inst.Valid {
		acct.InstitutionName = &inst.String
	}
	if lastSyncedAt.Valid {
		acct.LastSyncedAt = &lastSyncedAt.Time
	}
	return &acct, nil
}

// Save replaces the connection and purges the previous connection's
// transactions in one transaction.
func (r *LinkedAccountRepository) Save(ctx context.Context, params linkedaccount.SaveParams) (*linkedaccount.LinkedAccount, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	encrypted, err := r.encryptor.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	now := r.db.now().UTC()
	err = r.db.WithTx(ctx, "save_linked_account", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = $1`, params.UserID); err != nil {
			return fmt.Errorf("failed to purge previous transactions: %w", err)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO linked_accounts (user_id, access_token, item_id, cursor, institution_name, created_at, updated_at, last_synced_at)
			VALUES ($1, $2, $3, NULL, $4, $5, $5, NULL)
			ON CONFLICT (user_id) DO UPDATE SET
				access_token = EXCLUDED.access_token,
				item_id = EXCLUDED.item_id,
				cursor = NULL,
				institution_name = EXCLUDED.institution_name,
				created_at = EXCLUDED.created_at,
				updated_at = EXCLUDED.updated_at,
				last_synced_at = NULL
		`, params.UserID, encrypted, params.ItemID, params.InstitutionName, now)
		if err != nil {
			return fmt.Errorf("failed to upsert linked account: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &linkedaccount.LinkedAccount{
		UserID:          params.UserID,
		AccessToken:     params.AccessToken,
		ItemID:          params.ItemID,
		InstitutionName: params.InstitutionName,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *LinkedAccountRepository) UpdateCursor(ctx context.Context, userID, cursor string) error {
	return r.update(ctx, "cursor", userID, cursor)
}

func (r *LinkedAccountRepository) UpdateInstitutionName(ctx context.Context, userID, name string) error {
	return r.update(ctx, "institution_name", userID, name)
}

func (r *LinkedAccountRepository) MarkSynced(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, "last_synced_at", userID, at.UTC())
}

// update sets one column. column is always a constant from this file.
func (r *LinkedAccountRepository) update(ctx context.Context, column, userID string, value any) error {
	query := fmt.Sprintf(`UPDATE linked_accounts SET %s = $2, updated_at = $3 WHERE user_id = $1`, column)

	result, err := r.db.ExecContext(ctx, query, userID, value, r.db.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", column, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotConnected
	}
	return nil
}

// Delete relies on ON DELETE CASCADE, so the account and its transactions go
// in one statement.
func (r *LinkedAccountRepository) Delete(ctx context.Context, userID string) error {
	return r.db.WithTx(ctx, "delete_linked_account", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM linked_accounts WHERE user_id = $1`, userID); err != nil {
			return fmt.Errorf("failed to delete linked account: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_locks WHERE user_id = $1 AND expires_at <= $2`, userID, r.db.now().UTC()); err != nil {
			return fmt.Errorf("failed to delete stale sync lock: %w", err)
		}
		return nil
	})
}

func (r *LinkedAccountRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM linked_accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list linked accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
