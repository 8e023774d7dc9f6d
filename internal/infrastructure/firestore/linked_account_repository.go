package firestore

import (
	"context"
	"fmt"
	"time"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/infrastructure/crypto"
)

type linkedAccountDoc struct {
	UserID          string     `firestore:"userId"`
	AccessToken     string     `firestore:"accessToken"`
	ItemID          string     `firestore:"itemId"`
	Cursor          *string    `firestore:"cursor"`
	InstitutionName *string    `firestore:"institutionName"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
	LastSyncedAt    *time.Time `firestore:"lastSyncedAt"`
}

// LinkedAccountRepository stores one linked account document per user with
// the access token encrypted.
type LinkedAccountRepository struct {
	db        *DB
	encryptor *crypto.Encryptor
}

var _ linkedaccount.Repository = (*LinkedAccountRepository)(nil)

func NewLinkedAccountRepository(db *DB, encryptor *crypto.Encryptor) *LinkedAccountRepository {
	return &LinkedAccountRepository{db: db, encryptor: encryptor}
}

func (r *LinkedAccountRepository) Get(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error) {
	snap, err := r.db.linkedAccount(userID).Get(ctx)
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get linked account: %w", err)
	}

	var doc linkedAccountDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode linked account: %w", err)
	}
	return r.toDomain(&doc)
}

// Save overwrites the account document, purges the previous connection's
// transactions and raises the profile flag in one transaction.
func (r *LinkedAccountRepository) Save(ctx context.Context, params linkedaccount.SaveParams) (*linkedaccount.LinkedAccount, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	encrypted, err := r.encryptor.Encrypt(params.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	now := r.db.now().UTC()
	doc := linkedAccountDoc{
		UserID:          params.UserID,
		AccessToken:     encrypted,
		ItemID:          params.ItemID,
		InstitutionName: params.InstitutionName,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = r.db.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		stale, err := tx.DocumentRefs(r.db.transactions(params.UserID)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to list previous transactions: %w", err)
		}
		for _, ref := range stale {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		if err := tx.Set(r.db.linkedAccount(params.UserID), doc); err != nil {
			return err
		}
		return tx.Set(r.db.user(params.UserID), map[string]any{connectedField: true}, fs.MergeAll)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save linked account: %w", err)
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
	return r.update(ctx, userID, fs.Update{Path: "cursor", Value: cursor})
}

func (r *LinkedAccountRepository) UpdateInstitutionName(ctx context.Context, userID, name string) error {
	return r.update(ctx, userID, fs.Update{Path: "institutionName", Value: name})
}

func (r *LinkedAccountRepository) MarkSynced(ctx context.Context, userID string, at time.Time) error {
	return r.update(ctx, userID, fs.Update{Path: "lastSyncedAt", Value: at.UTC()})
}

// update fails with NotFound on a missing document, which is mapped to
// ErrNotConnected so a partial update never creates a half-empty account.
func (r *LinkedAccountRepository) update(ctx context.Context, userID string, u fs.Update) error {
	_, err := r.db.linkedAccount(userID).Update(ctx, []fs.Update{
		u,
		{Path: "updatedAt", Value: r.db.now().UTC()},
	})
	if isNotFound(err) {
		return domain.ErrNotConnected
	}
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", u.Path, err)
	}
	return nil
}

// Delete removes the account, every transaction and clears the profile flag
// in one transaction.
func (r *LinkedAccountRepository) Delete(ctx context.Context, userID string) error {
	err := r.db.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		refs, err := tx.DocumentRefs(r.db.transactions(userID)).GetAll()
		if err != nil {
			return fmt.Errorf("failed to list transactions: %w", err)
		}
		for _, ref := range refs {
			if err := tx.Delete(ref); err != nil {
				return err
			}
		}
		if err := tx.Delete(r.db.linkedAccount(userID)); err != nil {
			return err
		}
		return tx.Set(r.db.user(userID), map[string]any{connectedField: false}, fs.MergeAll)
	})
	if err != nil {
		return fmt.Errorf("failed to delete linked account: %w", err)
	}
	return nil
}

func (r *LinkedAccountRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	iter := r.db.client.Collection(linkedAccountsCollection).Select().Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list linked accounts: %w", err)
		}
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

func (r *LinkedAccountRepository) toDomain(doc *linkedAccountDoc) (*linkedaccount.LinkedAccount, error) {
	token, err := r.encryptor.Decrypt(doc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	return &linkedaccount.LinkedAccount{
		UserID:          doc.UserID,
		AccessToken:     token,
		ItemID:          doc.ItemID,
		Cursor:          doc.Cursor,
		InstitutionName: doc.InstitutionName,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		LastSyncedAt:    doc.LastSyncedAt,
	}, nil
}
