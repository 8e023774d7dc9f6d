package firestore

import (
	"context"
	"fmt"
	"time"

	fs "cloud.google.com/go/firestore"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
)

type syncLockDoc struct {
	Owner     string    `firestore:"owner"`
	ExpiresAt time.Time `firestore:"expiresAt"`
}

// SyncLockRepository keeps one lease document per user in sync_locks.
type SyncLockRepository struct {
	db *DB
}

var _ linkedaccount.Locker = (*SyncLockRepository)(nil)

func NewSyncLockRepository(db *DB) *SyncLockRepository {
	return &SyncLockRepository{db: db}
}

func (r *SyncLockRepository) AcquireSyncLock(ctx context.Context, userID, owner string, ttl time.Duration) error {
	ref := r.db.syncLock(userID)

	err := r.db.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		now := r.db.now().UTC()

		snap, err := tx.Get(ref)
		switch {
		case isNotFound(err):
		case err != nil:
			return fmt.Errorf("failed to read sync lock: %w", err)
		default:
			var held syncLockDoc
			if err := snap.DataTo(&held); err != nil {
				return fmt.Errorf("failed to decode sync lock: %w", err)
			}
			if held.Owner != owner && now.Before(held.ExpiresAt) {
				return domain.ErrSyncInProgress
			}
		}

		return tx.Set(ref, syncLockDoc{Owner: owner, ExpiresAt: now.Add(ttl)})
	})
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}
	return nil
}

func (r *SyncLockRepository) ReleaseSyncLock(ctx context.Context, userID, owner string) error {
	ref := r.db.syncLock(userID)

	err := r.db.client.RunTransaction(ctx, func(ctx context.Context, tx *fs.Transaction) error {
		snap, err := tx.Get(ref)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read sync lock: %w", err)
		}

		var held syncLockDoc
		if err := snap.DataTo(&held); err != nil {
			return fmt.Errorf("failed to decode sync lock: %w", err)
		}
		if held.Owner != owner {
			return nil
		}
		return tx.Delete(ref)
	})
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

func (r *SyncLockRepository) ForceReleaseSyncLock(ctx context.Context, userID string) error {
	if _, err := r.db.syncLock(userID).Delete(ctx); err != nil && !isNotFound(err) {
		return fmt.Errorf("failed to force release sync lock: %w", err)
	}
	return nil
}
