package postgres

import (
	"context"
	"fmt"
	"time"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
)

type SyncLockRepository struct {
	db *DB
}

var _ linkedaccount.Locker = (*SyncLockRepository)(nil)

func NewSyncLockRepository(db *DB) *SyncLockRepository {
	return &SyncLockRepository{db: db}
}

// AcquireSyncLock inserts the lease or takes it over when it is ours or has
// expired. Zero affected rows means another owner holds a live lease.
func (r *SyncLockRepository) AcquireSyncLock(ctx context.Context, userID, owner string, ttl time.Duration) error {
	now := r.db.now().UTC()

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_locks (user_id, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE sync_locks.owner = EXCLUDED.owner OR sync_locks.expires_at <= $4
	`, userID, owner, now.Add(ttl), now)
	if err != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return domain.ErrSyncInProgress
	}
	return nil
}

func (r *SyncLockRepository) ReleaseSyncLock(ctx context.Context, userID, owner string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM sync_locks WHERE user_id = $1 AND owner = $2`, userID, owner)
	if err != nil {
		return fmt.Errorf("failed to release sync lock: %w", err)
	}
	return nil
}

func (r *SyncLockRepository) ForceReleaseSyncLock(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sync_locks WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to force release sync lock: %w", err)
	}
	return nil
}
