package linkedaccount

import (
	"context"
	"time"
)

// Repository defines the interface for linked account storage.
// This interface is defined in the domain layer, but implemented in the infrastructure layer.
type Repository interface {
	// Get returns the user's linked account, or nil when none exists
	Get(ctx context.Context, userID string) (*LinkedAccount, error)

	// Save creates or fully overwrites the user's linked account. Overwriting
	// also drops the transactions stored for the previous connection, since
	// the new cursor starts from nil.
	Save(ctx context.Context, params SaveParams) (*LinkedAccount, error)

	// UpdateCursor replaces only the stored cursor
	UpdateCursor(ctx context.Context, userID, cursor string) error

	// UpdateInstitutionName replaces only the institution display name
	UpdateInstitutionName(ctx context.Context, userID, name string) error

	// MarkSynced records when the last sync finished
	MarkSynced(ctx context.Context, userID string, at time.Time) error

	// Delete removes the linked account and every stored transaction of the
	// user in one atomic write
	Delete(ctx context.Context, userID string) error

	// ListUserIDs returns every user with a linked account
	ListUserIDs(ctx context.Context) ([]string, error)
}

// Locker serializes syncs per user. A lock expires after its ttl so a
// crashed holder cannot block the user forever.
type Locker interface {
	// AcquireSyncLock returns domain.ErrSyncInProgress while another owner
	// holds an unexpired lock
	AcquireSyncLock(ctx context.Context, userID, owner string, ttl time.Duration) error

	// ReleaseSyncLock drops the lock if owner still holds it
	ReleaseSyncLock(ctx context.Context, userID, owner string) error

	// ForceReleaseSyncLock drops the lock whoever holds it
	ForceReleaseSyncLock(ctx context.Context, userID string) error
}
