package transaction

import (
	"context"
)

// Repository defines the interface for per-user transaction storage
type Repository interface {
	// ApplyBatch commits every upsert, every delete and the optional cursor
	// advance in one atomic write. Nothing is written when it fails.
	// Returns domain.ErrNotConnected if the user has no linked account and
	// domain.ErrCursorConflict if the stored cursor is not batch.Cursor.From.
	ApplyBatch(ctx context.Context, userID string, batch *Batch) error
	// ListByUserID returns the user's transactions ordered by date, newest first.
	ListByUserID(ctx context.Context, userID string) ([]*Transaction, error)
}
