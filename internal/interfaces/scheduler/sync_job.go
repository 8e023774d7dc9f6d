package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/openfinance"
)

// Syncer runs one transaction sync for a user.
type Syncer interface {
	Sync(ctx context.Context, userID string) (*openfinance.SyncSummary, error)
}

// UserLister lists every user with a linked account.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// TransactionSyncJob pulls pending Plaid changes for one user.
type TransactionSyncJob struct {
	userID string
	syncer Syncer
	logger *zap.Logger
}

// NewTransactionSyncJob creates a new transaction sync job for a user
func NewTransactionSyncJob(userID string, syncer Syncer, logger *zap.Logger) *TransactionSyncJob {
	return &TransactionSyncJob{
		userID: userID,
		syncer: syncer,
		logger: logger,
	}
}

// Execute runs the sync. A sync already held by another caller, or an
// account disconnected since the job was listed, is skipped.
func (j *TransactionSyncJob) Execute(ctx context.Context) error {
	summary, err := j.syncer.Sync(ctx, j.userID)
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		j.logger.Info("sync already running, skipping", zap.String("user_id", j.userID))
		return nil
	case errors.Is(err, domain.ErrNotConnected):
		j.logger.Info("account disconnected, skipping", zap.String("user_id", j.userID))
		return nil
	case err != nil:
		return fmt.Errorf("transaction sync failed: %w", err)
	}

	j.logger.Info("scheduled sync completed",
		zap.String("user_id", j.userID),
		zap.Int("added", summary.Added),
		zap.Int("modified", summary.Modified),
		zap.Int("removed", summary.Removed),
		zap.Int("pages", summary.Pages),
	)
	return nil
}

// UserID returns the user ID associated with this job
func (j *TransactionSyncJob) UserID() string {
	return j.userID
}

// Description returns a human-readable description of the job
func (j *TransactionSyncJob) Description() string {
	return "transaction sync"
}

// SyncJobProvider returns a JobProvider with one TransactionSyncJob per
// linked user.
func SyncJobProvider(users UserLister, syncer Syncer, logger *zap.Logger) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		userIDs, err := users.ListUserIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list linked users: %w", err)
		}

		jobs := make([]Job, 0, len(userIDs))
		for _, userID := range userIDs {
			jobs = append(jobs, NewTransactionSyncJob(userID, syncer, logger))
		}
		return jobs, nil
	}
}
