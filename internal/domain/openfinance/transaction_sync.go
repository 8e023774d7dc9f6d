package openfinance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/plaid"
)

const (
	DefaultPageSize    = 500
	DefaultLockTTL     = 5 * time.Minute
	DefaultSyncTimeout = 2 * time.Minute
	releaseTimeout     = 5 * time.Second

	// maxPaginationRestarts bounds how often one sync starts its page loop
	// over after the provider reports a mutation during pagination.
	maxPaginationRestarts = 2
)

var (
	syncTracer      = otel.Tracer("juggle/openfinance")
	syncMeter       = otel.Meter("juggle/openfinance")
	syncTotal, _    = syncMeter.Int64Counter("sync.total", metric.WithDescription("Transaction syncs by outcome"))
	syncDuration, _ = syncMeter.Float64Histogram("sync.duration", metric.WithDescription("Transaction sync duration in seconds"), metric.WithUnit("s"))
	syncPages, _    = syncMeter.Int64Counter("sync.pages", metric.WithDescription("Provider pages merged"))
	syncMerged, _   = syncMeter.Int64Counter("sync.transactions", metric.WithDescription("Transactions merged by kind"))
)

// SyncOptions tunes the orchestrator. Zero values fall back to defaults.
type SyncOptions struct {
	PageSize int
	LockTTL  time.Duration
	Timeout  time.Duration
}

func (o SyncOptions) withDefaults() SyncOptions {
	if o.PageSize <= 0 {
		o.PageSize = DefaultPageSize
	}
	if o.LockTTL <= 0 {
		o.LockTTL = DefaultLockTTL
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultSyncTimeout
	}
	return o
}

// SyncSummary is the outcome of one successful sync.
type SyncSummary struct {
	Added       int    `json:"added"`
	Modified    int    `json:"modified"`
	Removed     int    `json:"removed"`
	FinalCursor string `json:"cursor"`
	Pages       int    `json:"pages"`
}

// TransactionSyncService pulls transaction deltas from Plaid and merges them
// into the user's store, one page per atomic commit. The cursor is stored
// once, after the last page, and only if no one else moved it meanwhile.
type TransactionSyncService struct {
	client       plaid.ClientInterface
	accounts     linkedaccount.Repository
	locker       linkedaccount.Locker
	reconciler   *Reconciler
	logger       *zap.Logger
	opts         SyncOptions
	onTransition TransitionFunc
	newOwner     func() string
	now          func() time.Time
}

// NewTransactionSyncService creates a new transaction sync service
func NewTransactionSyncService(
	client plaid.ClientInterface,
	accounts linkedaccount.Repository,
	locker linkedaccount.Locker,
	txns transaction.Repository,
	logger *zap.Logger,
	opts SyncOptions,
) *TransactionSyncService {
	return &TransactionSyncService{
		client:     client,
		accounts:   accounts,
		locker:     locker,
		reconciler: NewReconciler(txns, logger),
		logger:     logger,
		opts:       opts.withDefaults(),
		newOwner:   uuid.NewString,
		now:        time.Now,
	}
}

// SetTransitionHook registers fn to be called on every state change.
func (s *TransactionSyncService) SetTransitionHook(fn TransitionFunc) {
	s.onTransition = fn
}

// syncRun carries the in-memory state of one sync attempt. startCursor is
// the stored cursor read under the lock; cursor is the page loop position.
type syncRun struct {
	userID      string
	owner       string
	locked      bool
	state       SyncState
	account     *linkedaccount.LinkedAccount
	startCursor *string
	cursor      *string
	page        *plaid.SyncResponse
	counts      MergeCounts
	pages       int
	restarts    int
}

// Sync runs the state machine for userID until Done or Error. The run is
// detached from the caller's cancellation and bounded by the configured
// timeout, so a dropped request does not abandon a sync halfway.
func (s *TransactionSyncService) Sync(ctx context.Context, userID string) (*SyncSummary, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	ctx, span := syncTracer.Start(ctx, "openfinance.sync",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	start := s.now()
	run := &syncRun{userID: userID, owner: s.newOwner(), state: StateStart}
	defer s.release(ctx, run)

	summary, err := s.run(ctx, run)

	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	syncTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	syncDuration.Record(ctx, s.now().Sub(start).Seconds())

	if err != nil {
		s.logger.Warn("transaction sync failed",
			zap.String("user_id", userID),
			zap.Int("pages_merged", run.pages),
			zap.Int("restarts", run.restarts),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("sync.pages", summary.Pages),
		attribute.Int("sync.added", summary.Added),
		attribute.Int("sync.modified", summary.Modified),
		attribute.Int("sync.removed", summary.Removed),
	)
	s.logger.Info("transaction sync completed",
		zap.String("user_id", userID),
		zap.Int("pages", summary.Pages),
		zap.Int("added", summary.Added),
		zap.Int("modified", summary.Modified),
		zap.Int("removed", summary.Removed),
	)
	return summary, nil
}

func (s *TransactionSyncService) run(ctx context.Context, run *syncRun) (*SyncSummary, error) {
	for {
		var (
			next SyncState
			err  error
		)

		switch run.state {
		case StateStart:
			next, err = s.start(ctx, run)
		case StateFetchingPage:
			next, err = s.fetchPage(ctx, run)
		case StateMerging:
			next, err = s.mergePage(ctx, run)
		case StatePersistCursor:
			next, err = s.persistCursor(ctx, run)
		case StateDone:
			return &SyncSummary{
				Added:       run.counts.Added,
				Modified:    run.counts.Modified,
				Removed:     run.counts.Removed,
				FinalCursor: deref(run.cursor),
				Pages:       run.pages,
			}, nil
		default:
			return nil, fmt.Errorf("sync reached unexpected state %s", run.state)
		}

		if err != nil {
			run.counts = MergeCounts{}
			s.transition(run, StateError)
			return nil, err
		}
		s.transition(run, next)
	}
}

// start takes the lock before reading the account, so the cursor the loop
// begins from is the one left by whichever sync released the lock last.
func (s *TransactionSyncService) start(ctx context.Context, run *syncRun) (SyncState, error) {
	if err := s.locker.AcquireSyncLock(ctx, run.userID, run.owner, s.opts.LockTTL); err != nil {
		return StateError, domain.Persistence("acquire sync lock", err)
	}
	run.locked = true

	acct, err := s.accounts.Get(ctx, run.userID)
	if err != nil {
		return StateError, domain.Persistence("load linked account", err)
	}
	if acct == nil {
		return StateError, domain.ErrNotConnected
	}

	run.account = acct
	run.startCursor = acct.Cursor
	run.cursor = acct.Cursor
	return StateFetchingPage, nil
}

func (s *TransactionSyncService) fetchPage(ctx context.Context, run *syncRun) (SyncState, error) {
	resp, err := s.client.SyncTransactions(ctx, run.account.AccessToken, run.cursor, s.opts.PageSize)
	if plaid.HasErrorCode(err, plaid.ErrorCodeMutationDuringSync) && run.restarts < maxPaginationRestarts {
		run.restarts++
		s.logger.Info("transactions changed during pagination, restarting from start cursor",
			zap.String("user_id", run.userID),
			zap.Int("pages_merged", run.pages),
			zap.Int("restart", run.restarts),
		)
		run.cursor = run.startCursor
		run.counts = MergeCounts{}
		run.pages = 0
		return StateFetchingPage, nil
	}
	if err != nil {
		return StateError, fmt.Errorf("failed to fetch page %d: %w", run.pages+1, err)
	}
	if resp.NextCursor == "" {
		return StateError, &plaid.ProviderSyncError{
			Endpoint:  "/transactions/sync",
			Message:   "response carried no next_cursor",
			RequestID: resp.RequestID,
		}
	}
	run.page = resp
	return StateMerging, nil
}

func (s *TransactionSyncService) mergePage(ctx context.Context, run *syncRun) (SyncState, error) {
	page := run.page
	counts, err := s.reconciler.Merge(ctx, run.userID, Page{
		Added:    page.Added,
		Modified: page.Modified,
		Removed:  page.Removed,
	})
	if err != nil {
		return StateError, fmt.Errorf("failed to merge page %d: %w", run.pages+1, err)
	}

	next := page.NextCursor
	run.cursor = &next
	run.counts.add(counts)
	run.pages++
	run.page = nil

	syncPages.Add(ctx, 1)
	syncMerged.Add(ctx, int64(counts.Added), metric.WithAttributes(attribute.String("kind", "added")))
	syncMerged.Add(ctx, int64(counts.Modified), metric.WithAttributes(attribute.String("kind", "modified")))
	syncMerged.Add(ctx, int64(counts.Removed), metric.WithAttributes(attribute.String("kind", "removed")))

	if page.HasMore {
		return StateFetchingPage, nil
	}
	return StatePersistCursor, nil
}

// persistCursor stores the terminal cursor, conditional on the stored one
// still being the cursor this run started from.
func (s *TransactionSyncService) persistCursor(ctx context.Context, run *syncRun) (SyncState, error) {
	if err := s.reconciler.CommitCursor(ctx, run.userID, run.startCursor, deref(run.cursor)); err != nil {
		return StateError, fmt.Errorf("failed to persist cursor: %w", err)
	}
	s.finalize(ctx, run)
	return StateDone, nil
}

// finalize does the bookkeeping after the cursor is durable. Nothing here
// can fail the sync.
func (s *TransactionSyncService) finalize(ctx context.Context, run *syncRun) {
	log := s.logger.With(zap.String("user_id", run.userID))

	if err := s.accounts.MarkSynced(ctx, run.userID, s.now()); err != nil {
		log.Warn("failed to record sync time", zap.Error(err))
	}

	if run.account.InstitutionName == nil {
		name, err := lookupInstitutionName(ctx, s.client, run.account.AccessToken)
		switch {
		case err != nil:
			log.Warn("failed to resolve institution name", zap.Error(err))
		case name != nil:
			if err := s.accounts.UpdateInstitutionName(ctx, run.userID, *name); err != nil {
				log.Warn("failed to store institution name", zap.Error(err))
			}
		}
	}
}

func (s *TransactionSyncService) transition(run *syncRun, to SyncState) {
	from := run.state
	run.state = to
	s.logger.Debug("sync state change",
		zap.String("user_id", run.userID),
		zap.Stringer("from", from),
		zap.Stringer("to", to),
	)
	if s.onTransition != nil {
		s.onTransition(run.userID, from, to)
	}
}

// release drops the lock with its own deadline, so an exhausted sync
// timeout does not leave the lease behind until it expires.
func (s *TransactionSyncService) release(ctx context.Context, run *syncRun) {
	if !run.locked {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := s.locker.ReleaseSyncLock(ctx, run.userID, run.owner); err != nil {
		s.logger.Warn("failed to release sync lock",
			zap.String("user_id", run.userID),
			zap.Error(err),
		)
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
