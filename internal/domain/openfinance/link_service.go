package openfinance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/plaid"
)

// ErrMissingPublicToken is returned when the connect call carries no token.
var ErrMissingPublicToken = errors.New("public_token is required")

// ConnectResult describes a freshly linked account. SyncError is set when
// the initial sync failed; the connection itself is kept in that case.
type ConnectResult struct {
	ItemID          string
	InstitutionName string
	Sync            *SyncSummary
	SyncError       error
}

// LinkService exposes the user-facing Plaid operations on top of the store
// and the sync orchestrator.
type LinkService struct {
	client   plaid.ClientInterface
	accounts linkedaccount.Repository
	txns     transaction.Repository
	syncer   *TransactionSyncService
	logger   *zap.Logger
}

// NewLinkService creates a new link service
func NewLinkService(
	client plaid.ClientInterface,
	accounts linkedaccount.Repository,
	txns transaction.Repository,
	syncer *TransactionSyncService,
	logger *zap.Logger,
) *LinkService {
	return &LinkService{
		client:   client,
		accounts: accounts,
		txns:     txns,
		syncer:   syncer,
		logger:   logger,
	}
}

// CreateLinkToken starts a Link session for userID.
func (s *LinkService) CreateLinkToken(ctx context.Context, userID string) (*plaid.LinkTokenResponse, error) {
	resp, err := s.client.CreateLinkToken(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to create link token: %w", err)
	}
	return resp, nil
}

// ExchangeToken trades the Link public token for an access token, stores the
// connection and runs the first sync.
func (s *LinkService) ExchangeToken(ctx context.Context, userID, publicToken string) (*ConnectResult, error) {
	publicToken = strings.TrimSpace(publicToken)
	if publicToken == "" {
		return nil, ErrMissingPublicToken
	}
	log := s.logger.With(zap.String("user_id", userID))

	exchanged, err := s.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange public token: %w", err)
	}

	institution, err := lookupInstitutionName(ctx, s.client, exchanged.AccessToken)
	if err != nil {
		log.Warn("failed to resolve institution name", zap.Error(err))
	}

	acct, err := s.accounts.Save(ctx, linkedaccount.SaveParams{
		UserID:          userID,
		AccessToken:     exchanged.AccessToken,
		ItemID:          exchanged.ItemID,
		InstitutionName: institution,
	})
	if err != nil {
		s.revokeOrphan(ctx, log, exchanged.AccessToken)
		return nil, domain.Persistence("save linked account", err)
	}
	log.Info("linked account saved",
		zap.String("item_id", acct.ItemID),
		zap.String("institution", acct.Institution()),
	)

	result := &ConnectResult{
		ItemID:          acct.ItemID,
		InstitutionName: acct.Institution(),
	}
	result.Sync, result.SyncError = s.syncer.Sync(ctx, userID)
	if result.SyncError != nil {
		log.Warn("initial sync failed", zap.Error(result.SyncError))
	}
	return result, nil
}

// revokeOrphan removes an Item whose access token could not be stored, so
// the user is not left with a live Plaid Item nothing refers to.
func (s *LinkService) revokeOrphan(ctx context.Context, log *zap.Logger, accessToken string) {
	if err := s.client.RemoveItem(context.WithoutCancel(ctx), accessToken); err != nil {
		log.Error("failed to remove unsaved plaid item", zap.Error(err))
		return
	}
	log.Info("removed unsaved plaid item")
}

// Sync runs the orchestrator for userID.
func (s *LinkService) Sync(ctx context.Context, userID string) (*SyncSummary, error) {
	return s.syncer.Sync(ctx, userID)
}

// GetLinkedAccount returns the user's connection or domain.ErrNotConnected.
func (s *LinkService) GetLinkedAccount(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error) {
	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("load linked account", err)
	}
	if acct == nil {
		return nil, domain.ErrNotConnected
	}
	return acct, nil
}

// GetStoredTransactions lists what has been merged so far, newest first. A
// user without a connection simply has none.
func (s *LinkService) GetStoredTransactions(ctx context.Context, userID string) ([]*transaction.Transaction, error) {
	txns, err := s.txns.ListByUserID(ctx, userID)
	if err != nil {
		return nil, domain.Persistence("list transactions", err)
	}
	if txns == nil {
		txns = []*transaction.Transaction{}
	}
	return txns, nil
}

// GetMetrics computes the dashboard figures over stored transactions. An
// empty month covers everything.
func (s *LinkService) GetMetrics(ctx context.Context, userID, month string) (*transaction.Metrics, error) {
	month, err := transaction.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	txns, err := s.GetStoredTransactions(ctx, userID)
	if err != nil {
		return nil, err
	}
	metrics := transaction.ComputeMetrics(txns, month)
	return &metrics, nil
}

// Disconnect revokes the item at Plaid when possible and then removes the
// account and all its transactions in one write. Disconnecting a user with
// no connection is a no-op.
func (s *LinkService) Disconnect(ctx context.Context, userID string) error {
	log := s.logger.With(zap.String("user_id", userID))

	acct, err := s.accounts.Get(ctx, userID)
	if err != nil {
		return domain.Persistence("load linked account", err)
	}
	if acct == nil {
		return nil
	}

	if err := s.client.RemoveItem(ctx, acct.AccessToken); err != nil {
		log.Warn("failed to revoke plaid item", zap.String("item_id", acct.ItemID), zap.Error(err))
	}

	if err := s.accounts.Delete(ctx, userID); err != nil {
		return domain.Persistence("delete linked account", err)
	}
	log.Info("linked account removed", zap.String("item_id", acct.ItemID))
	return nil
}
