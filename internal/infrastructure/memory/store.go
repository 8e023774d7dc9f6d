// Package memory is an in-process connection store for local development
// and tests. Every method holds one mutex, so each call is atomic.
package memory

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"juggle/internal/domain"
	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/transaction"
)

type syncLock struct {
	owner     string
	expiresAt time.Time
}

// Store implements the linked account, lock and transaction repositories.
type Store struct {
	mu        sync.Mutex
	accounts  map[string]*linkedaccount.LinkedAccount
	txns      map[string]map[string]*transaction.Transaction
	locks     map[string]syncLock
	connected map[string]bool
	now       func() time.Time
}

var (
	_ linkedaccount.Repository = (*Store)(nil)
	_ linkedaccount.Locker     = (*Store)(nil)
	_ transaction.Repository   = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:  make(map[string]*linkedaccount.LinkedAccount),
		txns:      make(map[string]map[string]*transaction.Transaction),
		locks:     make(map[string]syncLock),
		connected: make(map[string]bool),
		now:       time.Now,
	}
}

// SetClock replaces the time source used for timestamps and lock expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) Get(ctx context.Context, userID string) (*linkedaccount.LinkedAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return nil, nil
	}
	return cloneAccount(acct), nil
}

func (s *Store) Save(ctx context.Context, params linkedaccount.SaveParams) (*linkedaccount.LinkedAccount, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	acct := &linkedaccount.LinkedAccount{
		UserID:          params.UserID,
		AccessToken:     params.AccessToken,
		ItemID:          params.ItemID,
		InstitutionName: cloneString(params.InstitutionName),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s.accounts[params.UserID] = acct
	delete(s.txns, params.UserID)
	s.connected[params.UserID] = true
	return cloneAccount(acct), nil
}

func (s *Store) UpdateCursor(ctx context.Context, userID, cursor string) error {
	return s.update(userID, func(a *linkedaccount.LinkedAccount) {
		a.Cursor = &cursor
	})
}

func (s *Store) UpdateInstitutionName(ctx context.Context, userID, name string) error {
	return s.update(userID, func(a *linkedaccount.LinkedAccount) {
		a.InstitutionName = &name
	})
}

func (s *Store) MarkSynced(ctx context.Context, userID string, at time.Time) error {
	at = at.UTC()
	return s.update(userID, func(a *linkedaccount.LinkedAccount) {
		a.LastSyncedAt = &at
	})
}

func (s *Store) update(userID string, fn func(*linkedaccount.LinkedAccount)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return domain.ErrNotConnected
	}
	fn(acct)
	acct.UpdatedAt = s.now().UTC()
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accounts, userID)
	delete(s.txns, userID)
	delete(s.connected, userID)
	return nil
}

func (s *Store) ListUserIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

// IsConnected reports the profile flag set on connect and cleared on disconnect.
func (s *Store) IsConnected(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected[userID]
}

func (s *Store) AcquireSyncLock(ctx context.Context, userID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if held, ok := s.locks[userID]; ok && held.owner != owner && now.Before(held.expiresAt) {
		return domain.ErrSyncInProgress
	}
	s.locks[userID] = syncLock{owner: owner, expiresAt: now.Add(ttl)}
	return nil
}

func (s *Store) ReleaseSyncLock(ctx context.Context, userID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if held, ok := s.locks[userID]; ok && held.owner == owner {
		delete(s.locks, userID)
	}
	return nil
}

func (s *Store) ForceReleaseSyncLock(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.locks, userID)
	return nil
}

func (s *Store) ApplyBatch(ctx context.Context, userID string, batch *transaction.Batch) error {
	if batch == nil {
		return errors.New("nil batch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[userID]
	if !ok {
		return domain.ErrNotConnected
	}
	if batch.Cursor != nil && !sameCursor(acct.Cursor, batch.Cursor.From) {
		return domain.ErrCursorConflict
	}

	byID, ok := s.txns[userID]
	if !ok {
		byID = make(map[string]*transaction.Transaction)
		s.txns[userID] = byID
	}
	for _, t := range batch.Upserts {
		byID[t.TransactionID] = cloneTransaction(t)
	}
	for _, id := range batch.Deletes {
		delete(byID, id)
	}
	if batch.Cursor != nil {
		next := batch.Cursor.To
		acct.Cursor = &next
		acct.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *Store) ListByUserID(ctx context.Context, userID string) ([]*transaction.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*transaction.Transaction, 0, len(s.txns[userID]))
	for _, t := range s.txns[userID] {
		out = append(out, cloneTransaction(t))
	}
	slices.SortFunc(out, func(a, b *transaction.Transaction) int {
		if c := cmp.Compare(b.Date, a.Date); c != 0 {
			return c
		}
		return cmp.Compare(a.TransactionID, b.TransactionID)
	})
	return out, nil
}

func sameCursor(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneAccount(a *linkedaccount.LinkedAccount) *linkedaccount.LinkedAccount {
	c := *a
	c.Cursor = cloneString(a.Cursor)
	c.InstitutionName = cloneString(a.InstitutionName)
	if a.LastSyncedAt != nil {
		at := *a.LastSyncedAt
		c.LastSyncedAt = &at
	}
	return &c
}

func cloneTransaction(t *transaction.Transaction) *transaction.Transaction {
	c := *t
	c.IsoCurrencyCode = cloneString(t.IsoCurrencyCode)
	c.Category = slices.Clone(t.Category)
	return &c
}
