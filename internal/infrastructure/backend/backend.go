// Package backend opens the storage backend selected by STORE_BACKEND.
package backend

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"juggle/internal/domain/linkedaccount"
	"juggle/internal/domain/transaction"
	"juggle/internal/infrastructure/crypto"
	"juggle/internal/infrastructure/firebase"
	"juggle/internal/infrastructure/firestore"
	"juggle/internal/infrastructure/memory"
	"juggle/internal/infrastructure/postgres"
	"juggle/internal/shared/config"
)

// Stores holds the repositories the sync pipeline runs against.
type Stores struct {
	Accounts     linkedaccount.Repository
	Locker       linkedaccount.Locker
	Transactions transaction.Repository

	// Firebase is set whenever a Firebase project is configured, so the
	// identity verifier can share the app with the Firestore backend.
	Firebase *firebase.App

	closers []func() error
}

// Close releases database clients.
func (s *Stores) Close() error {
	var firstErr error
	for _, c := range s.closers {
		if err := c(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Stores, error) {
	stores := &Stores{}

	if cfg.Firebase.ProjectID != "" {
		app, err := firebase.NewApp(ctx, firebase.Config{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsFile: cfg.Firebase.CredentialsFile,
		})
		if err != nil {
			return nil, err
		}
		stores.Firebase = app
	}

	switch cfg.Store.Backend {
	case config.BackendFirestore:
		if stores.Firebase == nil {
			return nil, fmt.Errorf("firestore backend requires a firebase project")
		}
		encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
		if err != nil {
			return nil, err
		}
		client, err := stores.Firebase.Firestore(ctx)
		if err != nil {
			return nil, err
		}
		db := firestore.New(client)
		stores.Accounts = firestore.NewLinkedAccountRepository(db, encryptor)
		stores.Locker = firestore.NewSyncLockRepository(db)
		stores.Transactions = firestore.NewTransactionRepository(db)
		stores.closers = append(stores.closers, client.Close)
		logger.Info("using firestore backend", zap.String("project_id", cfg.Firebase.ProjectID))

	case config.BackendPostgres:
		encryptor, err := crypto.NewEncryptor(cfg.Encryption.Key)
		if err != nil {
			return nil, err
		}
		db, err := postgres.New(cfg.Database.ConnectionString())
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		stores.Accounts = postgres.NewLinkedAccountRepository(db, encryptor)
		stores.Locker = postgres.NewSyncLockRepository(db)
		stores.Transactions = postgres.NewTransactionRepository(db)
		stores.closers = append(stores.closers, db.Close)
		logger.Info("using postgres backend",
			zap.String("host", cfg.Database.Host),
			zap.String("database", cfg.Database.DBName),
		)

	case config.BackendMemory:
		store := memory.NewStore()
		stores.Accounts = store
		stores.Locker = store
		stores.Transactions = store
		logger.Warn("using in-memory backend, data is lost on restart")

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	return stores, nil
}
