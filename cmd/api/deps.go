package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"juggle/internal/domain/openfinance"
	"juggle/internal/infrastructure/backend"
	"juggle/internal/infrastructure/firebase"
	"juggle/internal/infrastructure/plaid"
	httphandlers "juggle/internal/interfaces/http"
	"juggle/internal/interfaces/scheduler"
	"juggle/internal/shared/auth"
	"juggle/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	Stores *backend.Stores

	// Handlers
	PlaidHandler *httphandlers.PlaidHandler

	// Auth
	Verifier auth.CredentialVerifier

	// Services
	SyncService *openfinance.TransactionSyncService
	LinkService *openfinance.LinkService

	closers []func()
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{Stores: stores}

	verifier, closeVerifier, err := newVerifier(ctx, cfg, stores)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Verifier = verifier
	if closeVerifier != nil {
		deps.closers = append(deps.closers, closeVerifier)
	}

	plaidClient, err := plaid.NewClient(plaid.Config{
		ClientID:     cfg.Plaid.ClientID,
		Secret:       cfg.Plaid.Secret,
		Environment:  cfg.Plaid.Environment,
		ClientName:   cfg.Plaid.ClientName,
		WebhookURL:   cfg.Plaid.WebhookURL,
		CountryCodes: cfg.Plaid.CountryCodes,
	})
	if err != nil {
		deps.Close()
		return nil, err
	}

	deps.SyncService = openfinance.NewTransactionSyncService(
		plaidClient,
		stores.Accounts,
		stores.Locker,
		stores.Transactions,
		logger.Named("sync"),
		openfinance.SyncOptions{
			PageSize: cfg.Sync.PageSize,
			LockTTL:  cfg.Sync.LockTTL,
			Timeout:  cfg.Sync.Timeout,
		},
	)
	deps.LinkService = openfinance.NewLinkService(plaidClient, stores.Accounts, stores.Transactions, deps.SyncService, logger.Named("plaid"))
	deps.PlaidHandler = httphandlers.NewPlaidHandler(deps.LinkService, logger.Named("http"))

	return deps, nil
}

// newVerifier builds the ID-token verifier selected by IDENTITY_VERIFIER.
func newVerifier(ctx context.Context, cfg *config.Config, stores *backend.Stores) (auth.CredentialVerifier, func(), error) {
	switch cfg.Identity.Verifier {
	case config.VerifierFirebase:
		app := stores.Firebase
		if app == nil {
			var err error
			app, err = firebase.NewApp(ctx, firebase.Config{
				ProjectID:       cfg.Firebase.ProjectID,
				CredentialsFile: cfg.Firebase.CredentialsFile,
			})
			if err != nil {
				return nil, nil, err
			}
		}
		client, err := app.Auth(ctx)
		if err != nil {
			return nil, nil, err
		}
		return firebase.NewVerifier(client, cfg.Identity.CheckRevoked), nil, nil

	case config.VerifierJWKS:
		v, err := auth.NewJWKSVerifier(ctx, auth.GoogleSecureTokenJWKS, cfg.Firebase.ProjectID)
		if err != nil {
			return nil, nil, err
		}
		return v, v.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown identity verifier %q", cfg.Identity.Verifier)
	}
}

// NewScheduler wires the background sync scheduler to the orchestrator.
func (d *Dependencies) NewScheduler(cfg *config.Config, logger *zap.Logger) (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{
		ScheduleTimes: cfg.Scheduler.ScheduleTimes,
		WorkerCount:   cfg.Scheduler.WorkerCount,
		JobDelay:      cfg.Scheduler.JobDelay,
		QueueSize:     cfg.Scheduler.QueueSize,
		RunOnStartup:  cfg.Scheduler.RunOnStartup,
		JobProvider:   scheduler.SyncJobProvider(d.Stores.Accounts, d.SyncService, logger.Named("scheduler")),
	}, logger)
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	for _, c := range d.closers {
		c()
	}
	if d.Stores != nil {
		_ = d.Stores.Close()
	}
}
