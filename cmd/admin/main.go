package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"juggle/internal/domain/openfinance"
	"juggle/internal/infrastructure/backend"
	"juggle/internal/infrastructure/plaid"
	"juggle/internal/interfaces/scheduler"
	"juggle/internal/shared/config"
	"juggle/internal/shared/logging"
)

const usage = `Juggle Admin CLI - Maintenance commands for linked bank accounts

Usage:
  admin <command> [options]

Commands:
  sync           Pull pending Plaid transactions for one or more users
  disconnect     Revoke a user's Plaid item and delete the linked account
  release-lock   Drop a stuck per-user sync lock

Examples:
  # Sync a single user
  admin sync --user-id=abc123

  # Sync every linked user with 8 concurrent workers
  admin sync --all --workers=8 --timeout=30m

  # Disconnect a user
  admin disconnect --user-id=abc123

  # Release a lock left behind by a crashed sync
  admin release-lock --user-id=abc123
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	command := os.Args[1]

	var err error
	switch command {
	case "sync":
		err = runSync(os.Args[2:])
	case "disconnect":
		err = runDisconnect(os.Args[2:])
	case "release-lock":
		err = runReleaseLock(os.Args[2:])
	case "help", "-h", "--help":
		fmt.Print(usage + "\n")
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		fmt.Print(usage + "\n")
		os.Exit(1)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

// env holds the components every command needs.
type env struct {
	cfg    *config.Config
	logger *zap.Logger
	stores *backend.Stores
	link   *openfinance.LinkService
	syncer *openfinance.TransactionSyncService
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Server.Environment)
	if err != nil {
		return nil, err
	}
	stores, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	client, err := plaid.NewClient(plaid.Config{
		ClientID:     cfg.Plaid.ClientID,
		Secret:       cfg.Plaid.Secret,
		Environment:  cfg.Plaid.Environment,
		ClientName:   cfg.Plaid.ClientName,
		WebhookURL:   cfg.Plaid.WebhookURL,
		CountryCodes: cfg.Plaid.CountryCodes,
	})
	if err != nil {
		_ = stores.Close()
		return nil, err
	}

	syncer := openfinance.NewTransactionSyncService(client, stores.Accounts, stores.Locker, stores.Transactions, logger, openfinance.SyncOptions{
		PageSize: cfg.Sync.PageSize,
		LockTTL:  cfg.Sync.LockTTL,
		Timeout:  cfg.Sync.Timeout,
	})

	return &env{
		cfg:    cfg,
		logger: logger,
		stores: stores,
		syncer: syncer,
		link:   openfinance.NewLinkService(client, stores.Accounts, stores.Transactions, syncer, logger),
	}, nil
}

func (e *env) close() {
	_ = e.stores.Close()
	_ = e.logger.Sync()
}

func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	userIDStr := fs.String("user-id", "", "User ID(s) to sync (comma-separated for multiple)")
	allUsers := fs.Bool("all", false, "Sync every user with a linked account")
	workers := fs.Int("workers", 4, "Number of concurrent workers")
	timeout := fs.Duration("timeout", 30*time.Minute, "Timeout for the whole run (e.g., 5m, 1h)")

	fs.Usage = func() {
		fmt.Println("Usage: admin sync [options]")
		fmt.Println("\nOptions:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userIDStr == "" && !*allUsers {
		fs.Usage()
		return fmt.Errorf("must specify --user-id or --all")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	userIDs := splitIDs(*userIDStr)
	if *allUsers {
		userIDs, err = e.stores.Accounts.ListUserIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list linked users: %w", err)
		}
	}
	if len(userIDs) == 0 {
		e.logger.Info("no users to sync")
		return nil
	}

	jobs := make([]scheduler.Job, 0, len(userIDs))
	for _, userID := range userIDs {
		jobs = append(jobs, scheduler.NewTransactionSyncJob(userID, e.syncer, e.logger))
	}

	pool := scheduler.NewWorkerPool(*workers, 0, len(jobs), e.logger)
	pool.Start()
	submitted := pool.SubmitBatch(jobs)

	deadline, _ := ctx.Deadline()
	pool.Shutdown(time.Until(deadline))

	e.logger.Info("sync run finished", zap.Int("users", submitted))
	return nil
}

func runDisconnect(args []string) error {
	fs := flag.NewFlagSet("disconnect", flag.ExitOnError)
	userID := fs.String("user-id", "", "User ID to disconnect")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		fs.PrintDefaults()
		return fmt.Errorf("--user-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.link.Disconnect(ctx, *userID); err != nil {
		return err
	}
	e.logger.Info("user disconnected", zap.String("user_id", *userID))
	return nil
}

func runReleaseLock(args []string) error {
	fs := flag.NewFlagSet("release-lock", flag.ExitOnError)
	userID := fs.String("user-id", "", "User ID whose sync lock to drop")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		fs.PrintDefaults()
		return fmt.Errorf("--user-id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	if err := e.stores.Locker.ForceReleaseSyncLock(ctx, *userID); err != nil {
		return err
	}
	e.logger.Info("sync lock released", zap.String("user_id", *userID))
	return nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
