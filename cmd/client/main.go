package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/iudanet/fieldsync/internal/client/api"
	"github.com/iudanet/fieldsync/internal/client/auth"
	"github.com/iudanet/fieldsync/internal/client/cli"
	"github.com/iudanet/fieldsync/internal/client/conflict"
	"github.com/iudanet/fieldsync/internal/client/guard"
	"github.com/iudanet/fieldsync/internal/client/iocli"
	"github.com/iudanet/fieldsync/internal/client/overlay"
	"github.com/iudanet/fieldsync/internal/client/queue"
	"github.com/iudanet/fieldsync/internal/client/state"
	"github.com/iudanet/fieldsync/internal/client/storage/boltdb"
	clientsync "github.com/iudanet/fieldsync/internal/client/sync"
)

var (
	// Version information set via ldflags during build
	Version   = "dev"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Глобальные флаги
	showVersion := flag.Bool("version", false, "Show version information")
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	dbPath := flag.String("db", "fieldsync-client.db", "Path to local database")
	verbose := flag.Bool("v", false, "Verbose logging")

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	stdio := iocli.NewStdio()

	args := flag.Args()
	if len(args) == 0 {
		cli.PrintUsage(stdio)
		os.Exit(1)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx := context.Background()

	if err := run(ctx, logger, stdio, *serverURL, *dbPath, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	logger *slog.Logger,
	stdio iocli.IO,
	serverURL, dbPath, command string,
	args []string,
) error {
	store, err := boltdb.New(ctx, dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logger.Error("failed to close database", "error", closeErr)
		}
	}()

	apiClient := api.NewClient(serverURL)
	authService := auth.New(apiClient, store, logger)

	// Просроченный токен обновляется здесь; при недоступном сервере
	// остаемся на сохраненной сессии и работаем offline
	userID := ""
	session, err := authService.CurrentSession(ctx)
	switch {
	case err == nil:
		apiClient.SetToken(session.AccessToken)
		userID = session.UserID
	case errors.Is(err, auth.ErrNotAuthenticated):
		// Локальные команды доступны и без сессии
	default:
		return err
	}

	guards := guard.NewService(guard.DefaultConfig(), store, guard.NoopBroadcaster{}, logger)
	detector := conflict.NewDetector(conflict.DefaultConfig(), guards, logger)
	overlays := overlay.NewService(overlay.DefaultConfig(), logger)
	defer overlays.DisposeAll()
	retryQueue := queue.New(queue.DefaultConfig(), store, logger)

	states := state.NewController(store, logger)
	if err := states.Load(ctx, userID); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	engine := clientsync.NewEngine(apiClient, states, overlays, retryQueue, guards, detector, store, logger)
	if err := engine.Init(ctx); err != nil {
		return fmt.Errorf("failed to init sync engine: %w", err)
	}

	return cli.New(stdio, authService, engine).Run(ctx, command, args)
}

func printVersion() {
	fmt.Printf("FieldSync Client\n")
	fmt.Printf("Version:    %s\n", Version)
	fmt.Printf("Build Date: %s\n", BuildDate)
	fmt.Printf("Git Commit: %s\n", GitCommit)
}
