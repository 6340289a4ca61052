package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/diagnosis/vms/internal/http/handlers"
	"github.com/diagnosis/vms/internal/repository"
	"github.com/diagnosis/vms/internal/server"
	"github.com/diagnosis/vms/internal/service"
	"github.com/diagnosis/vms/pkg/auth"
	"github.com/diagnosis/vms/pkg/config"
	"github.com/diagnosis/vms/pkg/database"
	"github.com/diagnosis/vms/pkg/events"
	"github.com/diagnosis/vms/pkg/lock"
	"github.com/diagnosis/vms/pkg/logger"
	mw "github.com/diagnosis/vms/pkg/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logger.Error("vms exited", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "vms",
		Short:         "Visitor management service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envFile, err)
			}
			logger.SetOutput(os.Stdout, os.Getenv("LOG_LEVEL"))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to preload (skipped if missing)")

	root.AddCommand(newServeCmd(), newMigrateCmd())
	return root
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dbCfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := database.Connect(ctx, dbCfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.Migrate(ctx, pool); err != nil {
				return err
			}
			logger.Info("Migrations applied")
			return nil
		},
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		return err
	}

	var (
		locker      lock.Locker = lock.NopLocker{}
		idempotency mw.IdempotencyStore
	)
	if cfg.Redis.URL != "" {
		client, err := database.ConnectRedis(ctx, cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer client.Close()

		locker = lock.NewRedisLocker(client, "vms:lock:visitor:", cfg.Passes.VisitorLockTTL)
		idempotency = repository.NewIdempotencyRepository(client)
		logger.Info("Redis enabled: distributed visitor lock and idempotency keys")
	}

	var eventBus events.Publisher = events.NopPublisher{}
	if cfg.NATS.URL != "" {
		nats, err := events.NewNATSPublisher(cfg.NATS.URL)
		if err != nil {
			return err
		}
		eventBus = nats
		logger.Info("NATS enabled: publishing domain events")
	}
	defer eventBus.Close()

	accountRepo := repository.NewAccountRepository(pool)
	passRepo := repository.NewPassRepository(pool)

	hasher := auth.NewPasswordHasher(cfg.Auth.PasswordHash, cfg.Auth.BcryptCost)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)

	accountSvc := service.NewAccountService(accountRepo, passRepo, hasher, tokens, eventBus)
	passSvc := service.NewPassService(passRepo, accountRepo, locker, eventBus)

	h := handlers.New(accountSvc, passSvc, tokens)
	router := server.NewRouter(h, server.RouterOptions{
		CORSOrigins: cfg.Server.CORSOrigins,
		Idempotency: idempotency,
		Ready:       pool.Ping,
	})

	return server.Run(ctx, server.New(cfg, router))
}
