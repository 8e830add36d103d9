package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"homepro/internal/billing"
	"homepro/internal/db"
	"homepro/internal/logger"
	"homepro/internal/mutation"
	"homepro/internal/server"
	"homepro/internal/user"
	"homepro/internal/wallet"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		migrateFirst bool
		withBilling  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrations, _ := cmd.Flags().GetString("migrations")
			return serve(migrations, migrateFirst, withBilling)
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", true, "apply pending migrations before serving")
	cmd.Flags().BoolVar(&withBilling, "billing", true, "run the billing scheduler in this process")
	return cmd
}

func serve(migrations string, migrateFirst, withBilling bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("Starting HomePro application")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrateFirst {
		if err := db.RunMigrations(a.db, migrations); err != nil {
			return err
		}
		logger.Info("Migrations completed")
	}

	go a.emails.Start(ctx)
	logger.Info("Email service initialized")

	if withBilling {
		if err := a.scheduler.Start(ctx); err != nil {
			return err
		}
	}

	srv := server.New(cfg, server.Handlers{
		Users:    user.NewHandler(user.NewService(a.users, a.mutations, a.emails, cfg.JWTSecret)),
		Accounts: mutation.NewHandler(a.mutations, a.views),
		Wallet:   wallet.NewHandler(a.wallets),
		Billing:  billing.NewHandler(a.scheduler),
	})

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Infof("Server starting on port %s", cfg.Port)
		if err := srv.Start(cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Infof("Received signal: %v", sig)
	case runErr = <-serverErrChan:
		logger.Errorf("Server error: %v", runErr)
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during server shutdown: %v", err)
	}
	if withBilling {
		a.scheduler.Stop(shutdownCtx)
	}
	cancel()

	logger.Info("Server stopped")
	return runErr
}
