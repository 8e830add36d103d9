package main

import (
	"context"

	"homepro/internal/account"
	"homepro/internal/billing"
	"homepro/internal/cachesync"
	"homepro/internal/category"
	"homepro/internal/config"
	"homepro/internal/db"
	"homepro/internal/email"
	"homepro/internal/fee"
	"homepro/internal/logger"
	"homepro/internal/mutation"
	"homepro/internal/payment"
	"homepro/internal/subscription"
	"homepro/internal/user"
	"homepro/internal/wallet"

	"github.com/cockroachdb/errors"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// app holds the collaborators shared by every command.
type app struct {
	cfg       *config.Config
	db        *sqlx.DB
	redis     *redis.Client
	accounts  *account.PostgresRepository
	users     *user.PostgresRepository
	wallets   *wallet.PostgresRepository
	emails    *email.Service
	mutations mutation.Service
	views     *cachesync.Coordinator
	scheduler *billing.Scheduler
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	logger.InitWithLevel(cfg.LogLevel)
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger.Info("Connecting to database...")
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	logger.Info("Database connected")

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not reachable, emails and profile cache will fail until it is", "addr", cfg.RedisAddr, "error", err)
	}

	a := &app{
		cfg:      cfg,
		db:       database,
		redis:    rdb,
		accounts: account.NewRepository(database),
		users:    user.NewRepository(database),
		wallets:  wallet.NewRepository(database),
	}

	a.emails = email.New(rdb, email.Config{
		From:     cfg.EmailFrom,
		FromName: cfg.EmailFromName,
		SMTPHost: cfg.SMTPHost,
		SMTPPort: cfg.SMTPPort,
		SMTPUser: cfg.SMTPUser,
		SMTPPass: cfg.SMTPPass,
	})

	fees := fee.NewCalculator(cfg.Pricing.BaseFee, cfg.Pricing.AdditionalCategoryFee)
	machine := subscription.NewMachine(cfg.Subscription.TrialDays, cfg.Subscription.PeriodDays, cfg.Subscription.RetryIntervals)

	a.mutations = mutation.NewService(
		a.accounts,
		category.NewStore(a.accounts, fees),
		fees,
		machine,
		a.gateway(),
		email.NewNotifier(a.emails, a.users),
		mutation.Config{
			ConflictRetryAttempts: cfg.ConflictRetryAttempts,
			ConflictRetryBackoff:  cfg.ConflictRetryBackoff,
			Currency:              cfg.Payment.Currency,
		},
	)

	a.views = cachesync.NewCoordinator(
		a.mutations,
		cachesync.NewRedisProfileCache(rdb, cfg.Cache.ProfileTTL),
		cfg.Cache.SessionTTL,
	)

	a.scheduler = billing.NewScheduler(a.accounts, a.mutations, billing.Config{
		Schedule:    cfg.Billing.Schedule,
		Concurrency: cfg.Billing.Concurrency,
		Publisher:   a.views,
	})
	return a, nil
}

func (a *app) gateway() payment.Gateway {
	var next payment.Gateway
	switch a.cfg.Payment.Provider {
	case "stripe":
		next = payment.NewStripeGateway(a.cfg.Payment.StripeSecretKey, a.cfg.Payment.Currency)
	default:
		next = payment.NewWalletGateway(a.wallets, a.cfg.Payment.Currency)
	}
	logger.Info("Payment gateway configured", "provider", a.cfg.Payment.Provider)

	return payment.NewBreaker(next, payment.BreakerConfig{
		Provider: a.cfg.Payment.Provider,
		Timeout:  a.cfg.Payment.Timeout,
	})
}

func (a *app) Close() {
	if err := a.redis.Close(); err != nil {
		logger.Warn("redis close failed", "error", err)
	}
	if err := a.db.Close(); err != nil {
		logger.Warn("database close failed", "error", err)
	}
}
