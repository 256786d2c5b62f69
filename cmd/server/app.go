package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"github.com/readerline/backend/internal/audit"
	"github.com/readerline/backend/internal/config"
	"github.com/readerline/backend/internal/database"
	"github.com/readerline/backend/internal/logger"
	"github.com/readerline/backend/internal/services"
	"github.com/readerline/backend/internal/store"
)

const connectTimeout = 10 * time.Second

// app is the fully wired service graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	db       *sql.DB
	redis    *redis.Client
	store    store.Store
	hub      *services.EventHub
	manager  *services.SessionManager
	gifts    *services.GiftService
	wallets  *services.WalletService
	worker   *services.SettlementWorker
	migrator interface{ Migrate(context.Context) error }
	owner    ownerLocker
}

type ownerLocker interface {
	AcquireOwnerLock(context.Context) (func() error, error)
}

func loadConfig() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, logger.New(), err
	}
	log := logger.NewWithConfig(logger.Config{
		Level:      cfg.Log.Level,
		TimeFormat: time.RFC3339,
		Pretty:     cfg.Log.Pretty,
	})
	return cfg, log, nil
}

func openStore(ctx context.Context, a *app) error {
	if a.cfg.Database.Driver == "memory" {
		a.log.Warn().Msg("Using in-memory store, balances are lost on restart")
		a.store = store.NewMemory()
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	db, err := database.OpenPostgres(cctx, a.cfg.Database, a.log)
	if err != nil {
		return err
	}
	pg := store.NewPostgres(db)
	a.db = db
	a.store = pg
	a.migrator = pg
	a.owner = pg
	return nil
}

func newApp(ctx context.Context) (*app, error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	if err := openStore(ctx, a); err != nil {
		return nil, err
	}

	rctx, cancel := context.WithTimeout(ctx, connectTimeout)
	a.redis = database.OpenRedis(rctx, cfg.Redis, log)
	cancel()

	split, err := services.NewRevenueSplit(cfg.Billing.PlatformTakeBps)
	if err != nil {
		a.close()
		return nil, err
	}
	guard := services.NewBalanceGuard(a.store)
	auditLog := audit.NewLogger(log)
	a.hub = services.NewEventHub(log)

	notifiers := services.MultiNotifier{a.hub}
	if a.redis != nil {
		notifiers = append(notifiers, services.NewRedisNotifier(a.redis))
	}

	var provider services.PaymentProvider
	if cfg.Payments.BaseURL != "" {
		provider = services.NewHTTPPaymentProvider(cfg.Payments.BaseURL, cfg.Payments.APIKey, cfg.Payments.Timeout)
	} else {
		log.Warn().Msg("PAYMENTS_BASE_URL not set, wallet top-ups are disabled")
	}

	limiter := services.NewRateLimiter(a.redis, "gifts", cfg.Gifts.RateLimit, cfg.Gifts.RateWindow)

	a.manager = services.NewSessionManager(a.store, guard, split, services.NewRegistry(), notifiers, auditLog, log, cfg.Billing)
	a.gifts = services.NewGiftService(a.store, guard, limiter, notifiers, auditLog, log)
	a.wallets = services.NewWalletService(a.store, guard, provider, auditLog, log, cfg.Billing.Currency)
	a.worker = services.NewSettlementWorker(a.store, guard, split, a.manager, a.gifts, notifiers, auditLog, log, cfg.Worker)
	return a, nil
}

func (a *app) migrate(ctx context.Context) error {
	if a.migrator == nil {
		return nil
	}
	if err := a.migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	a.log.Info().Msg("Database schema is up to date")
	return nil
}

// claimSessions makes this process the only one that may run billing clocks
// or finalize sessions. The memory store is private to the process.
func (a *app) claimSessions(ctx context.Context, command string) (func(), error) {
	if a.owner == nil {
		return func() {}, nil
	}
	release, err := a.owner.AcquireOwnerLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s refused, is another serve or sweep running? %w", command, err)
	}
	return func() {
		if err := release(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to release session owner lock")
		}
	}, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close Redis client")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
