package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/quantive/signalbridge/internal/blob/s3"
	"github.com/quantive/signalbridge/internal/broker"
	"github.com/quantive/signalbridge/internal/broker/kalshi"
	"github.com/quantive/signalbridge/internal/broker/paper"
	"github.com/quantive/signalbridge/internal/broker/tradovate"
	"github.com/quantive/signalbridge/internal/cache/redis"
	"github.com/quantive/signalbridge/internal/config"
	"github.com/quantive/signalbridge/internal/crypto"
	"github.com/quantive/signalbridge/internal/domain"
	"github.com/quantive/signalbridge/internal/guard"
	"github.com/quantive/signalbridge/internal/ledger"
	"github.com/quantive/signalbridge/internal/lifecycle"
	"github.com/quantive/signalbridge/internal/notify"
	"github.com/quantive/signalbridge/internal/orchestrator"
	"github.com/quantive/signalbridge/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	ActivationStore domain.ActivationStore
	TradeStore      domain.TradeStore
	VersionStore    domain.StrategyVersionStore
	AuditStore      domain.AuditStore

	// Caches
	PositionCache domain.PositionCache
	RateLimiter   domain.RateLimiter
	LockManager   domain.LockManager
	Idempotency   domain.IdempotencyCache
	SignalBus     domain.SignalBus

	// Brokers
	Registry  *broker.Registry
	Directory *broker.Directory

	// Services
	Guard        *guard.Guard
	Ledger       *ledger.Ledger
	Tracker      *lifecycle.Tracker
	Orchestrator *orchestrator.Orchestrator

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader domain.BlobReader
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
	Watcher  *notify.Watcher
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	tradeStore := postgres.NewTradeStore(pool)
	deps.ActivationStore = postgres.NewActivationStore(pool)
	deps.TradeStore = tradeStore
	deps.VersionStore = postgres.NewStrategyVersionStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PositionCache = redis.NewPositionCache(redisClient, cfg.Ledger.Freshness.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Idempotency = redis.NewIdempotencyCache(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Brokers ---
	registry, err := buildRegistry(cfg)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Registry = registry

	accounts := make([]domain.Account, 0, len(cfg.Accounts))
	for _, a := range cfg.Accounts {
		accounts = append(accounts, domain.Account{
			ID:       a.ID,
			BrokerID: a.Broker,
			Active:   a.Active,
		})
	}
	deps.Directory = broker.NewDirectory(registry, accounts)

	// --- Core services ---
	deps.Guard = guard.New(deps.RateLimiter, deps.Idempotency, guard.Config{
		RateLimit:      cfg.Guard.RateLimit,
		RateWindow:     cfg.Guard.RateWindow.Duration,
		IdempotencyTTL: cfg.Guard.IdempotencyTTL.Duration,
	}, logger)

	deps.Ledger = ledger.New(deps.ActivationStore, deps.PositionCache, deps.LockManager, deps.Directory, ledger.Config{
		Freshness:  cfg.Ledger.Freshness.Duration,
		LockTTL:    cfg.Ledger.LockTTL.Duration,
		CASRetries: cfg.Ledger.CASRetries,
	}, logger)

	deps.Tracker = lifecycle.New(deps.TradeStore, deps.ActivationStore, deps.VersionStore, deps.SignalBus, logger)

	deps.Orchestrator = orchestrator.New(
		deps.Guard,
		deps.Ledger,
		deps.Tracker,
		deps.ActivationStore,
		deps.Directory,
		deps.AuditStore,
		deps.SignalBus,
		logger,
	)

	// --- S3 blob storage (only when trade archival is enabled) ---
	if cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		writer := s3blob.NewWriter(s3Client)
		reader := s3blob.NewReader(s3Client)
		deps.BlobWriter = writer
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewArchiver(writer, reader, tradeStore, deps.AuditStore, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Watcher = notify.NewWatcher(deps.SignalBus, deps.Notifier, logger)

	return deps, cleanup, nil
}

// buildRegistry constructs the venue adapters enabled in the configuration.
func buildRegistry(cfg *config.Config) (*broker.Registry, error) {
	registry := broker.NewRegistry()

	if cfg.Brokers.Paper.Enabled {
		registry.Register("paper", paper.New(), domain.EnvPaper)
	}

	if cfg.Brokers.Kalshi.Enabled {
		client := kalshi.NewClient(cfg.Brokers.Kalshi.BaseURL, cfg.Brokers.Kalshi.ApiKey)
		pemBytes, err := os.ReadFile(cfg.Brokers.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("wire: kalshi rsa key: %w", err)
		}
		if err := client.SetRSAPrivateKey(pemBytes); err != nil {
			return nil, fmt.Errorf("wire: kalshi rsa key: %w", err)
		}
		registry.Register("kalshi", kalshi.NewBroker(client), domain.EnvLive)
	}

	if cfg.Brokers.Tradovate.Enabled {
		secret, err := crypto.LoadSecret(crypto.SecretConfig{
			RawSecret:           cfg.Brokers.Tradovate.ApiSecret,
			EncryptedSecretPath: cfg.Brokers.Tradovate.EncryptedSecretPath,
			Password:            cfg.Brokers.Tradovate.SecretPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: tradovate secret: %w", err)
		}
		auth := &crypto.HMACAuth{
			Key:    cfg.Brokers.Tradovate.ApiKey,
			Secret: secret,
		}
		client := tradovate.NewClient(cfg.Brokers.Tradovate.BaseURL, auth, cfg.Brokers.Tradovate.RequestsPerSecond)
		registry.Register("tradovate", tradovate.NewBroker(client), domain.EnvLive)
	}

	return registry, nil
}
