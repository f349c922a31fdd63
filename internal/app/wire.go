package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/raulk/clock"

	s3blob "github.com/alanyoungcy/marketengine/internal/blob/s3"
	"github.com/alanyoungcy/marketengine/internal/cache/local"
	"github.com/alanyoungcy/marketengine/internal/cache/redis"
	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/config"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/metrics"
	"github.com/alanyoungcy/marketengine/internal/notify"
	"github.com/alanyoungcy/marketengine/internal/server/handler"
	"github.com/alanyoungcy/marketengine/internal/service"
	"github.com/alanyoungcy/marketengine/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Clock   clock.Clock
	Ledger  *chain.Ledger
	Engine  *market.Engine
	Metrics *metrics.Metrics

	// Stores are nil without Postgres.
	ListingStore    domain.ListingStore
	AuctionStore    domain.AuctionStore
	OfferStore      domain.OfferStore
	WithdrawalStore domain.WithdrawalStore
	AuditStore      domain.AuditStore
	SequenceStore   domain.SequenceStore

	// Plumbing falls back to in-process implementations without Redis.
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage is nil without S3.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	Notifier *notify.Notifier

	Market  *service.MarketService
	History *service.HistoryService
	Devnet  *service.DevnetService
	Archive *service.ArchiveService

	// Checks are probed by GET /api/health.
	Checks map[string]handler.Check
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Clock:   clock.New(),
		Ledger:  chain.NewLedger(),
		Metrics: metrics.New(),
		Checks:  make(map[string]handler.Check),
	}

	// --- PostgreSQL ---
	var pgPool *pgxpool.Pool
	if cfg.Postgres.Enabled() {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:            cfg.Postgres.DSN,
			Host:           cfg.Postgres.Host,
			Port:           cfg.Postgres.Port,
			Database:       cfg.Postgres.Database,
			User:           cfg.Postgres.User,
			Password:       cfg.Postgres.Password,
			SSLMode:        cfg.Postgres.SSLMode,
			MaxConns:       cfg.Postgres.PoolMaxConns,
			MinConns:       cfg.Postgres.PoolMinConns,
			ConnectTimeout: cfg.Postgres.ConnTimeout.Duration,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: applied migrations", slog.Any("files", applied))
			}
		}

		pgPool = pgClient.Pool()
		deps.ListingStore = postgres.NewListingStore(pgPool)
		deps.AuctionStore = postgres.NewAuctionStore(pgPool)
		deps.OfferStore = postgres.NewOfferStore(pgPool)
		deps.WithdrawalStore = postgres.NewWithdrawalStore(pgPool)
		deps.AuditStore = postgres.NewAuditStore(pgPool)
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis ---
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "wire: redis not configured, using in-process bus and rate limiter")
		deps.SignalBus = local.NewBus()
		deps.RateLimiter = local.NewRateLimiter(2 * cfg.Server.RateLimitWindow.Duration)
	}

	// --- S3 blob storage ---
	if cfg.S3.Enabled() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			Prefix:         cfg.S3.Prefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobReader = s3blob.NewReader(s3Client)
		deps.Checks["s3"] = s3Client.Health
		// The archiver reads and prunes the Postgres read model.
		if deps.ListingStore != nil {
			deps.Archiver = s3blob.NewArchiver(
				s3blob.NewWriter(s3Client, cfg.S3.PartSizeMB<<20),
				deps.ListingStore,
				deps.AuctionStore,
				deps.OfferStore,
				deps.AuditStore,
				cfg.Archive.BatchSize,
			)
		}
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, cfg.Notify.PerMinute, logger)

	// --- Ledger and engine ---
	params, err := cfg.EngineParams()
	if err != nil {
		return fail(fmt.Errorf("wire: engine params: %w", err))
	}
	var resume domain.Sequences
	if deps.ListingStore != nil {
		deps.SequenceStore = postgres.NewSequenceStore(pgPool, params.Address)
		if resume, err = deps.SequenceStore.Load(ctx); err != nil {
			return fail(fmt.Errorf("wire: load sequences: %w", err))
		}
		logger.InfoContext(ctx, "wire: resuming engine sequences",
			slog.Uint64("listing", resume.Listing),
			slog.Uint64("auction", resume.Auction),
			slog.Uint64("offer", resume.Offer),
			slog.Uint64("event", resume.Event),
		)
	}
	if err := seedLedger(deps.Ledger, cfg, params); err != nil {
		return fail(fmt.Errorf("wire: seed ledger: %w", err))
	}

	recorder := service.NewRecorder(service.RecorderDeps{
		Listings:    deps.ListingStore,
		Auctions:    deps.AuctionStore,
		Offers:      deps.OfferStore,
		Withdrawals: deps.WithdrawalStore,
		Audit:       deps.AuditStore,
		Sequences:   deps.SequenceStore,
		Bus:         deps.SignalBus,
		Notifier:    deps.Notifier,
		Metrics:     deps.Metrics,
	}, logger)

	deps.Engine, err = market.New(params, market.Backend{
		Assets:    deps.Ledger,
		Native:    deps.Ledger,
		Tokens:    deps.Ledger.Tokens(),
		Royalties: deps.Ledger,
		State:     deps.Ledger,
	},
		market.WithClock(deps.Clock),
		market.WithSequences(resume),
		market.WithEventSink(recorder),
		market.WithLogger(logger),
	)
	if err != nil {
		return fail(fmt.Errorf("wire: engine: %w", err))
	}

	// --- Services ---
	deps.Market = service.NewMarketService(deps.Engine, deps.LockManager, cfg.Engine.LockTTL.Duration, logger)
	closers = append(closers, deps.Market.Close)
	if deps.ListingStore != nil {
		deps.History = service.NewHistoryService(
			deps.ListingStore,
			deps.AuctionStore,
			deps.OfferStore,
			deps.WithdrawalStore,
			deps.AuditStore,
			logger,
		)
	}
	if cfg.Devnet.Enabled {
		deps.Devnet = service.NewDevnetService(deps.Market, deps.Ledger, logger)
	}
	if deps.Archiver != nil {
		deps.Archive = service.NewArchiveService(deps.Archiver, cfg.Archive.RetentionDays, deps.Clock, logger).
			WithMetrics(deps.Metrics)
		if deps.LockManager != nil {
			deps.Archive.WithLocks(deps.LockManager, cfg.Engine.LockTTL.Duration)
		}
	}

	registerGauges(deps.Metrics, deps.Market)

	return deps, cleanup, nil
}

// seedLedger deploys every token the engine accepts and, on a devnet,
// funds the configured accounts.
func seedLedger(ledger *chain.Ledger, cfg *config.Config, params market.Params) error {
	for _, pm := range params.PaymentMethods {
		if !pm.IsNative() {
			ledger.DeployToken(pm.Token())
		}
	}
	if !cfg.Devnet.Enabled {
		return nil
	}

	fund, mint, err := cfg.Devnet.DevnetAmounts()
	if err != nil {
		return err
	}
	tokens := make([]domain.PaymentMethod, 0, len(cfg.Devnet.Tokens))
	for _, name := range cfg.Devnet.Tokens {
		pm, err := config.ResolvePaymentMethod(name)
		if err != nil {
			return fmt.Errorf("token %q: %w", name, err)
		}
		if pm.IsNative() {
			continue
		}
		ledger.DeployToken(pm.Token())
		tokens = append(tokens, pm)
	}

	for _, name := range cfg.Devnet.Accounts {
		account, err := config.ResolveAddress(name)
		if err != nil {
			return fmt.Errorf("account %q: %w", name, err)
		}
		if fund.Sign() > 0 {
			ledger.Fund(account, fund)
		}
		for _, pm := range tokens {
			if mint.Sign() == 0 {
				break
			}
			if err := ledger.MintToken(pm.Token(), account, mint); err != nil {
				return fmt.Errorf("mint %s to %s: %w", pm, name, err)
			}
		}
	}
	return nil
}

// registerGauges exposes live engine counters on the metrics registry.
func registerGauges(m *metrics.Metrics, svc *service.MarketService) {
	stat := func(pick func(market.Stats) float64) func() float64 {
		return func() float64 { return pick(svc.Status().Stats) }
	}
	m.RegisterGauge("engine", "active_listings", "Listings currently open for sale.",
		stat(func(s market.Stats) float64 { return float64(s.ActiveListings) }))
	m.RegisterGauge("engine", "active_auctions", "Auctions currently accepting bids.",
		stat(func(s market.Stats) float64 { return float64(s.ActiveAuctions) }))
	m.RegisterGauge("engine", "events_emitted", "Sequence number of the last event emitted.",
		stat(func(s market.Stats) float64 { return float64(s.Events) }))
}

// shutdownTimeout returns the configured HTTP drain time.
func shutdownTimeout(cfg *config.Config) time.Duration {
	if d := cfg.Server.ShutdownTimeout.Duration; d > 0 {
		return d
	}
	return 15 * time.Second
}
