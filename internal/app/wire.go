package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/whaletrack/internal/blob/s3"
	"github.com/alanyoungcy/whaletrack/internal/cache/redis"
	"github.com/alanyoungcy/whaletrack/internal/config"
	"github.com/alanyoungcy/whaletrack/internal/domain"
	"github.com/alanyoungcy/whaletrack/internal/notify"
	"github.com/alanyoungcy/whaletrack/internal/platform/openmeteo"
	"github.com/alanyoungcy/whaletrack/internal/platform/polymarket"
	"github.com/alanyoungcy/whaletrack/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	TradeStore    domain.TradeStore
	ProfileStore  domain.TraderProfileStore
	SignalStore   domain.SignalStore
	PaperStore    domain.PaperTradeStore
	ProgressStore domain.BackfillProgressStore
	AuditStore    domain.AuditStore

	// Caches and coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Bus         domain.EventBus

	// Upstream sources
	Gamma    *polymarket.GammaClient
	Forecast *openmeteo.Client

	// Blob storage (nil unless S3 is enabled)
	BlobReader domain.BlobReader
	Archiver   *s3blob.SnapshotArchiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for modes that export snapshots to object storage.
func needsS3(mode string) bool {
	switch mode {
	case "pipeline", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	// Every mode touches the store: the pipeline writes it, backfill updates
	// trade settlements and progress, and the server reads leaderboard and
	// signal history from it.
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
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.ProfileStore = postgres.NewTraderProfileStore(pool)
	deps.SignalStore = postgres.NewSignalStore(pool)
	deps.PaperStore = postgres.NewPaperTradeStore(pool)
	deps.ProgressStore = postgres.NewBackfillProgressStore(pool)
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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.Bus = redis.NewEventBus(redisClient)

	// --- Upstream data sources ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, cfg.Polymarket.RequestTimeout.Duration)
	if len(cfg.Signals.WeatherTargets) > 0 {
		deps.Forecast = openmeteo.NewClient(
			cfg.OpenMeteo.BaseURL,
			cfg.OpenMeteo.RequestTimeout.Duration,
			cfg.OpenMeteo.ForecastDays,
		)
	}

	// --- S3 blob storage ---
	// The reader serves archived snapshots in server mode; the archiver is
	// only built for modes that export them.
	if cfg.S3.Enabled {
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

		deps.BlobReader = s3blob.NewReader(s3Client)
		if needsS3(cfg.Mode) {
			deps.Archiver = s3blob.NewSnapshotArchiver(
				s3blob.NewWriter(s3Client),
				deps.AuditStore,
				cfg.Scheduler.SnapshotPrefix,
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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
