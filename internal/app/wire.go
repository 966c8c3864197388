package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	s3blob "github.com/alanyoungcy/arbot/internal/blob/s3"
	"github.com/alanyoungcy/arbot/internal/cache/redis"
	"github.com/alanyoungcy/arbot/internal/config"
	"github.com/alanyoungcy/arbot/internal/crypto"
	"github.com/alanyoungcy/arbot/internal/domain"
	"github.com/alanyoungcy/arbot/internal/notify"
	"github.com/alanyoungcy/arbot/internal/platform/kalshi"
	"github.com/alanyoungcy/arbot/internal/platform/polymarket"
	"github.com/alanyoungcy/arbot/internal/store/postgres"
)

// Dependencies bundles the infrastructure every mode builds on. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	MappingStore     domain.MappingStore
	OpportunityStore domain.OpportunityStore
	TradeStore       domain.TradeStore

	// Bus and caches
	SignalBus domain.SignalBus
	BookCache domain.BookCache

	// Venue adapters
	PolyREST   *polymarket.Client
	KalshiREST *kalshi.Client

	// Blob storage (nil unless archiving is enabled)
	BlobWriter domain.BlobWriter

	// Notifications
	Notifier *notify.Notifier

	// Runtime flags
	Runtime *config.Runtime
}

// Wire constructs the concrete dependency implementations from the
// configuration and returns them with a cleanup function.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, func() {}, err
	}

	deps := &Dependencies{Runtime: config.NewRuntime(cfg)}

	// ── PostgreSQL ──
	pg, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		return fail(fmt.Errorf("app: postgres: %w", err))
	}
	closers = append(closers, pg.Close)

	if cfg.Database.RunMigrations {
		if err := pg.RunMigrations(ctx); err != nil {
			return fail(fmt.Errorf("app: migrations: %w", err))
		}
	}
	deps.MappingStore = postgres.NewMappingStore(pg.Pool())
	deps.OpportunityStore = postgres.NewOpportunityStore(pg.Pool())
	deps.TradeStore = postgres.NewTradeStore(pg.Pool())

	// ── Redis ──
	rds, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		return fail(fmt.Errorf("app: redis: %w", err))
	}
	closers = append(closers, func() { _ = rds.Close() })
	deps.SignalBus = redis.NewSignalBus(rds)
	deps.BookCache = redis.NewBookCache(rds)

	// ── Venue REST adapters ──
	var signer *crypto.Signer
	if cfg.Mode == "full" {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Polymarket.PrivateKey,
			EncryptedKeyPath: cfg.Polymarket.EncryptedKeyPath,
			KeyPassword:      cfg.Polymarket.KeyPassword,
		})
		if err != nil {
			return fail(fmt.Errorf("app: polymarket key: %w", err))
		}
		signer, err = crypto.NewSigner(key, cfg.Polymarket.ChainID)
		if err != nil {
			return fail(fmt.Errorf("app: polymarket signer: %w", err))
		}
	}
	deps.PolyREST = polymarket.NewClient(cfg.Polymarket.ApiURL, &crypto.HMACAuth{
		Key:        cfg.Polymarket.ApiKey,
		Secret:     cfg.Polymarket.ApiSecret,
		Passphrase: cfg.Polymarket.ApiPassphrase,
	}, signer)

	deps.KalshiREST = kalshi.NewClient(cfg.Kalshi.ApiURL, cfg.Kalshi.ApiKey)
	if cfg.Kalshi.RsaPrivateKeyPath != "" {
		pemBytes, err := os.ReadFile(cfg.Kalshi.RsaPrivateKeyPath)
		if err != nil {
			return fail(fmt.Errorf("app: kalshi key: %w", err))
		}
		if err := deps.KalshiREST.SetRSAPrivateKey(pemBytes); err != nil {
			return fail(fmt.Errorf("app: kalshi key: %w", err))
		}
	}

	// ── Blob storage ──
	if cfg.Archive.Enabled {
		s3c, err := s3blob.NewClient(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("app: s3: %w", err))
		}
		deps.BlobWriter = s3blob.NewWriter(s3c)
	}

	// ── Notifications ──
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
