package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	s3blob "github.com/alanyoungcy/chainbot/internal/blob/s3"
	"github.com/alanyoungcy/chainbot/internal/cache/redis"
	"github.com/alanyoungcy/chainbot/internal/config"
	"github.com/alanyoungcy/chainbot/internal/domain"
	"github.com/alanyoungcy/chainbot/internal/notify"
	"github.com/alanyoungcy/chainbot/internal/store/postgres"
)

// Dependencies bundles every shared service that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function. Optional members are nil when their backing store is disabled in
// config or not needed by the mode.
type Dependencies struct {
	// ExecutionStore journals completed chain executions. Nil in monitor
	// mode, which never trades.
	ExecutionStore domain.ExecutionStore

	// ArchiveStore is the time-ranged view of the journal that the archiver
	// sweeps from. Set alongside ExecutionStore.
	ArchiveStore s3blob.ExecutionArchiveStore

	// BookCache publishes top-of-book quotes. Nil unless Redis is enabled.
	BookCache domain.BookCache

	// Archiver sweeps aged journal rows to object storage. Nil unless S3 is
	// enabled and a journal exists to sweep from.
	Archiver *s3blob.Archiver

	// Notifier dispatches operator alerts. Always set; with no channels
	// configured it is a no-op.
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that journal executions.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "paper":
		return true
	default:
		return false
	}
}

// Wire connects every external client the configured mode needs and returns
// the dependency set plus a cleanup function that closes the clients in
// reverse connection order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	deps := &Dependencies{}
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	mode := strings.ToLower(cfg.Mode)

	if needsPostgres(mode) {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire postgres: %w", err)
		}
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire postgres migrations: %w", err)
			}
		}

		store := postgres.NewExecutionStore(pg.Pool())
		deps.ExecutionStore = store
		deps.ArchiveStore = store
		logger.Info("postgres connected", slog.String("database", cfg.Postgres.Database))
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		// Quotes expire if the publisher stalls so consumers never read a
		// dead market as live.
		deps.BookCache = redis.NewBookCache(rc, time.Minute)
		logger.Info("redis connected", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.S3.Enabled && deps.ArchiveStore != nil {
		sc, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         true,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire s3: %w", err)
		}
		closers = append(closers, func() { _ = sc.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(sc), deps.ArchiveStore, logger)
		logger.Info("s3 connected", slog.String("bucket", cfg.S3.Bucket))
	}

	deps.Notifier = buildNotifier(cfg.Notify, logger)

	return deps, cleanup, nil
}

// buildNotifier assembles the notification fan-out from whichever channels
// have credentials configured.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return notify.NewNotifier(senders, cfg.Events, logger)
}
