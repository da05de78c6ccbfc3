package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies CHAINBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known CHAINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Binance ──
	setStr(&cfg.Binance.ApiKey, "CHAINBOT_BINANCE_API_KEY")
	setStr(&cfg.Binance.ApiSecret, "CHAINBOT_BINANCE_API_SECRET")
	setStr(&cfg.Binance.RestHost, "CHAINBOT_BINANCE_REST_HOST")
	setStr(&cfg.Binance.WsHost, "CHAINBOT_BINANCE_WS_HOST")
	setDuration(&cfg.Binance.RecvWindow, "CHAINBOT_BINANCE_RECV_WINDOW")
	setInt(&cfg.Binance.DepthSnapshotLimit, "CHAINBOT_BINANCE_DEPTH_SNAPSHOT_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "CHAINBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CHAINBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CHAINBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CHAINBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CHAINBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CHAINBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CHAINBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CHAINBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CHAINBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CHAINBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "CHAINBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CHAINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CHAINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CHAINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CHAINBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CHAINBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CHAINBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "CHAINBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "CHAINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CHAINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "CHAINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CHAINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CHAINBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "CHAINBOT_S3_FORCE_PATH_STYLE")
	setDuration(&cfg.S3.ArchiveInterval, "CHAINBOT_S3_ARCHIVE_INTERVAL")
	setDuration(&cfg.S3.ArchiveRetention, "CHAINBOT_S3_ARCHIVE_RETENTION")

	// ── Trading ──
	setFloat64(&cfg.Trading.MinEdge, "CHAINBOT_TRADING_MIN_EDGE")
	setFloat64(&cfg.Trading.SlippageTolerance, "CHAINBOT_TRADING_SLIPPAGE_TOLERANCE")
	setFloat64(&cfg.Trading.MakerFee, "CHAINBOT_TRADING_MAKER_FEE")
	setFloat64(&cfg.Trading.TakerFee, "CHAINBOT_TRADING_TAKER_FEE")
	setDuration(&cfg.Trading.Cooldown, "CHAINBOT_TRADING_COOLDOWN")
	setBool(&cfg.Trading.AbortOnUnconstructible, "CHAINBOT_TRADING_ABORT_ON_UNCONSTRUCTIBLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "CHAINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CHAINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CHAINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "CHAINBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "CHAINBOT_MODE")
	setStr(&cfg.LogLevel, "CHAINBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
