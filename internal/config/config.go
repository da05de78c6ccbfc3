// Package config defines the top-level configuration for chainbot and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by CHAINBOT_* environment variables.
type Config struct {
	Binance  BinanceConfig  `toml:"binance"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Trading  TradingConfig  `toml:"trading"`
	Chains   []ChainConfig  `toml:"chains"`
	Pairs    []PairConfig   `toml:"pairs"`
	Paper    PaperConfig    `toml:"paper"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// BinanceConfig holds Binance API endpoints and credentials.
type BinanceConfig struct {
	ApiKey     string   `toml:"api_key"`
	ApiSecret  string   `toml:"api_secret"`
	RestHost   string   `toml:"rest_host"`
	WsHost     string   `toml:"ws_host"`
	RecvWindow duration `toml:"recv_window"`
	// DepthSnapshotLimit is the level count requested for the REST depth
	// snapshot that seeds each order book.
	DepthSnapshotLimit int `toml:"depth_snapshot_limit"`
}

// PostgresConfig holds PostgreSQL connection parameters for the execution
// journal.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the top-of-book cache.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the execution
// archive.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
	// ArchiveInterval is how often completed executions are swept to the
	// archive; ArchiveRetention is how old a record must be to qualify.
	ArchiveInterval  duration `toml:"archive_interval"`
	ArchiveRetention duration `toml:"archive_retention"`
}

// TradingConfig holds the parameters of the chain-execution strategy.
type TradingConfig struct {
	// MinEdge is the minimum fractional round-trip edge, net of taker
	// fees, before a chain is executed (0.001 = 10 bps).
	MinEdge float64 `toml:"min_edge"`
	// SlippageTolerance is the per-execution slippage budget.
	SlippageTolerance float64 `toml:"slippage_tolerance"`
	// MakerFee and TakerFee are fallback fee rates applied to every book
	// unless the venue reports its own.
	MakerFee float64 `toml:"maker_fee"`
	TakerFee float64 `toml:"taker_fee"`
	// Cooldown is the minimum wait between executions of the same chain.
	Cooldown duration `toml:"cooldown"`
	// AbortOnUnconstructible fails a chain execution outright when an
	// order cannot be constructed instead of skipping the level.
	AbortOnUnconstructible bool `toml:"abort_on_unconstructible"`
}

// ChainConfig describes one conversion cycle to watch and trade.
type ChainConfig struct {
	// Symbols is the ordered list of pairs forming the chain.
	Symbols []string `toml:"symbols"`
	// AssetIn is the asset the cycle starts and ends in.
	AssetIn string `toml:"asset_in"`
	// Amount is the quantity of AssetIn committed per execution.
	Amount float64 `toml:"amount"`
}

// PairConfig declares a tradable pair for venues that cannot report their
// own metadata (the paper venue). Binance overrides these from exchangeInfo.
type PairConfig struct {
	Symbol      string  `toml:"symbol"`
	Asset1      string  `toml:"asset1"`
	Asset2      string  `toml:"asset2"`
	TickSize    float64 `toml:"tick_size"`
	StepSize    float64 `toml:"step_size"`
	MinNotional float64 `toml:"min_notional"`
}

// PaperConfig seeds the simulated account used by paper mode.
type PaperConfig struct {
	// Balances maps asset to the starting available amount.
	Balances map[string]float64 `toml:"balances"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Binance: BinanceConfig{
			RestHost:           "https://api.binance.com",
			WsHost:             "wss://stream.binance.com:9443",
			RecvWindow:         duration{5 * time.Second},
			DepthSnapshotLimit: 1000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "chainbot",
			User:          "chainbot",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:          false,
			Endpoint:         "http://localhost:9000",
			Region:           "us-east-1",
			Bucket:           "chainbot-data",
			ForcePathStyle:   true,
			ArchiveInterval:  duration{24 * time.Hour},
			ArchiveRetention: duration{30 * 24 * time.Hour},
		},
		Trading: TradingConfig{
			MinEdge:           0.001,
			SlippageTolerance: 0.005,
			MakerFee:          0.001,
			TakerFee:          0.001,
			Cooldown:          duration{2 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"chain_executed", "chain_stopped", "error"},
		},
		Mode:     "paper",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"paper":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Binance credentials are only needed when real orders are placed.
	if strings.ToLower(c.Mode) == "trade" {
		if c.Binance.ApiKey == "" || c.Binance.ApiSecret == "" {
			errs = append(errs, "binance: api_key and api_secret are required for mode trade")
		}
	}
	if strings.ToLower(c.Mode) == "paper" && len(c.Paper.Balances) == 0 {
		errs = append(errs, "paper: balances must seed at least one asset for mode paper")
	}
	for asset, amt := range c.Paper.Balances {
		if amt < 0 {
			errs = append(errs, fmt.Sprintf("paper: balance for %s must not be negative", asset))
		}
	}
	if c.Binance.RestHost == "" {
		errs = append(errs, "binance: rest_host must not be empty")
	}
	if c.Binance.WsHost == "" {
		errs = append(errs, "binance: ws_host must not be empty")
	}
	if c.Binance.DepthSnapshotLimit <= 0 {
		errs = append(errs, "binance: depth_snapshot_limit must be > 0")
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Trading.MinEdge <= 0 {
		errs = append(errs, "trading: min_edge must be > 0")
	}
	if c.Trading.SlippageTolerance <= 0 {
		errs = append(errs, "trading: slippage_tolerance must be > 0")
	}
	if c.Trading.TakerFee < 0 || c.Trading.MakerFee < 0 {
		errs = append(errs, "trading: fees must not be negative")
	}

	if len(c.Chains) == 0 {
		errs = append(errs, "chains: at least one chain must be configured")
	}
	for i, ch := range c.Chains {
		if len(ch.Symbols) == 0 {
			errs = append(errs, fmt.Sprintf("chains[%d]: symbols must not be empty", i))
		}
		if ch.AssetIn == "" {
			errs = append(errs, fmt.Sprintf("chains[%d]: asset_in must not be empty", i))
		}
		if ch.Amount <= 0 {
			errs = append(errs, fmt.Sprintf("chains[%d]: amount must be > 0", i))
		}
	}
	// Paper and monitor modes cannot pull pair metadata from an exchange.
	switch strings.ToLower(c.Mode) {
	case "paper", "monitor":
		if len(c.Pairs) == 0 {
			errs = append(errs, fmt.Sprintf("pairs: at least one pair must be declared for mode %s", strings.ToLower(c.Mode)))
		}
	}
	for i, p := range c.Pairs {
		if p.Symbol == "" || p.Asset1 == "" || p.Asset2 == "" {
			errs = append(errs, fmt.Sprintf("pairs[%d]: symbol, asset1 and asset2 must all be set", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
