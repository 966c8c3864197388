// Package config defines the top-level configuration for the arbitrage
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file, then overridden by environment variables (see loader.go).
// Everything here is an immutable snapshot after start; the single runtime
// mutable flag (auto-execute) lives on Runtime.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Kalshi     KalshiConfig     `toml:"kalshi"`
	Arbitrage  ArbitrageConfig  `toml:"arbitrage"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Archive    ArchiveConfig    `toml:"archive"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds venue A endpoints and credentials.
type PolymarketConfig struct {
	WsURL            string  `toml:"ws_url"`
	ApiURL           string  `toml:"api_url"`
	ApiKey           string  `toml:"api_key"`
	ApiSecret        string  `toml:"api_secret"`
	ApiPassphrase    string  `toml:"api_passphrase"`
	PrivateKey       string  `toml:"private_key"`
	EncryptedKeyPath string  `toml:"encrypted_key_path"`
	KeyPassword      string  `toml:"key_password"`
	ChainID          int     `toml:"chain_id"`
	FeeRate          float64 `toml:"fee_rate"`
}

// KalshiConfig holds venue B endpoints and credentials. The websocket
// requires a post-open auth handshake carrying the API key; REST calls are
// RSA-signed with the private key.
type KalshiConfig struct {
	WsURL             string  `toml:"ws_url"`
	ApiURL            string  `toml:"api_url"`
	ApiKey            string  `toml:"api_key"`
	RsaPrivateKeyPath string  `toml:"rsa_private_key_path"`
	FeeRate           float64 `toml:"fee_rate"`
}

// ArbitrageConfig holds detection and execution parameters.
type ArbitrageConfig struct {
	// Threshold is the combined-cost ceiling: an opportunity requires
	// combined_cost < threshold.
	Threshold float64 `toml:"threshold"`
	// MinLiquidity is the minimum depth required on each leg.
	MinLiquidity float64 `toml:"min_liquidity"`
	// MaxPositionSize caps recommended_size and every placed leg.
	MaxPositionSize float64 `toml:"max_position_size"`
	// AutoExecute seeds the runtime toggle; it is the only option that can
	// change after start.
	AutoExecute bool `toml:"auto_execute"`
	// SimilarityThreshold is the minimum composite score for a canonical
	// pairing.
	SimilarityThreshold float64 `toml:"similarity_threshold"`
	// SyncIntervalMinutes is how often market sync runs; 0 disables the
	// periodic trigger (the HTTP trigger still works).
	SyncIntervalMinutes int `toml:"sync_interval_minutes"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the opportunity/trade archiver.
type ArchiveConfig struct {
	Enabled       bool `toml:"enabled"`
	RetentionDays int  `toml:"retention_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			WsURL:   "wss://ws-subscriptions-clob.polymarket.com/ws/market",
			ApiURL:  "https://clob.polymarket.com",
			ChainID: 137,
			FeeRate: 0.02,
		},
		Kalshi: KalshiConfig{
			WsURL:   "wss://api.elections.kalshi.com/trade-api/ws/v2",
			ApiURL:  "https://api.elections.kalshi.com/trade-api/v2",
			FeeRate: 0.02,
		},
		Arbitrage: ArbitrageConfig{
			Threshold:           0.98,
			MinLiquidity:        1000,
			MaxPositionSize:     10000,
			AutoExecute:         false,
			SimilarityThreshold: 0.85,
			SyncIntervalMinutes: 30,
		},
		Database: DatabaseConfig{
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Region:         "us-east-1",
			Bucket:         "arbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
		},
		Server: ServerConfig{
			Port:        3001,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"opportunity_detected", "execution_success", "execution_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":    true,
	"monitor": true,
	"server":  true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and
// returns a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, monitor, server)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	streaming := c.Mode != "server"
	if streaming {
		if c.Polymarket.WsURL == "" {
			errs = append(errs, "polymarket: ws_url must not be empty")
		}
		if c.Polymarket.ApiURL == "" {
			errs = append(errs, "polymarket: api_url must not be empty")
		}
		if c.Kalshi.WsURL == "" {
			errs = append(errs, "kalshi: ws_url must not be empty")
		}
		if c.Kalshi.ApiURL == "" {
			errs = append(errs, "kalshi: api_url must not be empty")
		}
		if c.Kalshi.ApiKey == "" {
			errs = append(errs, "kalshi: api_key is required for streaming modes")
		}
	}

	executing := c.Mode == "full"
	if executing {
		if c.Polymarket.PrivateKey == "" && c.Polymarket.EncryptedKeyPath == "" {
			errs = append(errs, "polymarket: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Polymarket.EncryptedKeyPath != "" && c.Polymarket.KeyPassword == "" {
			errs = append(errs, "polymarket: key_password is required when encrypted_key_path is set")
		}
		if c.Kalshi.RsaPrivateKeyPath == "" {
			errs = append(errs, "kalshi: rsa_private_key_path is required for mode "+c.Mode)
		}
	}

	if c.Arbitrage.Threshold <= 0 || c.Arbitrage.Threshold > 1 {
		errs = append(errs, fmt.Sprintf("arbitrage: threshold must be in (0,1], got %v", c.Arbitrage.Threshold))
	}
	if c.Arbitrage.MinLiquidity < 0 {
		errs = append(errs, "arbitrage: min_liquidity must be >= 0")
	}
	if c.Arbitrage.MaxPositionSize <= 0 {
		errs = append(errs, "arbitrage: max_position_size must be > 0")
	}
	if c.Arbitrage.SimilarityThreshold <= 0 || c.Arbitrage.SimilarityThreshold > 1 {
		errs = append(errs, "arbitrage: similarity_threshold must be in (0,1]")
	}
	if c.Polymarket.FeeRate < 0 || c.Polymarket.FeeRate >= 1 {
		errs = append(errs, "polymarket: fee_rate must be in [0,1)")
	}
	if c.Kalshi.FeeRate < 0 || c.Kalshi.FeeRate >= 1 {
		errs = append(errs, "kalshi: fee_rate must be in [0,1)")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		errs = append(errs, "database: dsn must not be empty (set DATABASE_URL)")
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
