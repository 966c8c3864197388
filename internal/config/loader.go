package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path (optional: an empty path or
// missing file falls back to defaults), merges it on top of the built-in
// defaults, applies environment variable overrides, and returns the final
// Config. The returned Config has NOT been validated; the caller should
// invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return nil, err
			}
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads the engine's environment variables and overwrites
// the corresponding Config fields when a variable is set. VENUE_A_* maps to
// Polymarket, VENUE_B_* to Kalshi. This lets operators inject secrets at
// deploy time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Venue A (Polymarket) ──
	setStr(&cfg.Polymarket.WsURL, "VENUE_A_WS_URL")
	setStr(&cfg.Polymarket.ApiURL, "VENUE_A_API_URL")
	setStr(&cfg.Polymarket.ApiKey, "VENUE_A_API_KEY")
	setStr(&cfg.Polymarket.ApiSecret, "VENUE_A_API_SECRET")
	setStr(&cfg.Polymarket.ApiPassphrase, "VENUE_A_API_PASSPHRASE")
	setStr(&cfg.Polymarket.PrivateKey, "VENUE_A_PRIVATE_KEY")
	setStr(&cfg.Polymarket.EncryptedKeyPath, "VENUE_A_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Polymarket.KeyPassword, "VENUE_A_KEY_PASSWORD")
	setInt(&cfg.Polymarket.ChainID, "VENUE_A_CHAIN_ID")
	setFloat64(&cfg.Polymarket.FeeRate, "VENUE_A_FEE_RATE")

	// ── Venue B (Kalshi) ──
	setStr(&cfg.Kalshi.WsURL, "VENUE_B_WS_URL")
	setStr(&cfg.Kalshi.ApiURL, "VENUE_B_API_URL")
	setStr(&cfg.Kalshi.ApiKey, "VENUE_B_API_KEY")
	setStr(&cfg.Kalshi.RsaPrivateKeyPath, "VENUE_B_PRIVATE_KEY")
	setFloat64(&cfg.Kalshi.FeeRate, "VENUE_B_FEE_RATE")

	// ── Arbitrage ──
	setFloat64(&cfg.Arbitrage.Threshold, "ARB_THRESHOLD")
	setFloat64(&cfg.Arbitrage.MinLiquidity, "MIN_LIQUIDITY")
	setFloat64(&cfg.Arbitrage.MaxPositionSize, "MAX_POSITION_SIZE")
	setBool(&cfg.Arbitrage.AutoExecute, "AUTO_EXECUTE")
	setFloat64(&cfg.Arbitrage.SimilarityThreshold, "SIMILARITY_THRESHOLD")
	setInt(&cfg.Arbitrage.SyncIntervalMinutes, "SYNC_INTERVAL_MINUTES")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_URL")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
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
