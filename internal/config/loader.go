package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETD_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETD_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.Address, "MARKETD_ENGINE_ADDRESS")
	setStr(&cfg.Engine.Owner, "MARKETD_ENGINE_OWNER")
	setStr(&cfg.Engine.FeeRecipient, "MARKETD_ENGINE_FEE_RECIPIENT")
	setUint64(&cfg.Engine.FeeBps, "MARKETD_ENGINE_FEE_BPS")
	setDuration(&cfg.Engine.MaxListingDuration, "MARKETD_ENGINE_MAX_LISTING_DURATION")
	setDuration(&cfg.Engine.MaxOfferDuration, "MARKETD_ENGINE_MAX_OFFER_DURATION")
	setDuration(&cfg.Engine.MinAuctionDuration, "MARKETD_ENGINE_MIN_AUCTION_DURATION")
	setDuration(&cfg.Engine.MaxAuctionDuration, "MARKETD_ENGINE_MAX_AUCTION_DURATION")
	setUint64(&cfg.Engine.MinBidIncrementBps, "MARKETD_ENGINE_MIN_BID_INCREMENT_BPS")
	setDuration(&cfg.Engine.ExtensionWindow, "MARKETD_ENGINE_EXTENSION_WINDOW")
	setUint64(&cfg.Engine.NativeRefundGas, "MARKETD_ENGINE_NATIVE_REFUND_GAS")
	setInt(&cfg.Engine.MaxBatchSize, "MARKETD_ENGINE_MAX_BATCH_SIZE")
	setStringSlice(&cfg.Engine.PaymentMethods, "MARKETD_ENGINE_PAYMENT_METHODS")
	setDuration(&cfg.Engine.LockTTL, "MARKETD_ENGINE_LOCK_TTL")
	setInt64(&cfg.Engine.ChainID, "MARKETD_ENGINE_CHAIN_ID")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MARKETD_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "MARKETD_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MARKETD_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MARKETD_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MARKETD_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MARKETD_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MARKETD_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MARKETD_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MARKETD_POSTGRES_POOL_MIN_CONNS")
	setDuration(&cfg.Postgres.ConnTimeout, "MARKETD_POSTGRES_CONN_TIMEOUT")
	setBool(&cfg.Postgres.RunMigrations, "MARKETD_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARKETD_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETD_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETD_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETD_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETD_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETD_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARKETD_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARKETD_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARKETD_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARKETD_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARKETD_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARKETD_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARKETD_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARKETD_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.Prefix, "MARKETD_S3_PREFIX")
	setInt64(&cfg.S3.PartSizeMB, "MARKETD_S3_PART_SIZE_MB")

	// ── Server ──
	setInt(&cfg.Server.Port, "MARKETD_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARKETD_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARKETD_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARKETD_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "MARKETD_SERVER_RATE_LIMIT_WINDOW")
	setDuration(&cfg.Server.ShutdownTimeout, "MARKETD_SERVER_SHUTDOWN_TIMEOUT")
	setBool(&cfg.Server.RequireSignatures, "MARKETD_SERVER_REQUIRE_SIGNATURES")
	setDuration(&cfg.Server.SignatureMaxSkew, "MARKETD_SERVER_SIGNATURE_MAX_SKEW")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "MARKETD_KEEPER_ENABLED")
	setStr(&cfg.Keeper.Account, "MARKETD_KEEPER_ACCOUNT")
	setStr(&cfg.Keeper.Endpoint, "MARKETD_KEEPER_ENDPOINT")
	setDuration(&cfg.Keeper.Interval, "MARKETD_KEEPER_INTERVAL")
	setInt(&cfg.Keeper.BatchSize, "MARKETD_KEEPER_BATCH_SIZE")
	setStr(&cfg.Keeper.PrivateKey, "MARKETD_KEEPER_PRIVATE_KEY")
	setStr(&cfg.Keeper.KeyFile, "MARKETD_KEEPER_KEY_FILE")
	setStr(&cfg.Keeper.KeyPassword, "MARKETD_KEEPER_KEY_PASSWORD")

	// ── Archive ──
	setInt(&cfg.Archive.RetentionDays, "MARKETD_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "MARKETD_ARCHIVE_CRON")
	setInt(&cfg.Archive.BatchSize, "MARKETD_ARCHIVE_BATCH_SIZE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARKETD_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARKETD_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARKETD_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARKETD_NOTIFY_EVENTS")
	setInt(&cfg.Notify.PerMinute, "MARKETD_NOTIFY_PER_MINUTE")

	// ── Devnet ──
	setBool(&cfg.Devnet.Enabled, "MARKETD_DEVNET_ENABLED")
	setStringSlice(&cfg.Devnet.Accounts, "MARKETD_DEVNET_ACCOUNTS")
	setStr(&cfg.Devnet.FundAmount, "MARKETD_DEVNET_FUND_AMOUNT")
	setStringSlice(&cfg.Devnet.Tokens, "MARKETD_DEVNET_TOKENS")
	setStr(&cfg.Devnet.MintAmount, "MARKETD_DEVNET_MINT_AMOUNT")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARKETD_MODE")
	setStr(&cfg.LogLevel, "MARKETD_LOG_LEVEL")
}

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

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
		if d, err := parseDuration(v); err == nil {
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
