// Package config defines the top-level configuration for the settlement
// engine daemon and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/crypto"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARKETD_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Keeper   KeeperConfig   `toml:"keeper"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Devnet   DevnetConfig   `toml:"devnet"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the marketplace parameters. Address fields take either a
// 0x-prefixed hex address or a devnet account name.
type EngineConfig struct {
	Address            string   `toml:"address"`
	Owner              string   `toml:"owner"`
	FeeRecipient       string   `toml:"fee_recipient"`
	FeeBps             uint64   `toml:"fee_bps"`
	MaxListingDuration duration `toml:"max_listing_duration"`
	MaxOfferDuration   duration `toml:"max_offer_duration"`
	MinAuctionDuration duration `toml:"min_auction_duration"`
	MaxAuctionDuration duration `toml:"max_auction_duration"`
	MinBidIncrementBps uint64   `toml:"min_bid_increment_bps"`
	ExtensionWindow    duration `toml:"extension_window"`
	NativeRefundGas    uint64   `toml:"native_refund_gas"`
	MaxBatchSize       int      `toml:"max_batch_size"`
	// PaymentMethods lists "native" and/or token addresses or names.
	PaymentMethods []string `toml:"payment_methods"`
	// LockTTL is the writer lease expiry; the holder renews it every third.
	LockTTL duration `toml:"lock_ttl"`
	// ChainID is bound into request signatures next to Address.
	ChainID int64 `toml:"chain_id"`
}

// PostgresConfig holds the read-model database settings. An empty DSN and
// Host disables persistence.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"sslmode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	ConnTimeout   duration `toml:"conn_timeout"`
	RunMigrations bool     `toml:"run_migrations"`
}

// Enabled reports whether a database is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.DSN) != "" || strings.TrimSpace(p.Host) != ""
}

// RedisConfig holds Redis connection parameters. An empty Addr keeps the
// bus, lock and rate limiter in process.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// Enabled reports whether Redis is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Addr) != ""
}

// S3Config holds settings for the S3-compatible archive bucket. An empty
// Bucket disables archiving.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
	PartSizeMB     int64  `toml:"part_size_mb"`
}

// Enabled reports whether a bucket is configured.
func (s S3Config) Enabled() bool {
	return strings.TrimSpace(s.Bucket) != ""
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	// RequireSignatures makes every mutating request carry an EIP-712
	// signature by its "from" account.
	RequireSignatures bool     `toml:"require_signatures"`
	SignatureMaxSkew  duration `toml:"signature_max_skew"`
}

// KeeperConfig holds settings for the auction finalizer.
type KeeperConfig struct {
	Enabled bool   `toml:"enabled"`
	Account string `toml:"account"`
	// Endpoint is the marketd API the standalone keeper mode drives.
	Endpoint  string   `toml:"endpoint"`
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	// Signing key for a remote marketd that requires signatures. When set,
	// the key's address replaces Account.
	PrivateKey  string `toml:"private_key"`
	KeyFile     string `toml:"key_file"`
	KeyPassword string `toml:"key_password"`
}

// ArchiveConfig holds settings for moving closed records to cold storage.
type ArchiveConfig struct {
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
	BatchSize     int    `toml:"batch_size"`
}

// NotifyConfig holds notification channel settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	PerMinute         int      `toml:"per_minute"`
}

// DevnetConfig seeds the in-process ledger and exposes the devnet routes.
type DevnetConfig struct {
	Enabled bool `toml:"enabled"`
	// Accounts are funded with FundAmount of native currency at startup.
	Accounts   []string `toml:"accounts"`
	FundAmount string   `toml:"fund_amount"`
	// Tokens are deployed at startup and minted to every account.
	Tokens     []string `toml:"tokens"`
	MintAmount string   `toml:"mint_amount"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s", "180d").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s". A bare "d" suffix counts days.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = parseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

// Defaults returns a Config populated with sensible default values.
func Defaults() Config {
	p := market.DefaultParams()
	return Config{
		Engine: EngineConfig{
			Address:            "engine",
			Owner:              "owner",
			FeeRecipient:       "treasury",
			FeeBps:             p.FeeRateBps,
			MaxListingDuration: duration{p.MaxListingDuration},
			MaxOfferDuration:   duration{p.MaxOfferDuration},
			MinAuctionDuration: duration{p.MinAuctionDuration},
			MaxAuctionDuration: duration{p.MaxAuctionDuration},
			MinBidIncrementBps: p.MinBidIncrementBps,
			ExtensionWindow:    duration{p.ExtensionWindow},
			NativeRefundGas:    p.NativeRefundGas,
			MaxBatchSize:       p.MaxBatchSize,
			PaymentMethods:     []string{"native"},
			LockTTL:            duration{10 * time.Second},
			ChainID:            31337,
		},
		Postgres: PostgresConfig{
			Port:          5432,
			Database:      "marketengine",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			ConnTimeout:   duration{10 * time.Second},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			PoolSize:   10,
			MaxRetries: 3,
			KeyPrefix:  "marketengine",
		},
		S3: S3Config{
			Region:     "us-east-1",
			UseSSL:     true,
			PartSizeMB: 5,
		},
		Server: ServerConfig{
			Port:             8080,
			CORSOrigins:      []string{"*"},
			RateLimit:        120,
			RateLimitWindow:  duration{time.Minute},
			ShutdownTimeout:  duration{15 * time.Second},
			SignatureMaxSkew: duration{5 * time.Minute},
		},
		Keeper: KeeperConfig{
			Enabled:   true,
			Account:   "keeper",
			Endpoint:  "http://localhost:8080",
			Interval:  duration{30 * time.Second},
			BatchSize: 25,
		},
		Archive: ArchiveConfig{
			RetentionDays: 90,
			Cron:          "0 3 * * *",
			BatchSize:     1000,
		},
		Notify: NotifyConfig{
			PerMinute: 20,
		},
		Devnet: DevnetConfig{
			Enabled:    true,
			Accounts:   []string{"alice", "bob", "carol"},
			FundAmount: "1000000000000000000000",
			MintAmount: "1000000000000000000000",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":   true,
	"keeper":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// single error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, keeper, archive, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if _, err := c.EngineParams(); err != nil {
		errs = append(errs, "engine: "+err.Error())
	}
	if c.Engine.LockTTL.Duration <= 0 {
		errs = append(errs, "engine: lock_ttl must be positive")
	}
	if c.Engine.ChainID < 1 {
		errs = append(errs, "engine: chain_id must be >= 1")
	}

	if c.Postgres.Enabled() && c.Postgres.DSN == "" {
		if c.Postgres.Port < 1 || c.Postgres.Port > 65535 {
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

	if c.Redis.Enabled() && c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled() && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
	}
	if c.S3.PartSizeMB < 5 {
		errs = append(errs, "s3: part_size_mb must be >= 5")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow.Duration <= 0 {
		errs = append(errs, "server: rate_limit_window must be positive when rate_limit is set")
	}
	if c.Server.RequireSignatures && c.Server.SignatureMaxSkew.Duration <= 0 {
		errs = append(errs, "server: signature_max_skew must be positive when require_signatures is set")
	}

	if c.Keeper.Enabled {
		if c.Keeper.Interval.Duration <= 0 {
			errs = append(errs, "keeper: interval must be positive")
		}
		if c.Keeper.BatchSize < 1 {
			errs = append(errs, "keeper: batch_size must be >= 1")
		}
		if _, err := resolveAddress(c.Keeper.Account); err != nil {
			errs = append(errs, "keeper: account: "+err.Error())
		}
	}

	mode := strings.ToLower(c.Mode)
	if mode == "keeper" && strings.TrimSpace(c.Keeper.Endpoint) == "" {
		errs = append(errs, "keeper: endpoint is required for mode keeper")
	}
	if mode == "archive" || mode == "full" {
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.BatchSize < 1 {
			errs = append(errs, "archive: batch_size must be >= 1")
		}
	}
	if mode == "archive" && (!c.S3.Enabled() || !c.Postgres.Enabled()) {
		errs = append(errs, "archive: mode archive requires both postgres and s3")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if c.Devnet.Enabled {
		if _, err := parseAmount(c.Devnet.FundAmount); err != nil {
			errs = append(errs, "devnet: fund_amount: "+err.Error())
		}
		if len(c.Devnet.Tokens) > 0 {
			if _, err := parseAmount(c.Devnet.MintAmount); err != nil {
				errs = append(errs, "devnet: mint_amount: "+err.Error())
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// EngineParams converts the engine section into market parameters.
func (c *Config) EngineParams() (market.Params, error) {
	e := c.Engine
	p := market.Params{
		FeeRateBps:         e.FeeBps,
		MaxListingDuration: e.MaxListingDuration.Duration,
		MaxOfferDuration:   e.MaxOfferDuration.Duration,
		MinAuctionDuration: e.MinAuctionDuration.Duration,
		MaxAuctionDuration: e.MaxAuctionDuration.Duration,
		MinBidIncrementBps: e.MinBidIncrementBps,
		ExtensionWindow:    e.ExtensionWindow.Duration,
		NativeRefundGas:    e.NativeRefundGas,
		MaxBatchSize:       e.MaxBatchSize,
	}
	var err error
	if p.Address, err = resolveAddress(e.Address); err != nil {
		return market.Params{}, fmt.Errorf("address: %w", err)
	}
	if p.Owner, err = resolveAddress(e.Owner); err != nil {
		return market.Params{}, fmt.Errorf("owner: %w", err)
	}
	if p.FeeRecipient, err = resolveAddress(e.FeeRecipient); err != nil {
		return market.Params{}, fmt.Errorf("fee_recipient: %w", err)
	}
	for _, raw := range e.PaymentMethods {
		m, err := ResolvePaymentMethod(raw)
		if err != nil {
			return market.Params{}, fmt.Errorf("payment_methods: %w", err)
		}
		p.PaymentMethods = append(p.PaymentMethods, m)
	}
	if err := p.Validate(); err != nil {
		return market.Params{}, err
	}
	return p, nil
}

// KeeperAccount returns the address the keeper finalizes auctions from.
func (c *Config) KeeperAccount() common.Address {
	addr, _ := resolveAddress(c.Keeper.Account)
	return addr
}

// KeeperKey returns where the keeper's signing key comes from.
func (c *Config) KeeperKey() crypto.KeySource {
	return crypto.KeySource{
		RawKey:   c.Keeper.PrivateKey,
		KeyFile:  c.Keeper.KeyFile,
		Password: c.Keeper.KeyPassword,
	}
}

// SignatureDomain returns the EIP-712 domain API requests are signed under.
func (c *Config) SignatureDomain() (crypto.Domain, error) {
	addr, err := resolveAddress(c.Engine.Address)
	if err != nil {
		return crypto.Domain{}, fmt.Errorf("engine address: %w", err)
	}
	return crypto.NewDomain(c.Engine.ChainID, addr), nil
}

// ResolveAddress maps a hex address or devnet account name to an address.
func ResolveAddress(s string) (common.Address, error) {
	return resolveAddress(s)
}

// ResolvePaymentMethod maps "native", a token address or a devnet token name
// to a payment method.
func ResolvePaymentMethod(s string) (domain.PaymentMethod, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "native") {
		return domain.Native, nil
	}
	addr, err := resolveAddress(s)
	if err != nil {
		return domain.PaymentMethod{}, err
	}
	return domain.TokenMethod(addr), nil
}

func resolveAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return common.Address{}, fmt.Errorf("must not be empty")
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		if !common.IsHexAddress(s) {
			return common.Address{}, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	default:
		return chain.AccountFor(s), nil
	}
}

// DevnetAmounts parses the devnet funding and mint amounts.
func (d DevnetConfig) DevnetAmounts() (fund, mint *big.Int, err error) {
	if fund, err = parseAmount(d.FundAmount); err != nil {
		return nil, nil, fmt.Errorf("fund_amount: %w", err)
	}
	if len(d.Tokens) == 0 {
		return fund, new(big.Int), nil
	}
	if mint, err = parseAmount(d.MintAmount); err != nil {
		return nil, nil, fmt.Errorf("mint_amount: %w", err)
	}
	return fund, mint, nil
}

func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 0)
	if !ok || n.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return n, nil
}
