package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	p, err := cfg.EngineParams()
	require.NoError(t, err)
	assert.Equal(t, chain.AccountFor("owner"), p.Owner)
	assert.Equal(t, chain.AccountFor("engine"), p.Address)
	assert.Equal(t, []domain.PaymentMethod{domain.Native}, p.PaymentMethods)
	assert.Equal(t, chain.AccountFor("keeper"), cfg.KeeperAccount())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "marketd.toml")
	token := "0x00000000000000000000000000000000000000aa"
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "full"

[engine]
fee_bps = 500
max_listing_duration = "30d"
extension_window = "5m"
payment_methods = ["native", "`+token+`"]

[server]
port = 9090
`), 0o600))

	t.Setenv("MARKETD_SERVER_API_KEY", "secret")
	t.Setenv("MARKETD_ENGINE_FEE_BPS", "300")
	t.Setenv("MARKETD_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, uint64(300), cfg.Engine.FeeBps)
	assert.Equal(t, 30*24*time.Hour, cfg.Engine.MaxListingDuration.Duration)
	assert.Equal(t, 5*time.Minute, cfg.Engine.ExtensionWindow.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)

	p, err := cfg.EngineParams()
	require.NoError(t, err)
	assert.Equal(t, []domain.PaymentMethod{domain.Native, domain.TokenMethod(common.HexToAddress(token))}, p.PaymentMethods)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Engine.FeeBps = 20_000
	cfg.Engine.Owner = "0xnothex"
	cfg.Server.Port = 0
	cfg.Notify.TelegramToken = "t"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "engine: owner: invalid address")
	assert.Contains(t, msg, "server: port must be 1-65535")
	assert.Contains(t, msg, "telegram_token and telegram_chat_id")
}

func TestValidate_ArchiveModeNeedsStorage(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "archive"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires both postgres and s3")

	cfg.Postgres.DSN = "postgres://localhost/marketengine"
	cfg.S3.Bucket = "archive"
	assert.NoError(t, cfg.Validate())
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration("2d")
	require.NoError(t, err)
	assert.Equal(t, 48*time.Hour, d)

	d, err = parseDuration("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDuration("xd")
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pw"
	cfg.Server.APIKey = "key"
	cfg.Notify.DiscordWebhookURL = "https://discord.example/hook"
	cfg.Keeper.KeyPassword = "hunter2"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Keeper.KeyPassword)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Notify.DiscordWebhookURL)
	assert.Empty(t, out.Redis.Password)
	assert.Equal(t, "key", cfg.Server.APIKey)

	out.Devnet.Accounts[0] = "mallory"
	assert.Equal(t, "alice", cfg.Devnet.Accounts[0])
}

func TestSignatureDomain(t *testing.T) {
	cfg := Defaults()
	d, err := cfg.SignatureDomain()
	require.NoError(t, err)
	assert.Equal(t, int64(31337), d.ChainID)
	assert.Equal(t, chain.AccountFor("engine"), d.VerifyingContract)

	cfg.Server.RequireSignatures = true
	cfg.Server.SignatureMaxSkew.Duration = 0
	cfg.Engine.ChainID = 0
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "signature_max_skew")
	assert.Contains(t, err.Error(), "chain_id")
}

func TestDevnetAmounts(t *testing.T) {
	d := DevnetConfig{FundAmount: "0x10", Tokens: []string{"usd"}, MintAmount: "25"}
	fund, mint, err := d.DevnetAmounts()
	require.NoError(t, err)
	assert.Equal(t, int64(16), fund.Int64())
	assert.Equal(t, int64(25), mint.Int64())

	d.MintAmount = "-1"
	_, _, err = d.DevnetAmounts()
	assert.Error(t, err)
}
