package app

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/cache/local"
	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/config"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestWire_InProcessDevnet(t *testing.T) {
	cfg := config.Defaults()
	cfg.Devnet.Tokens = []string{"usd"}
	cfg.Engine.PaymentMethods = []string{"native", "usd"}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	deps, cleanup, err := Wire(context.Background(), &cfg, logger)
	require.NoError(t, err)
	defer cleanup()

	assert.IsType(t, &local.Bus{}, deps.SignalBus)
	assert.Nil(t, deps.LockManager)
	assert.Nil(t, deps.History, "history needs postgres")
	assert.Nil(t, deps.Archive, "archiving needs postgres and s3")
	require.NotNil(t, deps.Devnet)
	assert.Empty(t, deps.Checks)

	alice := chain.AccountFor("alice")
	fund, _ := new(big.Int).SetString(cfg.Devnet.FundAmount, 10)
	assert.Equal(t, 0, deps.Ledger.NativeBalance(alice).Cmp(fund))

	usd, err := config.ResolvePaymentMethod("usd")
	require.NoError(t, err)
	bal, err := deps.Ledger.Tokens().BalanceOf(context.Background(), usd.Token(), alice)
	require.NoError(t, err)
	assert.Positive(t, bal.Sign())

	status := deps.Market.Status()
	assert.ElementsMatch(t, []domain.PaymentMethod{domain.Native, usd}, status.PaymentMethods)
	assert.Equal(t, chain.AccountFor("owner"), status.Owner)
}

func TestWire_RejectsBadDevnetAccount(t *testing.T) {
	cfg := config.Defaults()
	cfg.Devnet.Accounts = []string{"0xzz"}

	_, _, err := Wire(context.Background(), &cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "seed ledger")
}
