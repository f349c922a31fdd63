package service_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/service"
)

func TestKeeper_FinalizesEndedAuctions(t *testing.T) {
	f := newFixture(t, nil)
	seller, bidder := f.account("seller"), f.account("bidder")
	keeper := service.NewKeeper(f.svc, service.KeeperConfig{
		Account:   chain.AccountFor("keeper"),
		BatchSize: 10,
	}, f.clock, quiet)

	withBid := f.mint(seller)
	sold, err := f.svc.CreateAuction(f.ctx, domain.CallFrom(seller), f.params(withBid, 100, time.Hour))
	require.NoError(t, err)
	require.NoError(t, f.svc.PlaceBid(f.ctx, domain.CallFrom(bidder).WithValue(big.NewInt(150)), sold, big.NewInt(150)))

	unsold, err := f.svc.CreateAuction(f.ctx, domain.CallFrom(seller), f.params(f.mint(seller), 100, time.Hour))
	require.NoError(t, err)

	later, err := f.svc.CreateAuction(f.ctx, domain.CallFrom(seller), f.params(f.mint(seller), 100, 3*time.Hour))
	require.NoError(t, err)

	assert.Zero(t, keeper.Tick(f.ctx), "nothing has ended yet")

	f.clock.Add(2 * time.Hour)
	assert.Equal(t, 2, keeper.Tick(f.ctx))

	a, err := f.svc.Auction(sold)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusFinalized, a.Status)
	owner, err := f.ledger.OwnerOf(f.ctx, f.collection, withBid)
	require.NoError(t, err)
	assert.Equal(t, bidder, owner)

	a, err = f.svc.Auction(unsold)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionStatusCancelled, a.Status)

	a, err = f.svc.Auction(later)
	require.NoError(t, err)
	assert.True(t, a.IsActive())

	assert.Zero(t, keeper.Tick(f.ctx), "finalized auctions are not retried")
}

func TestKeeper_RespectsBatchSize(t *testing.T) {
	f := newFixture(t, nil)
	seller := f.account("seller")
	keeper := service.NewKeeper(f.svc, service.KeeperConfig{
		Account:   chain.AccountFor("keeper"),
		BatchSize: 2,
	}, f.clock, quiet)

	for i := 0; i < 3; i++ {
		_, err := f.svc.CreateAuction(f.ctx, domain.CallFrom(seller), f.params(f.mint(seller), 100, time.Hour))
		require.NoError(t, err)
	}
	f.clock.Add(time.Hour)

	assert.Equal(t, 2, keeper.Tick(f.ctx))
	assert.Equal(t, 1, keeper.Tick(f.ctx))
	assert.Zero(t, f.svc.Status().Stats.ActiveAuctions)
}

func TestKeeper_SkipsTickWithoutWriterLease(t *testing.T) {
	locks := &fakeLocks{}
	f := newFixture(t, locks)
	seller := f.account("seller")
	keeper := service.NewKeeper(f.svc, service.KeeperConfig{
		Account:   chain.AccountFor("keeper"),
		BatchSize: 10,
	}, f.clock, quiet)

	_, err := f.svc.CreateAuction(f.ctx, domain.CallFrom(seller), f.params(f.mint(seller), 100, time.Hour))
	require.NoError(t, err)
	f.clock.Add(2 * time.Hour)

	require.Len(t, locks.leases, 1)
	locks.leases[0].lose()
	locks.busy = 1

	assert.Zero(t, keeper.Tick(f.ctx))
	assert.Equal(t, 1, f.svc.Status().Stats.ActiveAuctions)

	assert.Equal(t, 1, keeper.Tick(f.ctx))
	assert.Zero(t, f.svc.Status().Stats.ActiveAuctions)
}

func TestDevnetService(t *testing.T) {
	f := newFixture(t, nil)
	devnet := service.NewDevnetService(f.svc, f.ledger, quiet)
	alice := chain.AccountFor("alice")
	usd := chain.AccountFor("usd")

	require.NoError(t, devnet.Fund(f.ctx, alice, big.NewInt(500)))
	assert.Error(t, devnet.Fund(f.ctx, alice, big.NewInt(0)))
	require.NoError(t, devnet.MintToken(f.ctx, usd, alice, big.NewInt(70)))
	require.NoError(t, devnet.MintToken(f.ctx, usd, alice, big.NewInt(30)))

	bal := devnet.Balances(alice, []common.Address{usd})
	assert.Equal(t, int64(500), bal.Native.Int64())
	assert.Equal(t, int64(100), bal.Tokens[usd].Int64())

	id := big.NewInt(9)
	require.NoError(t, devnet.MintAsset(f.ctx, f.collection, id, alice))
	owner, err := devnet.OwnerOf(f.ctx, f.collection, id)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	require.NoError(t, devnet.SetOperator(f.ctx, f.collection, alice, f.engineAddr, true))
	listingID, err := f.svc.CreateListing(f.ctx, domain.CallFrom(alice), f.params(id, 10, time.Hour))
	require.NoError(t, err)
	assert.NotZero(t, listingID)
}
