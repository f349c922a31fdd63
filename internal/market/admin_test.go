package market_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
)

func TestAdmin_OwnerOnly(t *testing.T) {
	h := newHarness(t)
	mallory := chain.AccountFor("mallory")
	call := domain.CallFrom(mallory)

	assert.ErrorIs(t, h.engine.SetFeeRate(h.ctx, call, 100), domain.ErrNotOwner)
	assert.ErrorIs(t, h.engine.SetFeeRecipient(h.ctx, call, mallory), domain.ErrNotOwner)
	assert.ErrorIs(t, h.engine.SetPaymentMethod(h.ctx, call, domain.Native, false), domain.ErrNotOwner)
	assert.ErrorIs(t, h.engine.Pause(h.ctx, call), domain.ErrNotOwner)
	assert.ErrorIs(t, h.engine.Unpause(h.ctx, call), domain.ErrNotOwner)
	assert.Empty(t, h.sink.events)
}

func TestAdmin_FeeRate(t *testing.T) {
	h := newHarness(t)
	owner := domain.CallFrom(h.owner)

	err := h.engine.SetFeeRate(h.ctx, owner, market.MaxFeeRateBps+1)
	assert.ErrorIs(t, err, domain.ErrFeeTooHigh)
	assert.Equal(t, uint64(250), h.engine.FeeRateBps())

	require.NoError(t, h.engine.SetFeeRate(h.ctx, owner, market.MaxFeeRateBps))
	assert.Equal(t, uint64(market.MaxFeeRateBps), h.engine.FeeRateBps())
	assert.Equal(t, "1000", h.sink.last().Detail["bps"])

	newFeeTo := chain.AccountFor("treasury")
	assert.ErrorIs(t, h.engine.SetFeeRecipient(h.ctx, owner, [20]byte{}), domain.ErrInvalidAddress)
	require.NoError(t, h.engine.SetFeeRecipient(h.ctx, owner, newFeeTo))

	seller, buyer := h.account("seller"), h.account("buyer")
	id := h.list(seller, h.mint(seller), 100)
	s, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Fee.Int64())
	assert.Equal(t, int64(10), h.native(newFeeTo))
}

func TestAdmin_PaymentMethods(t *testing.T) {
	h := newHarness(t)
	owner := domain.CallFrom(h.owner)
	seller := h.account("seller")
	asset := h.mint(seller)

	require.NoError(t, h.engine.SetPaymentMethod(h.ctx, owner, h.tokenMethod(), false))
	assert.False(t, h.engine.Supports(h.tokenMethod()))
	assert.Equal(t, []domain.PaymentMethod{domain.Native}, h.engine.PaymentMethods())

	_, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, h.tokenMethod(), big.NewInt(1), time.Hour)
	assert.ErrorIs(t, err, domain.ErrPaymentMethodNotSupported)

	require.NoError(t, h.engine.SetPaymentMethod(h.ctx, owner, h.tokenMethod(), true))
	_, err = h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, h.tokenMethod(), big.NewInt(1), time.Hour)
	assert.NoError(t, err)
}

func TestAdmin_PauseKeepsExitsOpen(t *testing.T) {
	h := newHarness(t)
	owner := domain.CallFrom(h.owner)
	seller, alice, bob := h.account("seller"), h.account("alice"), h.account("bob")

	listing := h.list(seller, h.mint(seller), 100)
	auction := h.auction(seller, h.mint(seller), 100)
	require.NoError(t, h.bid(alice, auction, 100))
	offer, err := h.engine.CreateOffer(h.ctx, pay(bob, 50), h.collection, h.mint(seller), domain.Native, big.NewInt(50), time.Hour)
	require.NoError(t, err)

	require.NoError(t, h.engine.Pause(h.ctx, owner))
	assert.True(t, h.engine.Paused())

	_, err = h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, h.mint(seller), domain.Native, big.NewInt(1), time.Hour)
	assert.ErrorIs(t, err, domain.ErrPaused)
	_, err = h.engine.BuyListing(h.ctx, pay(bob, 100), listing)
	assert.ErrorIs(t, err, domain.ErrPaused)
	assert.ErrorIs(t, h.bid(bob, auction, 200), domain.ErrPaused)
	_, err = h.engine.AcceptOffer(h.ctx, domain.CallFrom(seller), offer)
	assert.ErrorIs(t, err, domain.ErrPaused)

	require.NoError(t, h.engine.CancelListing(h.ctx, domain.CallFrom(seller), listing))
	require.NoError(t, h.engine.CancelOffer(h.ctx, domain.CallFrom(bob), offer))
	h.clock.Add(time.Hour)
	require.NoError(t, h.engine.FinalizeAuction(h.ctx, domain.CallFrom(bob), auction))

	require.NoError(t, h.engine.Unpause(h.ctx, owner))
	assert.False(t, h.engine.Paused())
	assert.Equal(t, domain.EventUnpaused, h.sink.last().Type)
}

func TestNew_RejectsBadParams(t *testing.T) {
	params := market.DefaultParams()
	_, err := market.New(params, market.Backend{})
	assert.Error(t, err)

	params.Address = chain.AccountFor("engine")
	params.Owner = chain.AccountFor("owner")
	params.FeeRecipient = chain.AccountFor("fees")
	params.FeeRateBps = 5_000
	assert.Error(t, params.Validate())

	params.FeeRateBps = 250
	assert.NoError(t, params.Validate())
	_, err = market.New(params, market.Backend{})
	assert.Error(t, err, "collaborators are required")
}
