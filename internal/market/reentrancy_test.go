package market_test

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestReentrancy_AssetHookCannotReenter(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	first, second := h.mint(seller), h.mint(seller)
	firstID := h.list(seller, first, 100)
	secondID := h.list(seller, second, 100)

	var reentryErr error
	h.ledger.SetAssetHook(buyer, func(ctx context.Context, _ chain.AssetReceipt) error {
		_, reentryErr = h.engine.BuyListing(ctx, pay(buyer, 100), secondID)
		return nil
	})

	_, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), firstID)
	require.NoError(t, err)
	assert.ErrorIs(t, reentryErr, domain.ErrReentrantCall)
	assert.Equal(t, domain.KindState, domain.KindOf(reentryErr))

	assert.Equal(t, buyer, h.ownerOf(first))
	assert.Equal(t, seller, h.ownerOf(second))
	assert.True(t, h.engine.GetListing(secondID).Active)
	assert.Equal(t, int64(startingBalance-100), h.native(buyer))
}

func TestReentrancy_RejectedTransferRevertsEverything(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	h.ledger.SetRoyalty(h.collection, chain.AccountFor("artist"), 500)
	asset := h.mint(seller)
	id := h.list(seller, asset, 100)
	eventsBefore := len(h.sink.events)

	h.ledger.SetAssetHook(buyer, func(ctx context.Context, _ chain.AssetReceipt) error {
		_, err := h.engine.Withdraw(ctx, domain.CallFrom(buyer), domain.Native)
		return err
	})

	_, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.ErrorIs(t, err, domain.ErrReentrantCall)

	assert.True(t, h.engine.GetListing(id).Active)
	assert.Equal(t, id, h.engine.ActiveListingFor(h.collection, asset).ID)
	assert.Equal(t, seller, h.ownerOf(asset))
	assert.Equal(t, int64(startingBalance), h.native(buyer))
	assert.Equal(t, int64(startingBalance), h.native(seller))
	assert.Equal(t, int64(0), h.native(h.engineAddr))
	assert.Equal(t, int64(0), h.native(chain.AccountFor("artist")))
	assert.Len(t, h.sink.events, eventsBefore, "events of a failed operation are never delivered")

	h.ledger.SetAssetHook(buyer, nil)
	_, err = h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	require.NoError(t, err)
	assert.Equal(t, uint64(eventsBefore+1), h.sink.last().Seq, "sequence numbers of reverted events are reused")
}

func TestReentrancy_RefundHookIsCreditedInstead(t *testing.T) {
	h := newHarness(t)
	seller, alice, bob := h.account("seller"), h.account("alice"), h.account("bob")
	id := h.auction(seller, h.mint(seller), 100)

	var reentryErr error
	h.ledger.SetReceiveHook(alice, func(ctx context.Context, _ chain.Payment) error {
		reentryErr = h.bid(alice, id, 200)
		return reentryErr
	})

	require.NoError(t, h.bid(alice, id, 100))
	require.NoError(t, h.bid(bob, id, 105))

	assert.ErrorIs(t, reentryErr, domain.ErrReentrantCall)
	assert.Equal(t, int64(100), h.engine.PendingWithdrawal(alice, domain.Native).Int64())
	a := h.engine.GetAuction(id)
	bidder, _ := a.CurrentBidder.Address()
	assert.Equal(t, bob, bidder)
	assert.Equal(t, int64(105), a.CurrentBid.Int64())
}

func TestCollaboratorPanicRollsBack(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	asset := h.mint(seller)
	id := h.list(seller, asset, 100)

	h.ledger.SetAssetHook(buyer, func(context.Context, chain.AssetReceipt) error {
		panic("boom")
	})

	_, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	assert.ErrorIs(t, err, domain.ErrCollaboratorPanic)
	assert.True(t, h.engine.GetListing(id).Active)
	assert.Equal(t, seller, h.ownerOf(asset))
	assert.Equal(t, int64(startingBalance), h.native(buyer))

	// The guard is released after a panic.
	h.ledger.SetAssetHook(buyer, nil)
	_, err = h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	assert.NoError(t, err)
}

func TestCanceledContext(t *testing.T) {
	h := newHarness(t)
	seller := h.account("seller")
	asset := h.mint(seller)

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	_, err := h.engine.CreateListing(ctx, domain.CallFrom(seller), h.collection, asset, domain.Native, big.NewInt(1), time.Hour)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Zero(t, h.engine.Stats().Listings)
}
