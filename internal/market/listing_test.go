package market_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/chain"
	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestBuyListing_SplitsFeeRoyaltyAndProceeds(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	artist := chain.AccountFor("artist")
	h.ledger.SetRoyalty(h.collection, artist, 500)

	asset := h.mint(seller)
	id := h.list(seller, asset, 100)

	s, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	require.NoError(t, err)

	assert.Equal(t, int64(2), s.Fee.Int64())
	assert.Equal(t, int64(5), s.Royalty.Int64())
	assert.Equal(t, int64(93), s.SellerProceeds.Int64())
	assert.Equal(t, int64(100), s.Total().Int64())
	assert.Equal(t, artist, s.RoyaltyReceiver)

	assert.Equal(t, int64(startingBalance-100), h.native(buyer))
	assert.Equal(t, int64(startingBalance+93), h.native(seller))
	assert.Equal(t, int64(2), h.native(h.feeTo))
	assert.Equal(t, int64(5), h.native(artist))
	assert.Equal(t, int64(0), h.native(h.engineAddr))
	assert.Equal(t, buyer, h.ownerOf(asset))

	l := h.engine.GetListing(id)
	assert.False(t, l.Active)
	assert.Zero(t, h.engine.ActiveListingFor(h.collection, asset).ID)

	assert.Equal(t, []domain.EventType{domain.EventListingCreated, domain.EventListingSold}, h.sink.types())
	sold := h.sink.last()
	require.NotNil(t, sold.Settlement)
	assert.Equal(t, "93", sold.Detail["seller_proceeds"])

	_, err = h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
	assert.ErrorIs(t, err, domain.ErrListingNotActive)
}

func TestBuyListing_SplitAlwaysSumsToPrice(t *testing.T) {
	h := newHarness(t)
	seller := h.account("seller")
	h.ledger.Fund(seller, big.NewInt(1_000_000))
	h.ledger.SetRoyalty(h.collection, chain.AccountFor("artist"), 333)

	for _, price := range []int64{1, 7, 39, 40, 99, 101, 4_001, 77_777} {
		buyer := chain.AccountFor("buyer")
		h.ledger.Fund(buyer, big.NewInt(price))

		asset := h.mint(seller)
		id := h.list(seller, asset, price)
		s, err := h.engine.BuyListing(h.ctx, pay(buyer, price), id)
		require.NoError(t, err, "price %d", price)

		assert.Equal(t, price, s.Total().Int64(), "price %d", price)
		assert.Positive(t, s.SellerProceeds.Sign(), "price %d", price)
		assert.Equal(t, int64(0), h.native(h.engineAddr))
	}
}

func TestBuyListing_Rejections(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	asset := h.mint(seller)
	id := h.list(seller, asset, 100)

	t.Run("wrong native amount", func(t *testing.T) {
		_, err := h.engine.BuyListing(h.ctx, pay(buyer, 99), id)
		assert.ErrorIs(t, err, domain.ErrInvalidPrice)
		assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	})

	t.Run("unknown listing", func(t *testing.T) {
		_, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), 999)
		assert.ErrorIs(t, err, domain.ErrListingNotActive)
		assert.Equal(t, domain.KindState, domain.KindOf(err))
	})

	t.Run("expired", func(t *testing.T) {
		h.clock.Add(24 * time.Hour)
		_, err := h.engine.BuyListing(h.ctx, pay(buyer, 100), id)
		assert.ErrorIs(t, err, domain.ErrListingNotActive)
	})

	assert.Equal(t, int64(startingBalance), h.native(buyer))
	assert.Equal(t, seller, h.ownerOf(asset))
}

func TestBuyListing_TokenPayment(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	asset := h.mint(seller)

	id, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, h.tokenMethod(), big.NewInt(400), time.Hour)
	require.NoError(t, err)

	_, err = h.engine.BuyListing(h.ctx, pay(buyer, 400), id)
	assert.ErrorIs(t, err, domain.ErrUnexpectedValue)

	s, err := h.engine.BuyListing(h.ctx, domain.CallFrom(buyer), id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), s.Fee.Int64())
	assert.Equal(t, int64(startingBalance-400), h.tokens(buyer))
	assert.Equal(t, int64(startingBalance+390), h.tokens(seller))
	assert.Equal(t, int64(10), h.tokens(h.feeTo))
	assert.Equal(t, int64(startingBalance), h.native(buyer))
}

func TestBuyListing_FailedPullLeavesListingActive(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	asset := h.mint(seller)
	id, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, h.tokenMethod(), big.NewInt(400), time.Hour)
	require.NoError(t, err)

	require.NoError(t, h.ledger.SetFailMode(h.token, h.engineAddr, chain.FailReturnFalse))
	_, err = h.engine.BuyListing(h.ctx, domain.CallFrom(buyer), id)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.Equal(t, domain.KindPayment, domain.KindOf(err))
	assert.True(t, h.engine.GetListing(id).Active)
}

func TestCreateListing_Validation(t *testing.T) {
	h := newHarness(t)
	seller, other := h.account("seller"), h.account("other")
	asset := h.mint(seller)
	day := 24 * time.Hour

	cases := []struct {
		name     string
		call     domain.Call
		pm       domain.PaymentMethod
		price    *big.Int
		duration time.Duration
		want     error
	}{
		{"zero price", domain.CallFrom(seller), domain.Native, big.NewInt(0), day, domain.ErrInvalidPrice},
		{"nil price", domain.CallFrom(seller), domain.Native, nil, day, domain.ErrInvalidPrice},
		{"zero duration", domain.CallFrom(seller), domain.Native, big.NewInt(1), 0, domain.ErrInvalidDuration},
		{"too long", domain.CallFrom(seller), domain.Native, big.NewInt(1), 181 * day, domain.ErrInvalidDuration},
		{"unsupported method", domain.CallFrom(seller), domain.TokenMethod(chain.AccountFor("junk")), big.NewInt(1), day, domain.ErrPaymentMethodNotSupported},
		{"not owner", domain.CallFrom(other), domain.Native, big.NewInt(1), day, domain.ErrNotAssetOwner},
		{"value attached", pay(seller, 1), domain.Native, big.NewInt(1), day, domain.ErrUnexpectedValue},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.CreateListing(h.ctx, tc.call, h.collection, asset, tc.pm, tc.price, tc.duration)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("not approved", func(t *testing.T) {
		h.ledger.SetApprovalForAll(h.collection, seller, h.engineAddr, false)
		_, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, domain.Native, big.NewInt(1), day)
		assert.ErrorIs(t, err, domain.ErrNotApproved)
		assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))

		require.NoError(t, h.ledger.ApproveAsset(h.collection, asset, seller, h.engineAddr))
		_, err = h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, domain.Native, big.NewInt(1), day)
		assert.NoError(t, err)
	})

	t.Run("unknown asset", func(t *testing.T) {
		_, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, big.NewInt(404), domain.Native, big.NewInt(1), day)
		assert.ErrorIs(t, err, domain.ErrNotAssetOwner)
	})

	assert.Equal(t, uint64(1), h.engine.Stats().Listings)
}

func TestCreateListing_OneLiveListingPerAsset(t *testing.T) {
	h := newHarness(t)
	seller, buyer := h.account("seller"), h.account("buyer")
	asset := h.mint(seller)
	first := h.list(seller, asset, 100)

	_, err := h.engine.CreateListing(h.ctx, domain.CallFrom(seller), h.collection, asset, domain.Native, big.NewInt(50), time.Hour)
	assert.ErrorIs(t, err, domain.ErrAssetAlreadyListed)

	t.Run("expired listing is superseded", func(t *testing.T) {
		h.clock.Add(25 * time.Hour)
		second := h.list(seller, asset, 120)
		assert.False(t, h.engine.GetListing(first).Active)
		assert.Equal(t, second, h.engine.ActiveListingFor(h.collection, asset).ID)
	})

	t.Run("listing left by a previous owner is superseded", func(t *testing.T) {
		require.NoError(t, h.ledger.SafeTransferFrom(h.ctx, h.collection, seller, seller, buyer, asset))
		h.ledger.SetApprovalForAll(h.collection, buyer, h.engineAddr, true)

		third := h.list(buyer, asset, 300)
		assert.Equal(t, third, h.engine.ActiveListingFor(h.collection, asset).ID)
	})
}

func TestCancelAndUpdateListing(t *testing.T) {
	h := newHarness(t)
	seller, other := h.account("seller"), h.account("other")
	asset := h.mint(seller)
	id := h.list(seller, asset, 100)

	assert.ErrorIs(t, h.engine.UpdateListing(h.ctx, domain.CallFrom(other), id, big.NewInt(5)), domain.ErrNotSeller)
	assert.ErrorIs(t, h.engine.UpdateListing(h.ctx, domain.CallFrom(seller), id, big.NewInt(0)), domain.ErrInvalidPrice)
	require.NoError(t, h.engine.UpdateListing(h.ctx, domain.CallFrom(seller), id, big.NewInt(150)))
	assert.Equal(t, int64(150), h.engine.GetListing(id).Price.Int64())
	assert.Equal(t, "100", h.sink.last().Detail["old_price"])

	assert.ErrorIs(t, h.engine.CancelListing(h.ctx, domain.CallFrom(other), id), domain.ErrNotSeller)
	require.NoError(t, h.engine.CancelListing(h.ctx, domain.CallFrom(seller), id))
	assert.False(t, h.engine.GetListing(id).Active)
	assert.Equal(t, domain.EventListingCancelled, h.sink.last().Type)

	assert.ErrorIs(t, h.engine.CancelListing(h.ctx, domain.CallFrom(seller), id), domain.ErrListingNotActive)
	assert.ErrorIs(t, h.engine.UpdateListing(h.ctx, domain.CallFrom(seller), id, big.NewInt(1)), domain.ErrListingNotActive)

	h.list(seller, asset, 100)
}
