package market_test

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
)

func TestGetListings_Window(t *testing.T) {
	h := newHarness(t)
	seller := h.account("seller")
	a := h.list(seller, h.mint(seller), 10)
	b := h.list(seller, h.mint(seller), 20)
	c := h.list(seller, h.mint(seller), 30)
	ids := []uint64{a, b, 999, c}

	got := h.engine.GetListings(ids, 1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, b, got[0].ID)
	assert.Zero(t, got[1].ID, "unknown ids read as zeroed records")
	assert.False(t, got[1].Exists())

	assert.Len(t, h.engine.GetListings(ids, 2, 100), 2)
	assert.Empty(t, h.engine.GetListings(ids, 4, 1))
	assert.Empty(t, h.engine.GetListings(ids, 10, 1))
	assert.Empty(t, h.engine.GetListings(ids, 0, 0))
	assert.Empty(t, h.engine.GetListings(nil, 0, 10))

	auction := h.auction(seller, h.mint(seller), 10)
	auctions := h.engine.GetAuctions([]uint64{auction, 77}, 0, 5)
	require.Len(t, auctions, 2)
	assert.Equal(t, auction, auctions[0].ID)
	assert.Zero(t, auctions[1].ID)

	assert.Empty(t, h.engine.GetOffers([]uint64{1}, 1, 5))
}

func TestBatchCancelListings_AllOrNothing(t *testing.T) {
	h := newHarness(t)
	seller, other := h.account("seller"), h.account("other")
	a := h.list(seller, h.mint(seller), 10)
	b := h.list(seller, h.mint(seller), 20)
	foreign := h.list(other, h.mint(other), 30)

	err := h.engine.BatchCancelListings(h.ctx, domain.CallFrom(seller), []uint64{a, b, foreign})
	assert.ErrorIs(t, err, domain.ErrNotSeller)
	assert.True(t, h.engine.GetListing(a).Active)
	assert.True(t, h.engine.GetListing(b).Active)

	require.NoError(t, h.engine.BatchCancelListings(h.ctx, domain.CallFrom(seller), []uint64{a, b}))
	assert.False(t, h.engine.GetListing(a).Active)
	assert.False(t, h.engine.GetListing(b).Active)
}

func TestBatchCreateListings(t *testing.T) {
	h := newHarness(t, func(p *market.Params) { p.MaxBatchSize = 3 })
	seller := h.account("seller")
	params := func(n int) []domain.ListingParams {
		out := make([]domain.ListingParams, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, domain.ListingParams{
				Collection:    h.collection,
				AssetID:       h.mint(seller),
				PaymentMethod: domain.Native,
				Price:         big.NewInt(int64(10 * (i + 1))),
				Duration:      time.Hour,
			})
		}
		return out
	}

	_, err := h.engine.BatchCreateListings(h.ctx, domain.CallFrom(seller), params(4))
	assert.ErrorIs(t, err, domain.ErrBatchTooLarge)

	bad := params(2)
	bad[1].Price = big.NewInt(0)
	_, err = h.engine.BatchCreateListings(h.ctx, domain.CallFrom(seller), bad)
	assert.ErrorIs(t, err, domain.ErrInvalidPrice)
	assert.Zero(t, h.engine.Stats().Listings, "a failed batch creates nothing")

	ids, err := h.engine.BatchCreateListings(h.ctx, domain.CallFrom(seller), params(3))
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestBatchUpdatePrices(t *testing.T) {
	h := newHarness(t)
	seller := h.account("seller")
	a := h.list(seller, h.mint(seller), 10)
	b := h.list(seller, h.mint(seller), 20)

	err := h.engine.BatchUpdatePrices(h.ctx, domain.CallFrom(seller), []uint64{a, b}, []*big.Int{big.NewInt(1)})
	assert.ErrorIs(t, err, domain.ErrArrayLengthMismatch)

	require.NoError(t, h.engine.BatchUpdatePrices(h.ctx, domain.CallFrom(seller), []uint64{a, b}, []*big.Int{big.NewInt(11), big.NewInt(22)}))
	assert.Equal(t, int64(11), h.engine.GetListing(a).Price.Int64())
	assert.Equal(t, int64(22), h.engine.GetListing(b).Price.Int64())
}
