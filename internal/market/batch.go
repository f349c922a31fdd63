package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func (e *Engine) checkBatch(n int) error {
	if n > e.params.MaxBatchSize {
		return fmt.Errorf("%w: %d > %d", domain.ErrBatchTooLarge, n, e.params.MaxBatchSize)
	}
	return nil
}

// BatchCreateListings creates every listing or none.
func (e *Engine) BatchCreateListings(ctx context.Context, call domain.Call, params []domain.ListingParams) ([]uint64, error) {
	var ids []uint64
	err := e.transact(ctx, "batch create listings", func(now time.Time) error {
		if err := e.checkBatch(len(params)); err != nil {
			return err
		}
		ids = make([]uint64, 0, len(params))
		for i, p := range params {
			id, err := e.createListing(ctx, now, call, p)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// BatchCancelListings cancels every listing or none.
func (e *Engine) BatchCancelListings(ctx context.Context, call domain.Call, ids []uint64) error {
	return e.transact(ctx, "batch cancel listings", func(now time.Time) error {
		if err := e.checkBatch(len(ids)); err != nil {
			return err
		}
		for _, id := range ids {
			if err := e.cancelListing(now, call, id); err != nil {
				return fmt.Errorf("listing %d: %w", id, err)
			}
		}
		return nil
	})
}

// BatchUpdatePrices sets prices[i] on listing ids[i], all or nothing.
func (e *Engine) BatchUpdatePrices(ctx context.Context, call domain.Call, ids []uint64, prices []*big.Int) error {
	return e.transact(ctx, "batch update prices", func(now time.Time) error {
		if len(ids) != len(prices) {
			return fmt.Errorf("%w: %d ids, %d prices", domain.ErrArrayLengthMismatch, len(ids), len(prices))
		}
		if err := e.checkBatch(len(ids)); err != nil {
			return err
		}
		for i, id := range ids {
			if err := e.updateListing(now, call, id, prices[i]); err != nil {
				return fmt.Errorf("listing %d: %w", id, err)
			}
		}
		return nil
	})
}

// window returns the ids[offset:offset+limit] sub-slice, clamped. It is
// empty when offset is past the end or limit is not positive.
func window(ids []uint64, offset, limit int) []uint64 {
	if offset < 0 || offset >= len(ids) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(ids) || end < offset {
		end = len(ids)
	}
	return ids[offset:end]
}

// GetListings returns the listings for ids[offset:offset+limit]. Unknown
// ids yield zeroed records.
func (e *Engine) GetListings(ids []uint64, offset, limit int) []domain.Listing {
	page := window(ids, offset, limit)
	out := make([]domain.Listing, 0, len(page))
	for _, id := range page {
		out = append(out, e.GetListing(id))
	}
	return out
}

// GetAuctions is GetListings for auctions.
func (e *Engine) GetAuctions(ids []uint64, offset, limit int) []domain.Auction {
	page := window(ids, offset, limit)
	out := make([]domain.Auction, 0, len(page))
	for _, id := range page {
		out = append(out, e.GetAuction(id))
	}
	return out
}

// GetOffers is GetListings for offers.
func (e *Engine) GetOffers(ids []uint64, offset, limit int) []domain.Offer {
	page := window(ids, offset, limit)
	out := make([]domain.Offer, 0, len(page))
	for _, id := range page {
		out = append(out, e.GetOffer(id))
	}
	return out
}
