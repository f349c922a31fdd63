package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// CreateListing offers an asset the caller owns at a fixed price for
// duration. The engine must already be approved to move the asset.
func (e *Engine) CreateListing(ctx context.Context, call domain.Call, collection common.Address, assetID *big.Int, pm domain.PaymentMethod, price *big.Int, duration time.Duration) (uint64, error) {
	var id uint64
	err := e.transact(ctx, "create listing", func(now time.Time) error {
		var err error
		id, err = e.createListing(ctx, now, call, domain.ListingParams{
			Collection:    collection,
			AssetID:       assetID,
			PaymentMethod: pm,
			Price:         price,
			Duration:      duration,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (e *Engine) createListing(ctx context.Context, now time.Time, call domain.Call, p domain.ListingParams) (uint64, error) {
	if err := e.validateSale(call, p.AssetID, p.PaymentMethod, p.Price, p.Duration, 0, e.params.MaxListingDuration); err != nil {
		return 0, err
	}
	if err := e.requireOwnedAndApproved(ctx, p.Collection, p.AssetID, call.From); err != nil {
		return 0, err
	}

	key := keyOf(p.Collection, p.AssetID)
	if prevID, ok := e.activeListing[key]; ok {
		prev := e.listings[prevID]
		// A live listing by the current owner blocks a second one. Anything
		// else under this key is stale: expired, or left behind by a
		// previous owner.
		if prev.Live(now) && prev.Seller == call.From {
			return 0, fmt.Errorf("%w: listing %d", domain.ErrAssetAlreadyListed, prevID)
		}
		e.closeListing(now, prev, call.From, "superseded")
	}

	l := domain.Listing{
		ID:            e.nextID(&e.seq.listing),
		Seller:        call.From,
		Collection:    p.Collection,
		AssetID:       domain.CloneAmount(p.AssetID),
		PaymentMethod: p.PaymentMethod,
		Price:         domain.CloneAmount(p.Price),
		Expiry:        now.Add(p.Duration),
		Active:        true,
		UpdatedAt:     now,
	}
	e.putListing(l)
	setEntry(&e.journal, e.activeListing, key, l.ID)

	snap := l.Clone()
	e.emit(now, domain.Event{
		Type:     domain.EventListingCreated,
		EntityID: l.ID,
		Actor:    call.From,
		Listing:  &snap,
		Detail: map[string]string{
			"price":  l.Price.String(),
			"expiry": l.Expiry.Format(time.RFC3339),
		},
	})
	return l.ID, nil
}

// closeListing deactivates l and records it as cancelled.
func (e *Engine) closeListing(now time.Time, l domain.Listing, actor common.Address, reason string) {
	l.Active = false
	l.UpdatedAt = now
	e.putListing(l)
	e.dropActiveListing(l)

	snap := l.Clone()
	e.emit(now, domain.Event{
		Type:     domain.EventListingCancelled,
		EntityID: l.ID,
		Actor:    actor,
		Listing:  &snap,
		Detail:   map[string]string{"reason": reason},
	})
}

func (e *Engine) dropActiveListing(l domain.Listing) {
	key := keyOf(l.Collection, l.AssetID)
	if e.activeListing[key] == l.ID {
		deleteEntry(&e.journal, e.activeListing, key)
	}
}

// BuyListing buys a live listing at its price. For native listings the
// call must carry exactly the price; token listings are pulled from the
// caller.
func (e *Engine) BuyListing(ctx context.Context, call domain.Call, id uint64) (domain.Settlement, error) {
	var out domain.Settlement
	err := e.transact(ctx, fmt.Sprintf("buy listing %d", id), func(now time.Time) error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		l, ok := e.listings[id]
		if !ok || !l.Live(now) {
			return domain.ErrListingNotActive
		}

		if err := e.collect(ctx, call, l.PaymentMethod, l.Price); err != nil {
			return err
		}

		l.Active = false
		l.UpdatedAt = now
		e.putListing(l)
		e.dropActiveListing(l)

		s, err := e.quote(ctx, l.Collection, l.AssetID, l.Seller, call.From, l.PaymentMethod, l.Price)
		if err != nil {
			return err
		}

		snap, sold := l.Clone(), s
		e.emit(now, domain.Event{
			Type:       domain.EventListingSold,
			EntityID:   l.ID,
			Actor:      call.From,
			Listing:    &snap,
			Settlement: &sold,
			Detail:     settlementDetail(s),
		})

		if err := e.settle(ctx, l.Collection, l.AssetID, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return domain.Settlement{}, err
	}
	return out, nil
}

// CancelListing withdraws an active listing. Only its seller may cancel.
func (e *Engine) CancelListing(ctx context.Context, call domain.Call, id uint64) error {
	return e.transact(ctx, fmt.Sprintf("cancel listing %d", id), func(now time.Time) error {
		return e.cancelListing(now, call, id)
	})
}

func (e *Engine) cancelListing(now time.Time, call domain.Call, id uint64) error {
	if err := requireNoValue(call); err != nil {
		return err
	}
	l := e.listings[id]
	if l.Seller != call.From {
		return domain.ErrNotSeller
	}
	if !l.Active {
		return domain.ErrListingNotActive
	}
	e.closeListing(now, l, call.From, "seller")
	return nil
}

// UpdateListing changes the price of an active listing.
func (e *Engine) UpdateListing(ctx context.Context, call domain.Call, id uint64, price *big.Int) error {
	return e.transact(ctx, fmt.Sprintf("update listing %d", id), func(now time.Time) error {
		return e.updateListing(now, call, id, price)
	})
}

func (e *Engine) updateListing(now time.Time, call domain.Call, id uint64, price *big.Int) error {
	if err := requireNoValue(call); err != nil {
		return err
	}
	l := e.listings[id]
	if l.Seller != call.From {
		return domain.ErrNotSeller
	}
	if !l.Active {
		return domain.ErrListingNotActive
	}
	if err := validatePrice(price); err != nil {
		return err
	}

	old := l.Price
	l.Price = domain.CloneAmount(price)
	l.UpdatedAt = now
	e.putListing(l)

	snap := l.Clone()
	e.emit(now, domain.Event{
		Type:     domain.EventListingUpdated,
		EntityID: l.ID,
		Actor:    call.From,
		Listing:  &snap,
		Detail: map[string]string{
			"old_price": old.String(),
			"price":     l.Price.String(),
		},
	})
	return nil
}

func settlementDetail(s domain.Settlement) map[string]string {
	return map[string]string{
		"price":           s.Price.String(),
		"fee":             s.Fee.String(),
		"royalty":         s.Royalty.String(),
		"seller_proceeds": s.SellerProceeds.String(),
		"buyer":           s.Buyer.Hex(),
		"seller":          s.Seller.Hex(),
	}
}
