package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// CreateOffer escrows price from the caller as a standing bid for an
// asset. The asset does not need to be listed.
func (e *Engine) CreateOffer(ctx context.Context, call domain.Call, collection common.Address, assetID *big.Int, pm domain.PaymentMethod, price *big.Int, duration time.Duration) (uint64, error) {
	var id uint64
	err := e.transact(ctx, "create offer", func(now time.Time) error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if err := validateCollection(collection); err != nil {
			return err
		}
		if err := validateAssetID(assetID); err != nil {
			return err
		}
		if err := validatePrice(price); err != nil {
			return err
		}
		if err := validateDuration(duration, 0, e.params.MaxOfferDuration); err != nil {
			return err
		}
		if err := e.requireMethod(pm); err != nil {
			return err
		}
		if err := e.collect(ctx, call, pm, price); err != nil {
			return err
		}

		o := domain.Offer{
			ID:            e.nextID(&e.seq.offer),
			Offerer:       call.From,
			Collection:    collection,
			AssetID:       domain.CloneAmount(assetID),
			PaymentMethod: pm,
			Price:         domain.CloneAmount(price),
			Expiry:        now.Add(duration),
			Active:        true,
			UpdatedAt:     now,
		}
		e.putOffer(o)

		snap := o.Clone()
		e.emit(now, domain.Event{
			Type:     domain.EventOfferCreated,
			EntityID: o.ID,
			Actor:    call.From,
			Offer:    &snap,
			Detail: map[string]string{
				"price":  o.Price.String(),
				"expiry": o.Expiry.Format(time.RFC3339),
			},
		})
		id = o.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AcceptOffer sells the asset to the offerer from the escrowed funds. The
// caller must own the asset and have approved the engine. An active
// listing of the same asset by the caller is closed.
func (e *Engine) AcceptOffer(ctx context.Context, call domain.Call, id uint64) (domain.Settlement, error) {
	var out domain.Settlement
	err := e.transact(ctx, fmt.Sprintf("accept offer %d", id), func(now time.Time) error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		if err := requireNoValue(call); err != nil {
			return err
		}
		o, ok := e.offers[id]
		if !ok || !o.Live(now) {
			return domain.ErrOfferNotActive
		}
		if err := e.requireOwnedAndApproved(ctx, o.Collection, o.AssetID, call.From); err != nil {
			return err
		}

		o.Active = false
		o.UpdatedAt = now
		e.putOffer(o)

		if lid, ok := e.activeListing[keyOf(o.Collection, o.AssetID)]; ok {
			if l := e.listings[lid]; l.Active && l.Seller == call.From {
				e.closeListing(now, l, call.From, "offer_accepted")
			}
		}

		s, err := e.quote(ctx, o.Collection, o.AssetID, call.From, o.Offerer, o.PaymentMethod, o.Price)
		if err != nil {
			return err
		}

		snap, sold := o.Clone(), s
		e.emit(now, domain.Event{
			Type:       domain.EventOfferAccepted,
			EntityID:   o.ID,
			Actor:      call.From,
			Offer:      &snap,
			Settlement: &sold,
			Detail:     settlementDetail(s),
		})

		if err := e.settle(ctx, o.Collection, o.AssetID, s); err != nil {
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

// CancelOffer returns the escrow to the offerer. Expired offers can still
// be cancelled.
func (e *Engine) CancelOffer(ctx context.Context, call domain.Call, id uint64) error {
	return e.transact(ctx, fmt.Sprintf("cancel offer %d", id), func(now time.Time) error {
		if err := requireNoValue(call); err != nil {
			return err
		}
		o := e.offers[id]
		if o.Offerer != call.From {
			return domain.ErrNotOfferer
		}
		if !o.Active {
			return domain.ErrOfferNotActive
		}

		o.Active = false
		o.UpdatedAt = now
		e.putOffer(o)

		snap := o.Clone()
		e.emit(now, domain.Event{
			Type:     domain.EventOfferCancelled,
			EntityID: o.ID,
			Actor:    call.From,
			Offer:    &snap,
			Detail:   map[string]string{"refund": o.Price.String()},
		})
		return e.pay(ctx, o.Offerer, o.PaymentMethod, o.Price)
	})
}
