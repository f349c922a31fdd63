package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// CreateAuction opens an ascending auction on an asset the caller owns.
// The asset stays with the seller until finalization.
func (e *Engine) CreateAuction(ctx context.Context, call domain.Call, collection common.Address, assetID *big.Int, pm domain.PaymentMethod, startPrice *big.Int, duration time.Duration) (uint64, error) {
	var id uint64
	err := e.transact(ctx, "create auction", func(now time.Time) error {
		if err := e.validateSale(call, assetID, pm, startPrice, duration, e.params.MinAuctionDuration, e.params.MaxAuctionDuration); err != nil {
			return err
		}
		if err := e.requireOwnedAndApproved(ctx, collection, assetID, call.From); err != nil {
			return err
		}
		key := keyOf(collection, assetID)
		if prevID, ok := e.activeAuction[key]; ok {
			return fmt.Errorf("%w: auction %d", domain.ErrAssetAlreadyListed, prevID)
		}

		a := domain.Auction{
			ID:            e.nextID(&e.seq.auction),
			Seller:        call.From,
			Collection:    collection,
			AssetID:       domain.CloneAmount(assetID),
			PaymentMethod: pm,
			StartPrice:    domain.CloneAmount(startPrice),
			CurrentBid:    new(big.Int),
			CurrentBidder: domain.NoBidder(),
			StartTime:     now,
			EndTime:       now.Add(duration),
			Status:        domain.AuctionStatusActive,
			UpdatedAt:     now,
		}
		e.putAuction(a)
		setEntry(&e.journal, e.activeAuction, key, a.ID)

		snap := a.Clone()
		e.emit(now, domain.Event{
			Type:     domain.EventAuctionCreated,
			EntityID: a.ID,
			Actor:    call.From,
			Auction:  &snap,
			Detail: map[string]string{
				"start_price": a.StartPrice.String(),
				"end_time":    a.EndTime.Format(time.RFC3339),
			},
		})
		id = a.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// minimumBid is the start price before the first bid, and the current bid
// raised by the minimum increment afterwards.
func (e *Engine) minimumBid(a domain.Auction) *big.Int {
	if !a.HasBid() {
		return domain.CloneAmount(a.StartPrice)
	}
	return new(big.Int).Add(a.CurrentBid, domain.ApplyBps(a.CurrentBid, e.params.MinBidIncrementBps))
}

// PlaceBid bids amount on an active auction. The new bid is collected
// before the previous bidder is refunded; a refund that cannot be pushed
// is credited to the withdrawal ledger. A bid inside the extension window
// pushes the end time to now plus the window.
func (e *Engine) PlaceBid(ctx context.Context, call domain.Call, id uint64, amount *big.Int) error {
	return e.transact(ctx, fmt.Sprintf("bid on auction %d", id), func(now time.Time) error {
		if err := e.requireNotPaused(); err != nil {
			return err
		}
		a, ok := e.auctions[id]
		if !ok || !a.IsActive() {
			return domain.ErrAuctionNotActive
		}
		if a.Ended(now) {
			return domain.ErrAuctionEnded
		}
		if call.From == a.Seller {
			return domain.ErrSellerCannotBid
		}
		if amount == nil {
			return domain.ErrBidTooLow
		}
		if floor := e.minimumBid(a); amount.Cmp(floor) < 0 {
			return fmt.Errorf("%w: %s < %s", domain.ErrBidTooLow, amount, floor)
		}

		if err := e.collect(ctx, call, a.PaymentMethod, amount); err != nil {
			return err
		}

		prevBidder, prevBid := a.CurrentBidder, a.CurrentBid
		a.CurrentBid = domain.CloneAmount(amount)
		a.CurrentBidder = domain.BidderOf(call.From)
		extended := false
		if a.EndTime.Sub(now) < e.params.ExtensionWindow {
			a.EndTime = now.Add(e.params.ExtensionWindow)
			extended = true
		}
		a.UpdatedAt = now
		e.putAuction(a)

		snap := a.Clone()
		e.emit(now, domain.Event{
			Type:     domain.EventBidPlaced,
			EntityID: a.ID,
			Actor:    call.From,
			Auction:  &snap,
			Detail: map[string]string{
				"amount":   amount.String(),
				"end_time": a.EndTime.Format(time.RFC3339),
				"extended": fmt.Sprint(extended),
			},
		})

		if addr, ok := prevBidder.Address(); ok {
			e.refund(ctx, now, addr, a.PaymentMethod, prevBid, fmt.Sprintf("outbid on auction %d", a.ID))
		}
		return nil
	})
}

// FinalizeAuction closes an auction whose end time has passed. Anyone may
// call it. With a bid the asset and payment are settled; without one the
// auction is cancelled. If the seller no longer owns the asset or has
// revoked the engine's approval, the auction is cancelled and the winning
// bid is credited to the bidder's pending withdrawals.
func (e *Engine) FinalizeAuction(ctx context.Context, call domain.Call, id uint64) error {
	return e.transact(ctx, fmt.Sprintf("finalize auction %d", id), func(now time.Time) error {
		if err := requireNoValue(call); err != nil {
			return err
		}
		a, ok := e.auctions[id]
		if !ok || !a.IsActive() {
			return domain.ErrAuctionNotActive
		}
		if !a.Ended(now) {
			return domain.ErrAuctionNotEnded
		}

		bidder, hasBid := a.CurrentBidder.Address()
		if !hasBid {
			e.closeAuction(now, a, call.From, "no_bids")
			return nil
		}
		if err := e.requireOwnedAndApproved(ctx, a.Collection, a.AssetID, a.Seller); err != nil {
			e.closeAuction(now, a, call.From, "asset_unavailable")
			e.credit(now, bidder, a.PaymentMethod, a.CurrentBid, fmt.Sprintf("auction %d cancelled: asset unavailable", a.ID))
			return nil
		}

		a.Status = domain.AuctionStatusFinalized
		a.UpdatedAt = now
		e.putAuction(a)
		deleteEntry(&e.journal, e.activeAuction, keyOf(a.Collection, a.AssetID))

		s, err := e.quote(ctx, a.Collection, a.AssetID, a.Seller, bidder, a.PaymentMethod, a.CurrentBid)
		if err != nil {
			return err
		}

		snap, sold := a.Clone(), s
		e.emit(now, domain.Event{
			Type:       domain.EventAuctionFinalized,
			EntityID:   a.ID,
			Actor:      call.From,
			Auction:    &snap,
			Settlement: &sold,
			Detail:     settlementDetail(s),
		})
		return e.settle(ctx, a.Collection, a.AssetID, s)
	})
}

// CancelAuction lets the seller withdraw an auction nobody has bid on.
func (e *Engine) CancelAuction(ctx context.Context, call domain.Call, id uint64) error {
	return e.transact(ctx, fmt.Sprintf("cancel auction %d", id), func(now time.Time) error {
		if err := requireNoValue(call); err != nil {
			return err
		}
		a := e.auctions[id]
		if a.Seller != call.From {
			return domain.ErrNotSeller
		}
		if !a.IsActive() {
			return domain.ErrAuctionNotActive
		}
		if a.HasBid() {
			return domain.ErrHasActiveBids
		}
		e.closeAuction(now, a, call.From, "seller")
		return nil
	})
}

func (e *Engine) closeAuction(now time.Time, a domain.Auction, actor common.Address, reason string) {
	a.Status = domain.AuctionStatusCancelled
	a.UpdatedAt = now
	e.putAuction(a)
	deleteEntry(&e.journal, e.activeAuction, keyOf(a.Collection, a.AssetID))

	snap := a.Clone()
	e.emit(now, domain.Event{
		Type:     domain.EventAuctionCancelled,
		EntityID: a.ID,
		Actor:    actor,
		Auction:  &snap,
		Detail:   map[string]string{"reason": reason},
	})
}
