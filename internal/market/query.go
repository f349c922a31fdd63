package market

import (
	"bytes"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// GetListing returns listing id, or a zeroed record if it never existed.
func (e *Engine) GetListing(id uint64) domain.Listing {
	l, ok := e.listings[id]
	if !ok {
		return domain.Listing{}
	}
	return l.Clone()
}

func (e *Engine) GetAuction(id uint64) domain.Auction {
	a, ok := e.auctions[id]
	if !ok {
		return domain.Auction{}
	}
	return a.Clone()
}

func (e *Engine) GetOffer(id uint64) domain.Offer {
	o, ok := e.offers[id]
	if !ok {
		return domain.Offer{}
	}
	return o.Clone()
}

// ActiveListingFor returns the listing currently indexed for the asset. It
// may have expired; check Live.
func (e *Engine) ActiveListingFor(collection common.Address, assetID *big.Int) domain.Listing {
	if assetID == nil {
		return domain.Listing{}
	}
	id, ok := e.activeListing[keyOf(collection, assetID)]
	if !ok {
		return domain.Listing{}
	}
	return e.GetListing(id)
}

// MinimumBid returns the smallest bid auction id accepts right now.
func (e *Engine) MinimumBid(id uint64) (*big.Int, error) {
	a, ok := e.auctions[id]
	if !ok || !a.IsActive() {
		return nil, domain.ErrAuctionNotActive
	}
	return e.minimumBid(a), nil
}

// PendingWithdrawal returns what beneficiary may withdraw in pm.
func (e *Engine) PendingWithdrawal(beneficiary common.Address, pm domain.PaymentMethod) *big.Int {
	return new(big.Int).Set(e.pendingOf(withdrawalKey{account: beneficiary, method: pm}))
}

// PendingWithdrawals lists every non-zero balance owed to beneficiary.
func (e *Engine) PendingWithdrawals(beneficiary common.Address) []domain.PendingWithdrawal {
	var out []domain.PendingWithdrawal
	for key, amount := range e.withdrawals {
		if key.account != beneficiary || amount.Sign() == 0 {
			continue
		}
		out = append(out, domain.PendingWithdrawal{
			Beneficiary:   beneficiary,
			PaymentMethod: key.method,
			Amount:        new(big.Int).Set(amount),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].PaymentMethod.Token().Bytes(), out[j].PaymentMethod.Token().Bytes()) < 0
	})
	return out
}

// TotalPending returns the sum of all pending withdrawals in pm.
func (e *Engine) TotalPending(pm domain.PaymentMethod) *big.Int {
	return new(big.Int).Set(e.owedOf(pm))
}

// EndedAuctions returns up to limit active auctions whose end time is at
// or before now, lowest id first.
func (e *Engine) EndedAuctions(now time.Time, limit int) []uint64 {
	var ids []uint64
	for _, id := range e.activeAuction {
		if e.auctions[id].Ended(now) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}

// Stats counts the entities created so far.
type Stats struct {
	Listings       uint64 `json:"listings"`
	Auctions       uint64 `json:"auctions"`
	Offers         uint64 `json:"offers"`
	Events         uint64 `json:"events"`
	ActiveListings int    `json:"active_listings"`
	ActiveAuctions int    `json:"active_auctions"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Listings:       e.seq.listing,
		Auctions:       e.seq.auction,
		Offers:         e.seq.offer,
		Events:         e.seq.event,
		ActiveListings: len(e.activeListing),
		ActiveAuctions: len(e.activeAuction),
	}
}

// Sequences returns the last id issued per entity type and the last event
// sequence number.
func (e *Engine) Sequences() domain.Sequences {
	return domain.Sequences{
		Listing: e.seq.listing,
		Auction: e.seq.auction,
		Offer:   e.seq.offer,
		Event:   e.seq.event,
	}
}

func (e *Engine) Owner() common.Address        { return e.owner }
func (e *Engine) FeeRateBps() uint64           { return e.feeRateBps }
func (e *Engine) FeeRecipient() common.Address { return e.feeRecipient }
func (e *Engine) Paused() bool                 { return e.paused }

// Supports reports whether pm is on the allow-list.
func (e *Engine) Supports(pm domain.PaymentMethod) bool {
	return e.methods[pm]
}

// PaymentMethods returns the allow-list, native first.
func (e *Engine) PaymentMethods() []domain.PaymentMethod {
	out := make([]domain.PaymentMethod, 0, len(e.methods))
	for pm := range e.methods {
		out = append(out, pm)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Token().Bytes(), out[j].Token().Bytes()) < 0
	})
	return out
}
