package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// AuctionStatus tracks the auction lifecycle. "Ended" is not stored: an
// Active auction whose end time has passed is ended.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusFinalized AuctionStatus = "finalized"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Bidder is either no bidder or a real bidder address. The zero value is
// no bidder, which is distinct from a bidder at the zero address.
type Bidder struct {
	addr    common.Address
	present bool
}

// NoBidder returns the empty bidder.
func NoBidder() Bidder { return Bidder{} }

// BidderOf returns a bidder holding addr.
func BidderOf(addr common.Address) Bidder {
	return Bidder{addr: addr, present: true}
}

// Address returns the bidder address and whether a bidder is present.
func (b Bidder) Address() (common.Address, bool) {
	return b.addr, b.present
}

// IsNone reports whether no bid has been placed.
func (b Bidder) IsNone() bool { return !b.present }

func (b Bidder) String() string {
	if !b.present {
		return "none"
	}
	return b.addr.Hex()
}

// MarshalJSON encodes no bidder as null.
func (b Bidder) MarshalJSON() ([]byte, error) {
	if !b.present {
		return []byte("null"), nil
	}
	return json.Marshal(b.addr)
}

func (b *Bidder) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*b = NoBidder()
		return nil
	}
	var addr common.Address
	if err := json.Unmarshal(data, &addr); err != nil {
		return err
	}
	*b = BidderOf(addr)
	return nil
}

// Auction is a time-boxed ascending-bid sale of one asset.
type Auction struct {
	ID            uint64         `json:"id"`
	Seller        common.Address `json:"seller"`
	Collection    common.Address `json:"collection"`
	AssetID       *big.Int       `json:"asset_id"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	StartPrice    *big.Int       `json:"start_price"`
	CurrentBid    *big.Int       `json:"current_bid"`
	CurrentBidder Bidder         `json:"current_bidder"`
	StartTime     time.Time      `json:"start_time"`
	EndTime       time.Time      `json:"end_time"`
	Status        AuctionStatus  `json:"status"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (a Auction) Exists() bool { return a.ID != 0 }

// IsActive reports whether a has not reached a terminal status.
func (a Auction) IsActive() bool { return a.Status == AuctionStatusActive }

// HasBid reports whether a real bid has been placed.
func (a Auction) HasBid() bool { return !a.CurrentBidder.IsNone() }

// Ended reports whether bidding has closed at now.
func (a Auction) Ended(now time.Time) bool { return !now.Before(a.EndTime) }

func (a Auction) Clone() Auction {
	a.AssetID = CloneAmount(a.AssetID)
	a.StartPrice = CloneAmount(a.StartPrice)
	a.CurrentBid = CloneAmount(a.CurrentBid)
	return a
}
