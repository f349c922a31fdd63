package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is a fixed-price sale of one asset.
type Listing struct {
	ID            uint64         `json:"id"`
	Seller        common.Address `json:"seller"`
	Collection    common.Address `json:"collection"`
	AssetID       *big.Int       `json:"asset_id"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Price         *big.Int       `json:"price"`
	Expiry        time.Time      `json:"expiry"`
	Active        bool           `json:"active"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Exists reports whether l refers to a stored listing.
func (l Listing) Exists() bool { return l.ID != 0 }

// Live reports whether l can be bought at now.
func (l Listing) Live(now time.Time) bool {
	return l.Active && now.Before(l.Expiry)
}

// Clone returns a deep copy of l.
func (l Listing) Clone() Listing {
	l.AssetID = CloneAmount(l.AssetID)
	l.Price = CloneAmount(l.Price)
	return l
}

// ListingParams describes one listing in a batch creation.
type ListingParams struct {
	Collection    common.Address
	AssetID       *big.Int
	PaymentMethod PaymentMethod
	Price         *big.Int
	Duration      time.Duration
}
