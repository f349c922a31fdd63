package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Offer is an escrowed bid for an asset that its owner may accept.
type Offer struct {
	ID            uint64         `json:"id"`
	Offerer       common.Address `json:"offerer"`
	Collection    common.Address `json:"collection"`
	AssetID       *big.Int       `json:"asset_id"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Price         *big.Int       `json:"price"`
	Expiry        time.Time      `json:"expiry"`
	Active        bool           `json:"active"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

func (o Offer) Exists() bool { return o.ID != 0 }

// Live reports whether o can be accepted at now.
func (o Offer) Live(now time.Time) bool {
	return o.Active && now.Before(o.Expiry)
}

func (o Offer) Clone() Offer {
	o.AssetID = CloneAmount(o.AssetID)
	o.Price = CloneAmount(o.Price)
	return o
}
