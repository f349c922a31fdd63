package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Settlement is the split of a sale price. Fee, Royalty and SellerProceeds
// always sum to Price.
type Settlement struct {
	Seller          common.Address `json:"seller"`
	Buyer           common.Address `json:"buyer"`
	PaymentMethod   PaymentMethod  `json:"payment_method"`
	Price           *big.Int       `json:"price"`
	Fee             *big.Int       `json:"fee"`
	FeeRecipient    common.Address `json:"fee_recipient"`
	Royalty         *big.Int       `json:"royalty"`
	RoyaltyReceiver common.Address `json:"royalty_receiver"`
	SellerProceeds  *big.Int       `json:"seller_proceeds"`
}

// Total returns Fee + Royalty + SellerProceeds.
func (s Settlement) Total() *big.Int {
	t := new(big.Int).Add(CloneAmount(s.Fee), CloneAmount(s.Royalty))
	return t.Add(t, CloneAmount(s.SellerProceeds))
}
