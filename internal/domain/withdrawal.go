package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PendingWithdrawal is a balance credited after a failed refund, claimable
// by its beneficiary.
type PendingWithdrawal struct {
	Beneficiary   common.Address `json:"beneficiary"`
	PaymentMethod PaymentMethod  `json:"payment_method"`
	Amount        *big.Int       `json:"amount"`
	UpdatedAt     time.Time      `json:"updated_at"`
}
