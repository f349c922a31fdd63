package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Call carries the caller identity and the native value attached to a
// mutating engine operation.
type Call struct {
	From  common.Address
	Value *big.Int
}

// CallFrom returns a call from addr with no value attached.
func CallFrom(addr common.Address) Call {
	return Call{From: addr}
}

// WithValue returns a copy of c carrying v.
func (c Call) WithValue(v *big.Int) Call {
	c.Value = v
	return c
}

// HasValue reports whether a non-zero native amount is attached.
func (c Call) HasValue() bool {
	return c.Value != nil && c.Value.Sign() != 0
}

// ValueOrZero returns the attached value, never nil.
func (c Call) ValueOrZero() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return c.Value
}
