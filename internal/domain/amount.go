package domain

import "math/big"

// BasisPoints is the denominator of every rate expressed in basis points.
const BasisPoints = 10_000

// CloneAmount returns a copy of x. A nil x yields zero.
func CloneAmount(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsPositive reports whether x is non-nil and strictly greater than zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// ApplyBps returns floor(x * bps / 10000).
func ApplyBps(x *big.Int, bps uint64) *big.Int {
	out := new(big.Int).Mul(x, new(big.Int).SetUint64(bps))
	return out.Quo(out, big.NewInt(BasisPoints))
}
