package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SetRoyalty makes collectionAddr report a fixed-rate royalty in basis
// points of the sale price.
func (l *Ledger) SetRoyalty(collectionAddr, receiver common.Address, bps uint64) {
	l.royalties[collectionAddr] = func(_ context.Context, _ *big.Int, salePrice *big.Int) (common.Address, *big.Int, error) {
		amount := new(big.Int).Mul(salePrice, new(big.Int).SetUint64(bps))
		return receiver, amount.Quo(amount, big.NewInt(10_000)), nil
	}
}

// SetRoyaltyFunc installs an arbitrary royalty computation. A nil fn
// removes royalty support from the collection.
func (l *Ledger) SetRoyaltyFunc(collectionAddr common.Address, fn RoyaltyFunc) {
	if fn == nil {
		delete(l.royalties, collectionAddr)
		return
	}
	l.royalties[collectionAddr] = fn
}

// RoyaltyInfo returns the royalty owed on a sale.
func (l *Ledger) RoyaltyInfo(ctx context.Context, collectionAddr common.Address, assetID, salePrice *big.Int) (common.Address, *big.Int, error) {
	fn, ok := l.royalties[collectionAddr]
	if !ok {
		return common.Address{}, nil, fmt.Errorf("%w: %s", ErrNoRoyalty, collectionAddr.Hex())
	}
	return fn(ctx, assetID, salePrice)
}
