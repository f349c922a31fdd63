package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// royaltyFor asks the resolver what is owed on a sale and returns a
// zero royalty whenever the answer is unusable. A resolver that errors,
// panics, names no receiver, or asks for at least price-fee never blocks
// the sale.
func (e *Engine) royaltyFor(ctx context.Context, collection common.Address, assetID, price, fee *big.Int) (common.Address, *big.Int) {
	if e.backend.Royalties == nil {
		return common.Address{}, new(big.Int)
	}

	receiver, amount, err := e.queryRoyalty(ctx, collection, assetID, price)
	if err != nil {
		e.logger.DebugContext(ctx, "market: royalty query failed",
			slog.String("collection", collection.Hex()),
			slog.String("asset_id", assetID.String()),
			slog.String("error", err.Error()),
		)
		return common.Address{}, new(big.Int)
	}
	if receiver == (common.Address{}) || !domain.IsPositive(amount) {
		return common.Address{}, new(big.Int)
	}

	limit := new(big.Int).Sub(price, fee)
	if amount.Cmp(limit) >= 0 {
		e.logger.WarnContext(ctx, "market: royalty ignored, exceeds sale remainder",
			slog.String("collection", collection.Hex()),
			slog.String("asset_id", assetID.String()),
			slog.String("royalty", amount.String()),
			slog.String("limit", limit.String()),
		)
		return common.Address{}, new(big.Int)
	}
	return receiver, new(big.Int).Set(amount)
}

// queryRoyalty converts a panic in the resolver into an error.
func (e *Engine) queryRoyalty(ctx context.Context, collection common.Address, assetID, price *big.Int) (receiver common.Address, amount *big.Int, err error) {
	defer func() {
		if r := recover(); r != nil {
			receiver, amount = common.Address{}, nil
			err = fmt.Errorf("%w: royalty resolver: %v", domain.ErrCollaboratorPanic, r)
		}
	}()
	return e.backend.Royalties.RoyaltyInfo(ctx, collection, domain.CloneAmount(assetID), domain.CloneAmount(price))
}
