package market

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func (e *Engine) requireNotPaused() error {
	if e.paused {
		return domain.ErrPaused
	}
	return nil
}

func (e *Engine) requireOwner(call domain.Call) error {
	if call.From != e.owner {
		return domain.ErrNotOwner
	}
	return nil
}

func requireNoValue(call domain.Call) error {
	if call.HasValue() {
		return domain.ErrUnexpectedValue
	}
	return nil
}

func validateCollection(collection common.Address) error {
	if collection == (common.Address{}) {
		return fmt.Errorf("collection: %w", domain.ErrInvalidAddress)
	}
	return nil
}

func validateAssetID(assetID *big.Int) error {
	if assetID == nil || assetID.Sign() < 0 || assetID.BitLen() > 256 {
		return domain.ErrInvalidAsset
	}
	return nil
}

func validatePrice(price *big.Int) error {
	if !domain.IsPositive(price) {
		return domain.ErrInvalidPrice
	}
	return nil
}

func validateDuration(d, lo, hi time.Duration) error {
	if d <= 0 || d < lo || d > hi {
		return fmt.Errorf("%w: %s not in [%s, %s]", domain.ErrInvalidDuration, d, lo, hi)
	}
	return nil
}

func (e *Engine) requireMethod(pm domain.PaymentMethod) error {
	if !e.methods[pm] {
		return fmt.Errorf("%w: %s", domain.ErrPaymentMethodNotSupported, pm)
	}
	return nil
}

// requireOwnedAndApproved checks that who owns the asset and that the
// engine may move it, either as an operator or through a per-asset
// approval.
func (e *Engine) requireOwnedAndApproved(ctx context.Context, collection common.Address, assetID *big.Int, who common.Address) error {
	owner, err := e.backend.Assets.OwnerOf(ctx, collection, assetID)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotAssetOwner, err)
	}
	if owner != who {
		return domain.ErrNotAssetOwner
	}

	all, err := e.backend.Assets.IsApprovedForAll(ctx, collection, owner, e.params.Address)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotApproved, err)
	}
	if all {
		return nil
	}
	approved, err := e.backend.Assets.GetApproved(ctx, collection, assetID)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrNotApproved, err)
	}
	if approved != e.params.Address {
		return domain.ErrNotApproved
	}
	return nil
}

// validateSale runs the checks listings and auctions share, before any
// collaborator is consulted.
func (e *Engine) validateSale(call domain.Call, assetID *big.Int, pm domain.PaymentMethod, price *big.Int, d, lo, hi time.Duration) error {
	if err := e.requireNotPaused(); err != nil {
		return err
	}
	if err := requireNoValue(call); err != nil {
		return err
	}
	if err := validateAssetID(assetID); err != nil {
		return err
	}
	if err := validatePrice(price); err != nil {
		return err
	}
	if err := validateDuration(d, lo, hi); err != nil {
		return err
	}
	return e.requireMethod(pm)
}
