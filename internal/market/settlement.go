package market

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// quote splits price into fee, royalty and seller proceeds.
func (e *Engine) quote(ctx context.Context, collection common.Address, assetID *big.Int, seller, buyer common.Address, pm domain.PaymentMethod, price *big.Int) (domain.Settlement, error) {
	fee := domain.ApplyBps(price, e.feeRateBps)
	receiver, royalty := e.royaltyFor(ctx, collection, assetID, price, fee)

	cut := new(big.Int).Add(fee, royalty)
	if cut.Cmp(price) >= 0 {
		return domain.Settlement{}, fmt.Errorf("%w: fee %s + royalty %s >= price %s", domain.ErrFeeTooHigh, fee, royalty, price)
	}

	return domain.Settlement{
		Seller:          seller,
		Buyer:           buyer,
		PaymentMethod:   pm,
		Price:           new(big.Int).Set(price),
		Fee:             fee,
		FeeRecipient:    e.feeRecipient,
		Royalty:         royalty,
		RoyaltyReceiver: receiver,
		SellerProceeds:  new(big.Int).Sub(price, cut),
	}, nil
}

// settle moves the asset to the buyer and pays out s from custody. Any
// failure aborts the enclosing operation; nothing here falls back to the
// withdrawal ledger.
func (e *Engine) settle(ctx context.Context, collection common.Address, assetID *big.Int, s domain.Settlement) error {
	err := e.backend.Assets.SafeTransferFrom(ctx, collection, e.params.Address, s.Seller, s.Buyer, domain.CloneAmount(assetID))
	if err != nil {
		return fmt.Errorf("%w: asset %s/%s: %w", domain.ErrTransferFailed, collection.Hex(), assetID, err)
	}

	if err := e.pay(ctx, s.FeeRecipient, s.PaymentMethod, s.Fee); err != nil {
		return err
	}
	if s.RoyaltyReceiver != (common.Address{}) {
		if err := e.pay(ctx, s.RoyaltyReceiver, s.PaymentMethod, s.Royalty); err != nil {
			return err
		}
	}
	return e.pay(ctx, s.Seller, s.PaymentMethod, s.SellerProceeds)
}

// collect takes amount from the caller into custody: the attached native
// value must match exactly, tokens are pulled.
func (e *Engine) collect(ctx context.Context, call domain.Call, pm domain.PaymentMethod, amount *big.Int) error {
	if pm.IsNative() {
		if call.ValueOrZero().Cmp(amount) != 0 {
			return fmt.Errorf("%w: sent %s, want %s", domain.ErrInvalidPrice, call.ValueOrZero(), amount)
		}
		if err := e.backend.Native.Send(ctx, call.From, e.params.Address, amount); err != nil {
			return fmt.Errorf("%w: collect %s native from %s: %w", domain.ErrTransferFailed, amount, call.From.Hex(), err)
		}
		return nil
	}

	if call.HasValue() {
		return domain.ErrUnexpectedValue
	}
	ok, err := e.backend.Tokens.TransferFrom(ctx, pm.Token(), e.params.Address, call.From, e.params.Address, amount)
	if err != nil {
		return fmt.Errorf("%w: pull %s of %s from %s: %w", domain.ErrTransferFailed, amount, pm, call.From.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("%w: pull %s of %s from %s", domain.ErrTransferFailed, amount, pm, call.From.Hex())
	}
	return nil
}

// pay sends amount from custody with no execution budget.
func (e *Engine) pay(ctx context.Context, to common.Address, pm domain.PaymentMethod, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if pm.IsNative() {
		if err := e.backend.Native.Send(ctx, e.params.Address, to, amount); err != nil {
			return fmt.Errorf("%w: pay %s native to %s: %w", domain.ErrTransferFailed, amount, to.Hex(), err)
		}
		return nil
	}
	ok, err := e.backend.Tokens.Transfer(ctx, pm.Token(), e.params.Address, to, amount)
	if err != nil {
		return fmt.Errorf("%w: pay %s of %s to %s: %w", domain.ErrTransferFailed, amount, pm, to.Hex(), err)
	}
	if !ok {
		return fmt.Errorf("%w: pay %s of %s to %s", domain.ErrTransferFailed, amount, pm, to.Hex())
	}
	return nil
}
