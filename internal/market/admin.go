package market

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// SetFeeRate changes the platform fee. Owner only, at most MaxFeeRateBps.
func (e *Engine) SetFeeRate(ctx context.Context, call domain.Call, bps uint64) error {
	return e.transact(ctx, "set fee rate", func(now time.Time) error {
		if err := e.requireOwner(call); err != nil {
			return err
		}
		if bps > MaxFeeRateBps {
			return fmt.Errorf("%w: %d bps exceeds %d", domain.ErrFeeTooHigh, bps, MaxFeeRateBps)
		}
		old := e.feeRateBps
		setField(&e.journal, &e.feeRateBps, bps)
		e.emit(now, domain.Event{
			Type:  domain.EventFeeRateUpdated,
			Actor: call.From,
			Detail: map[string]string{
				"old_bps": strconv.FormatUint(old, 10),
				"bps":     strconv.FormatUint(bps, 10),
			},
		})
		return nil
	})
}

// SetFeeRecipient changes the account fees are paid to.
func (e *Engine) SetFeeRecipient(ctx context.Context, call domain.Call, recipient common.Address) error {
	return e.transact(ctx, "set fee recipient", func(now time.Time) error {
		if err := e.requireOwner(call); err != nil {
			return err
		}
		if recipient == (common.Address{}) {
			return domain.ErrInvalidAddress
		}
		old := e.feeRecipient
		setField(&e.journal, &e.feeRecipient, recipient)
		e.emit(now, domain.Event{
			Type:  domain.EventFeeRecipientUpdated,
			Actor: call.From,
			Detail: map[string]string{
				"old_recipient": old.Hex(),
				"recipient":     recipient.Hex(),
			},
		})
		return nil
	})
}

// SetPaymentMethod adds pm to or removes it from the allow-list. Existing
// listings, auctions and offers in pm are unaffected.
func (e *Engine) SetPaymentMethod(ctx context.Context, call domain.Call, pm domain.PaymentMethod, supported bool) error {
	return e.transact(ctx, "set payment method", func(now time.Time) error {
		if err := e.requireOwner(call); err != nil {
			return err
		}
		if supported {
			setEntry(&e.journal, e.methods, pm, true)
		} else {
			deleteEntry(&e.journal, e.methods, pm)
		}
		e.emit(now, domain.Event{
			Type:  domain.EventPaymentMethodUpdated,
			Actor: call.From,
			Detail: map[string]string{
				"payment_method": pm.String(),
				"supported":      strconv.FormatBool(supported),
			},
		})
		return nil
	})
}

// Pause stops new listings, auctions, bids, offers and sales. Cancels,
// finalization and withdrawals keep working.
func (e *Engine) Pause(ctx context.Context, call domain.Call) error {
	return e.setPaused(ctx, call, true)
}

// Unpause reverses Pause.
func (e *Engine) Unpause(ctx context.Context, call domain.Call) error {
	return e.setPaused(ctx, call, false)
}

func (e *Engine) setPaused(ctx context.Context, call domain.Call, paused bool) error {
	op, typ := "unpause", domain.EventUnpaused
	if paused {
		op, typ = "pause", domain.EventPaused
	}
	return e.transact(ctx, op, func(now time.Time) error {
		if err := e.requireOwner(call); err != nil {
			return err
		}
		if e.paused == paused {
			return nil
		}
		setField(&e.journal, &e.paused, paused)
		e.emit(now, domain.Event{Type: typ, Actor: call.From})
		return nil
	})
}
