package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// refund pushes amount back to a displaced party. When the push fails the
// amount is credited to the withdrawal ledger instead; refund itself never
// fails.
func (e *Engine) refund(ctx context.Context, now time.Time, to common.Address, pm domain.PaymentMethod, amount *big.Int, reason string) {
	if !domain.IsPositive(amount) {
		return
	}
	err := e.tryRefund(ctx, to, pm, amount)
	if err == nil {
		return
	}
	e.logger.InfoContext(ctx, "market: refund failed, crediting withdrawal ledger",
		slog.String("beneficiary", to.Hex()),
		slog.String("payment_method", pm.String()),
		slog.String("amount", amount.String()),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
	e.credit(now, to, pm, amount, reason)
}

// tryRefund attempts a push payment. Native refunds run under the
// configured gas budget; token refunds are unbounded. Failures, false
// results and panics all come back as errors.
func (e *Engine) tryRefund(ctx context.Context, to common.Address, pm domain.PaymentMethod, amount *big.Int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: refund: %v", domain.ErrCollaboratorPanic, r)
		}
	}()

	if pm.IsNative() {
		return e.backend.Native.SendWithBudget(ctx, e.params.Address, to, amount, e.params.NativeRefundGas)
	}
	ok, err := e.backend.Tokens.Transfer(ctx, pm.Token(), e.params.Address, to, amount)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrTransferFailed
	}
	return nil
}

func (e *Engine) credit(now time.Time, to common.Address, pm domain.PaymentMethod, amount *big.Int, reason string) {
	key := withdrawalKey{account: to, method: pm}
	balance := new(big.Int).Add(e.pendingOf(key), amount)
	setEntry(&e.journal, e.withdrawals, key, balance)
	e.adjustOwed(pm, amount)

	w := domain.PendingWithdrawal{
		Beneficiary:   to,
		PaymentMethod: pm,
		Amount:        new(big.Int).Set(balance),
		UpdatedAt:     now,
	}
	e.emit(now, domain.Event{
		Type:       domain.EventWithdrawalRecorded,
		Actor:      to,
		Withdrawal: &w,
		Detail: map[string]string{
			"amount": amount.String(),
			"reason": reason,
		},
	})
}

func (e *Engine) pendingOf(key withdrawalKey) *big.Int {
	if v, ok := e.withdrawals[key]; ok {
		return v
	}
	return new(big.Int)
}

func (e *Engine) adjustOwed(pm domain.PaymentMethod, delta *big.Int) {
	total := new(big.Int).Add(e.owedOf(pm), delta)
	setEntry(&e.journal, e.owed, pm, total)
}

func (e *Engine) owedOf(pm domain.PaymentMethod) *big.Int {
	if v, ok := e.owed[pm]; ok {
		return v
	}
	return new(big.Int)
}

// Withdraw pays the caller's whole pending balance in pm. The payment has
// no execution budget and a failure reverts the withdrawal, leaving the
// balance in place.
func (e *Engine) Withdraw(ctx context.Context, call domain.Call, pm domain.PaymentMethod) (*big.Int, error) {
	var paid *big.Int
	err := e.transact(ctx, "withdraw", func(now time.Time) error {
		if err := requireNoValue(call); err != nil {
			return err
		}
		key := withdrawalKey{account: call.From, method: pm}
		amount := e.pendingOf(key)
		if amount.Sign() == 0 {
			return domain.ErrNothingToWithdraw
		}

		deleteEntry(&e.journal, e.withdrawals, key)
		e.adjustOwed(pm, new(big.Int).Neg(amount))
		e.emit(now, domain.Event{
			Type:  domain.EventWithdrawn,
			Actor: call.From,
			Withdrawal: &domain.PendingWithdrawal{
				Beneficiary:   call.From,
				PaymentMethod: pm,
				Amount:        new(big.Int),
				UpdatedAt:     now,
			},
			Detail: map[string]string{"amount": amount.String()},
		})

		paid = new(big.Int).Set(amount)
		return e.pay(ctx, call.From, pm, amount)
	})
	if err != nil {
		return nil, err
	}
	return paid, nil
}
