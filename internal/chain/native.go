package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Fund credits account with amount of native currency out of thin air.
func (l *Ledger) Fund(account common.Address, amount *big.Int) {
	setEntry(&l.journal, l.native, account, new(big.Int).Add(balanceIn(l.native, account), amount))
}

// NativeBalance returns the native balance of account.
func (l *Ledger) NativeBalance(account common.Address) *big.Int {
	return new(big.Int).Set(balanceIn(l.native, account))
}

// BalanceOf implements market.NativeBank.
func (l *Ledger) BalanceOf(_ context.Context, account common.Address) (*big.Int, error) {
	return l.NativeBalance(account), nil
}

// Send pays amount and runs the receiver's hook with no gas limit.
func (l *Ledger) Send(ctx context.Context, from, to common.Address, amount *big.Int) error {
	return l.send(ctx, from, to, amount, UnboundedGas())
}

// SendWithBudget pays amount and fails if the receiver's hook spends more
// than gas.
func (l *Ledger) SendWithBudget(ctx context.Context, from, to common.Address, amount *big.Int, gas uint64) error {
	return l.send(ctx, from, to, amount, NewGasMeter(gas))
}

func (l *Ledger) send(ctx context.Context, from, to common.Address, amount *big.Int, gas *GasMeter) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	return l.atomically(func() error {
		if err := l.move(l.native, from, to, amount); err != nil {
			return err
		}
		return l.notifyReceiver(ctx, Payment{
			From:   from,
			To:     to,
			Amount: new(big.Int).Set(amount),
			Gas:    gas,
		})
	})
}
