package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// DeployToken registers a fungible token at addr. Deploying twice is a
// no-op.
func (l *Ledger) DeployToken(addr common.Address) {
	if _, ok := l.tokens[addr]; ok {
		return
	}
	l.tokens[addr] = &token{
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[allowanceKey]*big.Int),
		failures:   make(map[common.Address]FailMode),
	}
}

func (l *Ledger) token(addr common.Address) (*token, error) {
	t, ok := l.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownToken, addr.Hex())
	}
	return t, nil
}

// MintToken credits account with amount of token.
func (l *Ledger) MintToken(tokenAddr, account common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t, err := l.token(tokenAddr)
	if err != nil {
		return err
	}
	setEntry(&l.journal, t.balances, account, new(big.Int).Add(balanceIn(t.balances, account), amount))
	return nil
}

// Approve lets spender pull up to amount of owner's token.
func (l *Ledger) Approve(tokenAddr, owner, spender common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return err
	}
	t, err := l.token(tokenAddr)
	if err != nil {
		return err
	}
	setEntry(&l.journal, t.allowances, allowanceKey{owner: owner, spender: spender}, new(big.Int).Set(amount))
	return nil
}

// Allowance returns what spender may still pull from owner.
func (l *Ledger) Allowance(tokenAddr, owner, spender common.Address) *big.Int {
	t, ok := l.tokens[tokenAddr]
	if !ok {
		return new(big.Int)
	}
	if v, ok := t.allowances[allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// SetFailMode makes transfers of tokenAddr to recipient misbehave. The
// zero recipient applies to every transfer.
func (l *Ledger) SetFailMode(tokenAddr, recipient common.Address, mode FailMode) error {
	t, err := l.token(tokenAddr)
	if err != nil {
		return err
	}
	if mode == FailNone {
		delete(t.failures, recipient)
		return nil
	}
	t.failures[recipient] = mode
	return nil
}

// TokenBalance returns account's balance of tokenAddr.
func (l *Ledger) TokenBalance(tokenAddr, account common.Address) *big.Int {
	t, ok := l.tokens[tokenAddr]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(balanceIn(t.balances, account))
}

// TokenView exposes the ledger's fungible tokens under the token-ledger
// method set, whose BalanceOf takes a token address.
type TokenView struct {
	*Ledger
}

// Tokens returns the token view of l.
func (l *Ledger) Tokens() TokenView {
	return TokenView{Ledger: l}
}

// BalanceOf returns account's balance of tokenAddr.
func (v TokenView) BalanceOf(_ context.Context, tokenAddr, account common.Address) (*big.Int, error) {
	if _, err := v.token(tokenAddr); err != nil {
		return nil, err
	}
	return v.TokenBalance(tokenAddr, account), nil
}

// Transfer moves amount of tokenAddr from "from" to "to".
func (l *Ledger) Transfer(ctx context.Context, tokenAddr, from, to common.Address, amount *big.Int) (bool, error) {
	return l.transferToken(ctx, tokenAddr, from, from, to, amount)
}

// TransferFrom moves amount of tokenAddr from "from" to "to" against
// spender's allowance.
func (l *Ledger) TransferFrom(ctx context.Context, tokenAddr, spender, from, to common.Address, amount *big.Int) (bool, error) {
	return l.transferToken(ctx, tokenAddr, spender, from, to, amount)
}

func (l *Ledger) transferToken(ctx context.Context, tokenAddr, spender, from, to common.Address, amount *big.Int) (bool, error) {
	if err := validAmount(amount); err != nil {
		return false, err
	}
	t, err := l.token(tokenAddr)
	if err != nil {
		return false, err
	}

	mode, ok := t.failures[to]
	if !ok {
		mode = t.failures[common.Address{}]
	}
	if mode == FailReturnFalse {
		return false, nil
	}

	err = l.atomically(func() error {
		if spender != from {
			key := allowanceKey{owner: from, spender: spender}
			allowed := new(big.Int)
			if v, ok := t.allowances[key]; ok {
				allowed = v
			}
			if allowed.Cmp(amount) < 0 {
				return fmt.Errorf("%w: %s allows %s %s, needs %s", ErrInsufficientAllowance, from.Hex(), spender.Hex(), allowed, amount)
			}
			setEntry(&l.journal, t.allowances, key, new(big.Int).Sub(allowed, amount))
		}
		if err := l.move(t.balances, from, to, amount); err != nil {
			return err
		}

		switch mode {
		case FailRevert:
			return fmt.Errorf("%w: transfer to %s", ErrTokenReverted, to.Hex())
		case FailPanic:
			panic(fmt.Sprintf("chain: token %s panicked transferring to %s", tokenAddr.Hex(), to.Hex()))
		}

		return l.notifyReceiver(ctx, Payment{
			From:   from,
			To:     to,
			Token:  tokenAddr,
			Amount: new(big.Int).Set(amount),
			Gas:    UnboundedGas(),
		})
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
