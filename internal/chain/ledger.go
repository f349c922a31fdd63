// Package chain is an in-memory ledger of native currency, fungible tokens
// and non-fungible assets. It backs the engine in tests and in devnet mode
// and lets callers attach receiver hooks that run arbitrary code when an
// account is paid or receives an asset.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("chain: insufficient balance")
	ErrInsufficientAllowance = errors.New("chain: insufficient allowance")
	ErrUnknownToken          = errors.New("chain: unknown token")
	ErrUnknownAsset          = errors.New("chain: unknown asset")
	ErrAssetExists           = errors.New("chain: asset already minted")
	ErrNotAuthorized         = errors.New("chain: caller not owner nor approved")
	ErrReceiverRejected      = errors.New("chain: receiver rejected transfer")
	ErrTokenReverted         = errors.New("chain: token reverted")
	ErrNoRoyalty             = errors.New("chain: collection does not report royalties")
	ErrInvalidAmount         = errors.New("chain: invalid amount")
)

// Payment is what a receive hook sees. Token is the zero address for
// native payments.
type Payment struct {
	From   common.Address
	To     common.Address
	Token  common.Address
	Amount *big.Int
	Gas    *GasMeter
}

// ReceiveHook runs when its account is paid. Returning an error rejects
// the payment.
type ReceiveHook func(ctx context.Context, p Payment) error

// AssetReceipt is what an asset hook sees.
type AssetReceipt struct {
	Collection common.Address
	Operator   common.Address
	From       common.Address
	To         common.Address
	AssetID    *big.Int
}

// AssetHook runs when its account receives an asset through a safe
// transfer. Returning an error rejects the transfer.
type AssetHook func(ctx context.Context, r AssetReceipt) error

// FailMode makes a token misbehave on transfers.
type FailMode int

const (
	FailNone FailMode = iota
	// FailReturnFalse reports a failed transfer without reverting.
	FailReturnFalse
	// FailRevert returns an error.
	FailRevert
	// FailPanic panics mid-transfer.
	FailPanic
)

// RoyaltyFunc computes the royalty for a sale.
type RoyaltyFunc func(ctx context.Context, assetID, salePrice *big.Int) (common.Address, *big.Int, error)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type token struct {
	balances   map[common.Address]*big.Int
	allowances map[allowanceKey]*big.Int
	// failures keyed by recipient; the zero address applies to all.
	failures map[common.Address]FailMode
}

type operatorKey struct {
	owner    common.Address
	operator common.Address
}

type collection struct {
	owners    map[common.Hash]common.Address
	approvals map[common.Hash]common.Address
	operators map[operatorKey]bool
}

// Ledger implements the engine's asset registry, native bank, token
// ledger, royalty resolver and snapshotter. It is not safe for concurrent
// use.
type Ledger struct {
	journal journal

	native      map[common.Address]*big.Int
	tokens      map[common.Address]*token
	collections map[common.Address]*collection
	royalties   map[common.Address]RoyaltyFunc

	receiveHooks map[common.Address]ReceiveHook
	assetHooks   map[common.Address]AssetHook
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		native:       make(map[common.Address]*big.Int),
		tokens:       make(map[common.Address]*token),
		collections:  make(map[common.Address]*collection),
		royalties:    make(map[common.Address]RoyaltyFunc),
		receiveHooks: make(map[common.Address]ReceiveHook),
		assetHooks:   make(map[common.Address]AssetHook),
	}
}

// Snapshot marks the current state.
func (l *Ledger) Snapshot() int {
	return l.journal.snapshot()
}

// RevertToSnapshot undoes every change made since Snapshot returned id.
func (l *Ledger) RevertToSnapshot(id int) {
	if !l.journal.revert(id) {
		panic(fmt.Sprintf("chain: revert to unknown snapshot %d", id))
	}
}

// Commit drops the mark id. Changes stay revertible by enclosing
// snapshots.
func (l *Ledger) Commit(id int) {
	if !l.journal.commit(id) {
		panic(fmt.Sprintf("chain: commit of unknown snapshot %d", id))
	}
}

// atomically runs fn so that an error or panic leaves the ledger as it
// was. Panics are re-raised after the rollback.
func (l *Ledger) atomically(fn func() error) (err error) {
	snap := l.Snapshot()
	defer func() {
		if r := recover(); r != nil {
			l.RevertToSnapshot(snap)
			panic(r)
		}
		if err != nil {
			l.RevertToSnapshot(snap)
			return
		}
		l.Commit(snap)
	}()
	return fn()
}

// SetReceiveHook installs hook for payments to account. A nil hook
// removes it.
func (l *Ledger) SetReceiveHook(account common.Address, hook ReceiveHook) {
	if hook == nil {
		delete(l.receiveHooks, account)
		return
	}
	l.receiveHooks[account] = hook
}

// SetAssetHook installs hook for assets sent to account.
func (l *Ledger) SetAssetHook(account common.Address, hook AssetHook) {
	if hook == nil {
		delete(l.assetHooks, account)
		return
	}
	l.assetHooks[account] = hook
}

func (l *Ledger) notifyReceiver(ctx context.Context, p Payment) error {
	hook, ok := l.receiveHooks[p.To]
	if !ok {
		return nil
	}
	if err := hook(ctx, p); err != nil {
		return fmt.Errorf("%w: %w", ErrReceiverRejected, err)
	}
	if p.Gas.Exceeded() {
		return fmt.Errorf("%w: %w", ErrReceiverRejected, ErrOutOfGas)
	}
	return nil
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return nil
}

func balanceIn(m map[common.Address]*big.Int, account common.Address) *big.Int {
	if v, ok := m[account]; ok {
		return v
	}
	return new(big.Int)
}

// move shifts amount between two balances in m.
func (l *Ledger) move(m map[common.Address]*big.Int, from, to common.Address, amount *big.Int) error {
	fromBal := balanceIn(m, from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBal, amount)
	}
	setEntry(&l.journal, m, from, new(big.Int).Sub(fromBal, amount))
	setEntry(&l.journal, m, to, new(big.Int).Add(balanceIn(m, to), amount))
	return nil
}
