package market

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// AssetRegistry answers ownership and approval queries for non-fungible
// assets and moves them between accounts.
type AssetRegistry interface {
	OwnerOf(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error)
	IsApprovedForAll(ctx context.Context, collection, owner, operator common.Address) (bool, error)
	GetApproved(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error)
	// SafeTransferFrom moves assetID from "from" to "to" on behalf of
	// operator. The receiver may run arbitrary code before it returns.
	SafeTransferFrom(ctx context.Context, collection, operator, from, to common.Address, assetID *big.Int) error
}

// NativeBank moves the chain-native currency.
type NativeBank interface {
	BalanceOf(ctx context.Context, account common.Address) (*big.Int, error)
	// Send pays amount with no execution budget for the receiver.
	Send(ctx context.Context, from, to common.Address, amount *big.Int) error
	// SendWithBudget pays amount and fails if the receiver spends more
	// than gas units reacting to it.
	SendWithBudget(ctx context.Context, from, to common.Address, amount *big.Int, gas uint64) error
}

// TokenLedger moves fungible tokens. A false result with a nil error is
// a failed transfer; a non-nil error is a revert.
type TokenLedger interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) (bool, error)
	TransferFrom(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) (bool, error)
}

// RoyaltyResolver returns the royalty owed on a sale of assetID.
type RoyaltyResolver interface {
	RoyaltyInfo(ctx context.Context, collection common.Address, assetID, salePrice *big.Int) (common.Address, *big.Int, error)
}

// Snapshotter lets the engine roll back collaborator state when an
// operation fails after it has already moved assets or funds.
type Snapshotter interface {
	Snapshot() int
	RevertToSnapshot(id int)
	Commit(id int)
}

// Backend bundles the external collaborators the engine calls. State may
// be nil when the collaborators are transactional on their own.
type Backend struct {
	Assets    AssetRegistry
	Native    NativeBank
	Tokens    TokenLedger
	Royalties RoyaltyResolver
	State     Snapshotter
}
