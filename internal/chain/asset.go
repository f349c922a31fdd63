package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func (l *Ledger) collection(addr common.Address) *collection {
	c, ok := l.collections[addr]
	if !ok {
		c = &collection{
			owners:    make(map[common.Hash]common.Address),
			approvals: make(map[common.Hash]common.Address),
			operators: make(map[operatorKey]bool),
		}
		l.collections[addr] = c
	}
	return c
}

func assetKey(assetID *big.Int) common.Hash {
	return common.BigToHash(assetID)
}

// MintAsset creates assetID in collectionAddr owned by owner.
func (l *Ledger) MintAsset(collectionAddr common.Address, assetID *big.Int, owner common.Address) error {
	c := l.collection(collectionAddr)
	key := assetKey(assetID)
	if _, ok := c.owners[key]; ok {
		return fmt.Errorf("%w: %s/%s", ErrAssetExists, collectionAddr.Hex(), assetID)
	}
	setEntry(&l.journal, c.owners, key, owner)
	return nil
}

// ApproveAsset lets operator move one asset. The caller must own it.
func (l *Ledger) ApproveAsset(collectionAddr common.Address, assetID *big.Int, caller, operator common.Address) error {
	c := l.collection(collectionAddr)
	key := assetKey(assetID)
	owner, ok := c.owners[key]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownAsset, collectionAddr.Hex(), assetID)
	}
	if owner != caller {
		return ErrNotAuthorized
	}
	setEntry(&l.journal, c.approvals, key, operator)
	return nil
}

// SetApprovalForAll lets operator move every asset owner holds in the
// collection.
func (l *Ledger) SetApprovalForAll(collectionAddr, owner, operator common.Address, approved bool) {
	c := l.collection(collectionAddr)
	key := operatorKey{owner: owner, operator: operator}
	if approved {
		setEntry(&l.journal, c.operators, key, true)
		return
	}
	deleteEntry(&l.journal, c.operators, key)
}

// OwnerOf returns the owner of an asset.
func (l *Ledger) OwnerOf(_ context.Context, collectionAddr common.Address, assetID *big.Int) (common.Address, error) {
	c, ok := l.collections[collectionAddr]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrUnknownAsset, collectionAddr.Hex(), assetID)
	}
	owner, ok := c.owners[assetKey(assetID)]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %s/%s", ErrUnknownAsset, collectionAddr.Hex(), assetID)
	}
	return owner, nil
}

// IsApprovedForAll reports whether operator may move all of owner's
// assets in the collection.
func (l *Ledger) IsApprovedForAll(_ context.Context, collectionAddr, owner, operator common.Address) (bool, error) {
	c, ok := l.collections[collectionAddr]
	if !ok {
		return false, nil
	}
	return c.operators[operatorKey{owner: owner, operator: operator}], nil
}

// GetApproved returns the single-asset approval, or the zero address.
func (l *Ledger) GetApproved(ctx context.Context, collectionAddr common.Address, assetID *big.Int) (common.Address, error) {
	if _, err := l.OwnerOf(ctx, collectionAddr, assetID); err != nil {
		return common.Address{}, err
	}
	return l.collections[collectionAddr].approvals[assetKey(assetID)], nil
}

// SafeTransferFrom moves an asset and then lets the receiver's asset hook
// accept or reject it.
func (l *Ledger) SafeTransferFrom(ctx context.Context, collectionAddr, operator, from, to common.Address, assetID *big.Int) error {
	return l.atomically(func() error {
		owner, err := l.OwnerOf(ctx, collectionAddr, assetID)
		if err != nil {
			return err
		}
		if owner != from {
			return fmt.Errorf("%w: %s does not own %s/%s", ErrNotAuthorized, from.Hex(), collectionAddr.Hex(), assetID)
		}
		c := l.collections[collectionAddr]
		key := assetKey(assetID)
		if operator != owner && c.approvals[key] != operator && !c.operators[operatorKey{owner: owner, operator: operator}] {
			return ErrNotAuthorized
		}

		deleteEntry(&l.journal, c.approvals, key)
		setEntry(&l.journal, c.owners, key, to)

		hook, ok := l.assetHooks[to]
		if !ok {
			return nil
		}
		if err := hook(ctx, AssetReceipt{
			Collection: collectionAddr,
			Operator:   operator,
			From:       from,
			To:         to,
			AssetID:    new(big.Int).Set(assetID),
		}); err != nil {
			return fmt.Errorf("%w: %w", ErrReceiverRejected, err)
		}
		return nil
	})
}
