package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/chain"
)

// DevnetService exposes faucet-style operations on the in-memory ledger
// backing the engine. It shares the engine mutex because the engine reads
// the same ledger.
type DevnetService struct {
	svc    *MarketService
	ledger *chain.Ledger
	logger *slog.Logger
}

// NewDevnetService creates a DevnetService.
func NewDevnetService(svc *MarketService, ledger *chain.Ledger, logger *slog.Logger) *DevnetService {
	return &DevnetService{svc: svc, ledger: ledger, logger: logger}
}

func (d *DevnetService) locked(ctx context.Context, op string, fn func() error) error {
	release, err := d.svc.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	if err := fn(); err != nil {
		return fmt.Errorf("devnet: %s: %w", op, err)
	}
	d.logger.InfoContext(ctx, "devnet: "+op)
	return nil
}

// Fund credits native currency to account.
func (d *DevnetService) Fund(ctx context.Context, account common.Address, amount *big.Int) error {
	return d.locked(ctx, "fund", func() error {
		if amount == nil || amount.Sign() <= 0 {
			return chain.ErrInvalidAmount
		}
		d.ledger.Fund(account, amount)
		return nil
	})
}

// MintToken credits amount of token to account, deploying the token on
// first use.
func (d *DevnetService) MintToken(ctx context.Context, token, account common.Address, amount *big.Int) error {
	return d.locked(ctx, "mint token", func() error {
		d.ledger.DeployToken(token)
		return d.ledger.MintToken(token, account, amount)
	})
}

// ApproveToken sets spender's allowance over owner's token balance.
func (d *DevnetService) ApproveToken(ctx context.Context, token, owner, spender common.Address, amount *big.Int) error {
	return d.locked(ctx, "approve token", func() error {
		return d.ledger.Approve(token, owner, spender, amount)
	})
}

// MintAsset creates a new asset.
func (d *DevnetService) MintAsset(ctx context.Context, collection common.Address, assetID *big.Int, owner common.Address) error {
	return d.locked(ctx, "mint asset", func() error {
		return d.ledger.MintAsset(collection, assetID, owner)
	})
}

// SetOperator grants or revokes operator's right to move every asset owner
// holds in collection.
func (d *DevnetService) SetOperator(ctx context.Context, collection, owner, operator common.Address, approved bool) error {
	return d.locked(ctx, "set operator", func() error {
		d.ledger.SetApprovalForAll(collection, owner, operator, approved)
		return nil
	})
}

// SetRoyalty makes collection report a fixed royalty rate.
func (d *DevnetService) SetRoyalty(ctx context.Context, collection, receiver common.Address, bps uint64) error {
	return d.locked(ctx, "set royalty", func() error {
		d.ledger.SetRoyalty(collection, receiver, bps)
		return nil
	})
}

// Balances is an account's native balance and its balances of the
// requested tokens.
type Balances struct {
	Account common.Address              `json:"account"`
	Native  *big.Int                    `json:"native"`
	Tokens  map[common.Address]*big.Int `json:"tokens,omitempty"`
}

func (d *DevnetService) Balances(account common.Address, tokens []common.Address) Balances {
	return read(d.svc, func() Balances {
		out := Balances{Account: account, Native: d.ledger.NativeBalance(account)}
		if len(tokens) > 0 {
			out.Tokens = make(map[common.Address]*big.Int, len(tokens))
			for _, t := range tokens {
				out.Tokens[t] = d.ledger.TokenBalance(t, account)
			}
		}
		return out
	})
}

// OwnerOf returns the current owner of an asset.
func (d *DevnetService) OwnerOf(ctx context.Context, collection common.Address, assetID *big.Int) (common.Address, error) {
	d.svc.mu.Lock()
	defer d.svc.mu.Unlock()
	owner, err := d.ledger.OwnerOf(ctx, collection, assetID)
	if err != nil {
		return common.Address{}, fmt.Errorf("devnet: owner of: %w", err)
	}
	return owner, nil
}
