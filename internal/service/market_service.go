package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
)

// writerLockKey names the lease held by the one replica allowed to mutate.
const writerLockKey = "market:writer"

// MarketService is the single entry point to the settlement engine. The
// engine is not safe for concurrent use, so every call holds a local mutex.
//
// Each replica runs its own engine. With a LockManager configured, only the
// replica holding the writer lease accepts mutations; the others answer
// domain.ErrNotWriter until the lease is free again.
type MarketService struct {
	mu      sync.Mutex
	engine  *market.Engine
	locks   domain.LockManager
	lockTTL time.Duration
	lease   domain.Lease
	logger  *slog.Logger
}

// NewMarketService creates a MarketService. locks may be nil, in which case
// the process is always the writer.
func NewMarketService(engine *market.Engine, locks domain.LockManager, lockTTL time.Duration, logger *slog.Logger) *MarketService {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	return &MarketService{
		engine:  engine,
		locks:   locks,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// acquire takes the local mutex and makes sure this replica holds the
// writer lease.
func (s *MarketService) acquire(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if err := s.ensureWriter(ctx); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return s.mu.Unlock, nil
}

// ensureWriter takes the writer lease if it is free. s.mu must be held.
func (s *MarketService) ensureWriter(ctx context.Context) error {
	if s.locks == nil {
		return nil
	}
	if s.lease != nil {
		select {
		case <-s.lease.Done():
			s.logger.WarnContext(ctx, "market_service: writer lease lost")
			s.lease = nil
		default:
			return nil
		}
	}
	lease, err := s.locks.Lease(ctx, writerLockKey, s.lockTTL)
	if errors.Is(err, domain.ErrLockHeld) {
		return fmt.Errorf("market_service: %w", domain.ErrNotWriter)
	}
	if err != nil {
		return fmt.Errorf("market_service: take writer lease: %w", err)
	}
	s.lease = lease
	s.logger.InfoContext(ctx, "market_service: holding writer lease")
	return nil
}

// holdsLease reports whether the writer lease is held. s.mu must be held.
func (s *MarketService) holdsLease() bool {
	if s.locks == nil {
		return true
	}
	if s.lease == nil {
		return false
	}
	select {
	case <-s.lease.Done():
		return false
	default:
		return true
	}
}

// IsWriter reports whether this replica may mutate, taking the writer lease
// if it is free.
func (s *MarketService) IsWriter(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureWriter(ctx) == nil
}

// Close gives up the writer lease.
func (s *MarketService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lease != nil {
		s.lease.Release()
		s.lease = nil
	}
}

// mutate runs fn as the writer, under the local mutex.
func mutate[T any](ctx context.Context, s *MarketService, op string, fn func() (T, error)) (T, error) {
	var zero T
	release, err := s.acquire(ctx)
	if err != nil {
		return zero, err
	}
	defer release()

	out, err := fn()
	if err != nil {
		s.logger.DebugContext(ctx, "market_service: operation rejected",
			slog.String("op", op),
			slog.String("kind", string(domain.KindOf(err))),
			slog.String("error", err.Error()),
		)
		return zero, err
	}
	return out, nil
}

func exec(ctx context.Context, s *MarketService, op string, fn func() error) error {
	_, err := mutate(ctx, s, op, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// read runs fn under the local mutex only.
func read[T any](s *MarketService, fn func() T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// --- Listings ---

func (s *MarketService) CreateListing(ctx context.Context, call domain.Call, p domain.ListingParams) (uint64, error) {
	return mutate(ctx, s, "create_listing", func() (uint64, error) {
		return s.engine.CreateListing(ctx, call, p.Collection, p.AssetID, p.PaymentMethod, p.Price, p.Duration)
	})
}

func (s *MarketService) BuyListing(ctx context.Context, call domain.Call, id uint64) (domain.Settlement, error) {
	return mutate(ctx, s, "buy_listing", func() (domain.Settlement, error) {
		return s.engine.BuyListing(ctx, call, id)
	})
}

func (s *MarketService) CancelListing(ctx context.Context, call domain.Call, id uint64) error {
	return exec(ctx, s, "cancel_listing", func() error {
		return s.engine.CancelListing(ctx, call, id)
	})
}

func (s *MarketService) UpdateListing(ctx context.Context, call domain.Call, id uint64, price *big.Int) error {
	return exec(ctx, s, "update_listing", func() error {
		return s.engine.UpdateListing(ctx, call, id, price)
	})
}

func (s *MarketService) BatchCreateListings(ctx context.Context, call domain.Call, params []domain.ListingParams) ([]uint64, error) {
	return mutate(ctx, s, "batch_create_listings", func() ([]uint64, error) {
		return s.engine.BatchCreateListings(ctx, call, params)
	})
}

func (s *MarketService) BatchCancelListings(ctx context.Context, call domain.Call, ids []uint64) error {
	return exec(ctx, s, "batch_cancel_listings", func() error {
		return s.engine.BatchCancelListings(ctx, call, ids)
	})
}

func (s *MarketService) BatchUpdatePrices(ctx context.Context, call domain.Call, ids []uint64, prices []*big.Int) error {
	return exec(ctx, s, "batch_update_prices", func() error {
		return s.engine.BatchUpdatePrices(ctx, call, ids, prices)
	})
}

// --- Auctions ---

func (s *MarketService) CreateAuction(ctx context.Context, call domain.Call, p domain.ListingParams) (uint64, error) {
	return mutate(ctx, s, "create_auction", func() (uint64, error) {
		return s.engine.CreateAuction(ctx, call, p.Collection, p.AssetID, p.PaymentMethod, p.Price, p.Duration)
	})
}

func (s *MarketService) PlaceBid(ctx context.Context, call domain.Call, id uint64, amount *big.Int) error {
	return exec(ctx, s, "place_bid", func() error {
		return s.engine.PlaceBid(ctx, call, id, amount)
	})
}

func (s *MarketService) FinalizeAuction(ctx context.Context, call domain.Call, id uint64) error {
	return exec(ctx, s, "finalize_auction", func() error {
		return s.engine.FinalizeAuction(ctx, call, id)
	})
}

func (s *MarketService) CancelAuction(ctx context.Context, call domain.Call, id uint64) error {
	return exec(ctx, s, "cancel_auction", func() error {
		return s.engine.CancelAuction(ctx, call, id)
	})
}

// --- Offers ---

func (s *MarketService) CreateOffer(ctx context.Context, call domain.Call, p domain.ListingParams) (uint64, error) {
	return mutate(ctx, s, "create_offer", func() (uint64, error) {
		return s.engine.CreateOffer(ctx, call, p.Collection, p.AssetID, p.PaymentMethod, p.Price, p.Duration)
	})
}

func (s *MarketService) AcceptOffer(ctx context.Context, call domain.Call, id uint64) (domain.Settlement, error) {
	return mutate(ctx, s, "accept_offer", func() (domain.Settlement, error) {
		return s.engine.AcceptOffer(ctx, call, id)
	})
}

func (s *MarketService) CancelOffer(ctx context.Context, call domain.Call, id uint64) error {
	return exec(ctx, s, "cancel_offer", func() error {
		return s.engine.CancelOffer(ctx, call, id)
	})
}

// --- Withdrawals ---

func (s *MarketService) Withdraw(ctx context.Context, call domain.Call, pm domain.PaymentMethod) (*big.Int, error) {
	return mutate(ctx, s, "withdraw", func() (*big.Int, error) {
		return s.engine.Withdraw(ctx, call, pm)
	})
}

// --- Admin ---

func (s *MarketService) SetFeeRate(ctx context.Context, call domain.Call, bps uint64) error {
	return exec(ctx, s, "set_fee_rate", func() error {
		return s.engine.SetFeeRate(ctx, call, bps)
	})
}

func (s *MarketService) SetFeeRecipient(ctx context.Context, call domain.Call, recipient common.Address) error {
	return exec(ctx, s, "set_fee_recipient", func() error {
		return s.engine.SetFeeRecipient(ctx, call, recipient)
	})
}

func (s *MarketService) SetPaymentMethod(ctx context.Context, call domain.Call, pm domain.PaymentMethod, supported bool) error {
	return exec(ctx, s, "set_payment_method", func() error {
		return s.engine.SetPaymentMethod(ctx, call, pm, supported)
	})
}

func (s *MarketService) Pause(ctx context.Context, call domain.Call) error {
	return exec(ctx, s, "pause", func() error {
		return s.engine.Pause(ctx, call)
	})
}

func (s *MarketService) Unpause(ctx context.Context, call domain.Call) error {
	return exec(ctx, s, "unpause", func() error {
		return s.engine.Unpause(ctx, call)
	})
}

// --- Reads ---

// Listing returns a listing or domain.ErrNotFound.
func (s *MarketService) Listing(id uint64) (domain.Listing, error) {
	l := read(s, func() domain.Listing { return s.engine.GetListing(id) })
	if !l.Exists() {
		return domain.Listing{}, fmt.Errorf("market_service: listing %d: %w", id, domain.ErrNotFound)
	}
	return l, nil
}

func (s *MarketService) Listings(ids []uint64, offset, limit int) []domain.Listing {
	return read(s, func() []domain.Listing { return s.engine.GetListings(ids, offset, limit) })
}

// Auction returns an auction or domain.ErrNotFound.
func (s *MarketService) Auction(id uint64) (domain.Auction, error) {
	a := read(s, func() domain.Auction { return s.engine.GetAuction(id) })
	if !a.Exists() {
		return domain.Auction{}, fmt.Errorf("market_service: auction %d: %w", id, domain.ErrNotFound)
	}
	return a, nil
}

func (s *MarketService) Auctions(ids []uint64, offset, limit int) []domain.Auction {
	return read(s, func() []domain.Auction { return s.engine.GetAuctions(ids, offset, limit) })
}

// Offer returns an offer or domain.ErrNotFound.
func (s *MarketService) Offer(id uint64) (domain.Offer, error) {
	o := read(s, func() domain.Offer { return s.engine.GetOffer(id) })
	if !o.Exists() {
		return domain.Offer{}, fmt.Errorf("market_service: offer %d: %w", id, domain.ErrNotFound)
	}
	return o, nil
}

func (s *MarketService) Offers(ids []uint64, offset, limit int) []domain.Offer {
	return read(s, func() []domain.Offer { return s.engine.GetOffers(ids, offset, limit) })
}

func (s *MarketService) MinimumBid(id uint64) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.MinimumBid(id)
}

func (s *MarketService) PendingWithdrawals(account common.Address) []domain.PendingWithdrawal {
	return read(s, func() []domain.PendingWithdrawal { return s.engine.PendingWithdrawals(account) })
}

// EndedAuctions returns up to limit active auctions past their end time.
func (s *MarketService) EndedAuctions(_ context.Context, limit int) ([]uint64, error) {
	return read(s, func() []uint64 { return s.engine.EndedAuctions(s.engine.Now(), limit) }), nil
}

// Status is a point-in-time view of the engine configuration and counters.
type Status struct {
	Owner          common.Address         `json:"owner"`
	Address        common.Address         `json:"address"`
	FeeRateBps     uint64                 `json:"fee_rate_bps"`
	FeeRecipient   common.Address         `json:"fee_recipient"`
	Paused         bool                   `json:"paused"`
	PaymentMethods []domain.PaymentMethod `json:"payment_methods"`
	Stats          market.Stats           `json:"stats"`
	Writer         bool                   `json:"writer"`
	Now            time.Time              `json:"now"`
}

func (s *MarketService) Status() Status {
	return read(s, func() Status {
		return Status{
			Owner:          s.engine.Owner(),
			Address:        s.engine.Address(),
			FeeRateBps:     s.engine.FeeRateBps(),
			FeeRecipient:   s.engine.FeeRecipient(),
			Paused:         s.engine.Paused(),
			PaymentMethods: s.engine.PaymentMethods(),
			Stats:          s.engine.Stats(),
			Writer:         s.holdsLease(),
			Now:            s.engine.Now(),
		}
	})
}
