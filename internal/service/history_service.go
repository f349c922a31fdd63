package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// HistoryService answers queries over the persisted record of engine
// events. Unlike MarketService reads, it sees entities from earlier runs.
type HistoryService struct {
	listings    domain.ListingStore
	auctions    domain.AuctionStore
	offers      domain.OfferStore
	withdrawals domain.WithdrawalStore
	audit       domain.AuditStore
	logger      *slog.Logger
}

// NewHistoryService creates a HistoryService with all required dependencies.
func NewHistoryService(
	listings domain.ListingStore,
	auctions domain.AuctionStore,
	offers domain.OfferStore,
	withdrawals domain.WithdrawalStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *HistoryService {
	return &HistoryService{
		listings:    listings,
		auctions:    auctions,
		offers:      offers,
		withdrawals: withdrawals,
		audit:       audit,
		logger:      logger,
	}
}

func (s *HistoryService) ListingsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	out, err := s.listings.ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: listings by seller %s: %w", seller.Hex(), err)
	}
	return out, nil
}

func (s *HistoryService) AuctionsBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Auction, error) {
	out, err := s.auctions.ListBySeller(ctx, seller, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: auctions by seller %s: %w", seller.Hex(), err)
	}
	return out, nil
}

func (s *HistoryService) OffersByOfferer(ctx context.Context, offerer common.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	out, err := s.offers.ListByOfferer(ctx, offerer, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: offers by offerer %s: %w", offerer.Hex(), err)
	}
	return out, nil
}

// Withdrawals returns the last persisted pending balances of beneficiary,
// including zeroed ones that were already withdrawn.
func (s *HistoryService) Withdrawals(ctx context.Context, beneficiary common.Address) ([]domain.PendingWithdrawal, error) {
	out, err := s.withdrawals.ListByBeneficiary(ctx, beneficiary)
	if err != nil {
		return nil, fmt.Errorf("history_service: withdrawals of %s: %w", beneficiary.Hex(), err)
	}
	return out, nil
}

func (s *HistoryService) Audit(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	out, err := s.audit.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("history_service: audit log: %w", err)
	}
	return out, nil
}
