package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// AuctionStore implements domain.AuctionStore using PostgreSQL.
type AuctionStore struct {
	pool *pgxpool.Pool
}

// NewAuctionStore creates a new AuctionStore backed by the given connection pool.
func NewAuctionStore(pool *pgxpool.Pool) *AuctionStore {
	return &AuctionStore{pool: pool}
}

// Upsert writes the latest snapshot of an auction.
func (s *AuctionStore) Upsert(ctx context.Context, a domain.Auction) error {
	const query = `
		INSERT INTO auctions (
			id, seller, collection, asset_id, payment_method,
			start_price, current_bid, current_bidder,
			start_time, end_time, status, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5,
			$6::numeric, $7::numeric, $8,
			$9, $10, $11, $12
		)
		ON CONFLICT (id) DO UPDATE SET
			current_bid    = EXCLUDED.current_bid,
			current_bidder = EXCLUDED.current_bidder,
			end_time       = EXCLUDED.end_time,
			status         = EXCLUDED.status,
			updated_at     = EXCLUDED.updated_at
		WHERE auctions.updated_at <= EXCLUDED.updated_at`

	var bidder *string
	if addr, ok := a.CurrentBidder.Address(); ok {
		hex := addr.Hex()
		bidder = &hex
	}

	_, err := s.pool.Exec(ctx, query,
		int64(a.ID), a.Seller.Hex(), a.Collection.Hex(), amountArg(a.AssetID), a.PaymentMethod.String(),
		amountArg(a.StartPrice), amountArg(a.CurrentBid), bidder,
		a.StartTime, a.EndTime, string(a.Status), a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert auction %d: %w", a.ID, err)
	}
	return nil
}

const auctionCols = `id, seller, collection, asset_id::text, payment_method,
	start_price::text, current_bid::text, current_bidder,
	start_time, end_time, status, updated_at`

func scanAuction(row pgx.Row) (domain.Auction, error) {
	var (
		a                                           domain.Auction
		id                                          int64
		seller, collection, assetID, pm, startPrice string
		currentBid, bidder                          *string
		status                                      string
	)
	err := row.Scan(
		&id, &seller, &collection, &assetID, &pm,
		&startPrice, &currentBid, &bidder,
		&a.StartTime, &a.EndTime, &status, &a.UpdatedAt,
	)
	if err != nil {
		return domain.Auction{}, err
	}
	a.ID = uint64(id)
	a.Status = domain.AuctionStatus(status)

	if a.Seller, err = parseAddress(seller); err != nil {
		return domain.Auction{}, err
	}
	if a.Collection, err = parseAddress(collection); err != nil {
		return domain.Auction{}, err
	}
	if a.AssetID, err = parseAmount(assetID); err != nil {
		return domain.Auction{}, err
	}
	if a.PaymentMethod, err = domain.ParsePaymentMethod(pm); err != nil {
		return domain.Auction{}, err
	}
	if a.StartPrice, err = parseAmount(startPrice); err != nil {
		return domain.Auction{}, err
	}
	if a.CurrentBid, err = parseNullableAmount(currentBid); err != nil {
		return domain.Auction{}, err
	}
	if bidder != nil {
		addr, err := parseAddress(*bidder)
		if err != nil {
			return domain.Auction{}, err
		}
		a.CurrentBidder = domain.BidderOf(addr)
	}
	return a, nil
}

func collectAuctions(rows pgx.Rows) ([]domain.Auction, error) {
	defer rows.Close()
	var out []domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan auction: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: auction rows: %w", err)
	}
	return out, nil
}

// GetByID retrieves an auction by its id.
func (s *AuctionStore) GetByID(ctx context.Context, id uint64) (domain.Auction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+auctionCols+` FROM auctions WHERE id = $1`, int64(id))
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Auction{}, domain.ErrNotFound
		}
		return domain.Auction{}, fmt.Errorf("postgres: get auction %d: %w", id, err)
	}
	return a, nil
}

// ListBySeller returns a seller's auctions, newest first.
func (s *AuctionStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Auction, error) {
	query, args := paginate(`SELECT `+auctionCols+` FROM auctions WHERE seller = $1`,
		[]any{seller.Hex()}, opts, "updated_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list auctions by seller %s: %w", seller.Hex(), err)
	}
	return collectAuctions(rows)
}

// ListClosedBefore returns finalized or cancelled auctions last touched
// before the cutoff.
func (s *AuctionStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionCols+` FROM auctions WHERE status <> 'active' AND updated_at < $1 ORDER BY id LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed auctions: %w", err)
	}
	return collectAuctions(rows)
}

// DeleteByIDs removes auctions and returns how many were deleted.
func (s *AuctionStore) DeleteByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM auctions WHERE id = ANY($1)`, idArgs(ids))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete auctions: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.AuctionStore = (*AuctionStore)(nil)
