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

// ListingStore implements domain.ListingStore using PostgreSQL.
type ListingStore struct {
	pool *pgxpool.Pool
}

// NewListingStore creates a new ListingStore backed by the given connection pool.
func NewListingStore(pool *pgxpool.Pool) *ListingStore {
	return &ListingStore{pool: pool}
}

// Upsert writes the latest snapshot of a listing. Older snapshots never
// overwrite newer ones.
func (s *ListingStore) Upsert(ctx context.Context, l domain.Listing) error {
	const query = `
		INSERT INTO listings (
			id, seller, collection, asset_id, payment_method,
			price, expiry, active, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5,
			$6::numeric, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			price      = EXCLUDED.price,
			expiry     = EXCLUDED.expiry,
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		WHERE listings.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(l.ID), l.Seller.Hex(), l.Collection.Hex(), amountArg(l.AssetID), l.PaymentMethod.String(),
		amountArg(l.Price), l.Expiry, l.Active, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert listing %d: %w", l.ID, err)
	}
	return nil
}

const listingCols = `id, seller, collection, asset_id::text, payment_method,
	price::text, expiry, active, updated_at`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var (
		l                                      domain.Listing
		id                                     int64
		seller, collection, assetID, pm, price string
	)
	if err := row.Scan(&id, &seller, &collection, &assetID, &pm, &price, &l.Expiry, &l.Active, &l.UpdatedAt); err != nil {
		return domain.Listing{}, err
	}
	l.ID = uint64(id)

	var err error
	if l.Seller, err = parseAddress(seller); err != nil {
		return domain.Listing{}, err
	}
	if l.Collection, err = parseAddress(collection); err != nil {
		return domain.Listing{}, err
	}
	if l.AssetID, err = parseAmount(assetID); err != nil {
		return domain.Listing{}, err
	}
	if l.PaymentMethod, err = domain.ParsePaymentMethod(pm); err != nil {
		return domain.Listing{}, err
	}
	if l.Price, err = parseAmount(price); err != nil {
		return domain.Listing{}, err
	}
	return l, nil
}

func collectListings(rows pgx.Rows) ([]domain.Listing, error) {
	defer rows.Close()
	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: listing rows: %w", err)
	}
	return out, nil
}

// GetByID retrieves a listing by its id.
func (s *ListingStore) GetByID(ctx context.Context, id uint64) (domain.Listing, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id = $1`, int64(id))
	l, err := scanListing(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Listing{}, domain.ErrNotFound
		}
		return domain.Listing{}, fmt.Errorf("postgres: get listing %d: %w", id, err)
	}
	return l, nil
}

// ListBySeller returns a seller's listings, newest first.
func (s *ListingStore) ListBySeller(ctx context.Context, seller common.Address, opts domain.ListOpts) ([]domain.Listing, error) {
	query, args := paginate(`SELECT `+listingCols+` FROM listings WHERE seller = $1`,
		[]any{seller.Hex()}, opts, "updated_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list listings by seller %s: %w", seller.Hex(), err)
	}
	return collectListings(rows)
}

// ListClosedBefore returns inactive listings last touched before the cutoff.
func (s *ListingStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingCols+` FROM listings WHERE NOT active AND updated_at < $1 ORDER BY id LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed listings: %w", err)
	}
	return collectListings(rows)
}

// DeleteByIDs removes listings and returns how many were deleted.
func (s *ListingStore) DeleteByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM listings WHERE id = ANY($1)`, idArgs(ids))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete listings: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.ListingStore = (*ListingStore)(nil)
