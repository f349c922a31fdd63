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

// OfferStore implements domain.OfferStore using PostgreSQL.
type OfferStore struct {
	pool *pgxpool.Pool
}

// NewOfferStore creates a new OfferStore backed by the given connection pool.
func NewOfferStore(pool *pgxpool.Pool) *OfferStore {
	return &OfferStore{pool: pool}
}

// Upsert writes the latest snapshot of an offer. Only the status moves
// once an offer exists.
func (s *OfferStore) Upsert(ctx context.Context, o domain.Offer) error {
	const query = `
		INSERT INTO offers (
			id, offerer, collection, asset_id, payment_method,
			price, expiry, active, updated_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5,
			$6::numeric, $7, $8, $9
		)
		ON CONFLICT (id) DO UPDATE SET
			active     = EXCLUDED.active,
			updated_at = EXCLUDED.updated_at
		WHERE offers.updated_at <= EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, query,
		int64(o.ID), o.Offerer.Hex(), o.Collection.Hex(), amountArg(o.AssetID), o.PaymentMethod.String(),
		amountArg(o.Price), o.Expiry, o.Active, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert offer %d: %w", o.ID, err)
	}
	return nil
}

const offerCols = `id, offerer, collection, asset_id::text, payment_method,
	price::text, expiry, active, updated_at`

func scanOffer(row pgx.Row) (domain.Offer, error) {
	var (
		o                                       domain.Offer
		id                                      int64
		offerer, collection, assetID, pm, price string
	)
	if err := row.Scan(&id, &offerer, &collection, &assetID, &pm, &price, &o.Expiry, &o.Active, &o.UpdatedAt); err != nil {
		return domain.Offer{}, err
	}
	o.ID = uint64(id)

	var err error
	if o.Offerer, err = parseAddress(offerer); err != nil {
		return domain.Offer{}, err
	}
	if o.Collection, err = parseAddress(collection); err != nil {
		return domain.Offer{}, err
	}
	if o.AssetID, err = parseAmount(assetID); err != nil {
		return domain.Offer{}, err
	}
	if o.PaymentMethod, err = domain.ParsePaymentMethod(pm); err != nil {
		return domain.Offer{}, err
	}
	if o.Price, err = parseAmount(price); err != nil {
		return domain.Offer{}, err
	}
	return o, nil
}

func collectOffers(rows pgx.Rows) ([]domain.Offer, error) {
	defer rows.Close()
	var out []domain.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan offer: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: offer rows: %w", err)
	}
	return out, nil
}

// GetByID retrieves a offer by its id.
func (s *OfferStore) GetByID(ctx context.Context, id uint64) (domain.Offer, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1`, int64(id))
	o, err := scanOffer(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Offer{}, domain.ErrNotFound
		}
		return domain.Offer{}, fmt.Errorf("postgres: get offer %d: %w", id, err)
	}
	return o, nil
}

// ListByOfferer returns an offerer's offers, newest first.
func (s *OfferStore) ListByOfferer(ctx context.Context, offerer common.Address, opts domain.ListOpts) ([]domain.Offer, error) {
	query, args := paginate(`SELECT `+offerCols+` FROM offers WHERE offerer = $1`,
		[]any{offerer.Hex()}, opts, "updated_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list offers by offerer %s: %w", offerer.Hex(), err)
	}
	return collectOffers(rows)
}

// ListClosedBefore returns accepted, cancelled or superseded offers last touched before the cutoff.
func (s *OfferStore) ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]domain.Offer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerCols+` FROM offers WHERE NOT active AND updated_at < $1 ORDER BY id LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list closed offers: %w", err)
	}
	return collectOffers(rows)
}

// DeleteByIDs removes offers and returns how many were deleted.
func (s *OfferStore) DeleteByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM offers WHERE id = ANY($1)`, idArgs(ids))
	if err != nil {
		return 0, fmt.Errorf("postgres: delete offers: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.OfferStore = (*OfferStore)(nil)
