package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// SequenceStore implements domain.SequenceStore using PostgreSQL. Marks are
// kept per engine address.
type SequenceStore struct {
	pool   *pgxpool.Pool
	engine string
}

// NewSequenceStore creates a SequenceStore for the engine at address.
func NewSequenceStore(pool *pgxpool.Pool, engine common.Address) *SequenceStore {
	return &SequenceStore{pool: pool, engine: engine.Hex()}
}

// Load returns the stored marks, raised to the largest ids present in the
// read model for databases written before marks were kept.
func (s *SequenceStore) Load(ctx context.Context) (domain.Sequences, error) {
	const query = `
		SELECT
			GREATEST(COALESCE(m.listing, 0), (SELECT COALESCE(MAX(id), 0) FROM listings)),
			GREATEST(COALESCE(m.auction, 0), (SELECT COALESCE(MAX(id), 0) FROM auctions)),
			GREATEST(COALESCE(m.offer, 0),   (SELECT COALESCE(MAX(id), 0) FROM offers)),
			GREATEST(COALESCE(m.event, 0),   (SELECT COALESCE(MAX(seq), 0) FROM audit_log))
		FROM (SELECT 1) AS one
		LEFT JOIN engine_sequences m ON m.engine = $1`

	var listing, auction, offer, event int64
	if err := s.pool.QueryRow(ctx, query, s.engine).Scan(&listing, &auction, &offer, &event); err != nil {
		return domain.Sequences{}, fmt.Errorf("postgres: load sequences of %s: %w", s.engine, err)
	}
	return domain.Sequences{
		Listing: uint64(listing),
		Auction: uint64(auction),
		Offer:   uint64(offer),
		Event:   uint64(event),
	}, nil
}

// Advance raises the stored marks to seq. Lower values are ignored.
func (s *SequenceStore) Advance(ctx context.Context, seq domain.Sequences) error {
	const query = `
		INSERT INTO engine_sequences (engine, listing, auction, offer, event, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (engine) DO UPDATE SET
			listing    = GREATEST(engine_sequences.listing, EXCLUDED.listing),
			auction    = GREATEST(engine_sequences.auction, EXCLUDED.auction),
			offer      = GREATEST(engine_sequences.offer, EXCLUDED.offer),
			event      = GREATEST(engine_sequences.event, EXCLUDED.event),
			updated_at = NOW()`

	_, err := s.pool.Exec(ctx, query, s.engine,
		int64(seq.Listing), int64(seq.Auction), int64(seq.Offer), int64(seq.Event),
	)
	if err != nil {
		return fmt.Errorf("postgres: advance sequences of %s: %w", s.engine, err)
	}
	return nil
}

var _ domain.SequenceStore = (*SequenceStore)(nil)
