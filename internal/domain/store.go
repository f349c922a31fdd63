package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ListingStore persists listing snapshots.
type ListingStore interface {
	Upsert(ctx context.Context, l Listing) error
	GetByID(ctx context.Context, id uint64) (Listing, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Listing, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Listing, error)
	DeleteByIDs(ctx context.Context, ids []uint64) (int64, error)
}

// AuctionStore persists auction snapshots.
type AuctionStore interface {
	Upsert(ctx context.Context, a Auction) error
	GetByID(ctx context.Context, id uint64) (Auction, error)
	ListBySeller(ctx context.Context, seller common.Address, opts ListOpts) ([]Auction, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Auction, error)
	DeleteByIDs(ctx context.Context, ids []uint64) (int64, error)
}

// OfferStore persists offer snapshots.
type OfferStore interface {
	Upsert(ctx context.Context, o Offer) error
	GetByID(ctx context.Context, id uint64) (Offer, error)
	ListByOfferer(ctx context.Context, offerer common.Address, opts ListOpts) ([]Offer, error)
	ListClosedBefore(ctx context.Context, before time.Time, limit int) ([]Offer, error)
	DeleteByIDs(ctx context.Context, ids []uint64) (int64, error)
}

// WithdrawalStore persists pending withdrawal balances.
type WithdrawalStore interface {
	Upsert(ctx context.Context, w PendingWithdrawal) error
	ListByBeneficiary(ctx context.Context, beneficiary common.Address) ([]PendingWithdrawal, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	EventID   string
	Seq       uint64
	Event     string
	EntityID  uint64
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	LogEvent(ctx context.Context, ev Event) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]AuditEntry, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
}

// Sequences are the last ids an engine issued for each entity type and
// for events.
type Sequences struct {
	Listing uint64
	Auction uint64
	Offer   uint64
	Event   uint64
}

// Merge returns the larger of each counter.
func (s Sequences) Merge(o Sequences) Sequences {
	return Sequences{
		Listing: max(s.Listing, o.Listing),
		Auction: max(s.Auction, o.Auction),
		Offer:   max(s.Offer, o.Offer),
		Event:   max(s.Event, o.Event),
	}
}

// SequenceStore keeps the high-water marks of an engine's sequences so a
// restarted engine never reissues an id already persisted or archived.
type SequenceStore interface {
	Load(ctx context.Context) (Sequences, error)
	Advance(ctx context.Context, s Sequences) error
}
