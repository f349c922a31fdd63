// Package market implements the settlement engine: fixed-price listings,
// ascending auctions with anti-snipe extension, escrowed offers, the
// fee/royalty/seller split, and the pull-payment fallback for refunds that
// could not be pushed.
//
// Every mutating operation runs as a transaction. It holds a non-reentrant
// guard, records each state change in an undo journal, and on failure
// rolls back both engine state and collaborator state so that nothing is
// observable from a failed call. Events are delivered only after commit.
//
// An Engine is not safe for concurrent use; callers serialise access.
package market

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/raulk/clock"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// EventSink receives the events of each committed operation, in order.
type EventSink interface {
	Record(ctx context.Context, events []domain.Event) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the engine time source.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithEventSink sets where committed events are delivered.
func WithEventSink(s EventSink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSequences resumes id and event numbering after the given marks, so
// an engine restarted over persisted history never reissues an id.
func WithSequences(s domain.Sequences) Option {
	return func(e *Engine) {
		e.seq = sequences{listing: s.Listing, auction: s.Auction, offer: s.Offer, event: s.Event}
	}
}

type assetKey struct {
	collection common.Address
	asset      common.Hash
}

func keyOf(collection common.Address, assetID *big.Int) assetKey {
	return assetKey{collection: collection, asset: common.BigToHash(assetID)}
}

type withdrawalKey struct {
	account common.Address
	method  domain.PaymentMethod
}

type sequences struct {
	listing uint64
	auction uint64
	offer   uint64
	event   uint64
}

// Engine is the marketplace settlement engine.
type Engine struct {
	params  Params
	backend Backend
	clock   clock.Clock
	sink    EventSink
	logger  *slog.Logger

	entered atomic.Bool
	journal journal
	pending []domain.Event

	owner        common.Address
	feeRateBps   uint64
	feeRecipient common.Address
	paused       bool
	methods      map[domain.PaymentMethod]bool

	seq           sequences
	listings      map[uint64]domain.Listing
	auctions      map[uint64]domain.Auction
	offers        map[uint64]domain.Offer
	activeListing map[assetKey]uint64
	activeAuction map[assetKey]uint64
	withdrawals   map[withdrawalKey]*big.Int
	owed          map[domain.PaymentMethod]*big.Int
}

// New creates an Engine acting at params.Address over the given
// collaborators.
func New(params Params, backend Backend, opts ...Option) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if backend.Assets == nil || backend.Native == nil || backend.Tokens == nil {
		return nil, errors.New("market: asset registry, native bank and token ledger are required")
	}

	e := &Engine{
		params:        params,
		backend:       backend,
		clock:         clock.New(),
		logger:        slog.Default(),
		owner:         params.Owner,
		feeRateBps:    params.FeeRateBps,
		feeRecipient:  params.FeeRecipient,
		methods:       make(map[domain.PaymentMethod]bool, len(params.PaymentMethods)),
		listings:      make(map[uint64]domain.Listing),
		auctions:      make(map[uint64]domain.Auction),
		offers:        make(map[uint64]domain.Offer),
		activeListing: make(map[assetKey]uint64),
		activeAuction: make(map[assetKey]uint64),
		withdrawals:   make(map[withdrawalKey]*big.Int),
		owed:          make(map[domain.PaymentMethod]*big.Int),
	}
	for _, pm := range params.PaymentMethods {
		e.methods[pm] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "market"))
	return e, nil
}

// transact runs fn as one atomic operation. On error or panic every
// engine and collaborator mutation made by fn is rolled back and its
// events are discarded.
func (e *Engine) transact(ctx context.Context, op string, fn func(now time.Time) error) error {
	events, err := e.run(ctx, fn)
	if err != nil {
		return fmt.Errorf("market: %s: %w", op, err)
	}
	e.flush(ctx, op, events)
	return nil
}

func (e *Engine) run(ctx context.Context, fn func(now time.Time) error) (events []domain.Event, err error) {
	if !e.entered.CompareAndSwap(false, true) {
		return nil, domain.ErrReentrantCall
	}
	defer e.entered.Store(false)

	snap := -1
	if e.backend.State != nil {
		snap = e.backend.State.Snapshot()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrCollaboratorPanic, r)
		}
		if err != nil {
			e.journal.revert(0)
			e.pending = nil
			if snap >= 0 {
				e.backend.State.RevertToSnapshot(snap)
			}
			events = nil
			return
		}
		e.journal.reset()
		if snap >= 0 {
			e.backend.State.Commit(snap)
		}
		events, e.pending = e.pending, nil
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, fn(e.clock.Now())
}

func (e *Engine) flush(ctx context.Context, op string, events []domain.Event) {
	if e.sink == nil || len(events) == 0 {
		return
	}
	if err := e.sink.Record(ctx, events); err != nil {
		e.logger.WarnContext(ctx, "market: event sink failed",
			slog.String("op", op),
			slog.Int("events", len(events)),
			slog.String("error", err.Error()),
		)
	}
}

// emit queues ev for delivery once the current operation commits.
func (e *Engine) emit(now time.Time, ev domain.Event) {
	setField(&e.journal, &e.seq.event, e.seq.event+1)
	ev.Seq = e.seq.event
	ev.At = now

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], ev.Seq)
	ev.ID = crypto.Keccak256Hash(e.params.Address.Bytes(), buf[:])

	e.pending = append(e.pending, ev)
}

func (e *Engine) nextID(counter *uint64) uint64 {
	setField(&e.journal, counter, *counter+1)
	return *counter
}

func (e *Engine) putListing(l domain.Listing) {
	setEntry(&e.journal, e.listings, l.ID, l)
}

func (e *Engine) putAuction(a domain.Auction) {
	setEntry(&e.journal, e.auctions, a.ID, a)
}

func (e *Engine) putOffer(o domain.Offer) {
	setEntry(&e.journal, e.offers, o.ID, o)
}

// Address returns the account the engine holds custody under.
func (e *Engine) Address() common.Address {
	return e.params.Address
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock.Now()
}

// Params returns the settings the engine was built with.
func (e *Engine) Params() Params {
	return e.params
}
