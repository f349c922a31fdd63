package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/marketengine/internal/domain"
	"github.com/alanyoungcy/marketengine/internal/market"
	"github.com/alanyoungcy/marketengine/internal/metrics"
)

const (
	// EventsChannel carries every committed event as JSON.
	EventsChannel = "market:events"
	// EventsStream is the durable copy of EventsChannel.
	EventsStream = "market:stream"
)

// Notifier forwards human-readable alerts for selected event types.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RecorderDeps are the sinks a Recorder writes to. Any of them may be nil.
type RecorderDeps struct {
	Listings    domain.ListingStore
	Auctions    domain.AuctionStore
	Offers      domain.OfferStore
	Withdrawals domain.WithdrawalStore
	Audit       domain.AuditStore
	Sequences   domain.SequenceStore
	Bus         domain.SignalBus
	Notifier    Notifier
	Metrics     *metrics.Metrics
}

// Recorder persists, publishes and announces the events of committed
// engine operations. It is the engine's EventSink.
type Recorder struct {
	deps   RecorderDeps
	logger *slog.Logger
}

// NewRecorder creates a Recorder.
func NewRecorder(deps RecorderDeps, logger *slog.Logger) *Recorder {
	return &Recorder{deps: deps, logger: logger}
}

// Record implements market.EventSink. Persistence failures are returned
// after every event has been attempted; publish and notify failures are
// only logged.
func (r *Recorder) Record(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, ev := range events {
		r.deps.Metrics.EventCommitted(string(ev.Type))
		if err := r.persist(ctx, ev); err != nil {
			r.deps.Metrics.PersistFailed()
			errs = append(errs, fmt.Errorf("event %d (%s): %w", ev.Seq, ev.Type, err))
		}
		r.publish(ctx, ev)
		r.notify(ctx, ev)
	}
	if err := r.advance(ctx, events); err != nil {
		r.deps.Metrics.PersistFailed()
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("recorder: %w", errors.Join(errs...))
	}
	return nil
}

func (r *Recorder) persist(ctx context.Context, ev domain.Event) error {
	if r.deps.Audit != nil {
		if err := r.deps.Audit.LogEvent(ctx, ev); err != nil {
			return fmt.Errorf("audit: %w", err)
		}
	}
	if ev.Listing != nil && r.deps.Listings != nil {
		if err := r.deps.Listings.Upsert(ctx, *ev.Listing); err != nil {
			return fmt.Errorf("upsert listing %d: %w", ev.Listing.ID, err)
		}
	}
	if ev.Auction != nil && r.deps.Auctions != nil {
		if err := r.deps.Auctions.Upsert(ctx, *ev.Auction); err != nil {
			return fmt.Errorf("upsert auction %d: %w", ev.Auction.ID, err)
		}
	}
	if ev.Offer != nil && r.deps.Offers != nil {
		if err := r.deps.Offers.Upsert(ctx, *ev.Offer); err != nil {
			return fmt.Errorf("upsert offer %d: %w", ev.Offer.ID, err)
		}
	}
	if ev.Withdrawal != nil && r.deps.Withdrawals != nil {
		if err := r.deps.Withdrawals.Upsert(ctx, *ev.Withdrawal); err != nil {
			return fmt.Errorf("upsert withdrawal: %w", err)
		}
	}
	return nil
}

// advance raises the persisted sequence marks past every id in events.
func (r *Recorder) advance(ctx context.Context, events []domain.Event) error {
	if r.deps.Sequences == nil || len(events) == 0 {
		return nil
	}
	var hw domain.Sequences
	for _, ev := range events {
		hw.Event = max(hw.Event, ev.Seq)
		if ev.Listing != nil {
			hw.Listing = max(hw.Listing, ev.Listing.ID)
		}
		if ev.Auction != nil {
			hw.Auction = max(hw.Auction, ev.Auction.ID)
		}
		if ev.Offer != nil {
			hw.Offer = max(hw.Offer, ev.Offer.ID)
		}
	}
	if err := r.deps.Sequences.Advance(ctx, hw); err != nil {
		return fmt.Errorf("advance sequences: %w", err)
	}
	return nil
}

func (r *Recorder) publish(ctx context.Context, ev domain.Event) {
	if r.deps.Bus == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "recorder: marshal event failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := r.deps.Bus.Publish(ctx, EventsChannel, payload); err != nil {
		r.logger.WarnContext(ctx, "recorder: publish event failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
	if err := r.deps.Bus.StreamAppend(ctx, EventsStream, payload); err != nil {
		r.logger.WarnContext(ctx, "recorder: stream append failed",
			slog.Uint64("seq", ev.Seq),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Recorder) notify(ctx context.Context, ev domain.Event) {
	if r.deps.Notifier == nil {
		return
	}
	title, message, ok := describe(ev)
	if !ok {
		return
	}
	if err := r.deps.Notifier.Notify(ctx, string(ev.Type), title, message); err != nil {
		r.logger.WarnContext(ctx, "recorder: notify failed",
			slog.String("event", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// describe renders the alert text for events worth announcing.
func describe(ev domain.Event) (title, message string, ok bool) {
	switch ev.Type {
	case domain.EventListingSold:
		title = fmt.Sprintf("Listing #%d sold", ev.EntityID)
	case domain.EventAuctionFinalized:
		title = fmt.Sprintf("Auction #%d finalized", ev.EntityID)
	case domain.EventOfferAccepted:
		title = fmt.Sprintf("Offer #%d accepted", ev.EntityID)
	case domain.EventWithdrawalRecorded:
		w := ev.Withdrawal
		if w == nil {
			return "", "", false
		}
		return "Refund held for withdrawal",
			fmt.Sprintf("%s can withdraw %s %s", w.Beneficiary.Hex(), w.Amount, w.PaymentMethod),
			true
	default:
		return "", "", false
	}

	if s := ev.Settlement; s != nil {
		message = fmt.Sprintf("%s bought from %s for %s %s (fee %s, royalty %s, seller %s)",
			s.Buyer.Hex(), s.Seller.Hex(), s.Price, s.PaymentMethod, s.Fee, s.Royalty, s.SellerProceeds)
	} else {
		message = fmt.Sprintf("by %s", ev.Actor.Hex())
	}
	return title, message, true
}

var _ market.EventSink = (*Recorder)(nil)
