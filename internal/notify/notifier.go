// Package notify delivers operator alerts for engine events to chat
// channels. Alerts are queued and sent by a background worker so a slow
// webhook never holds up the engine.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const queueSize = 256

// DefaultEvents are the event types announced when none are configured.
var DefaultEvents = []string{"listing_sold", "auction_finalized", "offer_accepted", "withdrawal_recorded"}

// Sender is the interface that each notification channel must implement.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

type alert struct {
	event, title, message string
}

// Notifier filters alerts by event type and dispatches them to every
// Sender. Delivery is paced so chat APIs do not throttle the bot.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	queue   chan alert
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewNotifier creates a Notifier for senders. Only events in the list are
// forwarded; an empty list means DefaultEvents and "*" means every event.
// perMinute caps deliveries (0 means 20 per minute).
func NewNotifier(senders []Sender, events []string, perMinute int, logger *slog.Logger) *Notifier {
	if len(events) == 0 {
		events = DefaultEvents
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	if perMinute <= 0 {
		perMinute = 20
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		queue:   make(chan alert, queueSize),
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify queues an alert if its event type is allowed. It never blocks; a
// full queue drops the alert.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}
	if !n.events["*"] && !n.events[event] {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", event))
		return nil
	}
	select {
	case n.queue <- alert{event: event, title: title, message: message}:
		return nil
	default:
		return fmt.Errorf("notify: queue full, dropped %s", event)
	}
}

// Run delivers queued alerts until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case a := <-n.queue:
			if err := n.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := n.dispatch(ctx, a.title, a.message); err != nil {
				n.logger.WarnContext(ctx, "notify: delivery failed",
					slog.String("event", a.event),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// dispatch sends to every sender; one failure does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := s.Send(sendCtx, title, message)
		cancel()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	return errors.Join(errs...)
}
