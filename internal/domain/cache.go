package domain

import (
	"context"
	"time"
)

// RateLimiter counts calls per client in a sliding window and reports
// whether one more is allowed.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Lease is a lock held until Release. It is renewed in the background;
// Done is closed once it is released or a renewal finds it taken.
type Lease interface {
	Done() <-chan struct{}
	Release()
}

// LockManager hands out locks shared by every marketd replica. Both calls
// fail with ErrLockHeld when another holder has the key.
type LockManager interface {
	// Acquire takes key for the span of one job.
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
	// Lease takes key for as long as the process keeps it.
	Lease(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// StreamMessage is one entry of an event stream; ID orders entries.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus carries engine events: live pub/sub plus a replayable stream.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
