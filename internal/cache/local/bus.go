package local

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/cskr/pubsub"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

const (
	subscriberBuffer = 128
	streamMaxLen     = 10_000
)

// Bus implements domain.SignalBus inside one process. Pub/sub fan-out runs
// on cskr/pubsub; slow subscribers drop messages rather than block
// publishers. Streams are bounded in-memory logs with Redis-style ids.
type Bus struct {
	ps *pubsub.PubSub

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	next    uint64
	entries []domain.StreamMessage
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		ps:      pubsub.New(subscriberBuffer),
		streams: make(map[string]*stream),
	}
}

// Publish delivers payload to every current subscriber of channel.
func (b *Bus) Publish(_ context.Context, channel string, payload []byte) error {
	b.ps.TryPub(append([]byte(nil), payload...), channel)
	return nil
}

// Subscribe returns a channel of payloads published after the call. It is
// closed when ctx is done.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	sub := b.ps.Sub(channel)
	out := make(chan []byte, subscriberBuffer)

	go func() {
		<-ctx.Done()
		b.ps.Unsub(sub)
	}()
	go func() {
		defer close(out)
		// sub is closed by Unsub; drain it until then.
		for msg := range sub {
			payload, ok := msg.([]byte)
			if !ok {
				continue
			}
			select {
			case out <- payload:
			default:
			}
		}
	}()
	return out, nil
}

// StreamAppend adds payload to the named stream, trimming the oldest
// entries beyond streamMaxLen.
func (b *Bus) StreamAppend(_ context.Context, name string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		s = &stream{}
		b.streams[name] = s
	}
	s.next++
	s.entries = append(s.entries, domain.StreamMessage{
		ID:      strconv.FormatUint(s.next, 10) + "-0",
		Payload: append([]byte(nil), payload...),
	})
	if over := len(s.entries) - streamMaxLen; over > 0 {
		s.entries = append(s.entries[:0:0], s.entries[over:]...)
	}
	return nil
}

// StreamRead returns up to count entries after lastID ("0" for the start).
func (b *Bus) StreamRead(_ context.Context, name, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseStreamID(lastID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.streams[name]
	if !ok {
		return nil, nil
	}
	var out []domain.StreamMessage
	for _, m := range s.entries {
		seq, _ := parseStreamID(m.ID)
		if seq <= after {
			continue
		}
		out = append(out, m)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

func parseStreamID(id string) (uint64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, nil
	}
	head := id
	for i := 0; i < len(id); i++ {
		if id[i] == '-' {
			head = id[:i]
			break
		}
	}
	seq, err := strconv.ParseUint(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("local: invalid stream id %q", id)
	}
	return seq, nil
}

var _ domain.SignalBus = (*Bus)(nil)
