package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, "events", []byte("one")))
	require.NoError(t, b.Publish(ctx, "other", []byte("ignored")))

	select {
	case msg := <-ch:
		assert.Equal(t, "one", string(msg))
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	cancel()
	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
}

func TestBus_Stream(t *testing.T) {
	b := NewBus()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, b.StreamAppend(ctx, "s", []byte(p)))
	}

	all, err := b.StreamRead(ctx, "s", "0", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "1-0", all[0].ID)

	rest, err := b.StreamRead(ctx, "s", all[0].ID, 1)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "b", string(rest[0].Payload))

	none, err := b.StreamRead(ctx, "missing", "0", 10)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = b.StreamRead(ctx, "s", "garbage", 1)
	assert.Error(t, err)
}

func TestBus_FanOutAndSlowSubscriber(t *testing.T) {
	b := NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slow, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)
	fast, err := b.Subscribe(ctx, "events")
	require.NoError(t, err)

	// Nobody reads slow; publishing past its buffers must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4*subscriberBuffer; i++ {
			_ = b.Publish(ctx, "events", []byte("x"))
		}
	}()

	got := 0
	timeout := time.After(5 * time.Second)
	for got < subscriberBuffer {
		select {
		case <-fast:
			got++
		case <-timeout:
			t.Fatalf("fast subscriber received %d messages", got)
		}
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}
	assert.Eventually(t, func() bool { return len(slow) > 0 }, time.Second, 10*time.Millisecond)
}
