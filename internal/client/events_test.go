package client

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

func TestSubscriber_DeliversInOrderAcrossReconnects(t *testing.T) {
	var (
		conns   atomic.Int32
		queries = make(chan string, 4)
	)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("X-API-Key"))
		queries <- r.URL.RawQuery

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		write := func(v any) {
			b, _ := json.Marshal(v)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		write(map[string]any{"type": "engine_status", "payload": map[string]any{"mode": "test"}})
		if conns.Add(1) == 1 {
			write(domain.Event{Seq: 1, Type: domain.EventListingCreated, EntityID: 4})
			return // drop the connection
		}
		// The server repeats the last event after a reconnect.
		write(domain.Event{Seq: 1, Type: domain.EventListingCreated, EntityID: 4})
		write(domain.Event{Seq: 2, Type: domain.EventListingSold, EntityID: 4})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	var (
		mu  sync.Mutex
		got []domain.Event
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := New(srv.URL, "k").
		Subscribe([]string{"listing_*"}, func(ev domain.Event) {
			mu.Lock()
			got = append(got, ev)
			mu.Unlock()
		}, slog.New(slog.NewTextHandler(io.Discard, nil))).
		Since("0")

	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 8*time.Second, 20*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, domain.EventListingCreated, got[0].Type)
	assert.Equal(t, domain.EventListingSold, got[1].Type)
	assert.Equal(t, uint64(4), got[1].EntityID)

	assert.Equal(t, "since=0&topics=listing_%2A", <-queries)
	assert.Equal(t, "topics=listing_%2A", <-queries, "replay is only requested once")
}

func TestWSURL(t *testing.T) {
	assert.Equal(t, "ws://localhost:8080/ws", wsURL("http://localhost:8080"))
	assert.Equal(t, "wss://market.example/ws", wsURL("https://market.example"))
}

func TestSubscriber_AcceptsRestartedEngine(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		write := func(v any) {
			b, _ := json.Marshal(v)
			_ = conn.WriteMessage(websocket.TextMessage, b)
		}
		if conns.Add(1) == 1 {
			write(map[string]any{"type": "engine_status", "payload": map[string]any{"last_seq": 5}})
			write(domain.Event{Seq: 4, Type: domain.EventListingCreated, EntityID: 1})
			write(domain.Event{Seq: 5, Type: domain.EventListingSold, EntityID: 1})
			return
		}
		// A fresh engine numbers its events from 1 again.
		write(map[string]any{"type": "engine_status", "payload": map[string]any{"last_seq": 1}})
		write(domain.Event{Seq: 1, Type: domain.EventAuctionCreated, EntityID: 1})
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	var (
		mu  sync.Mutex
		got []domain.EventType
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sub := New(srv.URL, "").Subscribe(nil, func(ev domain.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	errc := make(chan error, 1)
	go func() { errc <- sub.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, 8*time.Second, 20*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []domain.EventType{
		domain.EventListingCreated,
		domain.EventListingSold,
		domain.EventAuctionCreated,
	}, got)
}
