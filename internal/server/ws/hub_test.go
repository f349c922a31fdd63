package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/cache/local"
)

func event(typ string) []byte {
	b, _ := json.Marshal(map[string]any{"type": typ})
	return b
}

func startHub(t *testing.T, bus *local.Bus) (*httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Mode:    "test",
		Channel: "events",
		Stream:  "stream",
		LastSeq: func() uint64 { return 7 },
	})
	go hub.Run(ctx)
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)
	t.Cleanup(cancel)
	return srv, cancel
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readType(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return eventType(data)
}

func TestHub_FiltersLiveEventsByTopic(t *testing.T) {
	bus := local.NewBus()
	srv, _ := startHub(t, bus)
	conn := dial(t, srv, "?topics=listing_sold")

	assert.Equal(t, "engine_status", readType(t, conn))

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				_ = bus.Publish(context.Background(), "events", event("listing_created"))
				_ = bus.Publish(context.Background(), "events", event("listing_sold"))
			}
		}
	}()

	assert.Equal(t, "listing_sold", readType(t, conn))
	assert.Equal(t, "listing_sold", readType(t, conn))
}

func TestHub_ReplaysStreamSince(t *testing.T) {
	bus := local.NewBus()
	ctx := context.Background()
	require.NoError(t, bus.StreamAppend(ctx, "stream", event("auction_created")))
	require.NoError(t, bus.StreamAppend(ctx, "stream", event("listing_created")))
	require.NoError(t, bus.StreamAppend(ctx, "stream", event("auction_bid")))

	srv, _ := startHub(t, bus)
	conn := dial(t, srv, "?since=1-0&topics=auction_*")

	assert.Equal(t, "engine_status", readType(t, conn))
	assert.Equal(t, "auction_bid", readType(t, conn))
}

func TestMatchTopic(t *testing.T) {
	assert.True(t, matchTopic(map[string]bool{"*": true}, "anything"))
	assert.True(t, matchTopic(map[string]bool{"offer_accepted": true}, "offer_accepted"))
	assert.True(t, matchTopic(map[string]bool{"offer_*": true}, "offer_cancelled"))
	assert.False(t, matchTopic(map[string]bool{"offer_*": true}, "listing_sold"))
	assert.False(t, matchTopic(map[string]bool{}, "listing_sold"))
}

func TestEventType(t *testing.T) {
	assert.Equal(t, "listing_sold", eventType(event("listing_sold")))
	assert.Equal(t, "", eventType([]byte("not json")))
}

func TestHub_HelloCarriesLastSeq(t *testing.T) {
	srv, _ := startHub(t, local.NewBus())
	conn := dial(t, srv, "")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var hello struct {
		Type    string `json:"type"`
		Payload struct {
			Mode    string `json:"mode"`
			LastSeq uint64 `json:"last_seq"`
		} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(data, &hello))
	assert.Equal(t, "engine_status", hello.Type)
	assert.Equal(t, "test", hello.Payload.Mode)
	assert.Equal(t, uint64(7), hello.Payload.LastSeq)
}
