package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

const (
	// writeWait is the time allowed to write a control frame to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed between frames from the server.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// EventHandler is called for each engine event, in stream order.
type EventHandler func(domain.Event)

// Subscriber follows the marketd event feed over WebSocket and reconnects
// with exponential backoff when the connection drops. Events repeated after
// a reconnect are dropped by sequence number.
type Subscriber struct {
	wsURL   string
	apiKey  string
	topics  []string
	since   string
	onEvent EventHandler
	logger  *slog.Logger

	lastSeq uint64
}

// Subscribe returns a Subscriber for the given event types ("*" or
// "auction_*" style wildcards allowed; empty means all).
func (c *Client) Subscribe(topics []string, onEvent EventHandler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		wsURL:   wsURL(c.baseURL),
		apiKey:  c.apiKey,
		topics:  topics,
		onEvent: onEvent,
		logger:  logger.With(slog.String("component", "event_subscriber")),
	}
}

// Since replays stream entries after id on the first connection.
func (s *Subscriber) Since(id string) *Subscriber {
	s.since = id
	return s
}

// Run follows the feed until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := reconnectDelay
	for {
		connected, err := s.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			delay = reconnectDelay
		}
		s.logger.WarnContext(ctx, "event feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials once and reads until the connection fails. connected
// reports whether the dial succeeded.
func (s *Subscriber) runConnection(ctx context.Context) (connected bool, err error) {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("X-API-Key", s.apiKey)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url(), header)
	if err != nil {
		return false, fmt.Errorf("client/ws: connect: %w", err)
	}
	// Replay only applies to the first connection.
	s.since = ""

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()
	go s.pingLoop(conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("client/ws: read: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(message)
	}
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Subscriber) handleMessage(raw []byte) {
	var head struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return
	}
	if head.Type == "engine_status" {
		var status struct {
			LastSeq *uint64 `json:"last_seq"`
		}
		_ = json.Unmarshal(head.Payload, &status)
		if status.LastSeq != nil && *status.LastSeq < s.lastSeq {
			s.logger.Warn("event feed: engine restarted, sequence numbers start over",
				slog.Uint64("last_seen", s.lastSeq),
				slog.Uint64("engine_last", *status.LastSeq),
			)
			s.lastSeq = 0
		}
		s.logger.Info("event feed connected", slog.String("status", string(head.Payload)))
		return
	}

	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.logger.Warn("event feed: undecodable event", slog.String("error", err.Error()))
		return
	}
	if ev.Seq != 0 {
		if ev.Seq <= s.lastSeq {
			return
		}
		if s.lastSeq != 0 && ev.Seq > s.lastSeq+1 {
			s.logger.Warn("event feed: gap in sequence",
				slog.Uint64("after", s.lastSeq),
				slog.Uint64("got", ev.Seq),
			)
		}
		s.lastSeq = ev.Seq
	}
	if s.onEvent != nil {
		s.onEvent(ev)
	}
}

func (s *Subscriber) url() string {
	q := url.Values{}
	if len(s.topics) > 0 {
		q.Set("topics", strings.Join(s.topics, ","))
	}
	if s.since != "" {
		q.Set("since", s.since)
	}
	if len(q) == 0 {
		return s.wsURL
	}
	return s.wsURL + "?" + q.Encode()
}

// wsURL maps an http(s) base URL to the marketd WebSocket endpoint.
func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}
