// Package ws streams engine events from the Redis signal bus to WebSocket
// clients. Everything pushed over a socket is already public: lifecycle
// transitions and ciphertext handles, never a stake or an unrevealed pool.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veilbet/veilbet/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// eventChannels returns the bus channels the hub mirrors, one per engine
// event type.
func eventChannels() []string {
	types := []domain.EventType{
		domain.EventMarketCreated,
		domain.EventBetPlaced,
		domain.EventMarketLocked,
		domain.EventResolutionRequested,
		domain.EventTotalsRevealed,
		domain.EventOutcomeSet,
		domain.EventWinningsClaimed,
	}
	chans := make([]string, len(types))
	for i, t := range types {
		chans[i] = domain.Event{Type: t}.Channel()
	}
	return chans
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin filtering is the CORS middleware's job.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Config carries the runtime metadata echoed to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// Hub fans bus messages out to every subscribed WebSocket client.
type Hub struct {
	bus    domain.SignalBus
	logger *slog.Logger

	mu    sync.RWMutex
	conns map[*client]struct{}

	inbound chan busMessage

	mode      string
	startedAt time.Time
}

// busMessage is one payload read off the signal bus, tagged with its source
// channel for per-client filtering.
type busMessage struct {
	channel string
	payload []byte
}

// NewHub creates a Hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	started := cfg.StartedAt
	if started.IsZero() {
		started = time.Now().UTC()
	}
	return &Hub{
		bus:       bus,
		logger:    logger.With(slog.String("component", "ws")),
		conns:     make(map[*client]struct{}),
		inbound:   make(chan busMessage, 256),
		mode:      mode,
		startedAt: started,
	}
}

// Run subscribes to every event channel and broadcasts until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for _, ch := range eventChannels() {
		go h.pump(ctx, ch)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case msg := <-h.inbound:
			h.broadcast(msg)
		}
	}
}

// pump forwards one bus channel into the hub's inbound queue.
func (h *Hub) pump(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-msgs:
			if !ok {
				h.logger.Warn("subscription closed", slog.String("channel", channel))
				return
			}
			h.inbound <- busMessage{channel: channel, payload: payload}
		}
	}
}

func (h *Hub) broadcast(msg busMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		if !c.wants(msg.channel) {
			continue
		}
		select {
		case c.send <- msg.payload:
		default:
			// Slow consumer: drop rather than stall the hub.
			h.logger.Warn("dropping message for slow client")
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.Int("total_clients", n))
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.conns[c]; ok {
		delete(h.conns, c)
		close(c.send)
	}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Info("client disconnected", slog.Int("total_clients", n))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		close(c.send)
		delete(h.conns, c)
	}
}

// HandleWS upgrades the request and attaches the client to the hub.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	h.add(c)
	c.greet()

	go c.writeLoop()
	go c.readLoop()
}

// client is one WebSocket connection with its subscription set. New clients
// start subscribed to every event channel and narrow from there.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]struct{}
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	subs := make(map[string]struct{})
	for _, ch := range eventChannels() {
		subs[ch] = struct{}{}
	}
	return &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: subs,
	}
}

// subscribeMsg is the client-to-hub control frame:
// {"action":"subscribe","channels":["ch:market:*"]}.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

// wants reports whether channel matches the client's subscriptions,
// including trailing-star patterns like "ch:market:*".
func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.subs[channel]; ok {
		return true
	}
	for pattern := range c.subs {
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (c *client) applyControl(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = struct{}{}
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// greet pushes a status envelope so clients can mark the connection healthy
// before any market event flows.
func (c *client) greet() {
	uptime := max(int64(time.Since(c.hub.startedAt).Seconds()), 0)
	msg, err := json.Marshal(map[string]any{
		"type": "engine_status",
		"payload": map[string]any{
			"mode":           c.hub.mode,
			"ws_connected":   true,
			"uptime_seconds": uptime,
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readLoop consumes control frames until the peer goes away.
func (c *client) readLoop() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("unexpected close", slog.String("error", err.Error()))
			}
			return
		}
		var ctrl subscribeMsg
		if err := json.Unmarshal(message, &ctrl); err == nil && ctrl.Action != "" {
			c.applyControl(ctrl)
		}
	}
}

// writeLoop sends queued events as JSON text frames with ping keepalives.
func (c *client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
