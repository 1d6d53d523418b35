// Package ws relays queue updates and redemption alerts from the signal bus
// to WebSocket clients. Clients narrow the stream by channel and by trove.
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

	"github.com/alanyoungcy/troveview/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxControlSize = 4096
	sendBuffer     = 256

	// Frames generated by the hub itself.
	channelStatus        = "service_status"
	channelSubscriptions = "subscriptions"
)

// relayed lists the bus channels forwarded to clients.
var relayed = []string{domain.ChannelQueueUpdates, domain.ChannelAlerts}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth and CORS middleware vet the request before the upgrade.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Envelope is the JSON frame written to every client.
type Envelope struct {
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// StatusFunc reports the runtime status sent to clients on connect.
type StatusFunc func() domain.ServiceStatus

// control is a client request to change its subscriptions. Troves are
// written "COLLATERAL/ID"; a client with no troves receives every trove.
type control struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
	Troves   []string `json:"troves"`
}

// frame is a relayed bus message with the trove it concerns, if known.
type frame struct {
	channel string
	trove   *domain.TroveRef
	data    []byte
}

// Hub fans signal bus messages out to subscribed clients.
type Hub struct {
	bus    domain.SignalBus
	status StatusFunc
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	frames chan frame
	join   chan *client
	leave  chan *client
	done   chan struct{}
}

// NewHub creates a Hub. bus may be nil, in which case clients only receive
// the initial status frame.
func NewHub(bus domain.SignalBus, status StatusFunc, logger *slog.Logger) *Hub {
	return &Hub{
		bus:     bus,
		status:  status,
		logger:  logger.With(slog.String("component", "ws_hub")),
		clients: make(map[*client]struct{}),
		frames:  make(chan frame, sendBuffer),
		join:    make(chan *client),
		leave:   make(chan *client),
		done:    make(chan struct{}),
	}
}

// Run relays bus messages until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	if h.bus != nil {
		for _, ch := range relayed {
			go h.relay(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.join:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "client connected", slog.Int("clients", n))

		case c := <-h.leave:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.InfoContext(ctx, "client disconnected", slog.Int("clients", n))

		case f := <-h.frames:
			h.mu.RLock()
			for c := range h.clients {
				if !c.wants(f) {
					continue
				}
				select {
				case c.send <- f.data:
				default:
					h.logger.WarnContext(ctx, "client too slow, frame dropped", slog.String("channel", f.channel))
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast queues payload for every client subscribed to channel and,
// when the payload names a trove, watching that trove. It returns false if
// the payload cannot be framed, the hub has stopped or ctx ends first.
func (h *Hub) Broadcast(ctx context.Context, channel string, payload []byte) bool {
	data, err := encode(channel, payload)
	if err != nil {
		h.logger.WarnContext(ctx, "unframeable payload dropped",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return false
	}
	select {
	case h.frames <- frame{channel: channel, trove: troveOf(payload), data: data}:
		return true
	case <-h.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.ErrorContext(ctx, "bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.InfoContext(ctx, "relaying bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				h.logger.WarnContext(ctx, "bus subscription closed", slog.String("channel", channel))
				return
			}
			h.Broadcast(ctx, channel, msg)
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WarnContext(r.Context(), "websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn)
	if data := h.statusFrame(); data != nil {
		c.send <- data
	}
	select {
	case h.join <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}

func (h *Hub) statusFrame() []byte {
	if h.status == nil {
		return nil
	}
	s := h.status()
	payload, err := json.Marshal(map[string]any{
		"mode":           s.Mode,
		"uptime_seconds": s.UptimeSeconds,
		"watched_troves": s.WatchedTroves,
		"ws_clients":     s.WSClients,
	})
	if err != nil {
		return nil
	}
	data, _ := encode(channelStatus, payload)
	return data
}

// encode wraps payload in an Envelope. Non-JSON payloads are sent as a
// JSON string.
func encode(channel string, payload []byte) ([]byte, error) {
	raw := json.RawMessage(payload)
	if !json.Valid(raw) {
		quoted, err := json.Marshal(string(payload))
		if err != nil {
			return nil, err
		}
		raw = quoted
	}
	return json.Marshal(Envelope{Channel: channel, Payload: raw})
}

// troveOf extracts the trove a queue update or alert concerns. Queue
// updates carry it at the top level, alerts under "trove".
func troveOf(payload []byte) *domain.TroveRef {
	var shape struct {
		domain.TroveRef
		Trove *domain.TroveRef `json:"trove"`
	}
	if err := json.Unmarshal(payload, &shape); err != nil {
		return nil
	}
	ref := shape.TroveRef
	if shape.Trove != nil {
		ref = *shape.Trove
	}
	if ref.ID == "" {
		return nil
	}
	return &ref
}

// parseTrove reads "WETH/7".
func parseTrove(s string) (domain.TroveRef, bool) {
	coll, id, ok := strings.Cut(strings.TrimSpace(s), "/")
	ref := domain.TroveRef{CollateralType: domain.CollateralType(coll), ID: id}
	return ref, ok && id != "" && ref.CollateralType.Valid()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	acks chan []byte

	mu       sync.RWMutex
	channels map[string]bool
	troves   map[domain.TroveRef]bool
}

func newClient(h *Hub, conn *websocket.Conn) *client {
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		acks:     make(chan []byte, 1),
		channels: make(map[string]bool, len(relayed)),
		troves:   make(map[domain.TroveRef]bool),
	}
	for _, ch := range relayed {
		c.channels[ch] = true
	}
	return c
}

// wants reports whether f passes the client's channel and trove filters.
func (c *client) wants(f frame) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.channels[f.channel] {
		return false
	}
	if len(c.troves) == 0 || f.trove == nil {
		return true
	}
	return c.troves[*f.trove]
}

func (c *client) apply(msg control) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	set := msg.Action == "subscribe"
	if !set && msg.Action != "unsubscribe" {
		return nil
	}
	for _, ch := range msg.Channels {
		if set {
			c.channels[ch] = true
		} else {
			delete(c.channels, ch)
		}
	}
	for _, s := range msg.Troves {
		ref, ok := parseTrove(s)
		if !ok {
			continue
		}
		if set {
			c.troves[ref] = true
		} else {
			delete(c.troves, ref)
		}
	}

	state := struct {
		Channels []string          `json:"channels"`
		Troves   []domain.TroveRef `json:"troves"`
	}{Channels: []string{}, Troves: []domain.TroveRef{}}
	for ch := range c.channels {
		state.Channels = append(state.Channels, ch)
	}
	for ref := range c.troves {
		state.Troves = append(state.Troves, ref)
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return nil
	}
	data, _ := encode(channelSubscriptions, payload)
	return data
}

// readLoop applies control messages until the connection closes.
func (c *client) readLoop() {
	defer func() {
		select {
		case c.hub.leave <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxControlSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("client closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		var msg control
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if ack := c.apply(msg); ack != nil {
			// Only the latest subscription state matters.
			select {
			case <-c.acks:
			default:
			}
			select {
			case c.acks <- ack:
			default:
			}
		}
	}
}

// writeLoop writes queued frames and keeps the connection alive with pings.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case ack := <-c.acks:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				return
			}
		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
