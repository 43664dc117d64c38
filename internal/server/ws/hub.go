package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/cfebook/internal/domain"
	"github.com/alanyoungcy/cfebook/internal/export"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256

	// allSymbols subscribes a client to every symbol.
	allSymbols = "*"
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origins are enforced by the CORS middleware in front of the hub.
		return true
	},
}

// frame is one outgoing WebSocket message. BBO updates travel as binary
// protobuf-wire records; control and session messages are JSON text.
type frame struct {
	data   []byte
	binary bool
}

// client represents a single WebSocket connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan frame
	subs map[string]bool // subscribed symbols
	mu   sync.RWMutex
}

// subscribeMsg is the JSON message a client sends to pick symbols.
type subscribeMsg struct {
	Action  string   `json:"action"` // "subscribe" or "unsubscribe"
	Symbols []string `json:"symbols"`
}

type controlMsg struct {
	Type    string   `json:"type"`
	Symbols []string `json:"symbols,omitempty"`
	Uptime  int64    `json:"uptime_seconds,omitempty"`
	Clients int      `json:"clients,omitempty"`
}

// broadcastMsg carries a frame along with the symbol it belongs to so the
// hub can route it only to subscribed clients. An empty symbol goes to all.
type broadcastMsg struct {
	symbol string
	frame  frame
}

// Config captures runtime metadata and the signal bus channels relayed to
// clients as text frames.
type Config struct {
	Channels  []string
	StartedAt time.Time
}

// Hub manages connected WebSocket clients. It implements domain.Publisher
// for BBO updates and relays session events from the signal bus.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	channels   []string
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a hub. bus may be nil, in which case no channels are
// relayed.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 1024),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		channels:   cfg.Channels,
		logger:     logger.With(slog.String("component", "ws")),
		startedAt:  startedAt,
	}
}

// Run starts the hub's main event loop. It should be called in a goroutine.
// The loop exits when the provided context is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		for _, ch := range h.channels {
			go h.relay(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if msg.symbol != "" && !c.isSubscribed(msg.symbol) {
					continue
				}
				select {
				case c.send <- msg.frame:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish broadcasts each update as a binary frame to the clients
// subscribed to its symbol.
func (h *Hub) Publish(ctx context.Context, updates []domain.BBOUpdate) error {
	for _, u := range updates {
		msg := broadcastMsg{symbol: u.Symbol, frame: frame{data: export.AppendUpdate(nil, u), binary: true}}
		select {
		case h.broadcast <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Name identifies the hub in publish metrics.
func (h *Hub) Name() string { return "ws" }

// relay subscribes to one signal bus channel and forwards each payload to
// every client as a text frame.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}

	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgCh:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.broadcast <- broadcastMsg{frame: frame{data: data}}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients start with no symbol subscriptions.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan frame, sendBufferSize),
		subs: make(map[string]bool),
	}

	h.register <- c
	c.sendControl(controlMsg{
		Type:    "hub_status",
		Uptime:  int64(time.Since(h.startedAt).Seconds()),
		Clients: h.clientCount(),
	})

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription requests from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
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
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if err := json.Unmarshal(message, &sub); err != nil || sub.Action == "" {
			c.sendControl(controlMsg{Type: "error"})
			continue
		}
		c.sendControl(controlMsg{Type: "subscriptions", Symbols: c.handleSubscription(sub)})
	}
}

// handleSubscription applies a subscribe or unsubscribe request and returns
// the resulting subscriptions.
func (c *client) handleSubscription(msg subscribeMsg) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch msg.Action {
	case "subscribe":
		for _, s := range msg.Symbols {
			c.subs[s] = true
		}
	case "unsubscribe":
		for _, s := range msg.Symbols {
			delete(c.subs, s)
		}
	}

	out := make([]string, 0, len(c.subs))
	for s := range c.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (c *client) sendControl(msg controlMsg) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- frame{data: data}:
	default:
	}
}

// isSubscribed checks whether the client wants updates for symbol.
func (c *client) isSubscribed(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subs[allSymbols] || c.subs[symbol]
}

// writePump pumps frames from the hub to the WebSocket connection and sends
// periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			if err := c.conn.WriteMessage(kind, f.data); err != nil {
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
