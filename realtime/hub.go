// Package realtime relays domain events from NATS to websocket clients.
//
// A Hub upgrades HTTP requests to websocket connections and fans every
// broadcast out to all connected clients. Each client gets a buffered send
// queue; a client that falls behind is disconnected instead of stalling the
// broadcaster. Messages sent by clients are rate limited per connection and
// handed to an optional inbound handler, typically a NATS publish.
package realtime

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// ErrHubClosed is returned for connections arriving after Close
var ErrHubClosed = stderrors.New("realtime hub closed")

// Config bounds client behaviour
type Config struct {
	// MessagesPerSecond and Burst limit inbound client messages
	MessagesPerSecond float64
	Burst             int
	// MaxMessageBytes caps inbound message size
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	// SendBuffer is the per-client outbound queue length
	SendBuffer int
}

func (c Config) withDefaults() Config {
	if c.MessagesPerSecond <= 0 {
		c.MessagesPerSecond = 5
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 << 10
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
	return c
}

// InboundFunc receives a message sent by a client
type InboundFunc func(ctx context.Context, clientID string, data []byte) error

// Envelope is the frame written to clients
type Envelope struct {
	Type    string          `json:"type"`
	Subject string          `json:"subject,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

type client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	once    sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub tracks connected websocket clients
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	inbound  InboundFunc
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup

	dropped atomic.Int64
	metrics *hubMetrics
}

// NewHub creates a hub. inbound may be nil, in which case client messages are
// discarded after rate limiting.
func NewHub(cfg Config, logger *slog.Logger, inbound InboundFunc) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:     cfg.withDefaults(),
		logger:  logger.With("component", "realtime-hub"),
		inbound: inbound,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the client until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, ErrHubClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("Websocket upgrade failed", "error", err)
		return
	}
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	c := &client{
		id:      uuid.NewString(),
		conn:    conn,
		send:    make(chan []byte, h.cfg.SendBuffer),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.MessagesPerSecond), h.cfg.Burst),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		h.goingAway(c)
		return
	}
	h.clients[c] = struct{}{}
	h.metrics.observeClients(len(h.clients))
	h.wg.Add(2)
	h.mu.Unlock()

	h.logger.Debug("Client connected", "client", c.id)
	go h.writePump(c)
	go h.readPump(c)
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for falling behind
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Broadcast queues an event for every client and returns how many accepted it
func (h *Hub) Broadcast(subject string, data []byte) int {
	frame, err := encode(Envelope{Type: "event", Subject: subject, Data: payload(data)})
	if err != nil {
		h.logger.Warn("Failed to encode event", "subject", subject, "error", err)
		return 0
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.clients {
		select {
		case c.send <- frame:
			sent++
		default:
			delete(h.clients, c)
			h.dropped.Add(1)
			h.metrics.observeDropped()
			h.logger.Warn("Disconnecting slow client", "client", c.id)
			c.close()
		}
	}
	h.metrics.observeMessage("outbound", "queued")
	h.metrics.observeClients(len(h.clients))
	return sent
}

// Close sends a going-away close frame to every client and waits for their
// pumps to exit or ctx to end. New connections are refused afterwards.
func (h *Hub) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.metrics.observeClients(0)
	h.mu.Unlock()

	for _, c := range clients {
		h.goingAway(c)
	}
	h.logger.Info("Realtime hub closed", "clients", len(clients))

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) goingAway(c *client) {
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.cfg.WriteTimeout))
	c.close()
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.metrics.observeClients(len(h.clients))
	h.mu.Unlock()
	c.close()
}

func (h *Hub) writePump(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	for {
		select {
		case <-c.done:
			return
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				h.logger.Debug("Client write failed", "client", c.id, "error", err)
				return
			}
		}
	}
}

func (h *Hub) readPump(c *client) {
	defer h.wg.Done()
	defer h.remove(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("Client read failed", "client", c.id, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			h.observeInbound("rate_limited")
			h.reply(c, Envelope{Type: "error", Error: "rate limited"})
			continue
		}
		if h.inbound == nil {
			h.observeInbound("discarded")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.WriteTimeout)
		err = h.inbound(ctx, c.id, data)
		cancel()
		if err != nil {
			h.observeInbound("rejected")
			h.logger.Warn("Inbound message rejected", "client", c.id, "error", err)
			h.reply(c, Envelope{Type: "error", Error: "message not accepted"})
			continue
		}
		h.observeInbound("accepted")
	}
}

func (h *Hub) observeInbound(result string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.metrics.observeMessage("inbound", result)
}

// reply queues a frame for one client, dropping it when the queue is full
func (h *Hub) reply(c *client, env Envelope) {
	frame, err := encode(env)
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

func encode(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

// payload passes JSON through untouched and quotes anything else
func payload(data []byte) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	if json.Valid(data) {
		return data
	}
	quoted, _ := json.Marshal(string(data))
	return quoted
}
