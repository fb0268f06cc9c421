// Package websocket pushes queue snapshots to patients watching a visit.
// Each connection subscribes to at most one visit number; the hub fans out
// every published snapshot to the connections currently watching that visit.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	TypeSubscribe   = "subscribe"
	TypeSubscribed  = "subscribed"
	TypeQueueUpdate = "queue_update"

	sendBuffer   = 64
	controlWait  = 10 * time.Second
	DefaultPing  = 30 * time.Second
	maxVisitSize = 64
)

// Message is the envelope written to clients.
type Message struct {
	Type        string          `json:"type"`
	VisitNumber string          `json:"visitNumber,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// ClientMessage is an inbound message from a client.
type ClientMessage struct {
	Type        string `json:"type"`
	VisitNumber string `json:"visitNumber"`
}

// Conn is the part of *gorillawebsocket.Conn the hub and pumps use.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Relay forwards published payloads to other service instances.
type Relay interface {
	Publish(ctx context.Context, visitNumber string, payload []byte) error
}

// Client is one live connection.
type Client struct {
	ID    string
	Send  chan []byte
	conn  Conn
	visit string // guarded by Hub.mu
	alive atomic.Bool
}

// Hub tracks connections by visit number. Safe for concurrent use.
type Hub struct {
	mu     sync.RWMutex
	visits map[string]map[*Client]struct{}
	all    map[*Client]struct{}
	closed bool

	relay        Relay
	logger       zerolog.Logger
	pingInterval time.Duration
	now          func() time.Time
}

func NewHub(logger zerolog.Logger, pingInterval time.Duration) *Hub {
	if pingInterval <= 0 {
		pingInterval = DefaultPing
	}
	return &Hub{
		visits:       make(map[string]map[*Client]struct{}),
		all:          make(map[*Client]struct{}),
		logger:       logger.With().Str("component", "broadcaster").Logger(),
		pingInterval: pingInterval,
		now:          time.Now,
	}
}

// UseRelay makes Publish also forward to r. Call before serving traffic.
func (h *Hub) UseRelay(r Relay) {
	h.relay = r
}

// Register adds a connection with no subscription. It returns nil once the
// hub is closed, after closing conn.
func (h *Hub) Register(id string, conn Conn) *Client {
	c := &Client{ID: id, Send: make(chan []byte, sendBuffer), conn: conn}
	c.alive.Store(true)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		conn.Close()
		return nil
	}
	h.all[c] = struct{}{}
	return c
}

// Unregister removes c from every set and closes its Send channel. Repeated
// calls are no-ops.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unregisterLocked(c)
}

func (h *Hub) unregisterLocked(c *Client) {
	if _, ok := h.all[c]; !ok {
		return
	}
	h.detachLocked(c)
	delete(h.all, c)
	close(c.Send)
}

func (h *Hub) detachLocked(c *Client) {
	if c.visit == "" {
		return
	}
	if subs, ok := h.visits[c.visit]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.visits, c.visit)
		}
	}
	c.visit = ""
}

// Subscribe moves c to visitNumber and queues a "subscribed" acknowledgement.
func (h *Hub) Subscribe(c *Client, visitNumber string) error {
	ack, err := json.Marshal(Message{Type: TypeSubscribed, VisitNumber: visitNumber, Timestamp: h.now()})
	if err != nil {
		return fmt.Errorf("marshal ack: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.all[c]; !ok {
		return nil
	}
	h.detachLocked(c)
	subs := h.visits[visitNumber]
	if subs == nil {
		subs = make(map[*Client]struct{})
		h.visits[visitNumber] = subs
	}
	subs[c] = struct{}{}
	c.visit = visitNumber

	select {
	case c.Send <- ack:
	default:
	}
	return nil
}

// Publish sends a queue_update carrying data to every subscriber of
// visitNumber and forwards it through the relay, if any. Delivery is best
// effort: slow subscribers are dropped and relay failures are only logged.
func (h *Hub) Publish(ctx context.Context, visitNumber string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	payload, err := json.Marshal(Message{Type: TypeQueueUpdate, Data: raw, Timestamp: h.now()})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	h.Deliver(visitNumber, payload)

	if h.relay != nil {
		if err := h.relay.Publish(ctx, visitNumber, payload); err != nil {
			h.logger.Warn().Err(err).Str("visit_number", visitNumber).Msg("relay publish failed")
		}
	}
	return nil
}

// Deliver writes an already encoded message to local subscribers only.
func (h *Hub) Deliver(visitNumber string, payload []byte) {
	var slow []*Client

	h.mu.RLock()
	for c := range h.visits[visitNumber] {
		select {
		case c.Send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Debug().Str("client_id", c.ID).Str("visit_number", visitNumber).Msg("dropping slow subscriber")
		h.drop(c)
	}
}

func (h *Hub) drop(c *Client) {
	h.Unregister(c)
	c.conn.Close()
}

// Run pings every connection each interval until ctx is done. A connection
// that has not answered the previous ping is closed.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	deadline := h.now().Add(controlWait)
	dead := 0
	for _, c := range clients {
		if !c.alive.Swap(false) {
			h.drop(c)
			dead++
			continue
		}
		if err := c.conn.WriteControl(gorillawebsocket.PingMessage, nil, deadline); err != nil {
			h.drop(c)
			dead++
		}
	}
	if dead > 0 {
		h.logger.Info().Int("closed", dead).Int("remaining", len(clients)-dead).Msg("liveness sweep")
	}
}

// Close disconnects every client and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.all))
	for c := range h.all {
		clients = append(clients, c)
		h.unregisterLocked(c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.conn.WriteControl(gorillawebsocket.CloseMessage,
			gorillawebsocket.FormatCloseMessage(gorillawebsocket.CloseGoingAway, "server shutting down"),
			h.now().Add(time.Second))
		c.conn.Close()
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// SubscriberCount returns the number of clients watching visitNumber.
func (h *Hub) SubscriberCount(visitNumber string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.visits[visitNumber])
}

// VisitCount returns the number of visits with at least one subscriber.
func (h *Hub) VisitCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.visits)
}
