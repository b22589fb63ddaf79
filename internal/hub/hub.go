// Package hub is the pub/sub broker between driver publishers and rider
// subscribers. One published Position is written to the store and fanned out
// to every connection joined to the bus's route.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"unibus/internal/domain"
	"unibus/internal/store"
)

// Client is one websocket connection's view of the hub. Send is drained by
// the connection's write loop; all writes into it go through TrySend, which
// never blocks and is safe against the hub closing the channel.
type Client struct {
	ID     string
	Send   chan []byte
	routes map[string]struct{}
	mu     sync.RWMutex
	closed bool
}

func NewClient(id string, bufferSize int) *Client {
	return &Client{
		ID:     id,
		Send:   make(chan []byte, bufferSize),
		routes: make(map[string]struct{}),
	}
}

func (c *Client) HasRoute(routeID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.routes[routeID]
	return ok
}

func (c *Client) addRoutes(routeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range routeIDs {
		c.routes[id] = struct{}{}
	}
}

func (c *Client) removeRoutes(routeIDs []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range routeIDs {
		delete(c.routes, id)
	}
}

func (c *Client) Routes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	routes := make([]string, 0, len(c.routes))
	for id := range c.routes {
		routes = append(routes, id)
	}
	return routes
}

// TrySend hands one frame to the client's buffer. It reports false when the
// buffer is full or the client has been closed; it never blocks and never
// panics, even if the hub tears the client down concurrently.
func (c *Client) TrySend(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// Metrics is the subset of the metrics collector the hub reports into.
type Metrics interface {
	PositionPublished()
	FanoutDelivered()
	FanoutDropped()
	SetConnectedClients(n int)
	PublishObserve(d time.Duration)
}

// Hub tracks route membership and fans published positions out to members.
// Publish runs on the caller's goroutine so publishes for different buses do
// not serialize behind a single broker loop; the membership map is guarded
// by a read-mostly lock.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*Client]struct{}
	routeClients map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client

	store   *store.Store
	metrics Metrics
	logger  *slog.Logger
}

func NewHub(s *store.Store, m Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients:      make(map[*Client]struct{}),
		routeClients: make(map[string]map[*Client]struct{}),
		register:     make(chan *Client, 16),
		unregister:   make(chan *Client, 16),
		store:        s,
		metrics:      m,
		logger:       logger.With("component", "hub"),
	}
}

// Run services connection lifecycle events until ctx ends, then closes every
// client. Positions in the store outlive all connections.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.SetConnectedClients(total)
			}
			h.logger.Debug("client registered", "client_id", client.ID, "total", total)

		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// PositionMessage is the egress frame carrying one updated Position.
type PositionMessage struct {
	Type    string          `json:"type"`
	Payload domain.Position `json:"payload"`
}

// Publish stores p and delivers it to every client currently joined to
// p.RouteID, in the order the caller publishes. Delivery is best-effort: a
// client with a full buffer is skipped, never waited on.
func (h *Hub) Publish(ctx context.Context, p domain.Position) domain.Position {
	if h.metrics != nil {
		start := time.Now()
		defer func() { h.metrics.PublishObserve(time.Since(start)) }()
	}

	accepted := h.store.Upsert(ctx, p)
	if h.metrics != nil {
		h.metrics.PositionPublished()
	}

	data, err := json.Marshal(PositionMessage{Type: "position", Payload: accepted})
	if err != nil {
		h.logger.Error("position marshal failed", "bus_id", accepted.BusID, "error", err)
		return accepted
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.routeClients[accepted.RouteID] {
		if client.TrySend(data) {
			if h.metrics != nil {
				h.metrics.FanoutDelivered()
			}
		} else {
			if h.metrics != nil {
				h.metrics.FanoutDropped()
			}
			h.logger.Debug("client send buffer full", "client_id", client.ID, "bus_id", accepted.BusID)
		}
	}
	return accepted
}

// Subscribe joins the client to the given routes. Rejoining is idempotent.
// Joining does not replay the last known positions; callers pull current
// state separately.
func (h *Hub) Subscribe(client *Client, routeIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.addRoutes(routeIDs)

	for _, routeID := range routeIDs {
		if h.routeClients[routeID] == nil {
			h.routeClients[routeID] = make(map[*Client]struct{})
		}
		h.routeClients[routeID][client] = struct{}{}
	}
}

func (h *Hub) Unsubscribe(client *Client, routeIDs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.removeRoutes(routeIDs)

	for _, routeID := range routeIDs {
		if h.routeClients[routeID] != nil {
			delete(h.routeClients[routeID], client)
			if len(h.routeClients[routeID]) == 0 {
				delete(h.routeClients, routeID)
			}
		}
	}
}

func (h *Hub) Register(client *Client) {
	h.register <- client
}

func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()

	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}

	for _, routeID := range client.Routes() {
		if h.routeClients[routeID] != nil {
			delete(h.routeClients[routeID], client)
			if len(h.routeClients[routeID]) == 0 {
				delete(h.routeClients, routeID)
			}
		}
	}

	delete(h.clients, client)
	total := len(h.clients)
	client.close()
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.SetConnectedClients(total)
	}
	h.logger.Debug("client unregistered", "client_id", client.ID, "total", total)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.close()
	}
	h.clients = make(map[*Client]struct{})
	h.routeClients = make(map[string]map[*Client]struct{})
}
