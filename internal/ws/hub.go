package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/sncs/nursecall-engine/internal/domain"
	"go.uber.org/zap"
)

const (
	defaultMaxConnections = 500
	// pendingCeiling caps connections that have not authenticated yet,
	// so an open port cannot starve out real staff.
	pendingCeiling = 100
	authTimeout    = 30 * time.Second
	// sendBacklog bounds per-client outstanding deliveries. A client
	// whose backlog is full misses events; nobody else does.
	sendBacklog = 100
)

var (
	ErrHubFull        = errors.New("connection limit reached")
	ErrTooManyPending = errors.New("too many unauthenticated connections")
)

// Client is one registered socket. Identity stays nil until the client
// authenticates; only authenticated clients receive events.
type Client struct {
	conn        Conn
	connectedAt time.Time

	send     chan Envelope
	quit     chan struct{}
	stopOnce sync.Once

	// identity is guarded by the hub mutex.
	identity *domain.Identity
}

func (c *Client) stop() {
	c.stopOnce.Do(func() { close(c.quit) })
}

// Hub tracks connected clients and routes dispatch events to the ones
// whose identity matches the event's hospital and department. Each
// client drains its own bounded backlog, so one slow consumer cannot
// stall the broadcast loop.
type Hub struct {
	logger   *zap.Logger
	maxConns int
	warnAt   int

	mu      sync.RWMutex
	clients map[*Client]struct{}
}

func NewHub(maxConns int, logger *zap.Logger) *Hub {
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger:   logger,
		maxConns: maxConns,
		warnAt:   maxConns * 4 / 5,
		clients:  make(map[*Client]struct{}),
	}
}

// Register admits a new socket as pending and starts its write loop.
// It fails when the hub is at capacity or the pending ceiling is hit.
func (h *Hub) Register(conn Conn, now time.Time) (*Client, error) {
	h.mu.Lock()

	if len(h.clients) >= h.maxConns {
		h.mu.Unlock()
		return nil, ErrHubFull
	}

	pending := 0
	for client := range h.clients {
		if client.identity == nil {
			pending++
		}
	}
	if pending >= pendingCeiling {
		h.mu.Unlock()
		return nil, ErrTooManyPending
	}

	client := &Client{
		conn:        conn,
		connectedAt: now,
		send:        make(chan Envelope, sendBacklog),
		quit:        make(chan struct{}),
	}
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()

	if total >= h.warnAt {
		h.logger.Warn("websocket connections approaching limit",
			zap.Int("connections", total),
			zap.Int("limit", h.maxConns),
		)
	}

	go h.writeLoop(client)
	return client, nil
}

func (h *Hub) writeLoop(client *Client) {
	for {
		select {
		case <-client.quit:
			return
		case envelope := <-client.send:
			if err := client.conn.WriteJSON(envelope); err != nil {
				h.logger.Warn("dropping websocket client after failed write",
					zap.String("remote", client.conn.RemoteAddr()),
					zap.Error(err),
				)
				h.Unregister(client)
				_ = client.conn.Close()
				return
			}
		}
	}
}

// Authenticate binds an identity to a pending client.
func (h *Hub) Authenticate(client *Client, identity domain.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	client.identity = &identity
}

// Subscribe retargets an authenticated client to another department of
// its hospital. It reports whether the subscription took effect.
func (h *Hub) Subscribe(client *Client, deptID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return false
	}
	if client.identity == nil {
		return false
	}
	client.identity.DeptID = deptID
	return true
}

// Unregister drops a client and stops its write loop without closing
// the socket; the caller owns the close.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.stop()
}

// SweepPending closes clients that have not authenticated within the
// auth window and returns how many were dropped.
func (h *Hub) SweepPending(now time.Time) int {
	h.mu.Lock()
	var expired []*Client
	for client := range h.clients {
		if client.identity == nil && now.Sub(client.connectedAt) >= authTimeout {
			expired = append(expired, client)
			delete(h.clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range expired {
		client.stop()
		_ = client.conn.Close()
	}
	if len(expired) > 0 {
		h.logger.Info("swept unauthenticated websocket connections",
			zap.Int("dropped", len(expired)),
		)
	}
	return len(expired)
}

// Broadcast queues one dispatch event for every matching client and
// returns how many deliveries were accepted. A client matches on
// hospital, and on department unless its role spans all departments.
// A client with a full backlog misses the event; delivery to everyone
// else proceeds.
func (h *Hub) Broadcast(event domain.Event) int {
	envelope := EventEnvelope(event)

	h.mu.RLock()
	var targets []*Client
	for client := range h.clients {
		if client.identity == nil {
			continue
		}
		if client.identity.HospitalID != event.HospitalID {
			continue
		}
		if !client.identity.AllDepartments() && client.identity.DeptID != event.DeptID {
			continue
		}
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, client := range targets {
		select {
		case client.send <- envelope:
			delivered++
		default:
			h.logger.Warn("websocket backlog full, dropping event for client",
				zap.String("remote", client.conn.RemoteAddr()),
				zap.Int64("eventId", event.ID),
			)
		}
	}
	return delivered
}

// Shutdown notifies every client that the server is going away and
// closes all sockets.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mu.Unlock()

	notice, err := NewEnvelope(TypeServerShutdown, nil)
	if err != nil {
		notice = Envelope{Type: TypeServerShutdown, TS: time.Now().UTC()}
	}
	for _, client := range clients {
		client.stop()
		_ = client.conn.WriteJSON(notice)
		_ = client.conn.Close()
	}
}

// Len returns the current connection count.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
