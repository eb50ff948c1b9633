package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/servicedesk/crm-service/internal/auth"
	"github.com/servicedesk/crm-service/internal/config"
	"github.com/servicedesk/crm-service/internal/observability"
)

// Frame is the wire envelope delivered to live connections.
type Frame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Scope selects the recipients of a delivery. A connection matched by
// more than one selector still receives the frame exactly once.
type Scope struct {
	Global bool
	UserID string
	Agents bool
}

// Registry is the delivery side of the hub, kept narrow so the
// notification layer can be tested against a fake.
type Registry interface {
	Deliver(scope Scope, frame Frame)
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	userID string
	agent  bool

	mu     sync.Mutex
	closed bool
}

// trySend enqueues the payload unless the client is closed or its
// buffer is full. The closed flag is checked under the same lock that
// close takes, so a concurrent disconnect can never race a send onto
// the closed channel.
func (c *client) trySend(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// Hub is the process-wide connection registry: all live websocket
// connections, grouped into per-user rooms and an agents room. Room
// membership derives from the verified token claims, never from
// client-supplied identifiers.
type Hub struct {
	mu           sync.RWMutex
	clients      map[*client]struct{}
	users        map[string]map[*client]struct{}
	agents       map[*client]struct{}
	gate         *auth.Gate
	logger       *zap.Logger
	metrics      *observability.Metrics
	writeTimeout time.Duration
	sendBuffer   int
}

// NewHub constructs the registry.
func NewHub(gate *auth.Gate, logger *zap.Logger, metrics *observability.Metrics, cfg config.RealtimeConfig) *Hub {
	sendBuffer := cfg.SendBufferSize
	if sendBuffer <= 0 {
		sendBuffer = 32
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		users:        make(map[string]map[*client]struct{}),
		agents:       make(map[*client]struct{}),
		gate:         gate,
		logger:       logger,
		metrics:      metrics,
		writeTimeout: cfg.WriteTimeout(),
		sendBuffer:   sendBuffer,
	}
}

// UpgradeMiddleware authenticates the websocket handshake. The token
// travels as a query parameter because browsers cannot set headers on
// websocket requests.
func (h *Hub) UpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		principal, err := h.gate.ParseToken(c.Query("token"))
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}
		c.Locals("ws_principal", principal)
		return c.Next()
	}
}

// Handler serves an authenticated websocket connection until it closes.
func (h *Hub) Handler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		principal, ok := conn.Locals("ws_principal").(*auth.Principal)
		if !ok {
			_ = conn.Close()
			return
		}

		cl := &client{
			conn:   conn,
			send:   make(chan []byte, h.sendBuffer),
			userID: principal.ID,
			agent:  principal.Role.CanSeeInternalNotes(),
		}
		h.register(cl)
		h.logger.Info("websocket connected",
			zap.String("user_id", cl.userID),
			zap.Bool("agent", cl.agent))

		go h.writePump(cl)

		// Inbound frames are ignored; the read loop only detects closure.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}

		h.unregister(cl)
		h.logger.Info("websocket disconnected", zap.String("user_id", cl.userID))
	})
}

// Deliver sends the frame to every connection the scope selects,
// best-effort. Slow or dead connections are dropped, never retried.
func (h *Hub) Deliver(scope Scope, frame Frame) {
	payload, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("marshal frame", zap.Error(err))
		return
	}

	recipients := h.collect(scope)
	for cl := range recipients {
		if !cl.trySend(payload) {
			// Buffer full or already disconnected; drop the connection
			// rather than block the caller.
			h.unregister(cl)
		}
	}
	h.metrics.RecordEvent(frame.Type, len(recipients))
}

func (h *Hub) collect(scope Scope) map[*client]struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recipients := make(map[*client]struct{})
	if scope.Global {
		for cl := range h.clients {
			recipients[cl] = struct{}{}
		}
	}
	if scope.UserID != "" {
		for cl := range h.users[scope.UserID] {
			recipients[cl] = struct{}{}
		}
	}
	if scope.Agents {
		for cl := range h.agents {
			recipients[cl] = struct{}{}
		}
	}
	return recipients
}

func (h *Hub) register(cl *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[cl] = struct{}{}
	room := h.users[cl.userID]
	if room == nil {
		room = make(map[*client]struct{})
		h.users[cl.userID] = room
	}
	room[cl] = struct{}{}
	if cl.agent {
		h.agents[cl] = struct{}{}
	}
}

func (h *Hub) unregister(cl *client) {
	h.mu.Lock()
	if _, ok := h.clients[cl]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, cl)
	delete(h.agents, cl)
	if room := h.users[cl.userID]; room != nil {
		delete(room, cl)
		if len(room) == 0 {
			delete(h.users, cl.userID)
		}
	}
	h.mu.Unlock()
	cl.close()
}

// Close drops every live connection. Used on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*client, 0, len(h.clients))
	for cl := range h.clients {
		clients = append(clients, cl)
	}
	h.mu.Unlock()

	for _, cl := range clients {
		h.unregister(cl)
	}
}

func (h *Hub) writePump(cl *client) {
	defer func() { _ = cl.conn.Close() }()
	for payload := range cl.send {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := cl.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			h.unregister(cl)
			return
		}
	}
	_ = cl.conn.WriteMessage(websocket.CloseMessage, nil)
}
