package realtime

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

// ConnectionChangeHandler is called when a session's connection count changes.
type ConnectionChangeHandler func(sessionID uuid.UUID, count int)

// Hub maintains session_id -> set of live connections. State itself travels through each
// connection's projection; the hub only tracks who is connected so connections can be
// counted and closed together.
type Hub struct {
	// sessionID -> map[clientID]*Client
	sessions map[uuid.UUID]map[string]*Client
	mu       sync.RWMutex
	logger   *zap.Logger
	onChange ConnectionChangeHandler
	closed   bool
}

// NewHub creates a new WebSocket hub.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		sessions: make(map[uuid.UUID]map[string]*Client),
		logger:   logger,
	}
}

// SetConnectionChangeHandler sets the callback for connection count changes.
func (h *Hub) SetConnectionChangeHandler(fn ConnectionChangeHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = fn
}

// Register adds a client to its session. It returns false once the hub is shut down.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	if h.sessions[c.SessionID] == nil {
		h.sessions[c.SessionID] = make(map[string]*Client)
	}
	h.sessions[c.SessionID][c.ID] = c
	count := len(h.sessions[c.SessionID])
	onChange := h.onChange
	h.mu.Unlock()
	if onChange != nil {
		onChange(c.SessionID, count)
	}
	h.logger.Debug("client connected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()), zap.String("role", c.Role))
	return true
}

// Unregister removes a client from its session.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	var count int
	if m, ok := h.sessions[c.SessionID]; ok {
		delete(m, c.ID)
		count = len(m)
		if count == 0 {
			delete(h.sessions, c.SessionID)
		}
	}
	onChange := h.onChange
	h.mu.Unlock()
	if onChange != nil {
		onChange(c.SessionID, count)
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.ID), zap.String("session_id", c.SessionID.String()))
}

// Count returns the number of connections to a session.
func (h *Hub) Count(sessionID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Total returns the number of connections across sessions.
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.sessions {
		n += len(m)
	}
	return n
}

// Shutdown closes every connection and refuses new ones.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	var clients []*Client
	for _, m := range h.sessions {
		for _, c := range m {
			clients = append(clients, c)
		}
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
	h.logger.Info("realtime hub shut down", zap.Int("connections", len(clients)))
}
