package fabric

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auroraops/aurora/internal/observability"
	"github.com/auroraops/aurora/internal/sanitize"
	"github.com/auroraops/aurora/pkg/models"
)

// Connection is one registered socket for a (user, session) pair.
type Connection struct {
	ID     string
	conn   *websocket.Conn
	sendMu sync.Mutex
}

// sendJSON writes one frame. The per-connection mutex prevents interleaved
// frames when tool wrappers fire concurrently.
func (c *Connection) sendJSON(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

type registryKey struct {
	userID    string
	sessionID string
}

// Registry maps (user, session) to the active socket connection. On
// reconnect the newer entry supersedes the older; entries are replaced
// whole under a global mutex.
type Registry struct {
	mu      sync.Mutex
	entries map[registryKey]*Connection
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewRegistry creates an empty connection registry.
func NewRegistry(logger *observability.Logger, metrics *observability.Metrics) *Registry {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Registry{
		entries: make(map[registryKey]*Connection),
		logger:  logger,
		metrics: metrics,
	}
}

// Register installs a connection for the pair, superseding any previous one.
// It returns the superseded connection, if any, so the transport can close it.
func (r *Registry) Register(userID, sessionID, connID string, conn *websocket.Conn) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{userID, sessionID}
	old := r.entries[key]
	r.entries[key] = &Connection{ID: connID, conn: conn}
	if r.metrics != nil && old == nil {
		r.metrics.ActiveSockets.Inc()
	}
	return old
}

// Unregister removes the connection only if it is still the active one; a
// stale close from a superseded socket must not evict its replacement.
func (r *Registry) Unregister(userID, sessionID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{userID, sessionID}
	if cur, ok := r.entries[key]; ok && cur.ID == connID {
		delete(r.entries, key)
		if r.metrics != nil {
			r.metrics.ActiveSockets.Dec()
		}
	}
}

// Get returns the active connection for the pair.
func (r *Registry) Get(userID, sessionID string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.entries[registryKey{userID, sessionID}]
	return conn, ok
}

// SessionSink returns a Sink bound to the pair. The connection is resolved
// at send time so reconnects transparently pick up the newer socket.
func (r *Registry) SessionSink(userID, sessionID string) Sink {
	return &sessionSink{registry: r, userID: userID, sessionID: sessionID}
}

type sessionSink struct {
	registry  *Registry
	userID    string
	sessionID string
}

// Send validates the event by a JSON round-trip, then writes it to the
// active socket. Validation failures fall back to a minimal envelope stating
// the tool completed so the client never stalls on a missing frame.
func (s *sessionSink) Send(ctx context.Context, event *models.ToolEvent) error {
	conn, ok := s.registry.Get(s.userID, s.sessionID)
	if !ok {
		return fmt.Errorf("no socket registered for session %s", s.sessionID)
	}

	if event.SessionID == "" {
		event.SessionID = s.sessionID
	}
	if event.UserID == "" {
		event.UserID = s.userID
	}

	payload, err := json.Marshal(event)
	if err != nil || !sanitize.ValidEnvelope(payload) {
		s.registry.logger.Warn(ctx, "tool event failed envelope validation, sending fallback",
			"tool_name", event.Data.ToolName, "session_id", s.sessionID)
		fallback := &models.ToolEvent{
			Type:      models.EventToolResult,
			SessionID: s.sessionID,
			UserID:    s.userID,
			Data: models.ToolEventData{
				ToolName:  event.Data.ToolName,
				Status:    models.StatusCompleted,
				Message:   "tool completed (payload could not be serialised)",
				Timestamp: time.Now(),
			},
		}
		payload, _ = json.Marshal(fallback)
	}

	return conn.sendJSON(payload)
}
