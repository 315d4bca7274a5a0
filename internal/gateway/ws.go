package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	readLimit  = 64 * 1024
	pongWait   = 90 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Origin policy is enforced by the upstream proxy.
	CheckOrigin: func(*http.Request) bool { return true },
}

// inboundFrame is what clients send back over the socket. Only confirmation
// answers are meaningful; everything else is ignored.
type inboundFrame struct {
	Type           string `json:"type"`
	ConfirmationID string `json:"confirmation_id"`
	Approved       bool   `json:"approved"`
}

// handleWS upgrades the connection and registers it in the fabric for the
// (user, session) pair. A reconnect supersedes the previous socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	sessionID := r.URL.Query().Get("session_id")
	if userID == "" || sessionID == "" {
		http.Error(w, "user_id and session_id are required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn(r.Context(), "websocket upgrade failed",
			"session_id", sessionID, "error", err)
		return
	}

	connID := uuid.NewString()
	if old := s.registry.Register(userID, sessionID, connID, conn); old != nil {
		s.logger.Info(r.Context(), "socket superseded",
			"session_id", sessionID, "old_conn_id", old.ID)
	}

	go s.readLoop(userID, sessionID, connID, conn)
}

// readLoop consumes client frames until the socket dies, resolving pending
// confirmations along the way.
func (s *Server) readLoop(userID, sessionID, connID string, conn *websocket.Conn) {
	defer func() {
		s.registry.Unregister(userID, sessionID, connID)
		conn.Close()
	}()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go pingLoop(conn, stop)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			continue
		}
		if frame.Type == "confirmation_response" && s.confirmer != nil {
			s.confirmer.Resolve(frame.ConfirmationID, frame.Approved)
		}
	}
}

func pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}
