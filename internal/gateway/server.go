package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saferoom/hazsync/internal/auth"
	"github.com/saferoom/hazsync/internal/collab"
	"github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/logging"
	"github.com/saferoom/hazsync/internal/models"
	"github.com/saferoom/hazsync/internal/protocol"
	"github.com/saferoom/hazsync/internal/room"
	"github.com/saferoom/hazsync/internal/store"
)

// Server upgrades inbound connections, authenticates them within the
// handshake window, and hands authenticated sessions their pumps.
type Server struct {
	verifier         auth.Verifier
	registry         *room.Registry
	coordinator      *collab.Coordinator
	dispatcher       *collab.Dispatcher
	db               *store.DB
	handshakeTimeout time.Duration
	upgrader         websocket.Upgrader
}

// NewServer creates the gateway over its collaborators.
func NewServer(verifier auth.Verifier, registry *room.Registry, coordinator *collab.Coordinator, dispatcher *collab.Dispatcher, db *store.DB, handshakeTimeout time.Duration) *Server {
	return &Server{
		verifier:         verifier,
		registry:         registry,
		coordinator:      coordinator,
		dispatcher:       dispatcher,
		db:               db,
		handshakeTimeout: handshakeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Origin policy is the deployment proxy's concern.
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the connection and runs the authentication
// handshake. The first frame must be an authenticate message carrying a
// valid credential token; anything else, or silence past the handshake
// window, closes the connection with no side effects elsewhere.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}

	identity, err := s.handshake(conn)
	if err != nil {
		s.rejectAndClose(conn, err)
		return
	}

	session := newSession(conn, identity, s.registry, s.coordinator, s.dispatcher)
	logging.Info("connection authenticated", map[string]interface{}{
		"user_id": identity.ID,
		"remote":  r.RemoteAddr,
	})

	go session.writePump()
	go session.readPump()
}

// handshake reads the authenticate frame within the handshake window and
// verifies its token.
func (s *Server) handshake(conn *websocket.Conn) (models.Identity, error) {
	conn.SetReadDeadline(time.Now().Add(s.handshakeTimeout))
	defer conn.SetReadDeadline(time.Time{})

	_, raw, err := conn.ReadMessage()
	if err != nil {
		return models.Identity{}, errors.Wrap(errors.ErrAuthRequired, "no credentials within handshake window", err)
	}

	msg, err := protocol.Decode(raw)
	if err != nil {
		return models.Identity{}, errors.Wrap(errors.ErrAuthRequired, "handshake frame rejected", err)
	}
	authMsg, ok := msg.(protocol.Authenticate)
	if !ok {
		return models.Identity{}, errors.New(errors.ErrAuthRequired, "first frame must authenticate")
	}

	return s.verifier.Verify(authMsg.Token)
}

// rejectAndClose reports the authentication failure and closes the link.
func (s *Server) rejectAndClose(conn *websocket.Conn, err error) {
	logging.Warn("authentication failed", map[string]interface{}{
		"error": err.Error(),
	})
	if message, encErr := protocol.Encode(protocol.EventError, protocol.ErrorEvent{
		Code:    errors.CodeOf(err),
		Message: err.Error(),
	}); encErr == nil {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.TextMessage, message)
	}
	conn.Close()
}

// HandleHealth reports store reachability and the live room count.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	if err := s.db.Ping(); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		logging.Error("health check failed", err, nil)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"rooms":  s.registry.RoomCount(),
	})
}
