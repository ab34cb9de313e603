// Package gateway accepts inbound WebSocket connections, runs the bounded
// authentication handshake, and routes each connection's operations into
// the room registry and update coordinator.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saferoom/hazsync/internal/collab"
	"github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/logging"
	"github.com/saferoom/hazsync/internal/models"
	"github.com/saferoom/hazsync/internal/protocol"
	"github.com/saferoom/hazsync/internal/room"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second

	// Outbound buffer per connection. A member that cannot drain this
	// many events is disconnected rather than allowed to stall the room.
	sendBuffer = 256
)

// Session is one authenticated connection. It owns the verified identity
// for the connection's lifetime and tracks the rooms the connection has
// joined so a disconnect can withdraw every presence.
type Session struct {
	conn        *websocket.Conn
	identity    models.Identity
	registry    *room.Registry
	coordinator *collab.Coordinator
	dispatcher  *collab.Dispatcher

	send chan []byte

	// ctx is cancelled on disconnect so pending store waits tied to this
	// connection are abandoned without touching other users' operations.
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	joined map[string]bool

	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, identity models.Identity, registry *room.Registry, coordinator *collab.Coordinator, dispatcher *collab.Dispatcher) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		conn:        conn,
		identity:    identity,
		registry:    registry,
		coordinator: coordinator,
		dispatcher:  dispatcher,
		send:        make(chan []byte, sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		joined:      make(map[string]bool),
	}
}

// Send queues one encoded event without blocking. A full buffer means the
// peer stopped draining; the session is torn down.
func (s *Session) Send(message []byte) {
	select {
	case s.send <- message:
	default:
		logging.Warn("send buffer full, dropping connection", map[string]interface{}{
			"user_id": s.identity.ID,
		})
		s.close()
	}
}

// close tears the session down once: presences are withdrawn, pending
// conflicts dropped, departures broadcast, and the socket closed.
func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.cancel()

		s.mu.Lock()
		rooms := make([]string, 0, len(s.joined))
		for id := range s.joined {
			rooms = append(rooms, id)
		}
		s.joined = make(map[string]bool)
		s.mu.Unlock()

		for _, roomID := range rooms {
			s.withdraw(roomID)
		}

		s.conn.Close()
		logging.Info("connection closed", map[string]interface{}{
			"user_id": s.identity.ID,
		})
	})
}

// withdraw removes this user's presence from one room and announces the
// departure to the remaining members.
func (s *Session) withdraw(roomID string) {
	s.coordinator.DropPending(roomID, s.identity.ID)
	if err := s.registry.Leave(roomID, s.identity.ID); err != nil {
		return
	}
	analysisID, err := room.DecodeRoomID(roomID)
	if err != nil {
		return
	}
	s.dispatcher.Publish(roomID, protocol.EventUserLeft, protocol.UserLeft{
		AnalysisID: analysisID,
		UserID:     s.identity.ID,
	}, s.identity.ID)
}

// readPump consumes inbound frames until the connection drops. Protocol
// errors reject the offending operation only; authentication errors close
// the link.
func (s *Session) readPump() {
	defer s.close()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Debug("read error", map[string]interface{}{
					"user_id": s.identity.ID,
					"error":   err.Error(),
				})
			}
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			s.sendError(err)
			continue
		}

		if err := s.handle(msg); err != nil {
			s.sendError(err)
			if errors.Fatal(errors.CodeOf(err)) {
				return
			}
		}
	}
}

// handle dispatches one decoded operation. The switch is exhaustive over
// the protocol's message kinds.
func (s *Session) handle(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.Authenticate:
		// The handshake already bound an identity to this connection.
		return errors.New(errors.ErrInvalidPayload, "connection is already authenticated")

	case protocol.JoinRoom:
		return s.handleJoin(m)

	case protocol.LeaveRoom:
		return s.handleLeave(m)

	case protocol.CursorUpdate:
		return s.handleCursor(m)

	case protocol.EntryCreate:
		_, err := s.coordinator.CreateEntry(s.ctx, room.EncodeRoomID(m.AnalysisID), s.identity, m.EntryID, m.Fields)
		return err

	case protocol.EntryUpdate:
		return s.handleSubmit(m.AnalysisID, m.EntryID, m.ExpectedVersion, m.Changes, models.OpUpdate)

	case protocol.EntryDelete:
		return s.coordinator.DeleteEntry(s.ctx, room.EncodeRoomID(m.AnalysisID), s.identity, m.EntryID)

	case protocol.RiskUpdate:
		return s.handleSubmit(m.AnalysisID, m.EntryID, m.ExpectedVersion, m.RiskFields, models.OpRiskUpdate)

	case protocol.ConflictResolve:
		_, err := s.coordinator.Resolve(s.ctx, room.EncodeRoomID(m.AnalysisID), s.identity, m.EntryID, m.Resolution, m.MergedFields)
		return err

	default:
		return errors.New(errors.ErrInvalidPayload, "unhandled message kind")
	}
}

func (s *Session) handleJoin(m protocol.JoinRoom) error {
	roomID := room.EncodeRoomID(m.AnalysisID)

	presences := s.registry.Join(roomID, s.identity, s)
	s.mu.Lock()
	s.joined[roomID] = true
	s.mu.Unlock()

	snapshot, err := protocol.Encode(protocol.EventPresenceSnapshot, protocol.PresenceSnapshot{
		AnalysisID: m.AnalysisID,
		Presences:  presences,
	})
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to encode presence snapshot", err)
	}
	s.Send(snapshot)

	if own, ok := s.registry.PresenceOf(roomID, s.identity.ID); ok {
		s.dispatcher.Publish(roomID, protocol.EventUserJoined, protocol.UserJoined{
			AnalysisID: m.AnalysisID,
			Presence:   own,
		}, s.identity.ID)
	}
	return nil
}

func (s *Session) handleLeave(m protocol.LeaveRoom) error {
	roomID := room.EncodeRoomID(m.AnalysisID)

	s.coordinator.DropPending(roomID, s.identity.ID)
	if err := s.registry.Leave(roomID, s.identity.ID); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.joined, roomID)
	s.mu.Unlock()

	s.dispatcher.Publish(roomID, protocol.EventUserLeft, protocol.UserLeft{
		AnalysisID: m.AnalysisID,
		UserID:     s.identity.ID,
	}, s.identity.ID)
	return nil
}

func (s *Session) handleCursor(m protocol.CursorUpdate) error {
	roomID := room.EncodeRoomID(m.AnalysisID)

	presence, err := s.registry.UpdateCursor(roomID, s.identity.ID, m.Position)
	if err != nil {
		return err
	}
	s.dispatcher.Publish(roomID, protocol.EventCursorBroadcast, protocol.CursorBroadcast{
		AnalysisID: m.AnalysisID,
		Presence:   presence,
	}, s.identity.ID)
	return nil
}

func (s *Session) handleSubmit(analysisID, entryID string, expectedVersion int64, changes models.EntryChanges, operation string) error {
	roomID := room.EncodeRoomID(analysisID)

	outcome, err := s.coordinator.SubmitChange(s.ctx, roomID, s.identity, entryID, expectedVersion, changes, operation)
	if err != nil {
		return err
	}
	if outcome.Conflict != nil {
		// Conflicts go only to the submitter; the rest of the room
		// already holds the authoritative state.
		message, err := protocol.Encode(protocol.EventConflictDetected, protocol.ConflictDetected{
			AnalysisID: analysisID,
			Conflict:   *outcome.Conflict,
		})
		if err != nil {
			return errors.Wrap(errors.ErrInternal, "failed to encode conflict", err)
		}
		s.Send(message)
	}
	return nil
}

// sendError reports a rejected operation or fatal condition to the client.
func (s *Session) sendError(err error) {
	code := errors.CodeOf(err)
	message, encErr := protocol.Encode(protocol.EventError, protocol.ErrorEvent{
		Code:    code,
		Message: err.Error(),
	})
	if encErr != nil {
		logging.Error("failed to encode error event", encErr, nil)
		return
	}
	s.Send(message)
}

// writePump drains the send queue and keeps the connection alive with
// pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.ctx.Done():
			return
		}
	}
}
