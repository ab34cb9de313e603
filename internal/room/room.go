// Package room owns the registry of live collaboration rooms and the
// per-room presence state. Rooms are fully independent units of
// concurrency: each room carries its own locks and no cross-room
// coordination ever happens.
package room

import (
	"sync"
	"time"

	"github.com/saferoom/hazsync/internal/models"
)

// Sender delivers an encoded event to one connection. Implementations must
// not block; a slow consumer is the connection's problem, not the room's.
type Sender interface {
	Send(message []byte)
}

// member pairs a presence with the connection it belongs to.
type member struct {
	presence *models.Presence
	sender   Sender
}

// Room is the set of live connections collaborating on one analysis
// session. The presence map is guarded by mu; ops is the serialization
// point every version-changing edit in this room must pass through.
type Room struct {
	ID string

	mu      sync.RWMutex
	members map[string]*member

	ops sync.Mutex
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*member),
	}
}

// Do runs fn while holding the room's serialization point. Two submissions
// racing for the same entry are strictly ordered here: one observes
// success, the other a conflict.
func (r *Room) Do(fn func() error) error {
	r.ops.Lock()
	defer r.ops.Unlock()
	return fn()
}

// upsert inserts or refreshes the presence for one identity. A re-join
// updates the activity timestamp rather than duplicating the entry.
func (r *Room) upsert(identity models.Identity, sender Sender) models.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[identity.ID]
	if !ok {
		m = &member{presence: &models.Presence{
			UserID: identity.ID,
			Email:  identity.Email,
		}}
		r.members[identity.ID] = m
	}
	m.sender = sender
	m.presence.LastActivity = time.Now().Unix()
	return m.presence.Clone()
}

// remove deletes one member and reports whether the room is now empty.
func (r *Room) remove(userID string) (removed, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[userID]; !ok {
		return false, len(r.members) == 0
	}
	delete(r.members, userID)
	return true, len(r.members) == 0
}

// contains reports membership of one user.
func (r *Room) contains(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[userID]
	return ok
}

// setCursor replaces the member's cursor and refreshes activity.
func (r *Room) setCursor(userID string, position models.CursorPosition) (models.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[userID]
	if !ok {
		return models.Presence{}, false
	}
	cur := position
	m.presence.Cursor = &cur
	m.presence.Touch()
	return m.presence.Clone(), true
}

// presences returns a point-in-time copy of every member's presence.
func (r *Room) presences() []models.Presence {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Presence, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.presence.Clone())
	}
	return out
}

// presenceOf returns one member's presence, if present.
func (r *Room) presenceOf(userID string) (models.Presence, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[userID]
	if !ok {
		return models.Presence{}, false
	}
	return m.presence.Clone(), true
}

// senders returns the connections of every member except excludeUserID.
func (r *Room) senders(excludeUserID string) []Sender {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Sender, 0, len(r.members))
	for id, m := range r.members {
		if id == excludeUserID || m.sender == nil {
			continue
		}
		out = append(out, m.sender)
	}
	return out
}
