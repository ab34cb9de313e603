package room

import (
	"sync"

	"github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/logging"
	"github.com/saferoom/hazsync/internal/models"
)

// Registry owns the set of rooms. Rooms are created lazily on first join
// and deleted when their membership reaches zero; leave is the only
// deletion path.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*Room),
	}
}

// Join inserts (or refreshes) the identity's presence in the room,
// creating the room if it does not exist, and returns the room's full
// presence list including the joiner.
func (g *Registry) Join(roomID string, identity models.Identity, sender Sender) []models.Presence {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		g.rooms[roomID] = r
		logging.Debug("room created", map[string]interface{}{"room_id": roomID})
	}
	// The upsert happens under the registry lock so Leave's empty-room
	// deletion can never interleave between lookup and insertion.
	r.upsert(identity, sender)
	presences := r.presences()
	g.mu.Unlock()

	logging.Info("user joined room", map[string]interface{}{
		"room_id": roomID,
		"user_id": identity.ID,
	})
	return presences
}

// Leave removes the user's presence. If the room becomes empty it is
// deleted and none of its state remains queryable.
func (g *Registry) Leave(roomID, userID string) error {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	g.mu.Unlock()
	if !ok {
		return errors.New(errors.ErrRoomNotFound, "room does not exist")
	}

	removed, empty := r.remove(userID)
	if !removed {
		return errors.New(errors.ErrNotInRoom, "user is not a member of the room")
	}

	if empty {
		g.mu.Lock()
		// Re-check under the registry lock: a concurrent join may have
		// repopulated the room between remove and here.
		if cur, ok := g.rooms[roomID]; ok && cur == r && len(r.presences()) == 0 {
			delete(g.rooms, roomID)
			logging.Debug("room deleted", map[string]interface{}{"room_id": roomID})
		}
		g.mu.Unlock()
	}

	logging.Info("user left room", map[string]interface{}{
		"room_id": roomID,
		"user_id": userID,
	})
	return nil
}

// UpdateCursor replaces the member's cursor position, refreshes the
// activity timestamp and returns the updated presence.
func (g *Registry) UpdateCursor(roomID, userID string, position models.CursorPosition) (models.Presence, error) {
	r, err := g.room(roomID)
	if err != nil {
		return models.Presence{}, err
	}
	p, ok := r.setCursor(userID, position)
	if !ok {
		return models.Presence{}, errors.New(errors.ErrNotInRoom, "user is not a member of the room")
	}
	return p, nil
}

// RoomFor returns the room after verifying the user's membership. Every
// entry operation goes through this gate before touching the room's
// serialization point.
func (g *Registry) RoomFor(roomID, userID string) (*Room, error) {
	r, err := g.room(roomID)
	if err != nil {
		return nil, err
	}
	if !r.contains(userID) {
		return nil, errors.New(errors.ErrNotInRoom, "user is not a member of the room")
	}
	return r, nil
}

// Members returns a point-in-time copy of the room's presence list.
func (g *Registry) Members(roomID string) ([]models.Presence, error) {
	r, err := g.room(roomID)
	if err != nil {
		return nil, err
	}
	return r.presences(), nil
}

// PresenceOf returns one member's presence in the room.
func (g *Registry) PresenceOf(roomID, userID string) (models.Presence, bool) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return models.Presence{}, false
	}
	return r.presenceOf(userID)
}

// Senders returns the connections of the room's members, optionally
// excluding one user.
func (g *Registry) Senders(roomID, excludeUserID string) []Sender {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return nil
	}
	return r.senders(excludeUserID)
}

// RoomCount returns the number of live rooms. Diagnostic surface.
func (g *Registry) RoomCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

func (g *Registry) room(roomID string) (*Room, error) {
	g.mu.RLock()
	r, ok := g.rooms[roomID]
	g.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrRoomNotFound, "room does not exist")
	}
	return r, nil
}
