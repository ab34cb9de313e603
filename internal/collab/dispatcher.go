// Package collab implements the version-changing edit pipeline: the update
// coordinator serializing submissions per room, the conflict detector and
// resolver, and the broadcast dispatcher fanning events out to room members.
package collab

import (
	"github.com/saferoom/hazsync/internal/logging"
	"github.com/saferoom/hazsync/internal/protocol"
	"github.com/saferoom/hazsync/internal/room"
)

// Dispatcher fans an event out to every connection currently bound to a
// member of a room, optionally skipping the author's own connection so a
// user's action is not echoed back to them.
type Dispatcher struct {
	registry *room.Registry
}

// NewDispatcher creates a Dispatcher over the room registry.
func NewDispatcher(registry *room.Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Publish encodes the event once and delivers it to the room's members.
// An empty excludeUserID delivers to everyone. Events published while
// holding a room's serialization point reach all members in application
// order for any one entry.
func (d *Dispatcher) Publish(roomID string, kind protocol.EventKind, payload interface{}, excludeUserID string) {
	message, err := protocol.Encode(kind, payload)
	if err != nil {
		logging.Error("failed to encode event", err, map[string]interface{}{
			"room_id": roomID,
			"kind":    string(kind),
		})
		return
	}
	for _, s := range d.registry.Senders(roomID, excludeUserID) {
		s.Send(message)
	}
}
