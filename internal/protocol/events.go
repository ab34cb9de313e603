package protocol

import (
	"encoding/json"
	"time"

	"github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/models"
)

// EventKind identifies an outbound server event.
type EventKind string

const (
	EventPresenceSnapshot EventKind = "presence_snapshot"
	EventUserJoined       EventKind = "user_joined"
	EventUserLeft         EventKind = "user_left"
	EventCursorBroadcast  EventKind = "cursor_broadcast"
	EventEntryCreated     EventKind = "entry_created"
	EventEntryUpdated     EventKind = "entry_updated"
	EventEntryDeleted     EventKind = "entry_deleted"
	EventRiskUpdated      EventKind = "risk_updated"
	EventConflictDetected EventKind = "conflict_detected"
	EventConflictResolved EventKind = "conflict_resolved"
	EventError            EventKind = "error"
)

// Envelope wraps every outbound event.
type Envelope struct {
	Type      EventKind   `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// Encode marshals an outbound event envelope.
func Encode(kind EventKind, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{
		Type:      kind,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// PresenceSnapshot is returned to a joiner: the room's full presence list.
type PresenceSnapshot struct {
	AnalysisID string            `json:"analysisId"`
	Presences  []models.Presence `json:"presences"`
}

// UserJoined announces a new room member to the existing ones.
type UserJoined struct {
	AnalysisID string          `json:"analysisId"`
	Presence   models.Presence `json:"presence"`
}

// UserLeft announces a departed room member.
type UserLeft struct {
	AnalysisID string `json:"analysisId"`
	UserID     string `json:"userId"`
}

// CursorBroadcast carries one member's refreshed presence after a cursor move.
type CursorBroadcast struct {
	AnalysisID string          `json:"analysisId"`
	Presence   models.Presence `json:"presence"`
}

// EntryEvent carries the committed snapshot after a successful write.
// Used for entry_created, entry_updated and risk_updated.
type EntryEvent struct {
	AnalysisID string               `json:"analysisId"`
	Entry      models.EntrySnapshot `json:"entry"`
	AuthorID   string               `json:"authorId"`
}

// EntryDeleted announces a removed entry.
type EntryDeleted struct {
	AnalysisID string `json:"analysisId"`
	EntryID    string `json:"entryId"`
	AuthorID   string `json:"authorId"`
}

// ConflictDetected is delivered only to the submitter whose edit was stale.
type ConflictDetected struct {
	AnalysisID string                `json:"analysisId"`
	Conflict   models.ConflictRecord `json:"conflict"`
}

// ConflictResolved is broadcast room-wide so all members converge.
type ConflictResolved struct {
	AnalysisID string                    `json:"analysisId"`
	Decision   models.ResolutionDecision `json:"decision"`
}

// ErrorEvent reports a rejected operation or a fatal connection error.
type ErrorEvent struct {
	Code    errors.ErrorCode `json:"code"`
	Message string           `json:"message"`
}
