// Package protocol defines the wire messages exchanged over a collaboration
// connection: an exhaustively-matched set of inbound client operations and
// the outbound event envelope.
package protocol

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/saferoom/hazsync/internal/errors"
	"github.com/saferoom/hazsync/internal/models"
)

// MessageKind identifies an inbound client operation.
type MessageKind string

const (
	KindAuthenticate    MessageKind = "authenticate"
	KindJoinRoom        MessageKind = "join_room"
	KindLeaveRoom       MessageKind = "leave_room"
	KindCursorUpdate    MessageKind = "cursor_update"
	KindEntryCreate     MessageKind = "entry_create"
	KindEntryUpdate     MessageKind = "entry_update"
	KindEntryDelete     MessageKind = "entry_delete"
	KindRiskUpdate      MessageKind = "risk_update"
	KindConflictResolve MessageKind = "conflict_resolve"
)

// Message is an inbound operation decoded from the wire. The concrete type
// is one of the payload structs below; consumers switch exhaustively on it.
type Message interface {
	Kind() MessageKind
}

// Authenticate carries the credential token during the handshake window.
type Authenticate struct {
	Token string `json:"token"`
}

// JoinRoom requests membership in the room for one analysis session.
type JoinRoom struct {
	AnalysisID string `json:"analysisId"`
}

// LeaveRoom withdraws membership from an analysis session's room.
type LeaveRoom struct {
	AnalysisID string `json:"analysisId"`
}

// CursorUpdate replaces the caller's cursor position within the joined room.
type CursorUpdate struct {
	AnalysisID string                `json:"analysisId"`
	Position   models.CursorPosition `json:"position"`
}

// EntryCreate adds a new entry to the analysis.
type EntryCreate struct {
	AnalysisID string              `json:"analysisId"`
	EntryID    string              `json:"entryId,omitempty"`
	Fields     models.EntryChanges `json:"fields"`
}

// EntryUpdate submits an optimistic-concurrency edit to an existing entry.
type EntryUpdate struct {
	AnalysisID      string              `json:"analysisId"`
	EntryID         string              `json:"entryId"`
	ExpectedVersion int64               `json:"expectedVersion"`
	Changes         models.EntryChanges `json:"changes"`
}

// EntryDelete removes an entry from the analysis.
type EntryDelete struct {
	AnalysisID string `json:"analysisId"`
	EntryID    string `json:"entryId"`
}

// RiskUpdate submits a version-checked edit limited to the opaque risk fields.
type RiskUpdate struct {
	AnalysisID      string              `json:"analysisId"`
	EntryID         string              `json:"entryId"`
	ExpectedVersion int64               `json:"expectedVersion"`
	RiskFields      models.EntryChanges `json:"riskFields"`
}

// ConflictResolve settles a previously reported conflict.
type ConflictResolve struct {
	AnalysisID   string               `json:"analysisId"`
	EntryID      string               `json:"entryId"`
	Resolution   models.Resolution    `json:"resolution"`
	MergedFields *models.EntryChanges `json:"mergedFields,omitempty"`
}

func (Authenticate) Kind() MessageKind    { return KindAuthenticate }
func (JoinRoom) Kind() MessageKind        { return KindJoinRoom }
func (LeaveRoom) Kind() MessageKind       { return KindLeaveRoom }
func (CursorUpdate) Kind() MessageKind    { return KindCursorUpdate }
func (EntryCreate) Kind() MessageKind     { return KindEntryCreate }
func (EntryUpdate) Kind() MessageKind     { return KindEntryUpdate }
func (EntryDelete) Kind() MessageKind     { return KindEntryDelete }
func (RiskUpdate) Kind() MessageKind      { return KindRiskUpdate }
func (ConflictResolve) Kind() MessageKind { return KindConflictResolve }

// envelope is the raw wire shape of every inbound frame.
type envelope struct {
	Type MessageKind     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one inbound frame into its typed message. Unknown kinds and
// malformed payloads yield an INVALID_PAYLOAD error; the connection stays
// usable after either.
func Decode(raw []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidPayload, "malformed message frame", err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case KindAuthenticate:
		msg, err = decodeAs[Authenticate](env.Data)
	case KindJoinRoom:
		msg, err = decodeAs[JoinRoom](env.Data)
	case KindLeaveRoom:
		msg, err = decodeAs[LeaveRoom](env.Data)
	case KindCursorUpdate:
		msg, err = decodeAs[CursorUpdate](env.Data)
	case KindEntryCreate:
		msg, err = decodeAs[EntryCreate](env.Data)
	case KindEntryUpdate:
		msg, err = decodeAs[EntryUpdate](env.Data)
	case KindEntryDelete:
		msg, err = decodeAs[EntryDelete](env.Data)
	case KindRiskUpdate:
		msg, err = decodeAs[RiskUpdate](env.Data)
	case KindConflictResolve:
		msg, err = decodeAs[ConflictResolve](env.Data)
	default:
		return nil, apperrors.New(apperrors.ErrInvalidPayload,
			fmt.Sprintf("unknown message kind %q", env.Type))
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func decodeAs[T Message](data json.RawMessage) (Message, error) {
	var msg T
	if len(data) == 0 {
		return msg, apperrors.New(apperrors.ErrInvalidPayload, "missing message data")
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, apperrors.Wrap(apperrors.ErrInvalidPayload, "malformed message data", err)
	}
	return msg, nil
}
