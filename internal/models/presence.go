// Package models provides data model definitions for the HazSync coordination core.
package models

import "time"

// CursorPosition locates a user's editing focus within an analysis.
// Any subset of fields may be absent; absence carries no ordering meaning.
type CursorPosition struct {
	NodeID  string `json:"nodeId,omitempty"`
	EntryID string `json:"entryId,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Presence is a user's live status within a room.
type Presence struct {
	UserID       string          `json:"userId"`
	Email        string          `json:"email"`
	LastActivity int64           `json:"lastActivity"`
	Cursor       *CursorPosition `json:"cursor,omitempty"`
}

// Touch refreshes the last-activity timestamp.
func (p *Presence) Touch() {
	p.LastActivity = time.Now().Unix()
}

// Clone returns a copy safe to hand outside the room lock.
func (p *Presence) Clone() Presence {
	out := *p
	if p.Cursor != nil {
		cur := *p.Cursor
		out.Cursor = &cur
	}
	return out
}
