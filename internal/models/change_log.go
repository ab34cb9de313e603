// Package models provides data model definitions for the HazSync coordination core.
package models

import "time"

// ChangeLog records every version-changing write for audit and diagnostics.
type ChangeLog struct {
	ID        string `db:"id" json:"id"`
	EntryID   string `db:"entry_id" json:"entry_id"`
	Operation string `db:"operation" json:"operation"` // create, update, delete, risk_update, resolve
	Version   int64  `db:"version" json:"version"`
	AuthorID  string `db:"author_id" json:"author_id"`
	Timestamp int64  `db:"timestamp" json:"timestamp"`
}

// TableName returns the table name for ChangeLog.
func (ChangeLog) TableName() string {
	return "change_log"
}

// Time returns the Timestamp as time.Time.
func (c *ChangeLog) Time() time.Time {
	return time.Unix(c.Timestamp, 0)
}
