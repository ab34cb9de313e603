// Package models provides data model definitions for the HazSync coordination core.
package models

// Resolution is the decision applied to a detected conflict.
type Resolution string

const (
	ResolutionAcceptServer Resolution = "accept_server"
	ResolutionAcceptClient Resolution = "accept_client"
	ResolutionMerge        Resolution = "merge"
)

// Valid reports whether r is one of the three known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionAcceptServer, ResolutionAcceptClient, ResolutionMerge:
		return true
	}
	return false
}

// ConflictRecord captures a stale-version edit submission: the authoritative
// server state at detection time plus the author's attempted changes.
// It is only ever produced when expectedVersion != currentVersion.
type ConflictRecord struct {
	EntryID             string        `json:"entryId"`
	ExpectedVersion     int64         `json:"expectedVersion"`
	CurrentVersion      int64         `json:"currentVersion"`
	ServerSnapshot      EntrySnapshot `json:"serverSnapshot"`
	ClientChanges       EntryChanges  `json:"clientChanges"`
	ContendingUserID    string        `json:"contendingUserId"`
	ContendingUserEmail string        `json:"contendingUserEmail,omitempty"`
	DetectedAt          int64         `json:"detectedAt"`
}

// ResolutionDecision is the outcome of resolving a conflict: the final
// agreed-upon snapshot every room member converges on.
type ResolutionDecision struct {
	EntryID       string        `json:"entryId"`
	Resolution    Resolution    `json:"resolution"`
	FinalSnapshot EntrySnapshot `json:"finalSnapshot"`
	ResolvedBy    string        `json:"resolvedBy"`
	ResolvedAt    int64         `json:"resolvedAt"`
}
