package collab

import (
	"time"

	"github.com/saferoom/hazsync/internal/models"
)

// detectConflict builds the record handed back to a submitter whose edit
// was based on a stale version. The server snapshot is the authoritative
// state at detection time; the contending user is whoever committed it.
func detectConflict(current *models.EntrySnapshot, expectedVersion int64, changes models.EntryChanges, contendingEmail string) *models.ConflictRecord {
	return &models.ConflictRecord{
		EntryID:             current.ID,
		ExpectedVersion:     expectedVersion,
		CurrentVersion:      current.Version,
		ServerSnapshot:      current.Clone(),
		ClientChanges:       changes,
		ContendingUserID:    current.UpdatedBy,
		ContendingUserEmail: contendingEmail,
		DetectedAt:          time.Now().Unix(),
	}
}

// mergeChanges computes the change set applied for a merge resolution.
//
// List-valued fields the client touched become the superset-preserving
// union of the server's and the client's entries, server order first.
// Scalar fields follow one explicit rule: the value the resolving user
// supplied in mergedFields wins; a scalar absent from mergedFields keeps
// the server's current value. Merge never silently prefers the losing
// writer.
func mergeChanges(server *models.EntrySnapshot, client models.EntryChanges, mergedFields *models.EntryChanges) models.EntryChanges {
	var out models.EntryChanges

	if client.Causes != nil {
		u := unionStrings(server.Causes, *client.Causes)
		out.Causes = &u
	}
	if client.Consequences != nil {
		u := unionStrings(server.Consequences, *client.Consequences)
		out.Consequences = &u
	}
	if client.Safeguards != nil {
		u := unionStrings(server.Safeguards, *client.Safeguards)
		out.Safeguards = &u
	}
	if client.Recommendations != nil {
		u := unionStrings(server.Recommendations, *client.Recommendations)
		out.Recommendations = &u
	}

	if mergedFields != nil {
		if mergedFields.NodeID != nil {
			out.NodeID = mergedFields.NodeID
		}
		if mergedFields.Deviation != nil {
			out.Deviation = mergedFields.Deviation
		}
		if mergedFields.Severity != nil {
			out.Severity = mergedFields.Severity
		}
		if mergedFields.Likelihood != nil {
			out.Likelihood = mergedFields.Likelihood
		}
		if mergedFields.RiskRanking != nil {
			out.RiskRanking = mergedFields.RiskRanking
		}
		// A resolver-supplied list overrides the computed union.
		if mergedFields.Causes != nil {
			u := unionStrings(server.Causes, *mergedFields.Causes)
			out.Causes = &u
		}
		if mergedFields.Consequences != nil {
			u := unionStrings(server.Consequences, *mergedFields.Consequences)
			out.Consequences = &u
		}
		if mergedFields.Safeguards != nil {
			u := unionStrings(server.Safeguards, *mergedFields.Safeguards)
			out.Safeguards = &u
		}
		if mergedFields.Recommendations != nil {
			u := unionStrings(server.Recommendations, *mergedFields.Recommendations)
			out.Recommendations = &u
		}
	}

	return out
}

// unionStrings returns every element present in either list, first list's
// order first, without duplicates.
func unionStrings(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, v := range list {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
