// Package models provides data model definitions for the HazSync coordination core.
package models

// Operation kinds recorded for version-changing writes.
const (
	OpCreate     = "create"
	OpUpdate     = "update"
	OpDelete     = "delete"
	OpRiskUpdate = "risk_update"
	OpResolve    = "resolve"
)

// EntrySnapshot is the full field-level state of one hazard-analysis entry
// at a specific version. Risk fields are opaque to the coordination core
// and nullable; the core transports them without interpreting.
type EntrySnapshot struct {
	ID              string   `json:"id"`
	AnalysisID      string   `json:"analysisId"`
	NodeID          string   `json:"nodeId,omitempty"`
	Deviation       string   `json:"deviation"`
	Causes          []string `json:"causes"`
	Consequences    []string `json:"consequences"`
	Safeguards      []string `json:"safeguards"`
	Recommendations []string `json:"recommendations"`
	Severity        *int     `json:"severity"`
	Likelihood      *int     `json:"likelihood"`
	RiskRanking     *string  `json:"riskRanking"`
	Version         int64    `json:"version"`
	UpdatedBy       string   `json:"updatedBy"`
	UpdatedAt       int64    `json:"updatedAt"`
}

// Clone returns a deep copy of the snapshot.
func (s *EntrySnapshot) Clone() EntrySnapshot {
	out := *s
	out.Causes = cloneStrings(s.Causes)
	out.Consequences = cloneStrings(s.Consequences)
	out.Safeguards = cloneStrings(s.Safeguards)
	out.Recommendations = cloneStrings(s.Recommendations)
	if s.Severity != nil {
		v := *s.Severity
		out.Severity = &v
	}
	if s.Likelihood != nil {
		v := *s.Likelihood
		out.Likelihood = &v
	}
	if s.RiskRanking != nil {
		v := *s.RiskRanking
		out.RiskRanking = &v
	}
	return out
}

// EntryChanges is a partial edit to an entry. A nil field means the
// submitter did not touch it; a non-nil field replaces the server value
// once the edit is accepted.
type EntryChanges struct {
	NodeID          *string   `json:"nodeId,omitempty"`
	Deviation       *string   `json:"deviation,omitempty"`
	Causes          *[]string `json:"causes,omitempty"`
	Consequences    *[]string `json:"consequences,omitempty"`
	Safeguards      *[]string `json:"safeguards,omitempty"`
	Recommendations *[]string `json:"recommendations,omitempty"`
	Severity        *int      `json:"severity,omitempty"`
	Likelihood      *int      `json:"likelihood,omitempty"`
	RiskRanking     *string   `json:"riskRanking,omitempty"`
}

// Apply overlays the changes onto the snapshot in place.
// Version bookkeeping is the store's responsibility, not Apply's.
func (c *EntryChanges) Apply(s *EntrySnapshot) {
	if c.NodeID != nil {
		s.NodeID = *c.NodeID
	}
	if c.Deviation != nil {
		s.Deviation = *c.Deviation
	}
	if c.Causes != nil {
		s.Causes = cloneStrings(*c.Causes)
	}
	if c.Consequences != nil {
		s.Consequences = cloneStrings(*c.Consequences)
	}
	if c.Safeguards != nil {
		s.Safeguards = cloneStrings(*c.Safeguards)
	}
	if c.Recommendations != nil {
		s.Recommendations = cloneStrings(*c.Recommendations)
	}
	if c.Severity != nil {
		v := *c.Severity
		s.Severity = &v
	}
	if c.Likelihood != nil {
		v := *c.Likelihood
		s.Likelihood = &v
	}
	if c.RiskRanking != nil {
		v := *c.RiskRanking
		s.RiskRanking = &v
	}
}

// Empty reports whether the change set touches no fields.
func (c *EntryChanges) Empty() bool {
	return c.NodeID == nil && c.Deviation == nil && c.Causes == nil &&
		c.Consequences == nil && c.Safeguards == nil &&
		c.Recommendations == nil && c.Severity == nil &&
		c.Likelihood == nil && c.RiskRanking == nil
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
