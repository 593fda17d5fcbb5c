package types

import "time"

type ClearanceDimension string

const (
	ClearanceTrademark ClearanceDimension = "trademark"
	ClearanceDomain    ClearanceDimension = "domain"
	ClearanceSocial    ClearanceDimension = "social"
)

func (d ClearanceDimension) IsValid() bool {
	switch d {
	case ClearanceTrademark, ClearanceDomain, ClearanceSocial:
		return true
	}
	return false
}

func AllClearanceDimensions() []ClearanceDimension {
	return []ClearanceDimension{ClearanceTrademark, ClearanceDomain, ClearanceSocial}
}

type ClearanceStatus string

const (
	ClearancePending  ClearanceStatus = "pending"
	ClearanceClear    ClearanceStatus = "clear"
	ClearanceConflict ClearanceStatus = "conflict"
	ClearanceUnknown  ClearanceStatus = "unknown"
)

func AllClearanceStatuses() []ClearanceStatus {
	return []ClearanceStatus{ClearancePending, ClearanceClear, ClearanceConflict, ClearanceUnknown}
}

// ClearanceRecord is the result of checking one candidate against one
// clearance dimension. Independent fetches produce independent copies of
// logically identical records, so comparisons must be by value.
type ClearanceRecord struct {
	Status    ClearanceStatus `json:"status"`
	Summary   string          `json:"summary,omitempty"`
	CheckedAt *time.Time      `json:"checked_at,omitempty"`
	Refs      []string        `json:"refs,omitempty"`
}

type Clearance struct {
	Trademark *ClearanceRecord `json:"trademark,omitempty"`
	Domain    *ClearanceRecord `json:"domain,omitempty"`
	Social    *ClearanceRecord `json:"social,omitempty"`
}

// Record returns the record for a dimension, or nil.
func (c *Clearance) Record(dim ClearanceDimension) *ClearanceRecord {
	if c == nil {
		return nil
	}
	switch dim {
	case ClearanceTrademark:
		return c.Trademark
	case ClearanceDomain:
		return c.Domain
	case ClearanceSocial:
		return c.Social
	}
	return nil
}

// SetRecord replaces the record for a dimension.
func (c *Clearance) SetRecord(dim ClearanceDimension, rec *ClearanceRecord) {
	switch dim {
	case ClearanceTrademark:
		c.Trademark = rec
	case ClearanceDomain:
		c.Domain = rec
	case ClearanceSocial:
		c.Social = rec
	}
}

// Candidate is one generated name candidate belonging to a run.
type Candidate struct {
	ID          string     `json:"id"`
	RunID       string     `json:"run_id"`
	Name        string     `json:"name"`
	Rank        int        `json:"rank"`
	Status      string     `json:"status"`
	Shortlisted bool       `json:"shortlisted"`
	Notes       string     `json:"notes,omitempty"`
	Clearance   Clearance  `json:"clearance"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Clone returns a deep copy of the candidate.
func (c *Candidate) Clone() *Candidate {
	if c == nil {
		return nil
	}
	out := *c
	out.CreatedAt = cloneTimePtr(c.CreatedAt)
	out.UpdatedAt = cloneTimePtr(c.UpdatedAt)
	out.Clearance = Clearance{
		Trademark: cloneClearanceRecord(c.Clearance.Trademark),
		Domain:    cloneClearanceRecord(c.Clearance.Domain),
		Social:    cloneClearanceRecord(c.Clearance.Social),
	}
	return &out
}

func cloneClearanceRecord(rec *ClearanceRecord) *ClearanceRecord {
	if rec == nil {
		return nil
	}
	out := *rec
	out.CheckedAt = cloneTimePtr(rec.CheckedAt)
	if rec.Refs != nil {
		out.Refs = append([]string(nil), rec.Refs...)
	}
	return &out
}
