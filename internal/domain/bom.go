package domain

import "time"

// BOMStatus is a state of the bill-of-materials approval workflow.
type BOMStatus string

const (
	BOMStatusPending             BOMStatus = "pending"
	BOMStatusGuideApproved       BOMStatus = "guide-approved"
	BOMStatusGuideRejected       BOMStatus = "guide-rejected"
	BOMStatusLabInchargeApproved BOMStatus = "labincharge-approved"
	BOMStatusLabInchargeRejected BOMStatus = "labincharge-rejected"
	BOMStatusCompleted           BOMStatus = "completed"
)

// DefaultUnit is applied to material lines submitted without a unit.
const DefaultUnit = "pcs"

// Valid reports whether s is a known workflow state.
func (s BOMStatus) Valid() bool {
	switch s {
	case BOMStatusPending, BOMStatusGuideApproved, BOMStatusGuideRejected,
		BOMStatusLabInchargeApproved, BOMStatusLabInchargeRejected, BOMStatusCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition can leave s.
func (s BOMStatus) Terminal() bool {
	return len(Transitions[s]) == 0
}

// Transitions is the complete edge set of the workflow, keyed by source state.
// Every status write must correspond to an edge listed here.
var Transitions = map[BOMStatus][]BOMStatus{
	BOMStatusPending: {
		BOMStatusGuideApproved,
		BOMStatusGuideRejected,
		BOMStatusLabInchargeRejected,
	},
	BOMStatusGuideApproved: {
		BOMStatusLabInchargeApproved,
		BOMStatusLabInchargeRejected,
	},
	BOMStatusLabInchargeApproved: {
		BOMStatusCompleted,
		BOMStatusLabInchargeRejected,
	},
	BOMStatusGuideRejected:       nil,
	BOMStatusLabInchargeRejected: nil,
	BOMStatusCompleted:           nil,
}

// CanTransition reports whether the workflow allows moving from one state to another.
func CanTransition(from, to BOMStatus) bool {
	for _, next := range Transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Material is a single requested line item.
type Material struct {
	Name           string `json:"name"`
	Quantity       int    `json:"quantity"`
	Specifications string `json:"specifications,omitempty"`
	Unit           string `json:"unit"`
}

// BOM is a team's bill-of-materials request moving through the approval workflow.
type BOM struct {
	ID                    string
	TeamID                string
	CreatedBy             string
	Materials             []Material
	Status                BOMStatus
	GuideApprovedBy       *string
	GuideApprovedAt       *time.Time
	GuideComments         string
	LabInchargeApprovedBy *string
	LabInchargeApprovedAt *time.Time
	LabInchargeComments   string
	IssuedAt              *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
	Version               int
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (b BOM) Clone() BOM {
	out := b
	out.Materials = append([]Material(nil), b.Materials...)
	out.GuideApprovedBy = cloneString(b.GuideApprovedBy)
	out.LabInchargeApprovedBy = cloneString(b.LabInchargeApprovedBy)
	out.GuideApprovedAt = cloneTime(b.GuideApprovedAt)
	out.LabInchargeApprovedAt = cloneTime(b.LabInchargeApprovedAt)
	out.IssuedAt = cloneTime(b.IssuedAt)
	return out
}

// BOMFilter narrows BOM listings. Zero-value fields are ignored.
type BOMFilter struct {
	TeamIDs []string
	Status  BOMStatus
	// All must be set to list without any team restriction.
	All bool
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
