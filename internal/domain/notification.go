package domain

import "time"

// NotificationKind names a workflow event delivered to a recipient.
type NotificationKind string

const (
	NotifyBOMCreated             NotificationKind = "bom.created"
	NotifyBOMGuideApproved       NotificationKind = "bom.guide_approved"
	NotifyBOMAwaitingReview      NotificationKind = "bom.awaiting_review"
	NotifyBOMLabInchargeApproved NotificationKind = "bom.labincharge_approved"
	NotifyBOMGuideRejected       NotificationKind = "bom.guide_rejected"
	NotifyBOMLabInchargeRejected NotificationKind = "bom.labincharge_rejected"
)

// Notification is a single (recipient, kind, payload) delivery job.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Recipient Identity         `json:"recipient"`
	Actor     Identity         `json:"actor"`
	BOMID     string           `json:"bom_id"`
	TeamName  string           `json:"team_name"`
	Project   string           `json:"project_title"`
	Materials []Material       `json:"materials,omitempty"`
	Comments  string           `json:"comments,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}
