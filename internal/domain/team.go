package domain

import (
	"fmt"
	"time"
)

// TeamStatus enumerates team lifecycle states.
type TeamStatus string

const (
	TeamStatusActive    TeamStatus = "active"
	TeamStatusCompleted TeamStatus = "completed"
	TeamStatusInactive  TeamStatus = "inactive"
)

// ParseTeamStatus validates a team status string.
func ParseTeamStatus(value string) (TeamStatus, error) {
	switch status := TeamStatus(value); status {
	case TeamStatusActive, TeamStatusCompleted, TeamStatusInactive:
		return status, nil
	default:
		return "", fmt.Errorf("invalid team status %q", value)
	}
}

// Team groups student members under a single faculty guide for one project.
type Team struct {
	ID                 string
	Name               string
	ProjectTitle       string
	ProjectDescription string
	MemberIDs          []string
	GuideID            string
	Status             TeamStatus
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasMember reports whether userID is listed as a member.
func (t Team) HasMember(userID string) bool {
	for _, id := range t.MemberIDs {
		if id == userID {
			return true
		}
	}
	return false
}
