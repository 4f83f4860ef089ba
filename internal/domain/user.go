package domain

import "time"

// User represents a lab account. FirstLogin marks a password issued by an admin
// that the owner has not changed yet.
type User struct {
	ID           string
	Name         string
	Email        string
	PasswordHash []byte
	Role         Role
	Department   string
	TeamID       *string
	FirstLogin   bool
	CreatedAt    time.Time
}

// HasTeam reports whether the user is currently assigned to a team.
func (u User) HasTeam() bool {
	return u.TeamID != nil && *u.TeamID != ""
}

// Identity is the display projection of a user used in denormalized reads.
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Identity returns the display projection of u.
func (u User) Identity() Identity {
	return Identity{ID: u.ID, Name: u.Name, Email: u.Email}
}
