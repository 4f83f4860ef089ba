package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
)

// Repository is an in-process store used for development and tests.
// A single mutex serializes writes, which gives each BOM update the same
// compare-and-swap semantics as the PostgreSQL implementation.
type Repository struct {
	mu    sync.RWMutex
	users map[string]domain.User
	teams map[string]domain.Team
	boms  map[string]domain.BOM
	now   func() time.Time
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		users: make(map[string]domain.User),
		teams: make(map[string]domain.Team),
		boms:  make(map[string]domain.BOM),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

var (
	_ repository.UserRepository = (*Repository)(nil)
	_ repository.TeamRepository = (*Repository)(nil)
	_ repository.BOMRepository  = (*Repository)(nil)
)

// CreateUser inserts a user, enforcing unique ids and emails.
func (r *Repository) CreateUser(_ context.Context, user *domain.User) error {
	if user == nil || user.ID == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[user.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicate
		}
	}
	r.users[user.ID] = copyUser(*user)
	return nil
}

// GetUserByEmail fetches a user by email, case-insensitively.
func (r *Repository) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, user := range r.users {
		if strings.EqualFold(user.Email, strings.TrimSpace(email)) {
			u := copyUser(user)
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	user, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	u := copyUser(user)
	return &u, nil
}

// ListUsersByRole returns users holding role, ordered by name.
func (r *Repository) ListUsersByRole(_ context.Context, role domain.Role) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]domain.User, 0)
	for _, user := range r.users {
		if user.Role == role {
			users = append(users, copyUser(user))
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

// ListUsersByIDs returns the users that exist among ids. Missing ids are skipped.
func (r *Repository) ListUsersByIDs(_ context.Context, ids []string) ([]domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make([]domain.User, 0, len(ids))
	for _, id := range ids {
		if user, ok := r.users[id]; ok {
			users = append(users, copyUser(user))
		}
	}
	return users, nil
}

// UpdatePassword replaces a user's password hash and first-login flag.
func (r *Repository) UpdatePassword(_ context.Context, userID string, hash []byte, firstLogin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	user.PasswordHash = append([]byte(nil), hash...)
	user.FirstLogin = firstLogin
	r.users[userID] = user
	return nil
}

// DeleteUser removes an account and drops it from its team's members. Guides
// and users referenced by a BOM yield ErrConflict.
func (r *Repository) DeleteUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, team := range r.teams {
		if team.GuideID == userID {
			return repository.ErrConflict
		}
	}
	for _, bom := range r.boms {
		if bom.CreatedBy == userID || isID(bom.GuideApprovedBy, userID) || isID(bom.LabInchargeApprovedBy, userID) {
			return repository.ErrConflict
		}
	}
	if user.HasTeam() {
		if team, ok := r.teams[*user.TeamID]; ok {
			team.MemberIDs = removeID(team.MemberIDs, userID)
			r.teams[team.ID] = team
		}
	}
	delete(r.users, userID)
	return nil
}

// CreateTeam stores a team and assigns its members.
func (r *Repository) CreateTeam(_ context.Context, team *domain.Team) error {
	if team == nil || team.ID == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[team.ID]; ok {
		return repository.ErrDuplicate
	}
	for _, existing := range r.teams {
		if strings.EqualFold(existing.Name, team.Name) {
			return repository.ErrDuplicate
		}
	}
	if _, ok := r.users[team.GuideID]; !ok {
		return repository.ErrNotFound
	}
	for _, memberID := range team.MemberIDs {
		if _, ok := r.users[memberID]; !ok {
			return repository.ErrNotFound
		}
	}
	r.teams[team.ID] = copyTeam(*team)
	r.assignMembersLocked(team.ID, team.MemberIDs)
	return nil
}

// UpdateTeam rewrites a team and reconciles member assignments.
func (r *Repository) UpdateTeam(_ context.Context, team *domain.Team) error {
	if team == nil {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[team.ID]; !ok {
		return repository.ErrNotFound
	}
	for id, existing := range r.teams {
		if id != team.ID && strings.EqualFold(existing.Name, team.Name) {
			return repository.ErrDuplicate
		}
	}
	for _, memberID := range team.MemberIDs {
		if _, ok := r.users[memberID]; !ok {
			return repository.ErrNotFound
		}
	}
	team.UpdatedAt = r.now()
	r.clearMembersLocked(team.ID)
	r.teams[team.ID] = copyTeam(*team)
	r.assignMembersLocked(team.ID, team.MemberIDs)
	return nil
}

// DeleteTeam removes a team and clears its members' assignment.
func (r *Repository) DeleteTeam(_ context.Context, teamID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.teams[teamID]; !ok {
		return repository.ErrNotFound
	}
	r.clearMembersLocked(teamID)
	delete(r.teams, teamID)
	return nil
}

// GetTeamByID returns a team by identifier.
func (r *Repository) GetTeamByID(_ context.Context, teamID string) (*domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	team, ok := r.teams[teamID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t := copyTeam(team)
	return &t, nil
}

// GetTeamByName returns a team by its unique name.
func (r *Repository) GetTeamByName(_ context.Context, name string) (*domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, team := range r.teams {
		if strings.EqualFold(team.Name, strings.TrimSpace(name)) {
			t := copyTeam(team)
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

// GetTeamByMember returns the team listing userID as a member.
func (r *Repository) GetTeamByMember(_ context.Context, userID string) (*domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, team := range r.teams {
		if team.HasMember(userID) {
			t := copyTeam(team)
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

// ListTeams returns all teams ordered by name.
func (r *Repository) ListTeams(_ context.Context) ([]domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teams := make([]domain.Team, 0, len(r.teams))
	for _, team := range r.teams {
		teams = append(teams, copyTeam(team))
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

// ListTeamsByGuide returns the teams guided by guideID.
func (r *Repository) ListTeamsByGuide(_ context.Context, guideID string) ([]domain.Team, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teams := make([]domain.Team, 0)
	for _, team := range r.teams {
		if team.GuideID == guideID {
			teams = append(teams, copyTeam(team))
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].Name < teams[j].Name })
	return teams, nil
}

// CreateBOM inserts a BOM at version 1.
func (r *Repository) CreateBOM(_ context.Context, bom *domain.BOM) error {
	if bom == nil || bom.ID == "" {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.boms[bom.ID]; ok {
		return repository.ErrDuplicate
	}
	if _, ok := r.teams[bom.TeamID]; !ok {
		return repository.ErrNotFound
	}
	bom.Version = 1
	r.boms[bom.ID] = bom.Clone()
	return nil
}

// GetBOMByID returns a BOM by identifier.
func (r *Repository) GetBOMByID(_ context.Context, id string) (*domain.BOM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bom, ok := r.boms[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	b := bom.Clone()
	return &b, nil
}

// UpdateBOM replaces a BOM when its stored version matches expectedVersion.
func (r *Repository) UpdateBOM(_ context.Context, bom *domain.BOM, expectedVersion int) error {
	if bom == nil {
		return repository.ErrInvalidArgument
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.boms[bom.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if stored.Version != expectedVersion {
		return repository.ErrConflict
	}
	bom.Version = expectedVersion + 1
	bom.UpdatedAt = r.now()
	r.boms[bom.ID] = bom.Clone()
	return nil
}

// ListBOMs returns BOMs matching filter, newest first.
func (r *Repository) ListBOMs(_ context.Context, filter domain.BOMFilter) ([]domain.BOM, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	teamSet := make(map[string]struct{}, len(filter.TeamIDs))
	for _, id := range filter.TeamIDs {
		teamSet[id] = struct{}{}
	}
	boms := make([]domain.BOM, 0)
	for _, bom := range r.boms {
		if !filter.All {
			if _, ok := teamSet[bom.TeamID]; !ok {
				continue
			}
		}
		if filter.Status != "" && bom.Status != filter.Status {
			continue
		}
		boms = append(boms, bom.Clone())
	}
	sort.Slice(boms, func(i, j int) bool { return boms[i].CreatedAt.After(boms[j].CreatedAt) })
	return boms, nil
}

func (r *Repository) assignMembersLocked(teamID string, memberIDs []string) {
	for _, memberID := range memberIDs {
		user := r.users[memberID]
		id := teamID
		user.TeamID = &id
		r.users[memberID] = user
		// a student sits in at most one team
		for otherID, other := range r.teams {
			if otherID == teamID || !other.HasMember(memberID) {
				continue
			}
			other.MemberIDs = removeID(other.MemberIDs, memberID)
			r.teams[otherID] = other
		}
	}
}

func (r *Repository) clearMembersLocked(teamID string) {
	for id, user := range r.users {
		if user.TeamID != nil && *user.TeamID == teamID {
			user.TeamID = nil
			r.users[id] = user
		}
	}
}

func removeID(ids []string, target string) []string {
	out := ids[:0:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func isID(ref *string, id string) bool {
	return ref != nil && *ref == id
}

func copyUser(u domain.User) domain.User {
	u.PasswordHash = append([]byte(nil), u.PasswordHash...)
	if u.TeamID != nil {
		id := *u.TeamID
		u.TeamID = &id
	}
	return u
}

func copyTeam(t domain.Team) domain.Team {
	t.MemberIDs = append([]string(nil), t.MemberIDs...)
	return t
}
