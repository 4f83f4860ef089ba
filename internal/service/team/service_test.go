package team

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/internal/repository/memory"
)

var (
	admin   = domain.User{ID: "adm-1", Name: "Admin", Role: domain.RoleAdmin}
	student = domain.User{ID: "stu-1", Name: "Sita", Email: "sita@ceer.test", Role: domain.RoleStudent}
)

func newService(t *testing.T) (Service, *memory.Repository) {
	t.Helper()
	repo := memory.New()
	for _, u := range []domain.User{
		admin,
		student,
		{ID: "stu-2", Name: "Ravi", Email: "ravi@ceer.test", Role: domain.RoleStudent},
		{ID: "stu-3", Name: "Meena", Email: "meena@ceer.test", Role: domain.RoleStudent},
		{ID: "fac-1", Name: "Gauri", Email: "gauri@ceer.test", Role: domain.RoleFaculty},
		{ID: "fac-2", Name: "Gopal", Email: "gopal@ceer.test", Role: domain.RoleFaculty},
		{ID: "lab-1", Name: "Lakshmi", Email: "lab@ceer.test", Role: domain.RoleLabIncharge},
	} {
		u := u
		if u.Email == "" {
			u.Email = u.ID + "@ceer.test"
		}
		if err := repo.CreateUser(context.Background(), &u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return New(repo, repo, slog.New(slog.NewTextHandler(io.Discard, nil))), repo
}

func createRover(t *testing.T, svc Service) *Detail {
	t.Helper()
	team, err := svc.Create(context.Background(), admin, CreateInput{
		Name:         "Rover",
		ProjectTitle: "Mars rover",
		MemberIDs:    []string{"stu-1", "stu-2", "stu-1"},
		GuideID:      "fac-1",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	return team
}

func TestCreateAssignsMembers(t *testing.T) {
	svc, repo := newService(t)
	team := createRover(t, svc)

	if team.Status != domain.TeamStatusActive {
		t.Fatalf("expected default status active, got %s", team.Status)
	}
	if len(team.Members) != 2 || team.Guide.Name != "Gauri" {
		t.Fatalf("expected deduplicated members and resolved guide, got %+v", team)
	}
	u, _ := repo.GetUserByID(context.Background(), "stu-2")
	if !u.HasTeam() || *u.TeamID != team.ID {
		t.Fatalf("expected member team assignment, got %+v", u.TeamID)
	}
}

func TestCreateRejectsInvalidTeams(t *testing.T) {
	svc, _ := newService(t)
	createRover(t, svc)

	cases := []struct {
		name  string
		actor domain.User
		input CreateInput
		want  error
	}{
		{name: "student actor", actor: student, input: CreateInput{Name: "X", ProjectTitle: "P", GuideID: "fac-1"}, want: ErrForbidden},
		{name: "duplicate name", actor: admin, input: CreateInput{Name: "rover", ProjectTitle: "P", GuideID: "fac-1"}, want: ErrNameTaken},
		{name: "guide not faculty", actor: admin, input: CreateInput{Name: "X", ProjectTitle: "P", GuideID: "lab-1"}, want: ErrInvalidGuide},
		{name: "member not student", actor: admin, input: CreateInput{Name: "X", ProjectTitle: "P", GuideID: "fac-1", MemberIDs: []string{"fac-2"}}, want: ErrInvalidMember},
		{name: "member in other team", actor: admin, input: CreateInput{Name: "X", ProjectTitle: "P", GuideID: "fac-1", MemberIDs: []string{"stu-1"}}, want: ErrMemberAssigned},
		{name: "missing title", actor: admin, input: CreateInput{Name: "X", GuideID: "fac-1"}, want: ErrInvalidInput},
		{name: "bad status", actor: admin, input: CreateInput{Name: "X", ProjectTitle: "P", GuideID: "fac-1", Status: "archived"}, want: ErrInvalidInput},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.actor, tc.input); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestUpdateReplacesMembersAndGuide(t *testing.T) {
	svc, repo := newService(t)
	team := createRover(t, svc)
	ctx := context.Background()

	members := []string{"stu-3"}
	guide := "fac-2"
	updated, err := svc.Update(ctx, domain.User{ID: "fac-1", Role: domain.RoleFaculty}, team.ID, TeamPatch{MemberIDs: &members, GuideID: &guide})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if updated.Name != "Rover" || updated.ProjectTitle != "Mars rover" {
		t.Fatalf("expected untouched fields to survive, got %+v", updated)
	}
	if updated.Guide.ID != "fac-2" || len(updated.Members) != 1 || updated.Members[0].ID != "stu-3" {
		t.Fatalf("unexpected updated team: %+v", updated)
	}
	old, _ := repo.GetUserByID(ctx, "stu-1")
	if old.HasTeam() {
		t.Fatalf("expected removed member to be released, got team %v", *old.TeamID)
	}
	fresh, _ := repo.GetUserByID(ctx, "stu-3")
	if !fresh.HasTeam() || *fresh.TeamID != team.ID {
		t.Fatal("expected new member to be assigned")
	}
}

func TestFacultyUpdatesOnlyGuidedTeams(t *testing.T) {
	svc, repo := newService(t)
	team := createRover(t, svc)
	ctx := context.Background()

	self := "fac-2"
	_, err := svc.Update(ctx, domain.User{ID: "fac-2", Role: domain.RoleFaculty}, team.ID, TeamPatch{GuideID: &self})
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for faculty outside the team, got %v", err)
	}
	stored, err := repo.GetTeamByID(ctx, team.ID)
	if err != nil {
		t.Fatalf("GetTeamByID returned error: %v", err)
	}
	if stored.GuideID != "fac-1" {
		t.Fatalf("expected guide to stay fac-1, got %s", stored.GuideID)
	}

	title := "Lunar rover"
	if _, err := svc.Update(ctx, domain.User{ID: "fac-1", Role: domain.RoleFaculty}, team.ID, TeamPatch{ProjectTitle: &title}); err != nil {
		t.Fatalf("expected guide to update own team, got %v", err)
	}
}

func TestTeamPatchApplyLeavesNilFields(t *testing.T) {
	base := domain.Team{ID: "t", Name: "Rover", ProjectTitle: "Mars", GuideID: "fac-1", MemberIDs: []string{"a"}, Status: domain.TeamStatusActive}
	status := "completed"
	out, err := TeamPatch{Status: &status}.Apply(base)
	if err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}
	if out.Status != domain.TeamStatusCompleted || out.Name != "Rover" || len(out.MemberIDs) != 1 {
		t.Fatalf("unexpected patched team: %+v", out)
	}
	blank := " "
	if _, err := (TeamPatch{Name: &blank}).Apply(base); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank name, got %v", err)
	}
}

func TestDeleteIsAdminOnlyAndReleasesMembers(t *testing.T) {
	svc, repo := newService(t)
	team := createRover(t, svc)
	ctx := context.Background()

	if err := svc.Delete(ctx, domain.User{ID: "fac-1", Role: domain.RoleFaculty}, team.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if err := svc.Delete(ctx, admin, team.ID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	u, _ := repo.GetUserByID(ctx, "stu-1")
	if u.HasTeam() {
		t.Fatal("expected member to be released after delete")
	}
	if _, err := svc.Get(ctx, team.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMyTeam(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.MyTeam(ctx, student); !errors.Is(err, ErrNoTeamAssigned) {
		t.Fatalf("expected ErrNoTeamAssigned, got %v", err)
	}
	team := createRover(t, svc)
	mine, err := svc.MyTeam(ctx, student)
	if err != nil {
		t.Fatalf("MyTeam returned error: %v", err)
	}
	if mine.ID != team.ID {
		t.Fatalf("expected %s, got %s", team.ID, mine.ID)
	}
	teams, err := svc.List(ctx)
	if err != nil || len(teams) != 1 {
		t.Fatalf("expected one team listed, got %d (%v)", len(teams), err)
	}
}
