// Package seed loads accounts and teams from a YAML file. It backs `ceerctl seed`
// and the SEED_FILE bootstrap of the in-memory store.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/internal/service/team"
	"github.com/ceer-lab/ceer/internal/service/user"
)

// File is the seed document.
type File struct {
	Users []User `yaml:"users"`
	Teams []Team `yaml:"teams"`
}

// User is one account entry.
type User struct {
	Name       string `yaml:"name"`
	Email      string `yaml:"email"`
	Password   string `yaml:"password"`
	Role       string `yaml:"role"`
	Department string `yaml:"department"`
}

// Team is one team entry. Guide and members are referenced by email.
type Team struct {
	Name               string   `yaml:"team_name"`
	ProjectTitle       string   `yaml:"project_title"`
	ProjectDescription string   `yaml:"project_description"`
	Guide              string   `yaml:"guide"`
	Members            []string `yaml:"members"`
	Status             string   `yaml:"status"`
}

// Result counts what Apply created and skipped.
type Result struct {
	UsersCreated int
	UsersSkipped int
	TeamsCreated int
	TeamsSkipped int
}

// LoadFile parses the seed file at path.
func LoadFile(path string) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return File{}, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a seed document. Unknown keys are rejected.
func Decode(r io.Reader) (File, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return File{}, nil
		}
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	return file, nil
}

// Seeder applies seed documents through the account and team services so the
// same validation runs as for API calls.
type Seeder struct {
	users    user.Service
	teams    team.Service
	userRepo repository.UserRepository
	logger   *slog.Logger
}

// New constructs a Seeder.
func New(users user.Service, teams team.Service, userRepo repository.UserRepository, logger *slog.Logger) Seeder {
	return Seeder{users: users, teams: teams, userRepo: userRepo, logger: logger}
}

// operator stands in for the admin running the seed.
var operator = domain.User{ID: "seed", Name: "seed", Role: domain.RoleAdmin}

// Apply creates every user and team in file. Existing emails and team names are
// skipped so a seed can be re-run safely.
func (s Seeder) Apply(ctx context.Context, file File) (Result, error) {
	var res Result
	for _, u := range file.Users {
		_, err := s.users.Register(ctx, user.CreateInput{
			Name:       u.Name,
			Email:      u.Email,
			Password:   u.Password,
			Role:       u.Role,
			Department: u.Department,
		})
		switch {
		case errors.Is(err, user.ErrEmailTaken):
			res.UsersSkipped++
			s.logger.Debug("seed user exists", "email", u.Email)
		case err != nil:
			return res, fmt.Errorf("seed user %s: %w", u.Email, err)
		default:
			res.UsersCreated++
		}
	}

	for _, t := range file.Teams {
		guideID, err := s.lookup(ctx, t.Guide)
		if err != nil {
			return res, fmt.Errorf("seed team %s guide: %w", t.Name, err)
		}
		memberIDs := make([]string, 0, len(t.Members))
		for _, email := range t.Members {
			id, err := s.lookup(ctx, email)
			if err != nil {
				return res, fmt.Errorf("seed team %s member: %w", t.Name, err)
			}
			memberIDs = append(memberIDs, id)
		}
		_, err = s.teams.Create(ctx, operator, team.CreateInput{
			Name:               t.Name,
			ProjectTitle:       t.ProjectTitle,
			ProjectDescription: t.ProjectDescription,
			MemberIDs:          memberIDs,
			GuideID:            guideID,
			Status:             t.Status,
		})
		switch {
		case errors.Is(err, team.ErrNameTaken):
			res.TeamsSkipped++
			s.logger.Debug("seed team exists", "team_name", t.Name)
		case err != nil:
			return res, fmt.Errorf("seed team %s: %w", t.Name, err)
		default:
			res.TeamsCreated++
		}
	}
	s.logger.Info("seed applied",
		"users_created", res.UsersCreated,
		"users_skipped", res.UsersSkipped,
		"teams_created", res.TeamsCreated,
		"teams_skipped", res.TeamsSkipped,
	)
	return res, nil
}

func (s Seeder) lookup(ctx context.Context, email string) (string, error) {
	u, err := s.userRepo.GetUserByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("%s: %w", email, err)
	}
	return u.ID, nil
}
