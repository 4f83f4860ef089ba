package httpx

import (
	"net/http"
	"strings"
	"time"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/service/auth"
	"github.com/ceer-lab/ceer/internal/service/user"
)

type userResponse struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Email      string      `json:"email"`
	Role       domain.Role `json:"role"`
	Department string      `json:"department,omitempty"`
	TeamID     *string     `json:"team_id,omitempty"`
	FirstLogin bool        `json:"first_login"`
	CreatedAt  time.Time   `json:"created_at"`
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Role:       u.Role,
		Department: u.Department,
		TeamID:     u.TeamID,
		FirstLogin: u.FirstLogin,
		CreatedAt:  u.CreatedAt,
	}
}

type tokenResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	TokenType    string       `json:"token_type"`
	ExpiresIn    int64        `json:"expires_in"`
	User         userResponse `json:"user"`
}

func newTokenResponse(u *domain.User, tokens auth.TokenPair) tokenResponse {
	return tokenResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(tokens.ExpiresIn.Seconds()),
		User:         toUserResponse(*u),
	}
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	role, err := domain.ParseRole(payload.Role)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	u, tokens, err := r.auth.Login(req.Context(), payload.Email, payload.Password, role)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(u, tokens))
}

func (r *Router) handleRefresh(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(payload.RefreshToken) == "" {
		writeError(w, http.StatusBadRequest, "refresh_token is required")
		return
	}
	u, tokens, err := r.auth.Refresh(req.Context(), payload.RefreshToken)
	if err != nil {
		r.logger.Warn("token refresh failed", "error", err)
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	writeJSON(w, http.StatusOK, newTokenResponse(u, tokens))
}

func (r *Router) handleMe(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, toUserResponse(actor(req)))
}

func (r *Router) handleChangePassword(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := r.auth.ChangePassword(req.Context(), actor(req).ID, payload.CurrentPassword, payload.NewPassword); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleCreateUser(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Name       string `json:"name"`
		Email      string `json:"email"`
		Password   string `json:"password"`
		Role       string `json:"role"`
		Department string `json:"department"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := r.users.Create(req.Context(), actor(req), user.CreateInput{
		Name:       payload.Name,
		Email:      payload.Email,
		Password:   payload.Password,
		Role:       payload.Role,
		Department: payload.Department,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserResponse(*created))
}

func (r *Router) handleListUsers(w http.ResponseWriter, req *http.Request) {
	role := req.URL.Query().Get("role")
	if role == "" {
		writeError(w, http.StatusBadRequest, "role query parameter is required")
		return
	}
	users, err := r.users.ListByRole(req.Context(), actor(req), role)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(users))
}

func (r *Router) handleAvailableStudents(w http.ResponseWriter, req *http.Request) {
	students, err := r.users.AvailableStudents(req.Context(), actor(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponses(students))
}

func (r *Router) handleGetUser(w http.ResponseWriter, req *http.Request) {
	u, err := r.users.Get(req.Context(), actor(req), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(*u))
}

func (r *Router) handleDeleteUser(w http.ResponseWriter, req *http.Request) {
	if err := r.users.Delete(req.Context(), actor(req), req.PathValue("id")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) handleResetPassword(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := decodeOptionalJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := req.PathValue("id")
	password, err := r.users.ResetPassword(req.Context(), actor(req), id, payload.Password)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id":            id,
		"temporary_password": password,
	})
}

func toUserResponses(users []domain.User) []userResponse {
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	return out
}
