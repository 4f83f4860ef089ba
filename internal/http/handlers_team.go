package httpx

import (
	"net/http"

	"github.com/ceer-lab/ceer/internal/service/team"
)

type teamPayload struct {
	Name               *string   `json:"team_name"`
	ProjectTitle       *string   `json:"project_title"`
	ProjectDescription *string   `json:"project_description"`
	MemberIDs          *[]string `json:"members"`
	GuideID            *string   `json:"guide"`
	Status             *string   `json:"status"`
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func (r *Router) handleListTeams(w http.ResponseWriter, req *http.Request) {
	teams, err := r.teams.List(req.Context())
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (r *Router) handleGetTeam(w http.ResponseWriter, req *http.Request) {
	detail, err := r.teams.Get(req.Context(), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (r *Router) handleMyTeam(w http.ResponseWriter, req *http.Request) {
	detail, err := r.teams.MyTeam(req.Context(), actor(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (r *Router) handleCreateTeam(w http.ResponseWriter, req *http.Request) {
	var payload teamPayload
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	input := team.CreateInput{
		Name:               deref(payload.Name),
		ProjectTitle:       deref(payload.ProjectTitle),
		ProjectDescription: deref(payload.ProjectDescription),
		GuideID:            deref(payload.GuideID),
		Status:             deref(payload.Status),
	}
	if payload.MemberIDs != nil {
		input.MemberIDs = *payload.MemberIDs
	}
	detail, err := r.teams.Create(req.Context(), actor(req), input)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusCreated, detail)
}

func (r *Router) handleUpdateTeam(w http.ResponseWriter, req *http.Request) {
	var payload teamPayload
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	detail, err := r.teams.Update(req.Context(), actor(req), req.PathValue("id"), team.TeamPatch{
		Name:               payload.Name,
		ProjectTitle:       payload.ProjectTitle,
		ProjectDescription: payload.ProjectDescription,
		MemberIDs:          payload.MemberIDs,
		GuideID:            payload.GuideID,
		Status:             payload.Status,
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (r *Router) handleDeleteTeam(w http.ResponseWriter, req *http.Request) {
	if err := r.teams.Delete(req.Context(), actor(req), req.PathValue("id")); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
