package httpx

import (
	"context"
	"net/http"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/service/bom"
)

type decisionPayload struct {
	Comments  string            `json:"comments"`
	Materials []domain.Material `json:"materials"`
}

func (r *Router) handleListBOMs(w http.ResponseWriter, req *http.Request) {
	views, err := r.boms.List(req.Context(), actor(req))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (r *Router) handleGetBOM(w http.ResponseWriter, req *http.Request) {
	view, err := r.boms.Get(req.Context(), actor(req), req.PathValue("id"))
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (r *Router) handleCreateBOM(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Materials []domain.Material `json:"materials"`
	}
	if err := decodeJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := r.boms.Create(req.Context(), actor(req), payload.Materials)
	r.respondBOM(w, req, http.StatusCreated, created, err)
}

func (r *Router) handleGuideApprove(w http.ResponseWriter, req *http.Request) {
	r.decide(w, req, func(ctx context.Context, u domain.User, id string, p decisionPayload) (*domain.BOM, error) {
		return r.boms.GuideApprove(ctx, u, id, bom.Decision{Comments: p.Comments, Materials: p.Materials})
	})
}

func (r *Router) handleGuideReject(w http.ResponseWriter, req *http.Request) {
	r.decide(w, req, func(ctx context.Context, u domain.User, id string, p decisionPayload) (*domain.BOM, error) {
		return r.boms.GuideReject(ctx, u, id, p.Comments)
	})
}

func (r *Router) handleLabInchargeApprove(w http.ResponseWriter, req *http.Request) {
	r.decide(w, req, func(ctx context.Context, u domain.User, id string, p decisionPayload) (*domain.BOM, error) {
		return r.boms.LabInchargeApprove(ctx, u, id, bom.Decision{Comments: p.Comments, Materials: p.Materials})
	})
}

func (r *Router) handleLabInchargeReject(w http.ResponseWriter, req *http.Request) {
	r.decide(w, req, func(ctx context.Context, u domain.User, id string, p decisionPayload) (*domain.BOM, error) {
		return r.boms.LabInchargeReject(ctx, u, id, p.Comments)
	})
}

func (r *Router) handleComplete(w http.ResponseWriter, req *http.Request) {
	r.decide(w, req, func(ctx context.Context, u domain.User, id string, _ decisionPayload) (*domain.BOM, error) {
		return r.boms.Complete(ctx, u, id)
	})
}

type decideFunc func(ctx context.Context, u domain.User, bomID string, payload decisionPayload) (*domain.BOM, error)

func (r *Router) decide(w http.ResponseWriter, req *http.Request, fn decideFunc) {
	var payload decisionPayload
	if err := decodeOptionalJSON(w, req, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := fn(req.Context(), actor(req), req.PathValue("id"), payload)
	r.respondBOM(w, req, http.StatusOK, updated, err)
}

func (r *Router) respondBOM(w http.ResponseWriter, req *http.Request, status int, b *domain.BOM, err error) {
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	views, err := r.boms.Describe(req.Context(), []domain.BOM{*b})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, status, views[0])
}
