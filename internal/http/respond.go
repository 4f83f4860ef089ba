package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository"
	"github.com/ceer-lab/ceer/internal/service/auth"
	"github.com/ceer-lab/ceer/internal/service/bom"
	"github.com/ceer-lab/ceer/internal/service/team"
	"github.com/ceer-lab/ceer/internal/service/user"
	"github.com/ceer-lab/ceer/pkg/crypto"
)

const maxBodyBytes = 1 << 20

var errEmptyBody = errors.New("request body is empty")

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a single JSON document from the request body into dst.
func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, req.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

// writeServiceError maps service and repository errors onto HTTP responses.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var transition *bom.TransitionError
	if errors.As(err, &transition) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": transition.Error(),
			"from":  string(transition.From),
			"to":    string(transition.To),
		})
		return
	}
	var validation *bom.ValidationError
	if errors.As(err, &validation) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": validation.Message,
			"field": validation.Field,
		})
		return
	}

	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, bom.ErrForbidden),
		errors.Is(err, team.ErrForbidden),
		errors.Is(err, user.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "resource was modified concurrently, retry")
	case errors.Is(err, team.ErrNameTaken),
		errors.Is(err, team.ErrMemberAssigned),
		errors.Is(err, user.ErrEmailTaken),
		errors.Is(err, user.ErrUserInUse),
		errors.Is(err, repository.ErrDuplicate):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, bom.ErrNoTeamAssigned),
		errors.Is(err, team.ErrNoTeamAssigned):
		writeError(w, http.StatusBadRequest, "no team assigned")
	case errors.Is(err, team.ErrInvalidInput),
		errors.Is(err, team.ErrInvalidGuide),
		errors.Is(err, team.ErrInvalidMember),
		errors.Is(err, user.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidRole),
		errors.Is(err, crypto.ErrPasswordTooShort),
		errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	default:
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be omitted.
func decodeOptionalJSON(w http.ResponseWriter, req *http.Request, dst any) error {
	if req.Body == nil || req.ContentLength == 0 {
		return nil
	}
	err := decodeJSON(w, req, dst)
	if errors.Is(err, errEmptyBody) {
		return nil
	}
	return err
}
