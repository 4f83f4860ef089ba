package httpx

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/ceer-lab/ceer/internal/domain"
)

type authContextKey string

type authInfo struct {
	User domain.User
}

const contextKeyAuth authContextKey = "ceer-auth-info"

var (
	adminOnly    = []domain.Role{domain.RoleAdmin}
	studentsOnly = []domain.Role{domain.RoleStudent}
	guidesOnly   = []domain.Role{domain.RoleFaculty}
	labStaff     = []domain.Role{domain.RoleLabIncharge, domain.RoleAdmin}
	teamManagers = []domain.Role{domain.RoleAdmin, domain.RoleFaculty}
)

type contextSetter interface {
	SetContext(context.Context)
}

// requireAuth ensures the request has a valid bearer token before invoking the handler.
func (r *Router) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			r.logger.Warn("authorization header invalid", "error", err, "path", req.URL.Path)
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		r.authorize(w, req, token, next)
	}
}

// requireStreamAuth accepts the token as a bearer header or, for browser
// WebSocket and EventSource clients that cannot set headers, an access_token query parameter.
func (r *Router) requireStreamAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		token, err := bearerToken(req.Header.Get("Authorization"))
		if err != nil {
			token = strings.TrimSpace(req.URL.Query().Get("access_token"))
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		r.authorize(w, req, token, next)
	}
}

func (r *Router) authorize(w http.ResponseWriter, req *http.Request, token string, next http.HandlerFunc) {
	user, _, err := r.auth.Authorize(req.Context(), token)
	if err != nil {
		r.logger.Warn("token validation failed", "error", err, "path", req.URL.Path)
		writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	ctx := context.WithValue(req.Context(), contextKeyAuth, authInfo{User: *user})
	if setter, ok := w.(contextSetter); ok {
		setter.SetContext(ctx)
	}
	next(w, req.WithContext(ctx))
}

// requireRole rejects authenticated callers whose role is not listed.
func (r *Router) requireRole(next http.HandlerFunc, roles ...domain.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		info, ok := authInfoFromContext(req.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !info.User.Role.OneOf(roles...) {
			writeError(w, http.StatusForbidden, "access denied for role "+info.User.Role.String())
			return
		}
		next(w, req)
	}
}

// authInfoFromContext extracts auth metadata from context.
func authInfoFromContext(ctx context.Context) (authInfo, bool) {
	info, ok := ctx.Value(contextKeyAuth).(authInfo)
	return info, ok
}

// actor returns the authenticated user. Handlers behind requireAuth always have one.
func actor(req *http.Request) domain.User {
	info, _ := authInfoFromContext(req.Context())
	return info.User
}

func bearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", errors.New("missing authorization header")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
