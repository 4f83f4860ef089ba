package httpx

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceer-lab/ceer/internal/service/auth"
	"github.com/ceer-lab/ceer/internal/service/bom"
	"github.com/ceer-lab/ceer/internal/service/team"
	"github.com/ceer-lab/ceer/internal/service/user"
	"github.com/ceer-lab/ceer/internal/ws"
)

// Services bundles the application services the router exposes.
type Services struct {
	Auth  auth.Service
	Users user.Service
	Teams team.Service
	BOMs  bom.Service
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	auth     auth.Service
	users    user.Service
	teams    team.Service
	boms     bom.Service
	hub      *ws.Hub
	upgrader websocket.Upgrader
	limiter  RateLimiter
	dbHealth func(context.Context) error
	registry *prometheus.Registry

	metricsOnce    sync.Once
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitLogin     = 12
	rateLimitUserWrite = 60
	rateLimitUserRead  = 240
	rateLimitStream    = 30
	healthCheckTimeout = 2 * time.Second
	sseHeartbeat       = 25 * time.Second
)

// NewRouter assembles routes with dependencies. hub may be nil to disable the
// live notification endpoints; registry may be nil to disable metrics.
func NewRouter(logger *slog.Logger, svc Services, hub *ws.Hub, limiter RateLimiter, registry *prometheus.Registry, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   svc.Auth,
		users:  svc.Users,
		teams:  svc.Teams,
		boms:   svc.BOMs,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:  limiter,
		dbHealth: dbHealth,
		registry: registry,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if registry != nil {
		r.initMetrics(registry)
	}
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	if r.registry != nil {
		r.mux.Handle("GET /metrics", r.metricsHandler())
	}

	r.mux.HandleFunc("POST /auth/login", r.audit(r.withRateLimit("/auth/login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))
	r.mux.HandleFunc("POST /auth/refresh", r.audit(r.withRateLimit("/auth/refresh", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleRefresh)))
	r.mux.HandleFunc("GET /auth/me", r.audit(r.handlerAuthRate("/auth/me", rateLimitUserRead, rateWindowDefault, r.handleMe)))
	r.mux.HandleFunc("PUT /auth/password", r.audit(r.handlerAuthRate("/auth/password", rateLimitLogin, rateWindowDefault, r.handleChangePassword)))

	r.mux.HandleFunc("POST /users", r.audit(r.handlerAuthRate("/users", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleCreateUser, adminOnly...))))
	r.mux.HandleFunc("GET /users", r.audit(r.handlerAuthRate("/users", rateLimitUserRead, rateWindowDefault, r.requireRole(r.handleListUsers, adminOnly...))))
	r.mux.HandleFunc("GET /users/available-students", r.audit(r.handlerAuthRate("/users/available-students", rateLimitUserRead, rateWindowDefault, r.requireRole(r.handleAvailableStudents, teamManagers...))))
	r.mux.HandleFunc("GET /users/{id}", r.audit(r.handlerAuthRate("/users/{id}", rateLimitUserRead, rateWindowDefault, r.requireRole(r.handleGetUser, adminOnly...))))
	r.mux.HandleFunc("DELETE /users/{id}", r.audit(r.handlerAuthRate("/users/{id}", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleDeleteUser, adminOnly...))))
	r.mux.HandleFunc("PUT /users/{id}/reset-password", r.audit(r.handlerAuthRate("/users/{id}/reset-password", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleResetPassword, adminOnly...))))

	r.mux.HandleFunc("GET /teams", r.audit(r.handlerAuthRate("/teams", rateLimitUserRead, rateWindowDefault, r.handleListTeams)))
	r.mux.HandleFunc("POST /teams", r.audit(r.handlerAuthRate("/teams", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleCreateTeam, teamManagers...))))
	r.mux.HandleFunc("GET /teams/mine", r.audit(r.handlerAuthRate("/teams/mine", rateLimitUserRead, rateWindowDefault, r.requireRole(r.handleMyTeam, studentsOnly...))))
	r.mux.HandleFunc("GET /teams/{id}", r.audit(r.handlerAuthRate("/teams/{id}", rateLimitUserRead, rateWindowDefault, r.handleGetTeam)))
	r.mux.HandleFunc("PUT /teams/{id}", r.audit(r.handlerAuthRate("/teams/{id}", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleUpdateTeam, teamManagers...))))
	r.mux.HandleFunc("DELETE /teams/{id}", r.audit(r.handlerAuthRate("/teams/{id}", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleDeleteTeam, adminOnly...))))

	r.mux.HandleFunc("GET /boms", r.audit(r.handlerAuthRate("/boms", rateLimitUserRead, rateWindowDefault, r.handleListBOMs)))
	r.mux.HandleFunc("POST /boms", r.audit(r.handlerAuthRate("/boms", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleCreateBOM, studentsOnly...))))
	r.mux.HandleFunc("GET /boms/{id}", r.audit(r.handlerAuthRate("/boms/{id}", rateLimitUserRead, rateWindowDefault, r.handleGetBOM)))
	r.mux.HandleFunc("PUT /boms/{id}/guide-approve", r.audit(r.handlerAuthRate("/boms/{id}/guide-approve", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleGuideApprove, guidesOnly...))))
	r.mux.HandleFunc("PUT /boms/{id}/guide-reject", r.audit(r.handlerAuthRate("/boms/{id}/guide-reject", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleGuideReject, guidesOnly...))))
	r.mux.HandleFunc("PUT /boms/{id}/labincharge-approve", r.audit(r.handlerAuthRate("/boms/{id}/labincharge-approve", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleLabInchargeApprove, labStaff...))))
	r.mux.HandleFunc("PUT /boms/{id}/labincharge-reject", r.audit(r.handlerAuthRate("/boms/{id}/labincharge-reject", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleLabInchargeReject, labStaff...))))
	r.mux.HandleFunc("PUT /boms/{id}/complete", r.audit(r.handlerAuthRate("/boms/{id}/complete", rateLimitUserWrite, rateWindowDefault, r.requireRole(r.handleComplete, labStaff...))))

	if r.hub != nil {
		r.mux.HandleFunc("GET /ws/notifications", r.audit(r.streamAuthRate("/ws/notifications", r.handleNotificationsWS)))
		r.mux.HandleFunc("GET /events", r.audit(r.streamAuthRate("/events", r.handleNotificationsSSE)))
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		route := req.Pattern
		if route == "" {
			route = req.URL.Path
		}
		r.recordRequestMetrics(req.Method, route, status, duration)

		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}
		if info, ok := authInfoFromContext(ctx); ok {
			fields = append(fields, "user_id", info.User.ID, "role", info.User.Role)
		} else {
			fields = append(fields, "actor", "anonymous")
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		sr.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		if ip := strings.TrimSpace(strings.Split(forwarded, ",")[0]); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}
