package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ceer-lab/ceer/internal/domain"
	"github.com/ceer-lab/ceer/internal/repository/memory"
	"github.com/ceer-lab/ceer/internal/service/auth"
	"github.com/ceer-lab/ceer/internal/service/bom"
	"github.com/ceer-lab/ceer/internal/service/team"
	"github.com/ceer-lab/ceer/internal/service/user"
	"github.com/ceer-lab/ceer/internal/ws"
	"github.com/ceer-lab/ceer/pkg/config"
	"github.com/ceer-lab/ceer/pkg/crypto"
	jwtpkg "github.com/ceer-lab/ceer/pkg/jwt"
)

const testSecret = "router-test-secret"

type rateLimiterStub struct {
	mu      sync.Mutex
	calls   []string
	allowFn func(key string, limit int, window time.Duration) rateDecision
}

func (s *rateLimiterStub) Allow(key string, limit int, window time.Duration) rateDecision {
	s.mu.Lock()
	s.calls = append(s.calls, key)
	s.mu.Unlock()
	if s.allowFn != nil {
		return s.allowFn(key, limit, window)
	}
	return rateDecision{allowed: true, count: 1, windowEnd: time.Now().Add(window)}
}

func (s *rateLimiterStub) Close() {}

type testEnv struct {
	router   *Router
	repo     *memory.Repository
	hub      *ws.Hub
	limiter  *rateLimiterStub
	registry *prometheus.Registry
	users    map[string]domain.User
}

func setupRouter(t *testing.T, dbHealth func(context.Context) error) *testEnv {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := memory.New()

	hash, err := crypto.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	users := map[string]domain.User{}
	for _, u := range []domain.User{
		{ID: "stu-1", Name: "Sita", Email: "sita@ceer.test", Role: domain.RoleStudent},
		{ID: "fac-1", Name: "Gauri", Email: "gauri@ceer.test", Role: domain.RoleFaculty},
		{ID: "fac-2", Name: "Gopal", Email: "gopal@ceer.test", Role: domain.RoleFaculty},
		{ID: "lab-1", Name: "Lakshmi", Email: "lakshmi@ceer.test", Role: domain.RoleLabIncharge},
		{ID: "adm-1", Name: "Asha", Email: "asha@ceer.test", Role: domain.RoleAdmin},
	} {
		u.PasswordHash = hash
		u.CreatedAt = time.Now().UTC()
		if err := repo.CreateUser(ctx, &u); err != nil {
			t.Fatalf("create user %s: %v", u.ID, err)
		}
		users[u.ID] = u
	}
	if err := repo.CreateTeam(ctx, &domain.Team{
		ID:           "team-1",
		Name:         "Rover",
		ProjectTitle: "Mars rover",
		MemberIDs:    []string{"stu-1"},
		GuideID:      "fac-1",
		Status:       domain.TeamStatusActive,
	}); err != nil {
		t.Fatalf("create team: %v", err)
	}

	cfg := config.APIConfig{JWTSecret: testSecret, AccessTokenTTL: time.Hour, RefreshTokenTTL: 2 * time.Hour}
	hub := ws.NewHub(logger)
	limiter := &rateLimiterStub{}
	registry := prometheus.NewRegistry()
	router := NewRouter(logger, Services{
		Auth:  auth.New(repo, logger, cfg),
		Users: user.New(repo, logger),
		Teams: team.New(repo, repo, logger),
		BOMs:  bom.New(repo, repo, repo, nil, logger),
	}, hub, limiter, registry, dbHealth)
	t.Cleanup(func() {
		router.Close()
		hub.Close()
	})
	return &testEnv{router: router, repo: repo, hub: hub, limiter: limiter, registry: registry, users: users}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	u, ok := e.users[userID]
	if !ok {
		t.Fatalf("unknown user %s", userID)
	}
	token, err := jwtpkg.GenerateToken(u.ID, u.Role.String(), testSecret, time.Hour)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return token
}

func (e *testEnv) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+e.token(t, userID))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func createBOM(t *testing.T, env *testEnv) bom.View {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/boms", "stu-1", `{"materials":[{"name":"Arduino Uno","quantity":2},{"name":"Servo","quantity":4,"unit":"pcs"}]}`)
	expectStatus(t, rec, http.StatusCreated)
	return decodeBody[bom.View](t, rec)
}

func TestHealthzReportsDatabase(t *testing.T) {
	env := setupRouter(t, func(context.Context) error { return nil })
	rec := env.do(t, http.MethodGet, "/healthz", "", "")
	expectStatus(t, rec, http.StatusOK)

	down := setupRouter(t, func(context.Context) error { return errors.New("connection refused") })
	rec = down.do(t, http.MethodGet, "/healthz", "", "")
	expectStatus(t, rec, http.StatusServiceUnavailable)
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "degraded" {
		t.Fatalf("expected degraded status, got %v", body["status"])
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodGet, "/boms", "", "")
	expectStatus(t, rec, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/boms", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusUnauthorized)
}

func TestLoginIssuesTokensForMatchingRole(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodPost, "/auth/login", "", `{"email":"Gauri@ceer.test","password":"correct-horse","role":"faculty"}`)
	expectStatus(t, rec, http.StatusOK)
	body := decodeBody[tokenResponse](t, rec)
	if body.AccessToken == "" || body.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", body)
	}
	if body.User.ID != "fac-1" || body.User.Role != domain.RoleFaculty {
		t.Fatalf("unexpected user %+v", body.User)
	}

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+body.AccessToken)
	me := httptest.NewRecorder()
	env.router.ServeHTTP(me, req)
	expectStatus(t, me, http.StatusOK)

	refresh := env.do(t, http.MethodPost, "/auth/refresh", "", `{"refresh_token":"`+body.RefreshToken+`"}`)
	expectStatus(t, refresh, http.StatusOK)
}

func TestLoginRejectsWrongRoleAndPassword(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodPost, "/auth/login", "", `{"email":"gauri@ceer.test","password":"correct-horse","role":"admin"}`)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, http.MethodPost, "/auth/login", "", `{"email":"gauri@ceer.test","password":"wrong-horse","role":"faculty"}`)
	expectStatus(t, rec, http.StatusUnauthorized)

	rec = env.do(t, http.MethodPost, "/auth/login", "", `{"email":"gauri@ceer.test","password":"correct-horse","role":"dean"}`)
	expectStatus(t, rec, http.StatusBadRequest)
}

func TestBOMWorkflowOverHTTP(t *testing.T) {
	env := setupRouter(t, nil)
	created := createBOM(t, env)
	if created.Status != domain.BOMStatusPending || created.Team.Name != "Rover" || created.CreatedBy.Name != "Sita" {
		t.Fatalf("unexpected created view %+v", created)
	}
	path := "/boms/" + created.ID

	rec := env.do(t, http.MethodPut, path+"/guide-approve", "fac-1", `{"comments":"looks fine","materials":[{"name":"Arduino Uno","quantity":1}]}`)
	expectStatus(t, rec, http.StatusOK)
	approved := decodeBody[bom.View](t, rec)
	if approved.Status != domain.BOMStatusGuideApproved || approved.GuideApprovedBy == nil || approved.GuideApprovedBy.ID != "fac-1" {
		t.Fatalf("unexpected guide-approved view %+v", approved)
	}
	if len(approved.Materials) != 1 || approved.Materials[0].Unit != domain.DefaultUnit {
		t.Fatalf("expected overridden materials, got %+v", approved.Materials)
	}

	rec = env.do(t, http.MethodGet, "/boms", "lab-1", "")
	expectStatus(t, rec, http.StatusOK)
	if queue := decodeBody[[]bom.View](t, rec); len(queue) != 1 {
		t.Fatalf("expected one bom in lab queue, got %d", len(queue))
	}

	rec = env.do(t, http.MethodPut, path+"/labincharge-approve", "lab-1", "")
	expectStatus(t, rec, http.StatusOK)
	rec = env.do(t, http.MethodPut, path+"/complete", "lab-1", "")
	expectStatus(t, rec, http.StatusOK)
	done := decodeBody[bom.View](t, rec)
	if done.Status != domain.BOMStatusCompleted || done.IssuedAt == nil {
		t.Fatalf("unexpected completed view %+v", done)
	}

	rec = env.do(t, http.MethodPut, path+"/complete", "lab-1", "")
	expectStatus(t, rec, http.StatusConflict)
	conflict := decodeBody[map[string]string](t, rec)
	if conflict["from"] != "completed" || conflict["to"] != "completed" {
		t.Fatalf("expected transition detail, got %v", conflict)
	}
}

func TestTransitionRoleAndOwnershipChecks(t *testing.T) {
	env := setupRouter(t, nil)
	created := createBOM(t, env)
	path := "/boms/" + created.ID

	rec := env.do(t, http.MethodPut, path+"/guide-approve", "stu-1", "")
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPut, path+"/guide-approve", "fac-2", "")
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPut, path+"/complete", "lab-1", "")
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPut, "/boms/missing/guide-approve", "fac-1", "")
	expectStatus(t, rec, http.StatusNotFound)

	rec = env.do(t, http.MethodGet, path, "fac-2", "")
	expectStatus(t, rec, http.StatusForbidden)
}

func TestCreateBOMValidation(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodPost, "/boms", "stu-1", `{"materials":[{"name":"Servo","quantity":0}]}`)
	expectStatus(t, rec, http.StatusBadRequest)
	body := decodeBody[map[string]string](t, rec)
	if body["field"] != "materials[0].quantity" {
		t.Fatalf("expected quantity field error, got %v", body)
	}

	rec = env.do(t, http.MethodPost, "/boms", "stu-1", `{"materials":[]}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/boms", "fac-1", `{"materials":[{"name":"Servo","quantity":1}]}`)
	expectStatus(t, rec, http.StatusForbidden)
}

func TestTeamEndpoints(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodGet, "/teams/mine", "stu-1", "")
	expectStatus(t, rec, http.StatusOK)
	mine := decodeBody[team.Detail](t, rec)
	if mine.ID != "team-1" || mine.Guide.ID != "fac-1" {
		t.Fatalf("unexpected team %+v", mine)
	}

	rec = env.do(t, http.MethodPut, "/teams/team-1", "fac-2", `{"guide":"fac-2"}`)
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPut, "/teams/team-1", "adm-1", `{"guide":"fac-2"}`)
	expectStatus(t, rec, http.StatusOK)
	if updated := decodeBody[team.Detail](t, rec); updated.Guide.ID != "fac-2" {
		t.Fatalf("expected guide fac-2, got %+v", updated.Guide)
	}

	rec = env.do(t, http.MethodPost, "/teams", "adm-1", `{"team_name":"rover","project_title":"Dup","guide":"fac-1"}`)
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodDelete, "/teams/team-1", "fac-1", "")
	expectStatus(t, rec, http.StatusForbidden)
}

func TestAdminCreatesUsers(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodPost, "/users", "adm-1", `{"name":"Nila","email":"nila@ceer.test","password":"longenough","role":"student"}`)
	expectStatus(t, rec, http.StatusCreated)

	rec = env.do(t, http.MethodPost, "/users", "adm-1", `{"name":"Nila","email":"nila@ceer.test","password":"longenough","role":"student"}`)
	expectStatus(t, rec, http.StatusConflict)

	rec = env.do(t, http.MethodPost, "/users", "adm-1", `{"name":"Short","email":"short@ceer.test","password":"short","role":"student"}`)
	expectStatus(t, rec, http.StatusBadRequest)

	rec = env.do(t, http.MethodPost, "/users", "fac-1", `{"name":"X","email":"x@ceer.test","password":"longenough","role":"admin"}`)
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodGet, "/users?role=student", "adm-1", "")
	expectStatus(t, rec, http.StatusOK)
	if listed := decodeBody[[]userResponse](t, rec); len(listed) != 2 {
		t.Fatalf("expected 2 students, got %d", len(listed))
	}
}

func TestUserAdministration(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodPost, "/users", "adm-1", `{"name":"Nila","email":"nila@ceer.test","password":"longenough","role":"student"}`)
	expectStatus(t, rec, http.StatusCreated)
	nila := decodeBody[userResponse](t, rec)
	if !nila.FirstLogin {
		t.Fatal("expected admin-created account to require a password change")
	}

	rec = env.do(t, http.MethodGet, "/users/available-students", "fac-1", "")
	expectStatus(t, rec, http.StatusOK)
	if available := decodeBody[[]userResponse](t, rec); len(available) != 1 || available[0].ID != nila.ID {
		t.Fatalf("expected only the unassigned student, got %+v", available)
	}
	rec = env.do(t, http.MethodGet, "/users/available-students", "stu-1", "")
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodPut, "/users/"+nila.ID+"/reset-password", "adm-1", `{"password":"brand-new-pass"}`)
	expectStatus(t, rec, http.StatusOK)
	if reset := decodeBody[map[string]string](t, rec); reset["temporary_password"] != "brand-new-pass" {
		t.Fatalf("unexpected reset response %v", reset)
	}
	rec = env.do(t, http.MethodPost, "/auth/login", "", `{"email":"nila@ceer.test","password":"brand-new-pass","role":"student"}`)
	expectStatus(t, rec, http.StatusOK)
	login := decodeBody[tokenResponse](t, rec)
	if !login.User.FirstLogin {
		t.Fatal("expected login to report first_login after a reset")
	}

	req := httptest.NewRequest(http.MethodPut, "/auth/password", strings.NewReader(`{"current_password":"brand-new-pass","new_password":"chosen-by-nila"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+login.AccessToken)
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusNoContent)

	rec = env.do(t, http.MethodGet, "/users/"+nila.ID, "adm-1", "")
	expectStatus(t, rec, http.StatusOK)
	if got := decodeBody[userResponse](t, rec); got.FirstLogin {
		t.Fatal("expected password change to clear first_login")
	}
	rec = env.do(t, http.MethodGet, "/users/"+nila.ID, "fac-1", "")
	expectStatus(t, rec, http.StatusForbidden)

	rec = env.do(t, http.MethodDelete, "/users/fac-1", "adm-1", "")
	expectStatus(t, rec, http.StatusConflict)
	rec = env.do(t, http.MethodDelete, "/users/adm-1", "adm-1", "")
	expectStatus(t, rec, http.StatusBadRequest)
	rec = env.do(t, http.MethodDelete, "/users/"+nila.ID, "fac-1", "")
	expectStatus(t, rec, http.StatusForbidden)
	rec = env.do(t, http.MethodDelete, "/users/"+nila.ID, "adm-1", "")
	expectStatus(t, rec, http.StatusNoContent)
	rec = env.do(t, http.MethodGet, "/users/"+nila.ID, "adm-1", "")
	expectStatus(t, rec, http.StatusNotFound)
}

func TestRateLimitExceeded(t *testing.T) {
	env := setupRouter(t, nil)
	env.limiter.allowFn = func(key string, limit int, window time.Duration) rateDecision {
		return rateDecision{allowed: false, count: limit, windowEnd: time.Now().Add(window)}
	}
	rec := env.do(t, http.MethodGet, "/boms", "stu-1", "")
	expectStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("expected remaining header 0, got %q", rec.Header().Get("X-RateLimit-Remaining"))
	}
	env.limiter.mu.Lock()
	defer env.limiter.mu.Unlock()
	if len(env.limiter.calls) != 1 || !strings.HasPrefix(env.limiter.calls[0], "user:stu-1:") {
		t.Fatalf("expected keyed call for stu-1, got %v", env.limiter.calls)
	}
}

func TestMetricsEndpointExposesRequestCounters(t *testing.T) {
	env := setupRouter(t, nil)
	env.do(t, http.MethodGet, "/healthz", "", "")
	rec := env.do(t, http.MethodGet, "/metrics", "", "")
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), `ceer_api_http_requests_total{method="GET",route="GET /healthz",status="200"} 1`) {
		t.Fatalf("expected request counter in metrics output:\n%s", rec.Body.String())
	}
}

func waitForConnections(t *testing.T, hub *ws.Hub, userID string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Connections(userID) != want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d connections for %s", want, userID)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerSentEventsDeliverPublishedNotifications(t *testing.T) {
	env := setupRouter(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?access_token="+env.token(t, "stu-1"), nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	waitForConnections(t, env.hub, "stu-1", 1)
	env.hub.Publish("stu-1", []byte(`{"kind":"bom.guide_approved"}`))

	reader := bufio.NewReader(resp.Body)
	var lines []string
	for len(lines) < 3 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read event: %v", err)
		}
		lines = append(lines, strings.TrimRight(line, "\n"))
	}
	if lines[0] != "id: 1" || lines[1] != "event: notification" || lines[2] != `data: {"kind":"bom.guide_approved"}` {
		t.Fatalf("unexpected event frame %q", lines)
	}
}

func TestWebSocketDeliversPublishedNotifications(t *testing.T) {
	env := setupRouter(t, nil)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/notifications?access_token=" + env.token(t, "fac-1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForConnections(t, env.hub, "fac-1", 1)
	env.hub.Publish("fac-1", []byte(`{"kind":"bom.created"}`))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(payload) != `{"kind":"bom.created"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestStreamRejectsMissingToken(t *testing.T) {
	env := setupRouter(t, nil)
	rec := env.do(t, http.MethodGet, "/events", "", "")
	expectStatus(t, rec, http.StatusUnauthorized)
}
