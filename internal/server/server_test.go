package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"agenthub/internal/credentials"
	"agenthub/internal/db"
	"agenthub/internal/domain"
	"agenthub/internal/engine"
	"agenthub/internal/migrate"
	"agenthub/internal/repo"
	"agenthub/internal/ws"
)

type testEnv struct {
	srv    *httptest.Server
	engine *engine.Engine
	creds  *credentials.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{URL: t.TempDir() + "/test.db"})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	signer := credentials.NewSigner("test-secret", time.Hour)
	creds := credentials.NewService(r, signer)
	eng := engine.New(r)
	hub := ws.NewHub(ws.Snapshots{
		Agents: func(ctx context.Context) ([]domain.Agent, error) {
			return r.ListAgents(ctx, repo.AgentFilters{})
		},
		Projects: func(ctx context.Context) ([]domain.Project, error) {
			return r.ListProjects(ctx, repo.ProjectFilters{})
		},
	})
	handler, err := New(Config{
		Engine:      eng,
		Credentials: creds,
		Signer:      signer,
		Hub:         hub,
		CORSOrigins: []string{"http://dash.local"},
		Version:     "test",
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		srv.Close()
		hub.Close()
		conn.Close()
	})
	return &testEnv{srv: srv, engine: eng, creds: creds}
}

func doJSON(t *testing.T, method, url string, body any, token string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func registerUser(t *testing.T, env *testEnv, username, email, password, role string) (domain.User, string) {
	t.Helper()
	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]any{
		"username": username, "email": email, "password": password, "role": role,
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("register status %d: %s", res.StatusCode, string(data))
	}
	var out AuthResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Success || out.Token == "" {
		t.Fatalf("register response: %s", string(data))
	}
	return out.User, out.Token
}

func TestRegisterThenMe(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerUser(t, env, "alice", "a@x", "secret12", "user")

	res, data := doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/me", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var out UserResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.User.Username != "alice" || out.User.Tier != "Free" {
		t.Fatalf("me response: %+v", out.User)
	}

	res, data = doJSON(t, http.MethodGet, env.srv.URL+"/api/auth/me", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated me = %d: %s", res.StatusCode, string(data))
	}
}

func TestLoginWrongThenRight(t *testing.T) {
	env := newTestEnv(t)
	registerUser(t, env, "alice", "a@x", "secret12", "user")

	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]any{
		"email": "a@x", "password": "wrong",
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status %d: %s", res.StatusCode, string(data))
	}
	var failure struct {
		Success bool   `json:"success"`
		Error   string `json:"error"`
		Code    int    `json:"code"`
	}
	if err := json.Unmarshal(data, &failure); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if failure.Success || failure.Error != "Invalid credentials" {
		t.Fatalf("failure envelope: %s", string(data))
	}
	// The body's code repeats the numeric HTTP status.
	if failure.Code != http.StatusUnauthorized {
		t.Fatalf("failure code = %d, want %d", failure.Code, http.StatusUnauthorized)
	}

	res, data = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]any{
		"email": "a@x", "password": "secret12",
	}, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var out AuthResponse
	_ = json.Unmarshal(data, &out)
	if out.User.LoginCount != 1 {
		t.Fatalf("login_count = %d, want 1", out.User.LoginCount)
	}
}

func TestRegisterValidationAndConflict(t *testing.T) {
	env := newTestEnv(t)

	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]any{
		"username": "alice", "email": "a@x", "password": "",
	}, "")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("empty password status %d: %s", res.StatusCode, string(data))
	}

	registerUser(t, env, "alice", "a@x", "secret12", "user")
	res, data = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/register", map[string]any{
		"username": "alice", "email": "b@x", "password": "secret12",
	}, "")
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate username status %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskForUnknownAgent(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerUser(t, env, "alice", "a@x", "secret12", "user")

	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/api/agents/ghost/tasks", map[string]any{
		"task_type": "build",
	}, token)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown agent status %d: %s", res.StatusCode, string(data))
	}
}

func TestTaskCreateAndBroadcast(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerUser(t, env, "alice", "a@x", "secret12", "user")

	agent, err := env.engine.CreateAgent(context.Background(), engine.CreateAgentInput{Name: "ag1", AgentType: "build"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if _, err := env.engine.SetAgentStatus(context.Background(), agent.ID, domain.AgentActive); err != nil {
		t.Fatalf("activate agent: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/ws"
	sock, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial ws: %v", err)
	}
	defer sock.Close()

	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/api/agents/"+agent.ID+"/tasks", map[string]any{
		"task_type": "build", "description": "x", "priority": "high",
	}, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var out TaskResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.TaskID == "" || out.Task.Status != domain.TaskPending {
		t.Fatalf("task response: %s", string(data))
	}

	sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := sock.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if frame["type"] != "agent_task_created" || frame["agent_id"] != agent.ID || frame["task_type"] != "build" {
		t.Fatalf("broadcast frame: %v", frame)
	}
}

func TestAdminRoutesRequireRole(t *testing.T) {
	env := newTestEnv(t)
	user, userToken := registerUser(t, env, "alice", "a@x", "secret12", "user")
	_, adminToken := registerUser(t, env, "boss", "b@x", "secret12", "admin")

	res, data := doJSON(t, http.MethodGet, env.srv.URL+"/api/admin/users", nil, userToken)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, http.MethodGet, env.srv.URL+"/api/admin/users", nil, adminToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("admin status %d: %s", res.StatusCode, string(data))
	}
	var out UsersResponse
	_ = json.Unmarshal(data, &out)
	if len(out.Users) != 2 {
		t.Fatalf("user count = %d", len(out.Users))
	}

	res, data = doJSON(t, http.MethodPost, env.srv.URL+"/api/admin/users/"+user.ID+"/deactivate", nil, adminToken)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deactivate status %d: %s", res.StatusCode, string(data))
	}
	var deactivated UserResponse
	_ = json.Unmarshal(data, &deactivated)
	if deactivated.User.IsActive {
		t.Fatalf("user still active: %s", string(data))
	}

	// Deactivated users can no longer log in.
	res, data = doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/login", map[string]any{
		"email": "a@x", "password": "secret12",
	}, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deactivated login status %d: %s", res.StatusCode, string(data))
	}
}

func TestProjectRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	_, token := registerUser(t, env, "alice", "a@x", "secret12", "user")
	agent, err := env.engine.CreateAgent(context.Background(), engine.CreateAgentInput{Name: "ag1", AgentType: "build"})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}

	res, data := doJSON(t, http.MethodPost, env.srv.URL+"/api/projects", map[string]any{
		"name": "demo", "description": "d", "assigned_agents": []string{agent.ID},
	}, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("create project status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, http.MethodGet, env.srv.URL+"/api/projects", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list projects status %d: %s", res.StatusCode, string(data))
	}
	var out ProjectsResponse
	_ = json.Unmarshal(data, &out)
	if len(out.Projects) != 1 || len(out.Projects[0].AssignedAgents) != 1 || out.Projects[0].AssignedAgents[0] != agent.ID {
		t.Fatalf("projects response: %s", string(data))
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.engine.RecordMetric(context.Background(), engine.RecordMetricInput{
		MetricName: "cpu", MetricValue: 42, Category: "system",
	}); err != nil {
		t.Fatalf("record metric: %v", err)
	}

	res, data := doJSON(t, http.MethodGet, env.srv.URL+"/api/analytics", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("analytics status %d: %s", res.StatusCode, string(data))
	}
	var list AnalyticsResponse
	_ = json.Unmarshal(data, &list)
	if len(list.Metrics) != 1 || list.Metrics[0].MetricValue != 42 {
		t.Fatalf("analytics response: %s", string(data))
	}

	res, data = doJSON(t, http.MethodGet, env.srv.URL+"/api/analytics/cpu", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("metric status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, http.MethodGet, env.srv.URL+"/api/analytics/ghost", nil, "")
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing metric status %d: %s", res.StatusCode, string(data))
	}
}

func TestHealthAndBanner(t *testing.T) {
	env := newTestEnv(t)

	res, data := doJSON(t, http.MethodGet, env.srv.URL+"/health", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d", res.StatusCode)
	}
	var health HealthResponse
	_ = json.Unmarshal(data, &health)
	if health.Status != "healthy" || health.Timestamp == "" {
		t.Fatalf("health response: %s", string(data))
	}

	res, data = doJSON(t, http.MethodGet, env.srv.URL+"/", nil, "")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("banner status %d", res.StatusCode)
	}
	var banner BannerResponse
	_ = json.Unmarshal(data, &banner)
	if !banner.Success || banner.Service != "AgentHub" {
		t.Fatalf("banner response: %s", string(data))
	}
}

func TestDashboardRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	res, _ := doJSON(t, http.MethodGet, env.srv.URL+"/api/dashboard", nil, "")
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated dashboard = %d", res.StatusCode)
	}

	_, token := registerUser(t, env, "alice", "a@x", "secret12", "user")
	res, data := doJSON(t, http.MethodGet, env.srv.URL+"/api/dashboard", nil, token)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status %d: %s", res.StatusCode, string(data))
	}
	var out DashboardResponse
	_ = json.Unmarshal(data, &out)
	if !out.Success || out.Dashboard.Uptime == "" {
		t.Fatalf("dashboard response: %s", string(data))
	}
}

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/agents", nil)
	req.Header.Set("Origin", "http://dash.local")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "http://dash.local" {
		t.Fatalf("allow-origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, env.srv.URL+"/api/agents", nil)
	req.Header.Set("Origin", "http://evil.local")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q for unlisted origin", got)
	}

	req, _ = http.NewRequest(http.MethodOptions, env.srv.URL+"/api/agents", nil)
	req.Header.Set("Origin", "http://dash.local")
	req.Header.Set("Access-Control-Request-Method", "POST")
	res, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status %d", res.StatusCode)
	}
}
