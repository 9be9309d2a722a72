package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"teamledger/internal/config"
	"teamledger/internal/db"
	"teamledger/internal/domain"
	"teamledger/internal/engine"
	"teamledger/internal/migrate"
	"teamledger/internal/report"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Client *http.Client
	Admin  domain.User
	Clock  *time.Time
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	clock := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }

	admin, err := eng.CreateInitialAdmin(context.Background(), engine.UserCreateOptions{
		Name: "Ada", Email: "ada@example.com", Password: "s3cret",
	})
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}

	synth := report.New(conn, cfg.Reports, report.TemplateGenerator{})
	synth.Now = eng.Now

	handler, err := New(Config{
		Engine: eng,
		Synth:  synth,
		Auth: AuthConfig{
			JWTSecret:             "test-secret",
			AllowLegacyUserHeader: true,
			Now:                   func() time.Time { return clock },
		},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	return testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: eng,
		Client: &http.Client{Timeout: 5 * time.Second},
		Admin:  admin,
		Clock:  &clock,
	}
}

func doJSON(t *testing.T, ts testServer, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.Client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, b
}

func asAdmin(ts testServer) map[string]string {
	return map[string]string{"X-User-ID": strconv.FormatInt(ts.Admin.ID, 10)}
}

func decodeInto(t *testing.T, b []byte, out any) {
	t.Helper()
	if err := json.Unmarshal(b, out); err != nil {
		t.Fatalf("decode %s: %v", b, err)
	}
}

func errorCode(t *testing.T, b []byte) (string, map[string]any) {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	decodeInto(t, b, &envelope)
	return envelope.Error.Code, envelope.Error.Details
}

func createTask(t *testing.T, ts testServer, projectID int64) map[string]any {
	t.Helper()
	resp, b := doJSON(t, ts, http.MethodPost, "/api/tasks", map[string]any{
		"project_id": projectID,
		"title":      "Wire the handler",
	}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", resp.StatusCode, b)
	}
	var task map[string]any
	decodeInto(t, b, &task)
	return task
}

func createProject(t *testing.T, ts testServer) int64 {
	t.Helper()
	resp, b := doJSON(t, ts, http.MethodPost, "/api/projects", map[string]any{"name": "Apollo"}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", resp.StatusCode, b)
	}
	var p struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, b, &p)
	return p.ID
}

func TestRequestsWithoutIdentityAreRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := doJSON(t, ts, http.MethodGet, "/api/projects", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	// Health stays open.
	resp, _ = doJSON(t, ts, http.MethodGet, "/api/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", resp.StatusCode)
	}
}

func TestLoginIssuesUsableToken(t *testing.T) {
	ts := newTestServer(t)
	resp, b := doJSON(t, ts, http.MethodPost, "/api/login", map[string]any{
		"email": "ada@example.com", "password": "s3cret",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d body %s", resp.StatusCode, b)
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeInto(t, b, &login)
	if login.Token == "" {
		t.Fatalf("login must return a token")
	}

	resp, b = doJSON(t, ts, http.MethodGet, "/api/projects", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bearer request: status %d body %s", resp.StatusCode, b)
	}

	resp, _ = doJSON(t, ts, http.MethodPost, "/api/login", map[string]any{
		"email": "ada@example.com", "password": "nope",
	}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("bad password: expected 403, got %d", resp.StatusCode)
	}
}

func TestCompleteWithoutLogsReturns422(t *testing.T) {
	ts := newTestServer(t)
	projectID := createProject(t, ts)
	task := createTask(t, ts, projectID)

	resp, b := doJSON(t, ts, http.MethodPost,
		fmt.Sprintf("/api/tasks/%v/complete", task["id"]),
		map[string]any{"version_id": 0}, asAdmin(ts))
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d body %s", resp.StatusCode, b)
	}
	code, _ := errorCode(t, b)
	if code != "provenance_required" {
		t.Fatalf("expected provenance_required, got %q", code)
	}
}

func TestStaleCompleteReturns409WithCurrentVersion(t *testing.T) {
	ts := newTestServer(t)
	projectID := createProject(t, ts)
	task := createTask(t, ts, projectID)
	taskID := int64(task["id"].(float64))

	resp, b := doJSON(t, ts, http.MethodPost, "/api/logs", map[string]any{
		"task_id": taskID, "content": "did the thing", "hours_spent": 1.5,
	}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("log work: status %d body %s", resp.StatusCode, b)
	}

	resp, b = doJSON(t, ts, http.MethodPatch, fmt.Sprintf("/api/tasks/%d", taskID),
		map[string]any{"version": 0, "status": "IN_PROGRESS"}, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: status %d body %s", resp.StatusCode, b)
	}

	resp, b = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/tasks/%d/complete", taskID),
		map[string]any{"version_id": 0}, asAdmin(ts))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d body %s", resp.StatusCode, b)
	}
	code, details := errorCode(t, b)
	if code != "conflict" {
		t.Fatalf("expected conflict code, got %q", code)
	}
	if details["current_version"] != float64(1) {
		t.Fatalf("expected current_version 1 in details, got %v", details)
	}

	resp, b = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/tasks/%d/complete", taskID),
		map[string]any{"version_id": 1}, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("retry with fresh version: status %d body %s", resp.StatusCode, b)
	}
	var done struct {
		Status  string `json:"status"`
		Version int64  `json:"version"`
	}
	decodeInto(t, b, &done)
	if done.Status != domain.StatusDone || done.Version != 2 {
		t.Fatalf("expected DONE v2, got %s v%d", done.Status, done.Version)
	}
}

func TestMemberForbiddenFromAdminOperations(t *testing.T) {
	ts := newTestServer(t)
	resp, b := doJSON(t, ts, http.MethodPost, "/api/users", map[string]any{
		"name": "Max", "email": "max@example.com", "password": "s3cret",
	}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create member: status %d body %s", resp.StatusCode, b)
	}
	var member struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, b, &member)
	asMember := map[string]string{"X-User-ID": strconv.FormatInt(member.ID, 10)}

	resp, b = doJSON(t, ts, http.MethodPost, "/api/projects", map[string]any{"name": "Rogue"}, asMember)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", resp.StatusCode, b)
	}
	code, _ := errorCode(t, b)
	if code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", code)
	}
}

func TestSuspensionWritesHandoverAndLocksOut(t *testing.T) {
	ts := newTestServer(t)
	projectID := createProject(t, ts)

	resp, b := doJSON(t, ts, http.MethodPost, "/api/users", map[string]any{
		"name": "Max", "email": "max@example.com", "password": "s3cret",
	}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create member: status %d body %s", resp.StatusCode, b)
	}
	var member struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, b, &member)
	asMember := map[string]string{"X-User-ID": strconv.FormatInt(member.ID, 10)}

	resp, b = doJSON(t, ts, http.MethodPost, "/api/tasks", map[string]any{
		"project_id": projectID, "title": "Handover material", "assignee_id": member.ID,
	}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", resp.StatusCode, b)
	}
	var task struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, b, &task)
	resp, b = doJSON(t, ts, http.MethodPost, "/api/logs", map[string]any{
		"task_id": task.ID, "content": "half done", "hours_spent": 2,
	}, asMember)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("member log: status %d body %s", resp.StatusCode, b)
	}

	resp, b = doJSON(t, ts, http.MethodPatch, fmt.Sprintf("/api/users/%d/status", member.ID),
		map[string]any{"status": "Inactive"}, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suspend: status %d body %s", resp.StatusCode, b)
	}

	// Suspension takes effect on the member's next request.
	resp, _ = doJSON(t, ts, http.MethodGet, "/api/projects", nil, asMember)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("suspended member should get 401, got %d", resp.StatusCode)
	}

	resp, b = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/users/%d/handover", member.ID),
		nil, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("handover fetch: status %d body %s", resp.StatusCode, b)
	}
	var handover struct {
		Summary string `json:"summary"`
	}
	decodeInto(t, b, &handover)
	if handover.Summary == "" {
		t.Fatalf("expected a non-empty handover summary")
	}
}

func TestProjectSummaryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	projectID := createProject(t, ts)
	task := createTask(t, ts, projectID)
	taskID := int64(task["id"].(float64))
	if resp, b := doJSON(t, ts, http.MethodPost, "/api/logs", map[string]any{
		"task_id": taskID, "content": "shipped the codec", "hours_spent": 4,
	}, asAdmin(ts)); resp.StatusCode != http.StatusCreated {
		t.Fatalf("log: status %d body %s", resp.StatusCode, b)
	}

	resp, b := doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/projects/%d/summary", projectID),
		map[string]any{"type": "weekly"}, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("summary: status %d body %s", resp.StatusCode, b)
	}
	var out struct {
		Summary string `json:"summary"`
		Type    string `json:"type"`
	}
	decodeInto(t, b, &out)
	if out.Type != "Generated Summary" {
		t.Fatalf("expected type 'Generated Summary', got %q", out.Type)
	}
	if out.Summary == "" {
		t.Fatalf("expected non-empty summary")
	}

	resp, b = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/projects/%d/summary", projectID),
		map[string]any{"type": "hourly"}, asAdmin(ts))
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("bad type: expected 4xx validation failure, got %d body %s", resp.StatusCode, b)
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, b := doJSON(t, ts, http.MethodPost, "/api/login", map[string]any{
		"email": "ada@example.com", "password": "s3cret",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login: status %d body %s", resp.StatusCode, b)
	}
	var login struct {
		Token string `json:"token"`
	}
	decodeInto(t, b, &login)

	*ts.Clock = ts.Clock.Add(13 * time.Hour)
	resp, _ = doJSON(t, ts, http.MethodGet, "/api/projects", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expired token: expected 401, got %d", resp.StatusCode)
	}
}

func TestListFiltersByQuery(t *testing.T) {
	ts := newTestServer(t)
	apollo := createProject(t, ts)
	resp, b := doJSON(t, ts, http.MethodPost, "/api/projects", map[string]any{"name": "Borealis"}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", resp.StatusCode, b)
	}
	var borealis struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, b, &borealis)

	apolloTask := createTask(t, ts, apollo)
	createTask(t, ts, borealis.ID)
	taskID := int64(apolloTask["id"].(float64))

	resp, b = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/tasks?project_id=%d", apollo), nil, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filtered list: status %d body %s", resp.StatusCode, b)
	}
	var tasks []struct {
		ProjectID int64 `json:"project_id"`
	}
	decodeInto(t, b, &tasks)
	if len(tasks) != 1 || tasks[0].ProjectID != apollo {
		t.Fatalf("expected one task for project %d, got %s", apollo, b)
	}

	resp, b = doJSON(t, ts, http.MethodGet, "/api/tasks?status=TODO", nil, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status filter: status %d body %s", resp.StatusCode, b)
	}
	decodeInto(t, b, &tasks)
	if len(tasks) != 2 {
		t.Fatalf("expected both TODO tasks, got %s", b)
	}

	if resp, b := doJSON(t, ts, http.MethodPost, "/api/logs", map[string]any{
		"task_id": taskID, "content": "progress", "hours_spent": 1,
	}, asAdmin(ts)); resp.StatusCode != http.StatusCreated {
		t.Fatalf("log: status %d body %s", resp.StatusCode, b)
	}
	resp, b = doJSON(t, ts, http.MethodGet, fmt.Sprintf("/api/logs?task_id=%d", taskID), nil, asAdmin(ts))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("log filter: status %d body %s", resp.StatusCode, b)
	}
	var logs []struct {
		TaskID int64 `json:"task_id"`
	}
	decodeInto(t, b, &logs)
	if len(logs) != 1 || logs[0].TaskID != taskID {
		t.Fatalf("expected one log for task %d, got %s", taskID, b)
	}
}

func TestMemberCannotSynthesizeHandover(t *testing.T) {
	ts := newTestServer(t)
	resp, b := doJSON(t, ts, http.MethodPost, "/api/users", map[string]any{
		"name": "Max", "email": "max@example.com", "password": "s3cret",
	}, asAdmin(ts))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create member: status %d body %s", resp.StatusCode, b)
	}
	var member struct {
		ID int64 `json:"id"`
	}
	decodeInto(t, b, &member)
	asMember := map[string]string{"X-User-ID": strconv.FormatInt(member.ID, 10)}

	resp, b = doJSON(t, ts, http.MethodPost, fmt.Sprintf("/api/users/%d/handover", ts.Admin.ID),
		nil, asMember)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d body %s", resp.StatusCode, b)
	}
	code, _ := errorCode(t, b)
	if code != "forbidden" {
		t.Fatalf("expected forbidden code, got %q", code)
	}
}

func TestUnknownTaskReturns404(t *testing.T) {
	ts := newTestServer(t)
	resp, b := doJSON(t, ts, http.MethodGet, "/api/tasks/9999", nil, asAdmin(ts))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d body %s", resp.StatusCode, b)
	}
	code, _ := errorCode(t, b)
	if code != "not_found" {
		t.Fatalf("expected not_found code, got %q", code)
	}
}
