package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"formtrack/internal/config"
	"formtrack/internal/db"
	"formtrack/internal/domain"
	"formtrack/internal/engine"
	"formtrack/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

var actorHeader = map[string]string{"X-Actor-Id": "tester"}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("prog-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC) }
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: AuthConfig{AllowLegacyActorHeader: true}})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
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
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
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

func TestTrainingStatusAutomation(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/trainings", map[string]any{
		"title": "Oficina de Matemática",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create training status %d: %s", res.StatusCode, string(data))
	}
	var created domain.Training
	if err := json.Unmarshal(data, &created); err != nil {
		t.Fatalf("unmarshal training: %v", err)
	}
	if created.Status != domain.StatusPreparation {
		t.Fatalf("initial status = %s", created.Status)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/trainings/"+created.ID+"/status", map[string]any{
		"status": "post_training",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set status %d: %s", res.StatusCode, string(data))
	}
	var change SetTrainingStatusResponse
	if err := json.Unmarshal(data, &change); err != nil {
		t.Fatalf("unmarshal change: %v", err)
	}
	if change.Training.Status != domain.StatusPostTraining {
		t.Fatalf("status = %s", change.Training.Status)
	}
	if change.Task == nil || change.Task.Origin != domain.OriginAutomatic {
		t.Fatalf("expected automated task, got %+v", change.Task)
	}

	// repeated move spawns nothing
	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/trainings/"+created.ID+"/status", map[string]any{
		"status": "post_training",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("repeat status %d: %s", res.StatusCode, string(data))
	}
	change = SetTrainingStatusResponse{}
	_ = json.Unmarshal(data, &change)
	if change.Task != nil {
		t.Fatalf("duplicate automated task: %+v", change.Task)
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/trainings/missing/status", map[string]any{
		"status": "completed",
	}, actorHeader)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing training status %d: %s", res.StatusCode, string(data))
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/trainings", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want 401", res.StatusCode)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status = %d, want 200", res.StatusCode)
	}
}

func TestMilestoneAndDashboard(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/projects", map[string]any{
		"municipality": "Aurora",
		"region":       "Norte",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create project %d: %s", res.StatusCode, string(data))
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("unmarshal project: %v", err)
	}
	if len(p.Milestones) != 9 {
		t.Fatalf("milestones = %d, want 9", len(p.Milestones))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/projects/"+p.ID+"/milestones/simulado-1", map[string]any{
		"start_date": "2026-04-18T09:00:00Z",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update milestone %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/tasks", map[string]any{
		"description": "Confirmar local",
		"priority":    "urgent",
		"project_id":  p.ID,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard/projects", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dashboard projects %d: %s", res.StatusCode, string(data))
	}
	var views []ProjectViewResponse
	if err := json.Unmarshal(data, &views); err != nil {
		t.Fatalf("unmarshal views: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("views = %d, want 1", len(views))
	}
	v := views[0]
	if v.UrgentCount != 1 || v.TaskCount != 1 {
		t.Fatalf("view counts = %+v", v)
	}
	if v.NextName != "simulado-1" {
		t.Fatalf("next = %q, want simulado-1", v.NextName)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/dashboard/week-ahead", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("week ahead %d: %s", res.StatusCode, string(data))
	}
	var entries []ScheduleEntryResponse
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("unmarshal entries: %v", err)
	}
	if len(entries) != 1 || entries[0].Label != "Aurora: simulado-1" {
		t.Fatalf("entries = %+v", entries)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/reports/export", nil, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("export %d: %s", res.StatusCode, string(data))
	}
}

func TestExpenseReviewConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/trainers", map[string]any{
		"name": "Joana",
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create trainer %d: %s", res.StatusCode, string(data))
	}
	var trainer domain.Trainer
	_ = json.Unmarshal(data, &trainer)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/expenses", map[string]any{
		"trainer_id":   trainer.ID,
		"amount_cents": 2500,
	}, actorHeader)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit expense %d: %s", res.StatusCode, string(data))
	}
	var exp domain.Expense
	_ = json.Unmarshal(data, &exp)

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/expenses/"+exp.ID+"/status", map[string]any{
		"status": "reimbursed",
	}, actorHeader)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("invalid transition status = %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPatch, srv.URL+"/v0/expenses/"+exp.ID+"/status", map[string]any{
		"status": "approved",
	}, actorHeader)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve %d: %s", res.StatusCode, string(data))
	}
}
