package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"

	"dolores/internal/config"
	"dolores/internal/serverapp"
)

func TestServer_ProtectedRoutesRequireAuth(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/api/tasks", "/api/categories", "/api/views/tasks", "/api/search?q=x"} {
		res := app.request(http.MethodGet, path, nil, "")
		if res.Code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for %s, got %d", path, res.Code)
		}
	}
}

func TestServer_SignupTaskToggleViewFlow(t *testing.T) {
	app := newTestApp(t)

	signupRes := app.json(http.MethodPost, "/api/auth/signup", map[string]any{
		"email":    "integration@example.com",
		"password": "long enough password",
	})
	if signupRes.Code != http.StatusCreated {
		t.Fatalf("signup expected 201, got %d body=%s", signupRes.Code, signupRes.Body.String())
	}

	sessionRes := app.request(http.MethodGet, "/api/auth/session", nil, "")
	if sessionRes.Code != http.StatusOK {
		t.Fatalf("session expected 200, got %d body=%s", sessionRes.Code, sessionRes.Body.String())
	}

	// The starter category is seeded on first use, so deleting it is
	// refused as the last one.
	catsRes := app.request(http.MethodGet, "/api/categories", nil, "")
	if catsRes.Code != http.StatusOK {
		t.Fatalf("categories expected 200, got %d body=%s", catsRes.Code, catsRes.Body.String())
	}
	var cats []map[string]any
	if err := json.Unmarshal(catsRes.Body.Bytes(), &cats); err != nil {
		t.Fatalf("decode categories: %v body=%s", err, catsRes.Body.String())
	}
	if len(cats) != 1 {
		t.Fatalf("expected seeded starter category, got %d", len(cats))
	}
	starterID, _ := cats[0]["id"].(string)
	delRes := app.request(http.MethodDelete, "/api/categories/"+starterID, nil, "")
	if delRes.Code != http.StatusConflict {
		t.Fatalf("deleting the last category expected 409, got %d body=%s", delRes.Code, delRes.Body.String())
	}

	createRes := app.json(http.MethodPost, "/api/tasks", map[string]any{
		"title":     "Exercicio",
		"date":      "2026-03-08",
		"frequency": "daily",
		"value":     2500,
	})
	if createRes.Code != http.StatusCreated {
		t.Fatalf("create task expected 201, got %d body=%s", createRes.Code, createRes.Body.String())
	}
	var created map[string]any
	if err := json.Unmarshal(createRes.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created task: %v", err)
	}
	taskID, _ := created["id"].(string)
	if taskID == "" {
		t.Fatalf("created task has no id: %s", createRes.Body.String())
	}

	toggleRes := app.json(http.MethodPost, "/api/tasks/"+taskID+"/toggle", map[string]any{
		"instanceDate": "2026-03-09",
	})
	if toggleRes.Code != http.StatusOK {
		t.Fatalf("toggle expected 200, got %d body=%s", toggleRes.Code, toggleRes.Body.String())
	}

	viewRes := app.request(http.MethodGet, "/api/views/tasks?mode=week&date=2026-03-11&completion=completed", nil, "")
	if viewRes.Code != http.StatusOK {
		t.Fatalf("view expected 200, got %d body=%s", viewRes.Code, viewRes.Body.String())
	}
	var view struct {
		Instances []struct {
			ID           string `json:"id"`
			InstanceDate string `json:"instanceDate"`
			Completed    bool   `json:"completed"`
		} `json:"instances"`
	}
	if err := json.Unmarshal(viewRes.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode view: %v body=%s", err, viewRes.Body.String())
	}
	if len(view.Instances) != 1 || view.Instances[0].InstanceDate != "2026-03-09" || !view.Instances[0].Completed {
		t.Fatalf("expected exactly the toggled occurrence, got %+v", view.Instances)
	}

	totalsRes := app.request(http.MethodGet, "/api/views/totals?mode=week&date=2026-03-11", nil, "")
	if totalsRes.Code != http.StatusOK {
		t.Fatalf("totals expected 200, got %d body=%s", totalsRes.Code, totalsRes.Body.String())
	}
	var totals struct {
		Total     int64 `json:"total"`
		Completed int64 `json:"completed"`
	}
	if err := json.Unmarshal(totalsRes.Body.Bytes(), &totals); err != nil {
		t.Fatalf("decode totals: %v", err)
	}
	if totals.Total != 7*2500 || totals.Completed != 2500 {
		t.Fatalf("unexpected totals: %+v", totals)
	}

	icsRes := app.request(http.MethodGet, "/api/tasks/"+taskID+"/calendar.ics", nil, "")
	if icsRes.Code != http.StatusOK {
		t.Fatalf("calendar export expected 200, got %d body=%s", icsRes.Code, icsRes.Body.String())
	}
	for _, want := range []string{"BEGIN:VCALENDAR", "RRULE:FREQ=DAILY", "DTSTART;VALUE=DATE:20260308"} {
		if !strings.Contains(icsRes.Body.String(), want) {
			t.Fatalf("calendar export missing %q body=%s", want, icsRes.Body.String())
		}
	}

	signoutRes := app.json(http.MethodPost, "/api/auth/signout", nil)
	if signoutRes.Code != http.StatusOK {
		t.Fatalf("signout expected 200, got %d", signoutRes.Code)
	}
	afterRes := app.request(http.MethodGet, "/api/tasks", nil, "")
	if afterRes.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after signout, got %d", afterRes.Code)
	}
}

func TestServer_UsersAreIsolated(t *testing.T) {
	app := newTestApp(t)

	app.signup(t, "ana@example.com")
	createRes := app.json(http.MethodPost, "/api/tasks", map[string]any{
		"title": "Particular", "date": "2026-03-10",
	})
	if createRes.Code != http.StatusCreated {
		t.Fatalf("create expected 201, got %d body=%s", createRes.Code, createRes.Body.String())
	}

	app.cookies = map[string]*http.Cookie{}
	app.signup(t, "bea@example.com")
	listRes := app.request(http.MethodGet, "/api/tasks", nil, "")
	if listRes.Code != http.StatusOK {
		t.Fatalf("list expected 200, got %d", listRes.Code)
	}
	var tasks []map[string]any
	if err := json.Unmarshal(listRes.Body.Bytes(), &tasks); err != nil {
		t.Fatalf("decode tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("second user must not see the first user's tasks, got %d", len(tasks))
	}
}

func TestServer_HealthAndReadinessExposeRequestID(t *testing.T) {
	app := newTestApp(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		res := app.request(http.MethodGet, path, nil, "")
		if res.Code != http.StatusOK {
			t.Fatalf("%s expected 200, got %d body=%s", path, res.Code, res.Body.String())
		}
		if rid := strings.TrimSpace(res.Header().Get("X-Request-Id")); rid == "" {
			t.Fatalf("%s missing X-Request-Id header", path)
		}
	}
}

type testApp struct {
	handler http.Handler
	cookies map[string]*http.Cookie
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.Storage.DBPath = filepath.Join(t.TempDir(), "dolores-test.db")
	cfg.Auth.BcryptCost = 4

	var logs bytes.Buffer
	app, err := serverapp.New(serverapp.Options{
		Config: cfg,
		Logger: log.New(&logs),
	})
	if err != nil {
		t.Fatalf("serverapp.New: %v", err)
	}
	t.Cleanup(func() { _ = app.Close() })

	return &testApp{
		handler: app.Handler(),
		cookies: map[string]*http.Cookie{},
	}
}

func (a *testApp) signup(t *testing.T, email string) {
	t.Helper()
	res := a.json(http.MethodPost, "/api/auth/signup", map[string]any{
		"email":    email,
		"password": "long enough password",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("signup %s expected 201, got %d body=%s", email, res.Code, res.Body.String())
	}
}

func (a *testApp) json(method, path string, body any) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	return a.request(method, path, bytes.NewReader(b), "application/json")
}

func (a *testApp) request(method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	a.captureCookies(rec.Result())
	return rec
}

func (a *testApp) captureCookies(res *http.Response) {
	for _, c := range res.Cookies() {
		if c == nil {
			continue
		}
		if c.MaxAge < 0 || strings.TrimSpace(c.Value) == "" {
			delete(a.cookies, c.Name)
			continue
		}
		cp := *c
		a.cookies[c.Name] = &cp
	}
}
