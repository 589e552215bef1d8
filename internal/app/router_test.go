package app_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/connect-commerce/connect-admin/internal/app"
	"github.com/connect-commerce/connect-admin/internal/auth"
	"github.com/connect-commerce/connect-admin/internal/dashboard"
	"github.com/connect-commerce/connect-admin/internal/edge"
	"github.com/connect-commerce/connect-admin/internal/guard"
	"github.com/connect-commerce/connect-admin/internal/observability"
	"github.com/connect-commerce/connect-admin/internal/session"
	"github.com/connect-commerce/connect-admin/internal/shared"
	"github.com/connect-commerce/connect-admin/internal/view"
	"github.com/connect-commerce/connect-admin/jobs"
	_ "github.com/connect-commerce/connect-admin/testing"
)

type memoryRepo struct {
	admin *auth.Admin
}

func (m *memoryRepo) FindByEmail(_ context.Context, email string) (*auth.Admin, error) {
	if m.admin == nil || !strings.EqualFold(m.admin.Email, email) {
		return nil, shared.ErrNotFound
	}
	a := *m.admin
	return &a, nil
}

func (m *memoryRepo) FindByID(_ context.Context, id int64) (*auth.Admin, error) {
	if m.admin == nil || m.admin.ID != id {
		return nil, shared.ErrNotFound
	}
	a := *m.admin
	return &a, nil
}

func (m *memoryRepo) Create(context.Context, auth.NewAdmin) (*auth.Admin, error) {
	return nil, shared.ErrDuplicate
}

func (m *memoryRepo) UpdateProfile(_ context.Context, id int64, update auth.ProfileUpdate) (*auth.Admin, error) {
	m.admin.Username = update.Username
	m.admin.DisplayName = update.DisplayName
	a := *m.admin
	return &a, nil
}

type testApp struct {
	handler http.Handler
	repo    *memoryRepo
	mr      *miniredis.Miniredis
	metrics *observability.Metrics
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &memoryRepo{admin: &auth.Admin{ID: 1, Email: "ana@connect.test", Username: "ana", DisplayName: "Ana", PasswordHash: string(hash), Status: true, AdminStatus: true}}

	cfg := &app.Config{AppEnv: "test", RateLimit: 1000, LoginRateLimit: 1000, AppRequestTimeout: 5 * time.Second}
	metrics := observability.NewMetrics()
	gateCfg := edge.DefaultConfig()
	gate, err := edge.NewGate(gateCfg, metrics)
	require.NoError(t, err)

	tokens, err := auth.NewTokenIssuer("token-secret", time.Hour)
	require.NoError(t, err)
	revocations := auth.NewRevocationStore(client)
	verifier := auth.NewTokenVerifier(tokens, repo, revocations, 0)
	service := auth.NewService(repo, tokens, revocations, verifier)
	templates, err := view.NewEngine()
	require.NoError(t, err)
	csrf := shared.NewCSRFManager("csrf-secret")
	manager := session.NewManager(session.NewRedisPersister(client, session.DefaultPartition, time.Hour), "", time.Hour, false, nil)

	handler := app.NewRouter(app.RouterParams{
		Logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		Config:           cfg,
		Gate:             gate,
		Guard:            guard.New(verifier, guard.Config{LoginPath: gateCfg.LoginPath, RevalidateAfter: time.Minute}, nil, metrics),
		SessionManager:   manager,
		CSRFManager:      csrf,
		AuthHandler:      auth.NewHandler(nil, service, verifier, templates, csrf, nil, auth.HandlerConfig{}),
		DashboardHandler: dashboard.NewHandler(nil, templates, csrf),
		JobHandler:       jobs.NewHandler(nil, nil),
		Metrics:          metrics,
	})
	return &testApp{handler: handler, repo: repo, mr: mr, metrics: metrics}
}

type agent struct {
	t       *testing.T
	h       http.Handler
	cookies map[string]string
}

func (a *testApp) agent(t *testing.T) *agent {
	return &agent{t: t, h: a.handler, cookies: make(map[string]string)}
}

func (ag *agent) do(method, target string, form url.Values) *httptest.ResponseRecorder {
	ag.t.Helper()
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = "203.0.113.7:5000"
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	for name, value := range ag.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	rr := httptest.NewRecorder()
	ag.h.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(ag.cookies, c.Name)
			continue
		}
		ag.cookies[c.Name] = c.Value
	}
	return rr
}

var csrfInput = regexp.MustCompile(`name="csrf_token" value="([^"]+)"`)

func (ag *agent) signIn() {
	ag.t.Helper()
	page := ag.do(http.MethodGet, "/login", nil)
	require.Equal(ag.t, http.StatusOK, page.Code)
	m := csrfInput.FindStringSubmatch(page.Body.String())
	require.Len(ag.t, m, 2)
	rr := ag.do(http.MethodPost, "/login", url.Values{
		"email":      {"ana@connect.test"},
		"password":   {"correct-horse"},
		"csrf_token": {m[1]},
	})
	require.Equal(ag.t, http.StatusSeeOther, rr.Code)
}

func TestEdgeScenarios(t *testing.T) {
	a := newTestApp(t)
	cases := []struct {
		name     string
		path     string
		signal   bool
		code     int
		location string
	}{
		{name: "protected without signal", path: "/dashboard", code: http.StatusSeeOther, location: "/login?redirect=%2Fdashboard"},
		{name: "nested protected without signal", path: "/orders/42", code: http.StatusSeeOther, location: "/login?redirect=%2Forders%2F42"},
		{name: "login with signal", path: "/login", signal: true, code: http.StatusSeeOther, location: "/dashboard"},
		{name: "register with signal", path: "/register", signal: true, code: http.StatusOK},
		{name: "login without signal", path: "/login", code: http.StatusOK},
		{name: "api is excluded", path: "/api/orders", code: http.StatusNotFound},
		{name: "static is excluded", path: "/static/css/app.css", code: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ag := a.agent(t)
			if tc.signal {
				ag.cookies[session.EdgeSignalCookie] = "true"
			}
			rr := ag.do(http.MethodGet, tc.path, nil)
			assert.Equal(t, tc.code, rr.Code)
			if tc.location != "" {
				assert.Equal(t, tc.location, rr.Header().Get("Location"))
			}
		})
	}
}

func TestAPINotFoundIsProblemJSON(t *testing.T) {
	a := newTestApp(t)
	rr := a.agent(t).do(http.MethodGet, "/api/orders", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, "Not Found", problem["title"])
}

func TestStaleSignalIsClearedByGuard(t *testing.T) {
	a := newTestApp(t)
	ag := a.agent(t)
	ag.cookies[session.EdgeSignalCookie] = "true"

	rr := ag.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?redirect=%2Fdashboard", rr.Header().Get("Location"))
	assert.NotContains(t, ag.cookies, session.EdgeSignalCookie, "guard expires the stale signal")

	rr = ag.do(http.MethodGet, "/login", nil)
	assert.Equal(t, http.StatusOK, rr.Code, "no redirect loop between login and dashboard")
}

func TestSignInReachesDashboard(t *testing.T) {
	a := newTestApp(t)
	ag := a.agent(t)
	ag.signIn()
	assert.Equal(t, "true", ag.cookies[session.EdgeSignalCookie])

	rr := ag.do(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))

	rr = ag.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Welcome, Ana")
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = ag.do(http.MethodGet, "/login", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/dashboard", rr.Header().Get("Location"))
}

func TestDisabledAdminIsSignedOutOnRevalidation(t *testing.T) {
	a := newTestApp(t)
	ag := a.agent(t)
	ag.signIn()

	sid := ag.cookies[session.DefaultBrowserCookie]
	key := session.DefaultPartition + ":" + sid
	raw, err := a.mr.Get(key)
	require.NoError(t, err)
	var rec session.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	rec.VerifiedAt = time.Now().Add(-time.Hour)
	stale, err := json.Marshal(rec)
	require.NoError(t, err)
	require.NoError(t, a.mr.Set(key, string(stale)))
	a.repo.admin.AdminStatus = false

	rr := ag.do(http.MethodGet, "/orders", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?redirect=%2Forders", rr.Header().Get("Location"))
	assert.NotContains(t, ag.cookies, session.EdgeSignalCookie)
	assert.False(t, a.mr.Exists(key), "the durable partition entry is removed")
}

func TestOperationalEndpoints(t *testing.T) {
	a := newTestApp(t)
	ag := a.agent(t)

	rr := ag.do(http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = ag.do(http.MethodGet, "/api/jobs/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	ag.do(http.MethodGet, "/dashboard", nil)
	rr = ag.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `connect_admin_gate_decisions_total{action="redirect",class="protected"}`)
}

func TestPlantedBrowserIDDoesNotShareSignIn(t *testing.T) {
	a := newTestApp(t)

	attacker := a.agent(t)
	rr := attacker.do(http.MethodGet, "/login", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	planted := attacker.cookies[session.DefaultBrowserCookie]
	require.NotEmpty(t, planted)

	victim := a.agent(t)
	victim.cookies[session.DefaultBrowserCookie] = planted
	victim.signIn()
	assert.NotEqual(t, planted, victim.cookies[session.DefaultBrowserCookie], "sign in issues a new browser id")

	attacker.cookies[session.EdgeSignalCookie] = "true"
	rr = attacker.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login?redirect=%2Fdashboard", rr.Header().Get("Location"))
	assert.NotContains(t, rr.Body.String(), "Welcome, Ana")

	rr = victim.do(http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Welcome, Ana")
}

func TestUnknownBrowserIDIsNotAdopted(t *testing.T) {
	a := newTestApp(t)
	ag := a.agent(t)
	ag.cookies[session.DefaultBrowserCookie] = "attacker-chosen-sid"

	rr := ag.do(http.MethodGet, "/login", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.NotEqual(t, "attacker-chosen-sid", ag.cookies[session.DefaultBrowserCookie])
	assert.False(t, a.mr.Exists(session.DefaultPartition+":attacker-chosen-sid"))
}
