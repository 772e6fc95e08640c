package app

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/admissions-portal/portal/internal/observability"
	"github.com/admissions-portal/portal/internal/rbac"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/internal/view"
	_ "github.com/admissions-portal/portal/testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("DUES_ANCHOR", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 720*time.Hour, cfg.SessionTTL)
	assert.True(t, cfg.DBAutoMigrate)
	assert.False(t, cfg.IsProduction())

	schedule := cfg.Schedule()
	assert.Equal(t, 12, schedule.Months)
	assert.Equal(t, int64(1000), schedule.Amount)
	assert.True(t, schedule.Anchor.IsZero())
}

func TestLoadConfigAnchor(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("DUES_ANCHOR", "2024-09")
	t.Setenv("DUES_MONTHS", "10")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	anchor, err := cfg.ScheduleAnchor()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.September, 1, 0, 0, 0, 0, time.UTC), anchor)
	assert.Equal(t, 10, cfg.Schedule().Months)

	t.Setenv("DUES_ANCHOR", "September")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadSchedule(t *testing.T) {
	t.Setenv("SESSION_SECRET", "s")
	t.Setenv("CSRF_SECRET", "c")
	t.Setenv("DUES_MONTHS", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestTestModeFlag(t *testing.T) {
	RefreshTestMode()
	assert.True(t, InTestMode())
}

func newTestRouter(t *testing.T) (http.Handler, *shared.SessionManager) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	templates, err := view.NewEngine()
	require.NoError(t, err)
	sessions := shared.NewSessionManager(client, "portal_session", time.Hour, false)
	logger := NewLogger(&Config{LogFormat: "json"})
	router := NewRouter(RouterParams{
		Logger:         logger,
		Config:         &Config{AppEnv: "production", AppRequestTimeout: 5 * time.Second},
		Templates:      templates,
		SessionManager: sessions,
		CSRFManager:    shared.NewCSRFManager("csrf"),
		RBACMiddleware: rbac.Middleware{Logger: logger},
		Metrics:        observability.NewMetrics(),
	})
	return router, sessions
}

func TestRouterHealthAndHome(t *testing.T) {
	router, sessions := newTestRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://portal.local/healthz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://portal.local/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Create an account")
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	var sessionCookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == sessions.CookieName() {
			sessionCookie = c
		}
	}
	require.NotNil(t, sessionCookie)
	assert.True(t, sessionCookie.HttpOnly)
}

func TestRouterNotFoundPage(t *testing.T) {
	router, _ := newTestRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://portal.local/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Contains(t, rr.Body.String(), "Page not found")
}

func TestRouterGuardsStudentArea(t *testing.T) {
	router, _ := newTestRouter(t)
	for _, path := range []string{"/student/apply", "/student/payment", "/admin/dashboard"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://portal.local"+path, nil))
		assert.Equal(t, http.StatusSeeOther, rr.Code, path)
		assert.Equal(t, rbac.DefaultLoginPath, rr.Header().Get("Location"), path)
	}
}

func TestRouterRejectsMissingCSRF(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "https://portal.local/auth/logout", strings.NewReader("a=b"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestRouterExposesMetrics(t *testing.T) {
	router, _ := newTestRouter(t)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "https://portal.local/healthz", nil))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "https://portal.local/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `portal_http_requests_total{code="200",route="/healthz"}`)
}

func TestLoggerHonoursFormatAndLevel(t *testing.T) {
	var buf strings.Builder
	logger := newLogger(&Config{LogFormat: "json", LogLevel: "warn", AppEnv: "test"}, &buf)
	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"env":"test"`)
}
