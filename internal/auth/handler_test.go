package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/admissions-portal/portal/internal/auth"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/internal/view"
	_ "github.com/admissions-portal/portal/testing"
)

type stubRepo struct {
	mu       sync.Mutex
	users    map[string]*auth.User
	sessions map[string]int64
	nextID   int64
}

func newStubRepo(users ...*auth.User) *stubRepo {
	repo := &stubRepo{users: map[string]*auth.User{}, sessions: map[string]int64{}, nextID: 100}
	for _, u := range users {
		repo.users[u.Email] = u
	}
	return repo
}

func (s *stubRepo) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[email]; ok {
		return u, nil
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			u.PasswordHash = hash
			return nil
		}
	}
	return shared.ErrNotFound
}

func (s *stubRepo) FindByID(_ context.Context, id int64) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, shared.ErrNotFound
}

func (s *stubRepo) CreateUser(_ context.Context, in auth.NewUser) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[in.Email]; ok {
		return nil, auth.ErrEmailTaken
	}
	s.nextID++
	u := &auth.User{ID: s.nextID, Name: in.Name, Email: in.Email, PasswordHash: in.PasswordHash, Role: in.Role, IsActive: true}
	s.users[in.Email] = u
	return u, nil
}

func (s *stubRepo) CreateSession(_ context.Context, id string, userID int64, _ time.Time, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = userID
	return nil
}

func (s *stubRepo) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

type landingFunc func(shared.Principal) string

func (f landingFunc) LandingPath(_ context.Context, p shared.Principal) string { return f(p) }

type harness struct {
	router   chi.Router
	sessions *shared.SessionManager
	csrf     *shared.CSRFManager
	repo     *stubRepo
}

func newHarness(t *testing.T, repo *stubRepo) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sessions := shared.NewSessionManager(client, "test_session", time.Hour, false)
	csrf := shared.NewCSRFManager("csrfsecret")
	templates, err := view.NewEngine()
	require.NoError(t, err)

	landing := landingFunc(func(p shared.Principal) string {
		if p.IsAdmin() {
			return "/admin/dashboard"
		}
		return "/student/apply"
	})
	handler := auth.NewHandler(nil, auth.NewService(repo, nil, nil), templates, sessions, csrf, landing)
	r := chi.NewRouter()
	r.Route("/auth", handler.MountRoutes)
	return &harness{router: r, sessions: sessions, csrf: csrf, repo: repo}
}

func (h *harness) serve(t *testing.T, req *http.Request, sess *shared.Session) *httptest.ResponseRecorder {
	t.Helper()
	if sess == nil {
		var err error
		sess, err = h.sessions.Load(context.Background(), req)
		require.NoError(t, err)
	}
	req = req.WithContext(shared.ContextWithSession(req.Context(), sess))
	rr := httptest.NewRecorder()
	h.router.ServeHTTP(rr, req)
	require.NoError(t, h.sessions.Commit(context.Background(), rr, sess))
	return rr
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func hashed(t *testing.T, password string) string {
	t.Helper()
	out, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(out)
}

func TestLoginPageRendersForm(t *testing.T) {
	h := newHarness(t, newStubRepo())
	rr := h.serve(t, httptest.NewRequest(http.MethodGet, "/auth/login", nil), nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<form")
	assert.Contains(t, rr.Body.String(), `name="csrf_token"`)
}

func TestLoginPageRedirectsSignedInUsers(t *testing.T) {
	h := newHarness(t, newStubRepo())
	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	req = req.WithContext(shared.ContextWithPrincipal(req.Context(), shared.Principal{UserID: 1, Role: shared.RoleAdmin}))

	rr := h.serve(t, req, nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/admin/dashboard", rr.Header().Get("Location"))
}

func TestLoginInvalidCredentials(t *testing.T) {
	repo := newStubRepo(&auth.User{ID: 1, Name: "Ana", Email: "user@test.local", PasswordHash: hashed(t, "correctpass"), Role: shared.RoleStudent, IsActive: true})
	h := newHarness(t, repo)

	rr := h.serve(t, postForm("/auth/login", url.Values{"email": {"user@test.local"}, "password": {"wrongpass"}}), nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "Invalid email or password")
	assert.Empty(t, repo.sessions)
}

func TestLoginSuccessRenewsSessionAndRedirects(t *testing.T) {
	repo := newStubRepo(&auth.User{ID: 7, Name: "Ana", Email: "user@test.local", PasswordHash: hashed(t, "correctpass"), Role: shared.RoleStudent, IsActive: true})
	h := newHarness(t, repo)

	getReq := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	first, err := h.sessions.Load(context.Background(), getReq)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, h.serve(t, getReq, first).Code)
	oldID := first.ID

	req := postForm("/auth/login", url.Values{"email": {" USER@test.local "}, "password": {"correctpass"}})
	req.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: oldID})
	sess, err := h.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, oldID, sess.ID)
	require.NotEmpty(t, sess.Get(shared.CSRFSessionKey))

	rr := h.serve(t, req, sess)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/student/apply", rr.Header().Get("Location"))
	assert.NotEqual(t, oldID, sess.ID)
	assert.Equal(t, "7", sess.User())
	assert.Equal(t, int64(7), repo.sessions[sess.ID])

	stale := httptest.NewRequest(http.MethodGet, "/", nil)
	stale.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: oldID})
	reloaded, err := h.sessions.Load(context.Background(), stale)
	require.NoError(t, err)
	assert.NotEqual(t, oldID, reloaded.ID)
	assert.Empty(t, reloaded.User())
}

func TestRegisterCreatesStudentAndSignsIn(t *testing.T) {
	repo := newStubRepo()
	h := newHarness(t, repo)

	req := postForm("/auth/register", url.Values{
		"name":             {"Bea Student"},
		"email":            {"Bea@Example.com"},
		"password":         {"longenough"},
		"confirm_password": {"longenough"},
	})
	sess, err := h.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	rr := h.serve(t, req, sess)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/student/apply", rr.Header().Get("Location"))
	user, err := repo.FindByEmail(context.Background(), "bea@example.com")
	require.NoError(t, err)
	assert.Equal(t, shared.RoleStudent, user.Role)
	assert.Equal(t, "101", sess.User())
	flash := sess.PopFlash()
	require.NotNil(t, flash)
	assert.Equal(t, shared.FlashSuccess, flash.Kind)
}

func TestRegisterValidationErrors(t *testing.T) {
	h := newHarness(t, newStubRepo())

	rr := h.serve(t, postForm("/auth/register", url.Values{
		"name":             {"B"},
		"email":            {"not-an-email"},
		"password":         {"short"},
		"confirm_password": {"different"},
	}), nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, "Enter a valid email address.")
	assert.Contains(t, body, "Passwords do not match.")
}

func TestRegisterDuplicateEmail(t *testing.T) {
	repo := newStubRepo(&auth.User{ID: 1, Name: "Ana", Email: "ana@example.com", Role: shared.RoleStudent, IsActive: true})
	h := newHarness(t, repo)

	rr := h.serve(t, postForm("/auth/register", url.Values{
		"name":             {"Ana Again"},
		"email":            {"ana@example.com"},
		"password":         {"longenough"},
		"confirm_password": {"longenough"},
	}), nil)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "already exists")
}

func TestLogoutDestroysSession(t *testing.T) {
	repo := newStubRepo()
	h := newHarness(t, repo)

	req := postForm("/auth/logout", url.Values{})
	sess, err := h.sessions.Load(context.Background(), req)
	require.NoError(t, err)
	sess.SetUser("3")
	require.NoError(t, h.sessions.Commit(context.Background(), httptest.NewRecorder(), sess))
	repo.sessions[sess.ID] = 3

	rr := h.serve(t, req, sess)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	assert.Empty(t, repo.sessions)

	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.AddCookie(&http.Cookie{Name: h.sessions.CookieName(), Value: sess.ID})
	reloaded, err := h.sessions.Load(context.Background(), again)
	require.NoError(t, err)
	assert.NotEqual(t, sess.ID, reloaded.ID)
}

func TestForgotPasswordPage(t *testing.T) {
	h := newHarness(t, newStubRepo())
	rr := h.serve(t, httptest.NewRequest(http.MethodGet, "/auth/forgot-password", nil), nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}
