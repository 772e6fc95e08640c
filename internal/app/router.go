package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/admissions-portal/portal/internal/admissions"
	"github.com/admissions-portal/portal/internal/auth"
	"github.com/admissions-portal/portal/internal/dues"
	"github.com/admissions-portal/portal/internal/observability"
	"github.com/admissions-portal/portal/internal/rbac"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/internal/view"
	"github.com/admissions-portal/portal/jobs"
	"github.com/admissions-portal/portal/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	Templates         *view.Engine
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	AdmissionsHandler *admissions.Handler
	DuesHandler       *dues.Handler
	RBACMiddleware    rbac.Middleware
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with portal defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(params.RBACMiddleware.Load)
	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	pages := pageRenderer{logger: params.Logger, templates: params.Templates, csrf: params.CSRFManager}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		pages.error(w, r, http.StatusNotFound, "Page not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		pages.error(w, r, http.StatusMethodNotAllowed, "That action is not supported here.")
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		pages.render(w, r, "pages/home.html", "Student portal", nil, http.StatusOK)
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)

	r.Route("/student", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireRole(shared.RoleStudent))
		r.Route("/apply", params.AdmissionsHandler.MountStudentRoutes)
		r.Route("/payment", params.DuesHandler.MountRoutes)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireRole(shared.RoleAdmin))
		params.AdmissionsHandler.MountAdminRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

type pageRenderer struct {
	logger    *slog.Logger
	templates *view.Engine
	csrf      *shared.CSRFManager
}

func (p pageRenderer) render(w http.ResponseWriter, r *http.Request, name, title string, data any, status int) {
	viewData := p.templates.PageData(r, p.csrf, title, data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := p.templates.Render(w, name, viewData); err != nil {
		p.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
	}
}

func (p pageRenderer) error(w http.ResponseWriter, r *http.Request, status int, message string) {
	p.render(w, r, "pages/error.html", http.StatusText(status), view.ErrorPage{Status: status, Message: message}, status)
}

// staticCacheHandler wraps a file server with a one hour Cache-Control header.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
