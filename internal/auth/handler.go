package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/internal/view"
)

// LandingResolver decides where a principal goes after signing in.
type LandingResolver interface {
	LandingPath(ctx context.Context, p shared.Principal) string
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	templates      *view.Engine
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	landing        LandingResolver
	validator      *validator.Validate
}

// NewHandler constructs a Handler instance. landing may be nil, in which case users land on "/".
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, sessions *shared.SessionManager, csrf *shared.CSRFManager, landing LandingResolver) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		service:        service,
		templates:      templates,
		sessionManager: sessions,
		csrfManager:    csrf,
		landing:        landing,
		validator:      validator.New(),
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.showLogin)
	r.Post("/login", h.handleLogin)
	r.Get("/register", h.showRegister)
	r.Post("/register", h.handleRegister)
	r.Post("/logout", h.handleLogout)
	r.Get("/forgot-password", h.showForgotPassword)
}

type loginForm struct {
	Email    string `validate:"required,email"`
	Password string `validate:"required"`
}

type loginPageData struct {
	Form   loginForm
	Errors map[string]string
}

type registerForm struct {
	Name            string `validate:"required,min=2,max=100"`
	Email           string `validate:"required,email"`
	Password        string `validate:"required,min=8,max=72"`
	ConfirmPassword string `validate:"required,eqfield=Password"`
}

type registerPageData struct {
	Form   registerForm
	Errors map[string]string
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, h.landingFor(r.Context(), p), http.StatusSeeOther)
		return
	}
	h.render(w, r, "pages/login.html", "Sign in", loginPageData{Errors: map[string]string{}}, http.StatusOK)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := loginForm{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		user, err := h.service.Authenticate(r.Context(), form.Email, form.Password)
		switch {
		case err == nil:
			h.signIn(w, r, user, "Welcome back, "+user.Name+".")
			return
		case errors.Is(err, shared.ErrStorage):
			h.logger.Error("authenticate", slog.Any("error", err))
			errs["general"] = "Sign in is temporarily unavailable. Please try again."
		default:
			errs["general"] = "Invalid email or password"
		}
	}
	form.Password = ""
	h.render(w, r, "pages/login.html", "Sign in", loginPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) showRegister(w http.ResponseWriter, r *http.Request) {
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		http.Redirect(w, r, h.landingFor(r.Context(), p), http.StatusSeeOther)
		return
	}
	h.render(w, r, "pages/register.html", "Register", registerPageData{Errors: map[string]string{}}, http.StatusOK)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := registerForm{
		Name:            strings.TrimSpace(r.PostFormValue("name")),
		Email:           strings.TrimSpace(r.PostFormValue("email")),
		Password:        r.PostFormValue("password"),
		ConfirmPassword: r.PostFormValue("confirm_password"),
	}
	errs := h.validate(form)
	if len(errs) == 0 {
		user, err := h.service.Register(r.Context(), form.Name, form.Email, form.Password)
		switch {
		case err == nil:
			h.signIn(w, r, user, "Your account is ready. Submit your application below.")
			return
		case errors.Is(err, ErrEmailTaken):
			errs["Email"] = "An account with this email already exists."
		default:
			h.logger.Error("register user", slog.Any("error", err))
			errs["general"] = "Registration is temporarily unavailable. Please try again."
		}
	}
	form.Password, form.ConfirmPassword = "", ""
	h.render(w, r, "pages/register.html", "Register", registerPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess != nil {
		if err := h.service.RemoveSession(r.Context(), sess.ID); err != nil {
			h.logger.Warn("remove session", slog.Any("error", err))
		}
		h.sessionManager.Destroy(sess)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) showForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "pages/forgot_password.html", "Forgot password", nil, http.StatusOK)
}

func (h *Handler) signIn(w http.ResponseWriter, r *http.Request, user *User, greeting string) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		h.logger.Error("session missing during sign in")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	h.sessionManager.Renew(sess)
	sess.SetUser(strconv.FormatInt(user.ID, 10))
	sess.AddFlash(shared.FlashMessage{Kind: shared.FlashSuccess, Message: greeting})
	expiresAt := time.Now().Add(h.sessionManager.TTL())
	if err := h.service.RegisterSession(r.Context(), sess.ID, user.ID, expiresAt, r.RemoteAddr, r.UserAgent()); err != nil {
		h.logger.Warn("register session", slog.Any("error", err))
	}
	http.Redirect(w, r, h.landingFor(r.Context(), user.Principal()), http.StatusSeeOther)
}

func (h *Handler) landingFor(ctx context.Context, p shared.Principal) string {
	if h.landing == nil {
		return "/"
	}
	return h.landing.LandingPath(ctx, p)
}

func (h *Handler) validate(form any) map[string]string {
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}
	return errs
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "email":
		return "Enter a valid email address."
	case "min":
		return "Must be at least " + fe.Param() + " characters."
	case "max":
		return "Must be at most " + fe.Param() + " characters."
	case "eqfield":
		return "Passwords do not match."
	}
	return fe.Error()
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title string, data any, status int) {
	viewData := h.templates.PageData(r, h.csrfManager, title, data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
	}
}
