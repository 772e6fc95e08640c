package admissions

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/admissions-portal/portal/internal/platform/httpx"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/internal/view"
)

// Handler serves the application form and the admin dashboard.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		service:   service,
		templates: templates,
		csrf:      csrf,
		validator: validator.New(),
	}
}

// MountStudentRoutes registers the application form routes.
func (h *Handler) MountStudentRoutes(r chi.Router) {
	r.Get("/", h.showApplication)
	r.Post("/", h.submitApplication)
}

// MountAdminRoutes registers the review routes.
func (h *Handler) MountAdminRoutes(r chi.Router) {
	r.Get("/dashboard", h.dashboard)
	r.Get("/dashboard/{status}", h.dashboard)
	r.Post("/students/{id}/accept", h.decide(StatusApproved))
	r.Post("/students/{id}/reject", h.decide(StatusRejected))
	r.Post("/students/{id}/passed", h.decide(StatusPassed))
}

type applicationForm struct {
	FatherName    string `validate:"required,max=120"`
	DateOfBirth   string `validate:"required,datetime=2006-01-02"`
	Gender        string `validate:"required,oneof=male female other"`
	Address       string `validate:"required,max=500"`
	ContactNumber string `validate:"required,min=7,max=20"`
}

type applicationPageData struct {
	Student *Student
	History []shared.ApprovalLog
	Form    applicationForm
	Errors  map[string]string
}

func (h *Handler) showApplication(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	data := applicationPageData{Errors: map[string]string{}}
	student, history, err := h.service.Application(r.Context(), p)
	switch {
	case err == nil:
		data.Student = student
		data.History = history
	case errors.Is(err, ErrApplicationNotFound):
	default:
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/apply.html", "Application", data, http.StatusOK)
}

func (h *Handler) submitApplication(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	form := applicationForm{
		FatherName:    strings.TrimSpace(r.PostFormValue("father_name")),
		DateOfBirth:   strings.TrimSpace(r.PostFormValue("dob")),
		Gender:        strings.TrimSpace(r.PostFormValue("gender")),
		Address:       strings.TrimSpace(r.PostFormValue("address")),
		ContactNumber: strings.TrimSpace(r.PostFormValue("contact_number")),
	}
	errs := make(map[string]string)
	if err := h.validator.Struct(form); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				errs[fieldErr.Field()] = fieldMessage(fieldErr)
			}
		}
	}
	if len(errs) == 0 {
		dob, _ := time.Parse(time.DateOnly, form.DateOfBirth)
		_, err := h.service.Apply(r.Context(), p, ApplicationInput{
			FatherName:    form.FatherName,
			DateOfBirth:   dob,
			Gender:        form.Gender,
			Address:       form.Address,
			ContactNumber: form.ContactNumber,
		})
		switch {
		case err == nil:
			h.redirectWithFlash(w, r, "/student/apply", shared.FlashSuccess, "Application submitted. We will let you know once it has been reviewed.")
			return
		case errors.Is(err, ErrAlreadyApplied):
			h.redirectWithFlash(w, r, "/student/apply", shared.FlashInfo, "You have already submitted an application.")
			return
		case errors.Is(err, shared.ErrValidation):
			errs["general"] = "Please check the date of birth and required fields."
		default:
			h.fail(w, r, err)
			return
		}
	}
	h.render(w, r, "pages/apply.html", "Application", applicationPageData{Form: form, Errors: errs}, http.StatusBadRequest)
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	var q DashboardQuery
	if slug := chi.URLParam(r, "status"); slug != "" {
		status, err := StatusFromSlug(slug)
		if err != nil {
			h.fail(w, r, shared.ErrNotFound)
			return
		}
		q.Status = &status
	}
	if page, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil {
		q.Page = page
	}
	dash, err := h.service.Dashboard(r.Context(), p, q)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.render(w, r, "pages/admin_dashboard.html", "Applications", dash, http.StatusOK)
}

func (h *Handler) decide(target Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := shared.PrincipalFromContext(r.Context())
		if !ok {
			http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, r, ErrApplicationNotFound)
			return
		}
		var student *Student
		switch target {
		case StatusApproved:
			student, err = h.service.Approve(r.Context(), p, id)
		case StatusRejected:
			student, err = h.service.Reject(r.Context(), p, id)
		case StatusPassed:
			student, err = h.service.MarkPassed(r.Context(), p, id)
		}
		back := backToDashboard(r)
		switch {
		case err == nil:
			h.redirectWithFlash(w, r, back, shared.FlashSuccess, student.Name+" is now "+strings.ToLower(target.Label())+".")
		case errors.Is(err, ErrInvalidTransition):
			h.redirectWithFlash(w, r, back, shared.FlashError, "That application can no longer be moved to "+strings.ToLower(target.Label())+".")
		case errors.Is(err, shared.ErrConflict):
			h.redirectWithFlash(w, r, back, shared.FlashError, "A dues ledger already exists for this student.")
		default:
			h.fail(w, r, err)
		}
	}
}

func backToDashboard(r *http.Request) string {
	if ref := r.Referer(); ref != "" {
		if i := strings.Index(ref, "/admin/dashboard"); i >= 0 {
			return ref[i:]
		}
	}
	return "/admin/dashboard"
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "This field is required."
	case "datetime":
		return "Use the format YYYY-MM-DD."
	case "oneof":
		return "Choose one of the listed options."
	case "min", "max":
		return "Length must be between the allowed limits."
	}
	return fe.Error()
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusFor(err)
	message := "Something went wrong. Please try again."
	switch status {
	case http.StatusNotFound:
		message = "Page not found"
	case http.StatusForbidden:
		message = "You are not allowed to do that."
	case http.StatusServiceUnavailable:
		message = "The service is temporarily unavailable. Please try again shortly."
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("admissions request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	h.render(w, r, "pages/error.html", http.StatusText(status), view.ErrorPage{Status: status, Message: message}, status)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, name, title string, data any, status int) {
	viewData := h.templates.PageData(r, h.csrf, title, data)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := h.templates.Render(w, name, viewData); err != nil {
		h.logger.Error("render template", slog.String("template", name), slog.Any("error", err))
	}
}

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, location, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, location, http.StatusSeeOther)
}
