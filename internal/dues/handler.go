package dues

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/admissions-portal/portal/internal/platform/httpx"
	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/internal/view"
)

// PaymentPath is where students land to see and pay their dues.
const PaymentPath = "/student/payment"

// Handler exposes the student payment pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf}
}

// MountRoutes registers payment routes. Callers guard them with the student role.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.showLedger)
	r.Get("/ledger.json", h.ledgerJSON)
	r.Post("/totaldues", h.settleAll)
	r.Post("/currentdues", h.settleCurrent)
	r.Post("/month", h.settleThroughMonth)
	r.Post("/{recordID}", h.settleMonth)
}

type paymentPageData struct {
	Ledger      *Ledger
	Months      []MonthRecord
	Outstanding int64
	PaidCount   int
	NextPayable string
}

func (h *Handler) showLedger(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	ledger, err := h.service.Ledger(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	months := ledger.Months()
	data := paymentPageData{
		Ledger:      ledger,
		Months:      months,
		Outstanding: ledger.Outstanding(),
		PaidCount:   ledger.PaidCount(),
	}
	for i, m := range months {
		if !m.Paid && (i == 0 || months[i-1].Paid) {
			data.NextPayable = m.ID
			break
		}
	}
	h.render(w, r, "pages/payment.html", "Dues", data, http.StatusOK)
}

type ledgerResponse struct {
	ID          string        `json:"id"`
	Email       string        `json:"email"`
	DuesFrom    string        `json:"dues_from"`
	Outstanding int64         `json:"outstanding"`
	Months      []MonthRecord `json:"months"`
}

func (h *Handler) ledgerJSON(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	ledger, err := h.service.Ledger(r.Context(), p)
	if err != nil {
		if httpx.StatusFor(err) >= http.StatusInternalServerError {
			h.logger.Error("load ledger", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledgerResponse{
		ID:          ledger.ID(),
		Email:       ledger.Owner().Email,
		DuesFrom:    ledger.DuesFrom().Format(time.DateOnly),
		Outstanding: ledger.Outstanding(),
		Months:      ledger.Months(),
	})
}

func (h *Handler) settleAll(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	res, err := h.service.SettleAllOutstanding(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if len(res.Settled) == 0 {
		h.redirectWithFlash(w, r, shared.FlashInfo, "Nothing outstanding. All months are already paid.")
		return
	}
	h.redirectWithFlash(w, r, shared.FlashSuccess, fmt.Sprintf("Paid %s. All dues are settled.", monthsLabel(len(res.Settled))))
}

func (h *Handler) settleCurrent(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	res, err := h.service.SettleThroughCurrentMonth(r.Context(), p)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.flashBulk(w, r, res, "the current month")
}

func (h *Handler) settleThroughMonth(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	target, err := ParseMonth(r.PostFormValue("month"))
	if err != nil {
		h.redirectWithFlash(w, r, shared.FlashError, "Choose a valid month.")
		return
	}
	res, err := h.service.SettleThroughMonth(r.Context(), p, target)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.flashBulk(w, r, res, target.Format("January 2006"))
}

func (h *Handler) settleMonth(w http.ResponseWriter, r *http.Request) {
	p, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, "/auth/login", http.StatusSeeOther)
		return
	}
	res, err := h.service.SettleMonth(r.Context(), p, chi.URLParam(r, "recordID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !res.Applied {
		h.redirectWithFlash(w, r, shared.FlashError, "Pay the earlier months first. Dues must be settled in order.")
		return
	}
	h.redirectWithFlash(w, r, shared.FlashSuccess, fmt.Sprintf("Payment recorded. Dues now run from %s.", res.DuesFrom.Format("02 Jan 2006")))
}

func (h *Handler) flashBulk(w http.ResponseWriter, r *http.Request, res Settlement, through string) {
	if len(res.Settled) == 0 {
		h.redirectWithFlash(w, r, shared.FlashInfo, fmt.Sprintf("Nothing due through %s.", through))
		return
	}
	h.redirectWithFlash(w, r, shared.FlashSuccess, fmt.Sprintf("Paid %s through %s.", monthsLabel(len(res.Settled)), through))
}

// ParseMonth accepts YYYY-MM (an HTML month input) or a full YYYY-MM-DD date.
func ParseMonth(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("dues: month required: %w", shared.ErrValidation)
	}
	for _, layout := range []string{"2006-01", time.DateOnly} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("dues: unrecognised month %q: %w", raw, shared.ErrValidation)
}

func monthsLabel(n int) string {
	if n == 1 {
		return "1 month"
	}
	return fmt.Sprintf("%d months", n)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := httpx.StatusFor(err)
	message := "Something went wrong. Please try again."
	switch {
	case errors.Is(err, ErrLedgerNotFound):
		message = "No dues ledger exists for your account yet. It is created once your application is accepted."
	case errors.Is(err, ErrMonthNotFound):
		message = "That month is not part of your schedule."
	case errors.Is(err, shared.ErrStorage):
		message = "Payments are temporarily unavailable. Please try again shortly."
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("dues request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
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

func (h *Handler) redirectWithFlash(w http.ResponseWriter, r *http.Request, kind, message string) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: kind, Message: message})
	}
	http.Redirect(w, r, PaymentPath, http.StatusSeeOther)
}
