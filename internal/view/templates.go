package view

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/admissions-portal/portal/internal/shared"
	"github.com/admissions-portal/portal/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	User        *shared.Principal
	Data        any
}

// ErrorPage feeds pages/error.html.
type ErrorPage struct {
	Status  int
	Message string
}

var amountPrinter = message.NewPrinter(language.English)

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006")
		},
		"formatMonth": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("January 2006")
		},
		"formatAmount": func(v int64) string {
			return amountPrinter.Sprintf("%d", v)
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// PageData assembles TemplateData for the current request, popping one flash message
// and ensuring a CSRF token exists.
func (e *Engine) PageData(r *http.Request, csrf *shared.CSRFManager, title string, data any) TemplateData {
	td := TemplateData{Title: title, CurrentPath: r.URL.Path, Data: data}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		if csrf != nil {
			td.CSRFToken, _ = csrf.EnsureToken(sess)
		}
		td.Flash = sess.PopFlash()
	}
	if p, ok := shared.PrincipalFromContext(r.Context()); ok {
		td.User = &p
	}
	return td
}

// Render executes a named template with TemplateData. Output is buffered so a failing
// template never leaves a half-written page.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}
