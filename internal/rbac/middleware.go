package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/admissions-portal/portal/internal/shared"
)

// DefaultLoginPath is where anonymous visitors are sent.
const DefaultLoginPath = "/auth/login"

// PrincipalSource resolves the identity behind a signed-in user id.
type PrincipalSource interface {
	Principal(ctx context.Context, userID int64) (shared.Principal, error)
}

// Middleware wires role based authorization helpers for HTTP handlers.
type Middleware struct {
	Principals PrincipalSource
	Logger     *slog.Logger
	LoginPath  string
}

// Load attaches the signed-in principal to the request context. Sessions pointing
// at deleted or deactivated accounts are signed out.
func (m Middleware) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		userID, ok := m.currentUserID(sess)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		p, err := m.Principals.Principal(r.Context(), userID)
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				sess.SetUser("")
				next.ServeHTTP(w, r)
				return
			}
			m.logger().Error("rbac load principal", slog.Int64("user_id", userID), slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithPrincipal(r.Context(), p)))
	})
}

// RequireLogin redirects anonymous visitors to the login page.
func (m Middleware) RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); !ok {
			m.redirectToLogin(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole ensures the current principal holds one of roles.
func (m Middleware) RequireRole(roles ...shared.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := shared.PrincipalFromContext(r.Context())
			if !ok {
				m.redirectToLogin(w, r)
				return
			}
			if !p.HasRole(roles...) {
				m.logger().Warn("rbac role denied",
					slog.Int64("user_id", p.UserID),
					slog.String("role", string(p.Role)),
					slog.String("path", r.URL.Path))
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (m Middleware) redirectToLogin(w http.ResponseWriter, r *http.Request) {
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		sess.AddFlash(shared.FlashMessage{Kind: shared.FlashInfo, Message: "Please sign in to continue."})
	}
	path := m.LoginPath
	if path == "" {
		path = DefaultLoginPath
	}
	http.Redirect(w, r, path, http.StatusSeeOther)
}

func (m Middleware) currentUserID(sess *shared.Session) (int64, bool) {
	if sess == nil {
		return 0, false
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		m.logger().Error("rbac parse user id", slog.String("value", raw))
		sess.SetUser("")
		return 0, false
	}
	return id, true
}

func (m Middleware) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}
