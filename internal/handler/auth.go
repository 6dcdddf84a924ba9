package handler

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/pavelanni/examportal/internal/model"
)

const sessionCookieName = "session"

// sessionToken returns the bearer token or session cookie of r.
func sessionToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(sessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// requireUser is middleware that resolves the session token to an active
// user and stores it in the request context.
func (h *Handler) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			h.fail(w, r, http.StatusUnauthorized, "InvalidSession", nil)
			return
		}
		sess, err := h.store.GetAuthSession(r.Context(), token)
		if err != nil {
			slog.Error("failed to get auth session", "error", err)
			h.fail(w, r, http.StatusInternalServerError, "ServerError", nil)
			return
		}
		if sess == nil {
			h.fail(w, r, http.StatusUnauthorized, "InvalidSession", nil)
			return
		}
		user, err := h.store.GetUserByID(r.Context(), sess.UserID)
		if err != nil || user == nil || !user.Active {
			h.fail(w, r, http.StatusUnauthorized, "InvalidSession", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(model.ContextWithUser(r.Context(), user)))
	})
}

// requireAdmin rejects users who are neither admins by role nor listed in
// the AdminUsers setting. It must run after requireUser.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, err := h.accounts.IsAdmin(r.Context(), model.UserFromContext(r.Context()))
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if !ok {
			h.fail(w, r, http.StatusForbidden, "Unauthorized", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success    bool   `json:"success"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	IsAdmin    bool   `json:"isAdmin"`
	Token      string `json:"token"`
	ExamActive bool   `json:"examActive"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.accounts.Authenticate(r.Context(), req.Username, req.Password)
	if errors.Is(err, model.ErrInvalidCredentials) {
		h.metrics.Login("denied")
		h.fail(w, r, http.StatusUnauthorized, "LoginFailed", nil)
		return
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	token, err := h.store.CreateAuthSession(r.Context(), user.ID, h.config.SessionTTL)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	isAdmin, err := h.accounts.IsAdmin(r.Context(), user)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	active, err := h.exam.ExamActive(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.metrics.Login("ok")

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, loginResponse{
		Success:    true,
		Username:   user.Username,
		Name:       user.Name(),
		IsAdmin:    isAdmin,
		Token:      token,
		ExamActive: active,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := h.store.DeleteAuthSession(r.Context(), token); err != nil {
			slog.Error("failed to delete auth session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.SecureCookies,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// throttleLogins limits login attempts per client address.
func (h *Handler) throttleLogins(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !h.logins.allow(clientIP(r), time.Now()) {
			h.metrics.Login("throttled")
			w.Header().Set("Retry-After", "1")
			h.fail(w, r, http.StatusTooManyRequests, "TooManyAttempts", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SweepLoginLimiters forgets clients idle for longer than idle.
func (h *Handler) SweepLoginLimiters(idle time.Duration) int {
	return h.logins.sweep(time.Now().Add(-idle))
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// loginLimiter keeps one token bucket per client address.
type loginLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	visitors map[string]*visitor
}

func newLoginLimiter(perSecond float64, burst int) *loginLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &loginLimiter{limit: limit, burst: burst, visitors: map[string]*visitor{}}
}

func (l *loginLimiter) allow(key string, now time.Time) bool {
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

func (l *loginLimiter) sweep(before time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(before) {
			delete(l.visitors, key)
			n++
		}
	}
	return n
}
