package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bluetry/models"
	"bluetry/utils"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

// ContextKey is a custom type for context keys to avoid collisions.
type ContextKey string

const (
	SessionIDKey ContextKey = "sessionID"
	UserKey      ContextKey = "user"
	CSRFTokenKey ContextKey = "csrfToken"
)

const (
	sessionIDCookie = "bluetry_sid"
	loginCookie     = "bluetry_session"
	csrfCookie      = "csrf_token"
	csrfHeader      = "X-CSRF-Token"
)

// CSRFMiddleware implements the double-submit cookie check for state-changing
// requests. The token is echoed in a response header for API clients.
func CSRFMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var csrfToken string
		if cookie, err := r.Cookie(csrfCookie); err == nil && cookie.Value != "" {
			csrfToken = cookie.Value
		} else {
			csrfToken = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     csrfCookie,
				Value:    csrfToken,
				Path:     "/",
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
		w.Header().Set(csrfHeader, csrfToken)

		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			sent := r.Header.Get(csrfHeader)
			if sent == "" {
				sent = r.FormValue("csrf_token")
			}
			if subtle.ConstantTimeCompare([]byte(sent), []byte(csrfToken)) != 1 {
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}
		}

		ctx := context.WithValue(r.Context(), CSRFTokenKey, csrfToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SessionMiddleware ensures every visitor has a persistent anonymous session
// id. Bot checks and anonymous likes are keyed on it.
func SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sid string
		if cookie, err := r.Cookie(sessionIDCookie); err == nil && cookie.Value != "" {
			sid = cookie.Value
		} else {
			sid = uuid.New().String()
			http.SetCookie(w, &http.Cookie{
				Name:     sessionIDCookie,
				Value:    sid,
				Path:     "/",
				Expires:  utils.GetTime().Add(365 * 24 * time.Hour),
				HttpOnly: true,
				Secure:   r.TLS != nil,
				SameSite: http.SameSiteLaxMode,
			})
		}
		ctx := context.WithValue(r.Context(), SessionIDKey, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware resolves the login cookie to a user. Invalid or expired
// sessions are treated as anonymous.
func AuthMiddleware(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(loginCookie)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}
			user, err := app.DB().UserForSession(r.Context(), cookie.Value)
			if err != nil {
				if !errors.Is(err, models.ErrUnauthorized) && !errors.Is(err, models.ErrNotFound) {
					app.Logger().Error("Failed to resolve login session", "error", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			ctx := context.WithValue(r.Context(), UserKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireUser rejects anonymous requests with 401.
func RequireUser(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if currentUser(r) == nil {
				respondError(w, models.ErrUnauthorized, app, app.Logger())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin restricts a route to signed-in administrators.
func RequireAdmin(app App) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := currentUser(r)
			if user == nil {
				respondError(w, models.ErrUnauthorized, app, app.Logger())
				return
			}
			if !user.IsAdmin {
				app.Logger().Warn("Admin route refused", "path", r.URL.Path, "uid", user.UID)
				respondError(w, models.ErrForbidden, app, app.Logger())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentUser(r *http.Request) *models.User {
	user, _ := r.Context().Value(UserKey).(*models.User)
	return user
}

func sessionID(r *http.Request) string {
	sid, _ := r.Context().Value(SessionIDKey).(string)
	return sid
}

// allowRequest consumes one token from the caller's bucket for scope and
// sets the X-RateLimit headers. It reports false after writing a 429.
func allowRequest(w http.ResponseWriter, r *http.Request, app App, scope string) bool {
	limiter := app.RateLimiter().GetLimiter(scope + ":" + utils.GetIPAddress(r))
	allowed := limiter.Allow()

	remaining := int(math.Max(0, math.Floor(limiter.Tokens())))
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if allowed {
		return true
	}

	retryAfter := 1
	if l := float64(limiter.Limit()); l > 0 {
		retryAfter = int(math.Ceil(1 / l))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	app.Logger().Warn("Rate limit exceeded", "scope", scope, "ip_hash", utils.HashIP(utils.GetIPAddress(r)))
	respondError(w, models.ErrRateLimited, app, app.Logger())
	return false
}

// NewStructuredLogger logs one line per request through slog.
func NewStructuredLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				level := slog.LevelInfo
				if ww.Status() >= http.StatusInternalServerError {
					level = slog.LevelError
				}
				logger.Log(r.Context(), level, "http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// NewSecurityHeadersMiddleware sets the response hardening headers. Media
// may additionally be served from mediaOrigin.
func NewSecurityHeadersMiddleware(mediaOrigin string) func(http.Handler) http.Handler {
	imgSrc := []string{"'self'", "data:"}
	if mediaOrigin != "" {
		imgSrc = append(imgSrc, strings.TrimRight(mediaOrigin, "/"))
	}
	csp := "default-src 'self'; img-src " + strings.Join(imgSrc, " ") + "; object-src 'none'; frame-ancestors 'none'"

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
