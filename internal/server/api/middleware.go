package api

import (
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/codetime/internal/common"
	"github.com/dmitrijs2005/codetime/internal/logging"
	"github.com/dmitrijs2005/codetime/internal/ratelimit"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// bearer extracts the credential from "Authorization: Bearer <token>".
func bearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// requestID reuses an incoming X-Request-ID or mints one, and stores it in
// the context for the logger.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				sentry.WithScope(func(scope *sentry.Scope) {
					scope.SetExtra("panic", rec)
					scope.SetExtra("stack", string(debug.Stack()))
					sentry.CaptureMessage("panic in request")
				})
				s.logger.Error(r.Context(), "panic recovered", "path", r.URL.Path, "method", r.Method, "panic", rec)
				writeError(w, common.ErrorInternal)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// observe writes the access log line and the request metrics, labelled by
// route pattern rather than raw path.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		elapsed := s.clock.Since(start)

		if s.metrics != nil {
			s.metrics.ObserveHTTP(route, r.Method, rec.status, elapsed)
		}
		s.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"route", route,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
		)
	})
}

// rateLimit applies the request-channel ceiling keyed by bearer credential.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.limiter.Allow(bearer(r), ratelimit.ChannelRequest); err != nil {
			w.Header().Set("Retry-After", retryAfter(s.clock.Now()))
			writeError(w, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func retryAfter(now time.Time) string {
	next := now.Truncate(time.Minute).Add(time.Minute)
	secs := int(next.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// requireUser resolves the bearer credential, falling back to a session
// cookie, and rejects the request when neither identifies a user.
func (s *Server) requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cred := bearer(r); cred != "" {
			id, err := s.ledger.ResolveUser(r.Context(), cred)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), id)))
			return
		}
		if id, ok := s.sessionUser(r); ok {
			next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), id)))
			return
		}
		writeError(w, common.NewError(common.CodeUnauthorized, "missing credential"))
	})
}

// requireSession admits only requests carrying a valid session cookie.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := s.sessionUser(r)
		if !ok {
			writeError(w, common.NewError(common.CodeUnauthorized, "session required"))
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), id)))
	})
}

func (s *Server) sessionUser(r *http.Request) (string, bool) {
	if s.sessions == nil {
		return "", false
	}
	c, err := r.Cookie(common.SessionCookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	id, err := s.sessions.UserID(c.Value)
	if err != nil {
		return "", false
	}
	return id, true
}
