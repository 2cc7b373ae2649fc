package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ChaceN89/library/internal/app"
	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/internal/ratelimit"
	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/session"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App      *app.App
	Sessions *session.Manager
	Metrics  *metrics.Metrics
	// WriteLimiter guards mutating routes, AuthLimiter guards login and
	// registration. Nil limiters allow everything.
	WriteLimiter   ratelimit.Limiter
	AuthLimiter    ratelimit.Limiter
	TrustedProxies *util.TrustedProxies
	AllowedOrigins []string
	MaxUploadBytes int64
}

// Server exposes HTTP endpoints for the library.
type Server struct {
	app            *app.App
	sessions       *session.Manager
	metrics        *metrics.Metrics
	writeLimiter   ratelimit.Limiter
	authLimiter    ratelimit.Limiter
	trustedProxies *util.TrustedProxies
	allowedOrigins []string
	mux            *http.ServeMux
	maxUploadBytes int64
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 * 1024 * 1024
	}
	s := &Server{
		app:            cfg.App,
		sessions:       cfg.Sessions,
		metrics:        cfg.Metrics,
		writeLimiter:   orAllowAll(cfg.WriteLimiter),
		authLimiter:    orAllowAll(cfg.AuthLimiter),
		trustedProxies: cfg.TrustedProxies,
		allowedOrigins: cfg.AllowedOrigins,
		mux:            http.NewServeMux(),
		maxUploadBytes: maxUploadBytes,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("library",
		util.WithSecurityHeaders(util.WithCORS(s.allowedOrigins, s.metrics.Middleware(s.mux)))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())
	s.mux.HandleFunc("GET /.well-known/jwks.json", s.handleJWKS)

	// accounts
	s.mux.Handle("POST /api/register", s.limited(s.authLimiter, http.HandlerFunc(s.handleRegister)))
	s.mux.Handle("POST /api/login", s.limited(s.authLimiter, http.HandlerFunc(s.handleLogin)))
	s.mux.Handle("POST /api/logout", s.withUser(s.handleLogout))
	s.mux.Handle("POST /api/password", s.limited(s.authLimiter, s.withUser(s.handleChangePassword)))

	// public catalog
	s.mux.HandleFunc("GET /api/books", s.handleListBooks)
	s.mux.HandleFunc("GET /api/books/{id}", s.handleGetBook)
	s.mux.HandleFunc("GET /api/books/{id}/comments", s.handleListThread)
	s.mux.HandleFunc("POST /api/books/{id}/download", s.handleDownload)

	// books
	s.mux.Handle("POST /api/books", s.write(s.handleCreateBook))
	s.mux.Handle("PATCH /api/books/{id}", s.write(s.handleUpdateBook))
	s.mux.Handle("DELETE /api/books/{id}", s.write(s.handleDeleteBook))
	s.mux.Handle("GET /api/me/books", s.withUser(s.handleMyBooks))

	// comments
	s.mux.Handle("POST /api/comments", s.write(s.handleCreateComment))
	s.mux.Handle("PATCH /api/comments/{id}", s.write(s.handleUpdateComment))
	s.mux.Handle("DELETE /api/comments/{id}", s.write(s.handleDeleteComment))

	// favorites
	s.mux.Handle("GET /api/favorites", s.withUser(s.handleListFavorites))
	s.mux.Handle("POST /api/favorites", s.write(s.handleAddFavorite))
	s.mux.Handle("DELETE /api/favorites/{bookID}", s.write(s.handleRemoveFavorite))

	// users
	s.mux.Handle("GET /api/users", s.withUser(s.handleListUsers))
	s.mux.Handle("GET /api/users/{id}", s.withUser(s.handleGetUser))
	s.mux.Handle("PATCH /api/users/{id}", s.write(s.handleUpdateUser))
	s.mux.Handle("DELETE /api/users/{id}", s.write(s.handleDeleteUser))
	s.mux.Handle("GET /api/users/{id}/favorites", s.withUser(s.handleListUserFavorites))
	s.mux.Handle("GET /api/users/{id}/picture", s.withUser(s.handleGetPicture))
	s.mux.Handle("PUT /api/users/{id}/picture", s.write(s.handleUploadPicture))
	s.mux.Handle("DELETE /api/users/{id}/picture", s.write(s.handleDeletePicture))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	if s.sessions == nil {
		writeError(w, http.StatusNotFound, "SYSTEM_NOT_FOUND", "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": s.sessions.JWKS()})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthenticated) {
				writeAppError(w, r, err)
				return
			}
			s.audit(r, "authorize", "fail", "reason", err.Error())
			writeError(w, http.StatusUnauthorized, "AUTH_INVALID_TOKEN", "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// write authenticates and rate limits a mutating route.
func (s *Server) write(next userHandler) http.Handler {
	return s.limited(s.writeLimiter, s.withUser(next))
}

func (s *Server) limited(limiter ratelimit.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.Pattern + "|" + util.ClientIP(r, s.trustedProxies)
		if !limiter.Allow(r.Context(), key) {
			s.metrics.ObserveRateLimited()
			s.audit(r, "rate_limit", "rejected")
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trustedProxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func orAllowAll(l ratelimit.Limiter) ratelimit.Limiter {
	if l == nil {
		return ratelimit.AllowAll{}
	}
	return l
}

func logError(ctx context.Context, msg string, err error) {
	util.LoggerFromContext(ctx).Error(msg, slog.String("err", err.Error()))
}
