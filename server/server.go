// Package server handles HTTP endpoints and request routing.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"tyflo-push/pkg/notifier"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Registry interface for subscriber management.
type Registry interface {
	Register(ctx context.Context, token, env string, prefs notifier.Preferences) error
	UpdatePreferences(ctx context.Context, token string, prefs notifier.Preferences) error
	Unregister(ctx context.Context, token string) error
	Count(ctx context.Context) int
}

// Notifier interface for fanning out webhook events.
type Notifier interface {
	NotifyOnce(ctx context.Context, category notifier.Category, key string, payload notifier.Payload) (sent bool, matched int, err error)
}

// Server handles HTTP requests.
type Server struct {
	registry      Registry
	notifier      Notifier
	logger        *slog.Logger
	limiter       *ipRateLimiter
	now           func() time.Time
	router        chi.Router
	httpServer    *http.Server
	name          string
	version       string
	webhookSecret string
	mu            sync.Mutex
}

// Config holds server configuration.
type Config struct {
	Registry Registry
	Notifier Notifier
	Logger   *slog.Logger
	// Metrics is mounted at /metrics when set.
	Metrics            http.Handler
	Name               string
	Version            string
	WebhookSecret      string
	RateLimitPerMinute int
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	name := cfg.Name
	if name == "" {
		name = "tyflo-push"
	}
	s := &Server{
		registry:      cfg.Registry,
		notifier:      cfg.Notifier,
		logger:        cfg.Logger,
		limiter:       newIPRateLimiter(cfg.RateLimitPerMinute),
		now:           func() time.Time { return time.Now().UTC() },
		name:          name,
		version:       cfg.Version,
		webhookSecret: cfg.WebhookSecret,
	}
	s.router = s.routes(cfg.Metrics)
	return s
}

func (s *Server) routes(metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(s.withRequestID, s.logRequests, s.recoverPanics)
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	r.Get("/health", s.handleHealth)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimit)
			r.Post("/register", s.handleRegister)
			r.Post("/update", s.handleUpdate)
			r.Post("/unregister", s.handleUnregister)
		})
		r.Route("/events", func(r chi.Router) {
			// Auth runs only on matched routes.
			authed := r.With(s.requireWebhookAuth)
			authed.Post("/live-start", s.handleLiveStart)
			authed.Post("/live-end", s.handleLiveEnd)
			authed.Post("/schedule-updated", s.handleScheduleUpdated)
		})
	})

	return r
}

// ServeHTTP dispatches to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe binds addr and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) ListenAndServe(addr string) error {
	// Configure server with timeouts to prevent resource exhaustion
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", "addr", addr, "webhooks_enabled", s.webhookSecret != "")
	return srv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
