// Package handler provides the HTTP API for ApexCoding.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/apexcoding/apexcoding/internal/metrics"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// Registrar is implemented by every resource handler.
type Registrar interface {
	RegisterRoutes(r chi.Router)
}

// Router assembles the middleware chain and resource handlers.
type Router struct {
	public         []Registrar
	protected      []Registrar
	authMiddleware func(http.Handler) http.Handler
	rateLimiter    *RateLimiter
	cache          repository.Cache
	idempotencyTTL time.Duration
	maxBodySize    int64
	database       repository.DatabaseHealth
	metrics        *metrics.Metrics
	logger         zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	// Public handlers are served without authentication.
	Public []Registrar

	// Protected handlers require a bearer token.
	Protected []Registrar

	AuthMiddleware func(http.Handler) http.Handler

	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *RateLimiter

	// Cache backs idempotency keys; nil disables them.
	Cache          repository.Cache
	IdempotencyTTL time.Duration

	// MaxBodySize caps request bodies; zero means unlimited.
	MaxBodySize int64

	// Database is pinged by /health when set.
	Database DatabaseChecker

	Metrics *metrics.Metrics
	Logger  zerolog.Logger
}

// DatabaseChecker reports store health.
type DatabaseChecker = repository.DatabaseHealth

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		public:         config.Public,
		protected:      config.Protected,
		authMiddleware: config.AuthMiddleware,
		rateLimiter:    config.RateLimiter,
		cache:          config.Cache,
		idempotencyTTL: config.IdempotencyTTL,
		maxBodySize:    config.MaxBodySize,
		database:       config.Database,
		metrics:        config.Metrics,
		logger:         config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(rt.logger, rt.metrics))
	r.Use(middleware.Recoverer)
	if rt.maxBodySize > 0 {
		r.Use(middleware.RequestSize(rt.maxBodySize))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Success: false, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Success: false, Message: "method not allowed"})
	})

	// Health check (no auth)
	r.Get("/health", rt.handleHealth)

	r.Group(func(pr chi.Router) {
		if rt.rateLimiter != nil {
			pr.Use(rt.rateLimiter.Middleware)
		}
		for _, h := range rt.public {
			h.RegisterRoutes(pr)
		}
	})

	r.Group(func(pr chi.Router) {
		pr.Use(rt.authMiddleware)
		if rt.rateLimiter != nil {
			pr.Use(rt.rateLimiter.Middleware)
		}
		if rt.cache != nil {
			pr.Use(idempotency(rt.cache, rt.idempotencyTTL))
		}
		for _, h := range rt.protected {
			h.RegisterRoutes(pr)
		}
	})

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.database != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := rt.database.Health(ctx); err != nil {
			rt.logger.Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, envelope{
				Success: false,
				Message: "database unavailable",
				Data:    map[string]string{"status": "unhealthy"},
			})
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "healthy"})
}
