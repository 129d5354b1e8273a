package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/apexcoding/apexcoding/internal/auth"
	"github.com/apexcoding/apexcoding/internal/domain"
	"github.com/apexcoding/apexcoding/internal/metrics"
	"github.com/apexcoding/apexcoding/internal/repository"
)

// IdempotencyHeader names the request header carrying a client-chosen
// idempotency key.
const IdempotencyHeader = "Idempotency-Key"

var errRateLimited = errors.New("rate limit exceeded")

// =============================================================================
// Access Log + Metrics
// =============================================================================

// requestLogger attaches a request-scoped logger, logs one line per request
// and records request metrics under the matched route pattern.
func requestLogger(logger zerolog.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r.WithContext(reqLogger.WithContext(r.Context())))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			d := time.Since(start)
			m.ObserveHTTPRequest(r.Method, route, status, d)

			event := reqLogger.Info()
			if status >= http.StatusInternalServerError {
				event = reqLogger.Error()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("route", route).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", d).
				Msg("http request")
		})
	}
}

// =============================================================================
// Rate Limiting
// =============================================================================

// RateLimiter keeps one token bucket per client and drops idle buckets.
type RateLimiter struct {
	mu              sync.Mutex
	limit           rate.Limit
	burst           int
	clients         map[string]*clientEntry
	cleanupInterval time.Duration
	idleAfter       time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
}

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerSecond per client with
// the given burst. Call Stop to end the cleanup goroutine.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	if burst <= 0 {
		burst = int(requestsPerSecond)
	}
	l := &RateLimiter{
		limit:           rate.Limit(requestsPerSecond),
		burst:           burst,
		clients:         map[string]*clientEntry{},
		cleanupInterval: time.Minute,
		idleAfter:       10 * time.Minute,
		stopCh:          make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

func (l *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-l.idleAfter)
			l.mu.Lock()
			for k, v := range l.clients {
				if v.lastSeen.Before(cutoff) {
					delete(l.clients, k)
				}
			}
			l.mu.Unlock()
		case <-l.stopCh:
			return
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (l *RateLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Allow reports whether a request for key may proceed now.
func (l *RateLimiter) Allow(key string) bool {
	l.mu.Lock()
	e, ok := l.clients[key]
	if !ok {
		e = &clientEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = e
	}
	e.lastSeen = time.Now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// Middleware limits authenticated requests per caller and anonymous ones
// per client address.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(clientKey(r)) {
			w.Header().Set("Retry-After", "1")
			writeError(w, r, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	if caller, ok := auth.CallerFromContext(r.Context()); ok {
		return "user:" + caller.ID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// =============================================================================
// Idempotency
// =============================================================================

// storedResponse is what the idempotency cache holds per key. A pending
// entry marks a request that is still being served.
type storedResponse struct {
	Pending     bool   `json:"pending,omitempty"`
	Method      string `json:"method,omitempty"`
	Path        string `json:"path,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"contentType,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// idempotency replays the stored response for a repeated Idempotency-Key
// and rejects a duplicate that arrives while the first is in flight.
// A key is bound to the method and path of its first request; reusing it
// for another request is a conflict. Responses with a 5xx status are not
// stored so the client can retry.
func idempotency(cache repository.Cache, ttl time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(IdempotencyHeader)
			if key == "" || r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			caller, err := auth.RequireCaller(r.Context())
			if err != nil {
				writeError(w, r, err)
				return
			}
			if len(key) > 255 {
				writeError(w, r, domain.Validationf("%s must be at most 255 characters", IdempotencyHeader))
				return
			}

			ctx := r.Context()
			logger := zerolog.Ctx(ctx)
			cacheKey := repository.CacheKey{}.Idempotency(caller.ID, key)

			pending, _ := json.Marshal(storedResponse{Pending: true, Method: r.Method, Path: r.URL.Path})
			acquired, err := cache.SetNX(ctx, cacheKey, pending, ttl)
			if err != nil {
				logger.Warn().Err(err).Msg("idempotency cache unavailable")
				next.ServeHTTP(w, r)
				return
			}
			if !acquired {
				replay(w, r, cache, cacheKey)
				return
			}

			var buf bytes.Buffer
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&buf)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := cache.Delete(ctx, cacheKey); err != nil {
					logger.Warn().Err(err).Msg("failed to clear idempotency key")
				}
				return
			}
			stored, _ := json.Marshal(storedResponse{
				Method:      r.Method,
				Path:        r.URL.Path,
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        buf.Bytes(),
			})
			if err := cache.Set(ctx, cacheKey, stored, ttl); err != nil {
				logger.Warn().Err(err).Msg("failed to store idempotent response")
			}
		})
	}
}

func replay(w http.ResponseWriter, r *http.Request, cache repository.Cache, cacheKey string) {
	raw, err := cache.Get(r.Context(), cacheKey)
	if err != nil {
		if errors.Is(err, repository.ErrCacheMiss) {
			writeError(w, r, domain.NewDomainError(domain.ErrConflict, "a request with this idempotency key is in progress", ""))
			return
		}
		writeError(w, r, errors.Join(domain.ErrInternal, err))
		return
	}

	var stored storedResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		writeError(w, r, errors.Join(domain.ErrInternal, err))
		return
	}
	if stored.Pending {
		writeError(w, r, domain.NewDomainError(domain.ErrConflict, "a request with this idempotency key is in progress", ""))
		return
	}
	if stored.Method != r.Method || stored.Path != r.URL.Path {
		writeError(w, r, domain.NewDomainError(domain.ErrConflict, "idempotency key was already used for a different request", ""))
		return
	}

	if stored.ContentType != "" {
		w.Header().Set("Content-Type", stored.ContentType)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(stored.Status)
	_, _ = w.Write(stored.Body)
}
