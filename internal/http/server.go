// Package http exposes the ledger services as a JSON API for a single
// ledger owner.
package http

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/cache"
	"fintrack/internal/log"
	"fintrack/internal/services"
)

// Services are the ledger operations the API serves.
type Services struct {
	Transactions  *services.TransactionService
	Reimbursement *services.ReimbursementService
	Metrics       *services.MetricsService
	Balance       *services.BalanceService
	Budgets       *services.BudgetService
	Categories    *services.CategoryService
	Tags          *services.TagService
	Rules         *services.RuleService
	Engine        *services.RecurringEngine
}

type Config struct {
	Addr   string
	UserID int64
	// Location decides the current month and where a day ends.
	Location *time.Location
	// RequestsPerMinute limits writes per client IP. Zero disables it.
	RequestsPerMinute int
	// Ready reports whether dependencies can serve traffic. Nil means
	// always ready.
	Ready func(context.Context) error
}

// Server is a ready-to-run http.Server with the API mounted.
type Server struct {
	http.Server
	svc     Services
	userID  int64
	loc     *time.Location
	ready   func(context.Context) error
	limiter *rateLimiter
	logger  *log.Logger
	started time.Time
	now     func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware.
func NewServer(cfg Config, svc Services, logger *log.Logger) *Server {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Server{
		svc:     svc,
		userID:  cfg.UserID,
		loc:     loc,
		ready:   cfg.Ready,
		limiter: newRateLimiter(cfg.RequestsPerMinute),
		logger:  logger,
		started: time.Now(),
		now:     time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	s.registerTransactionRoutes(mux)
	s.registerMetricsRoutes(mux)
	s.registerBudgetRoutes(mux)
	s.registerTaxonomyRoutes(mux)
	s.registerRuleRoutes(mux)
	s.registerBalanceRoutes(mux)

	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.withTrace(withSecurityHeaders(s.withRateLimit(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// RateLimiter exposes the per-client buckets for periodic cleanup.
func (s *Server) RateLimiter() cache.Cleaner {
	return s.limiter
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

// withTrace tags the request with an id, attaches a request-scoped logger
// and PeriodCache to its context, and logs its completion.
func (s *Server) withTrace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := s.logger.With(
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path)
		ctx := log.WithContext(r.Context(), logger)
		ctx = services.WithPeriodCache(ctx, services.NewPeriodCache())
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		switch {
		case rw.statusCode >= 500:
			level = slog.LevelError
		case rw.statusCode >= 400:
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "HTTP request completed",
			"status", rw.statusCode,
			log.FieldDuration, time.Since(start).Milliseconds(),
			"client_ip", extractClientIP(r))
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func requestLogger(ctx context.Context) *log.Logger {
	return log.FromContext(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": s.now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.ready(ctx); err != nil {
		requestLogger(ctx).Warn("Readiness check failed", log.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
