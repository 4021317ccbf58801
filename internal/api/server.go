// Package api exposes the HTTP interface for the listing monitor.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"casawatch/internal/metrics"
	"casawatch/internal/monitor"
)

// ReportSource serves the most recent finalized cycle report.
type ReportSource interface {
	LastReport() *monitor.CycleReport
}

// Trigger requests an out-of-schedule cycle. It reports false when a
// trigger is already pending.
type Trigger interface {
	TriggerCycle() bool
}

// Pinger checks the persistence backend for readiness probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config controls the HTTP surface.
type Config struct {
	// APIKey guards the /api routes when non-empty; health and metrics
	// stay open for probes and scrapers.
	APIKey         string
	RequestTimeout time.Duration
	// ListingLimit caps /api/listings page size.
	ListingLimit int
}

// Server wires HTTP handlers to the monitor's read views and trigger.
type Server struct {
	router  chi.Router
	browser monitor.ListingBrowser
	reports ReportSource
	trigger Trigger
	pinger  Pinger
	cfg     Config
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	browser monitor.ListingBrowser,
	reports ReportSource,
	trigger Trigger,
	pinger Pinger,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.ListingLimit <= 0 {
		cfg.ListingLimit = 100
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		browser: browser,
		reports: reports,
		trigger: trigger,
		pinger:  pinger,
		cfg:     cfg,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Get("/stats", s.stats)
		r.Get("/listings", s.listings)
		r.Get("/report", s.report)
		r.Post("/trigger", s.triggerCycle)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.browser.CountBySite(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count listings")
		return
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"by_site": counts,
	})
}

func (s *Server) listings(w http.ResponseWriter, r *http.Request) {
	limit := s.cfg.ListingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if parsed < limit {
			limit = parsed
		}
	}
	recent, err := s.browser.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch listings")
		return
	}
	if recent == nil {
		recent = []monitor.Listing{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"listings": recent})
}

func (s *Server) report(w http.ResponseWriter, _ *http.Request) {
	report := s.reports.LastReport()
	if report == nil {
		writeError(w, http.StatusNotFound, "no cycle completed yet")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) triggerCycle(w http.ResponseWriter, _ *http.Request) {
	if s.trigger == nil {
		writeError(w, http.StatusServiceUnavailable, "trigger unavailable")
		return
	}
	if !s.trigger.TriggerCycle() {
		writeJSON(w, http.StatusConflict, map[string]string{"status": "already pending"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "cycle requested"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
