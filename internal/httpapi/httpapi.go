// Package httpapi is the JSON + WebSocket adapter (spec §6): driver
// registration, system start, order admission, manual routing triggers, and
// time advancement, plus a WebSocket feed broadcasting lifecycle events to
// connected clients. It is a thin translation layer over
// internal/simulation.Driver; all dispatch semantics live there.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"dispatcher/internal/simulation"
	"dispatcher/pkg/apperror"
	"dispatcher/pkg/audit"
	"dispatcher/pkg/config"
	"dispatcher/pkg/metrics"
	"dispatcher/pkg/ratelimit"
)

// Server holds the adapter's dependencies and implements http.Handler via Routes.
type Server struct {
	driver  *simulation.Driver
	logger  *slog.Logger
	metrics *metrics.Metrics
	audit   audit.Logger
	limiter ratelimit.Limiter
	cors    config.CORSConfig
	hub     *hub
}

// New constructs the adapter. A nil limiter disables admission throttling.
func New(driver *simulation.Driver, logger *slog.Logger, m *metrics.Metrics, auditLogger audit.Logger, limiter ratelimit.Limiter) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m = metrics.Get()
	}
	if auditLogger == nil {
		auditLogger = audit.Get()
	}
	return &Server{
		driver:  driver,
		logger:  logger,
		metrics: m,
		audit:   auditLogger,
		limiter: limiter,
		hub:     newHub(logger),
	}
}

// WithCORS sets the adapter's cross-origin policy. Call before Routes.
func (s *Server) WithCORS(cfg config.CORSConfig) *Server {
	s.cors = cfg
	return s
}

// Routes builds the adapter's route table (spec §6).
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /", s.handleIndex)
	mux.HandleFunc("GET /monitor", s.handleMonitor)
	mux.HandleFunc("POST /drivers", s.rateLimited(s.handleRegisterDriver))
	mux.HandleFunc("GET /drivers", s.handleListDrivers)
	mux.HandleFunc("POST /start_system", s.handleStartSystem)
	mux.HandleFunc("POST /orders", s.rateLimited(s.handleCreateOrder))
	mux.HandleFunc("POST /update_routes", s.rateLimited(s.handleUpdateRoutes))
	mux.HandleFunc("POST /advance_time", s.handleAdvanceTime)
	mux.HandleFunc("GET /ws/", s.handleWebSocket)
	return s.withMetrics(cors(s.cors, mux))
}

// withMetrics wraps a handler with request-duration/outcome recording
// (spec: ambient observability carried regardless of feature Non-goals).
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Pattern, http.StatusText(rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// rateLimited throttles admission endpoints per path and client IP (POST /drivers,
// POST /orders and POST /update_routes each get their own bucket), matching the teacher's interceptor-based
// rate limiting re-expressed as plain HTTP middleware.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter == nil {
			next(w, r)
			return
		}
		key := r.URL.Path + ":" + ratelimit.DefaultKeyExtractor(r.Context(), r.URL.Path, map[string]string{
			"x-forwarded-for": r.Header.Get("X-Forwarded-For"),
			"x-real-ip":       r.RemoteAddr,
		})
		allowed, err := s.limiter.Allow(r.Context(), key)
		if err != nil {
			s.logger.Warn("rate limiter error, allowing request", "error", err)
			next(w, r)
			return
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", "too many requests")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "dispatcher",
		"status":  "ok",
		"started": s.driver.Core().Started(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{"code": code, "message": message},
	})
}

// writeAppError translates an apperror into its HTTP status and JSON body.
func writeAppError(w http.ResponseWriter, err error) {
	writeError(w, apperror.HTTPStatus(err), string(apperror.Code(err)), err.Error())
}
