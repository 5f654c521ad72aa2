// Package http exposes the template lifecycle and the sweep trigger as a
// JSON API. Identity is carried by the X-Owner-ID header; every read and
// write is scoped to that owner.
package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"paisa/internal/core"
	"paisa/internal/services"
)

// TemplateAPI is the slice of the template service the handlers need.
type TemplateAPI interface {
	Create(ctx context.Context, ownerID string, in services.CreateTemplateInput) (*core.Template, error)
	Update(ctx context.Context, ownerID string, id int64, in services.UpdateTemplateInput) (*core.Template, error)
	Cancel(ctx context.Context, ownerID string, id int64) (*core.Template, error)
	Delete(ctx context.Context, ownerID string, id int64) error
	ListTemplates(ctx context.Context, ownerID string) ([]core.Template, error)
	ListInstances(ctx context.Context, ownerID string, templateID int64) ([]core.Entry, error)
}

// SweepRunner triggers an on-demand sweep alongside the scheduled ones.
type SweepRunner interface {
	RunSweep(ctx context.Context) (services.RunReport, error)
}

type Server struct {
	http.Server
	templates TemplateAPI
	sweeps    SweepRunner
	started   time.Time
}

// NewServer configures routes and returns a ready-to-run server. sweeps may
// be nil, in which case the manual sweep endpoint reports 503.
func NewServer(addr string, templates TemplateAPI, sweeps SweepRunner) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:    addr,
			Handler: mux,
		},
		templates: templates,
		sweeps:    sweeps,
		started:   time.Now(),
	}

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/api/templates", s.withRequestLog(s.handleTemplates))
	mux.HandleFunc("/api/templates/cancel", s.withRequestLog(s.handleCancelTemplate))
	mux.HandleFunc("/api/templates/entries", s.withRequestLog(s.handleListEntries))
	mux.HandleFunc("/api/sweep", s.withRequestLog(s.handleSweep))

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if _, err := s.templates.ListTemplates(r.Context(), "readiness-probe"); err != nil {
		checks["storage"] = err.Error()
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["storage"] = "ok"
	}

	if s.sweeps != nil {
		checks["sweep"] = "ok"
	} else {
		checks["sweep"] = "not_configured"
	}

	w.WriteHeader(httpStatus)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": status,
		"checks": checks,
	})
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// withRequestLog tags each request with an id and logs start and completion.
func (s *Server) withRequestLog(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		r = r.WithContext(ctx)

		w.Header().Set("X-Request-ID", requestID)
		w.Header().Set("X-Content-Type-Options", "nosniff")

		slog.InfoContext(ctx, "Request started",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path)

		rw := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *statusWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
