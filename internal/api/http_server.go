package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"autoposter/internal/config"
	"autoposter/internal/domain"
	"autoposter/internal/export"
	"autoposter/internal/metrics"
	"autoposter/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Automation is the service behind the HTTP endpoints.
type Automation interface {
	Start(ctx context.Context, userID string) error
	StopAll(ctx context.Context, userID string) (int64, error)
	ListStatuses(ctx context.Context, userID string) ([]models.AutomationStatus, error)
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// HTTPServer exposes the automation API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    Automation
	checks map[string]ReadinessCheck
	server *http.Server
	auth   *HTTPAuth
	logger zerolog.Logger
	now    func() time.Time
}

func NewHTTPServer(cfg config.APIConfig, svc Automation, checks map[string]ReadinessCheck, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:    cfg,
		svc:    svc,
		checks: checks,
		auth:   NewHTTPAuth(cfg),
		logger: logger.With().Str("component", "http").Logger(),
		now:    time.Now,
	}

	mux.HandleFunc("POST /api/v1/users/{userID}/automation/start", srv.handleStart)
	mux.HandleFunc("POST /api/v1/users/{userID}/automation/stop", srv.handleStop)
	mux.HandleFunc("GET /api/v1/users/{userID}/automation/status", srv.handleStatus)
	mux.HandleFunc("DELETE /api/v1/users/{userID}/tasks", srv.handleDeleteTasks)
	mux.HandleFunc("GET /api/v1/users/{userID}/tasks/export", srv.handleExport)
	mux.HandleFunc("GET /healthz", srv.handleHealthz)
	mux.HandleFunc("GET /readyz", srv.handleReadyz)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("start")
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}

	if err := s.svc.Start(r.Context(), userID); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "started",
		"message": "Automation started. Tasks are scheduled for today.",
	})
}

func (s *HTTPServer) handleStop(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("stop")
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}

	stopped, err := s.svc.StopAll(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "stopped",
		"stopped": stopped,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("status")
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}

	statuses, err := s.svc.ListStatuses(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": statuses})
}

func (s *HTTPServer) handleDeleteTasks(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("delete_tasks")
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}

	deleted, err := s.svc.DeleteAll(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": deleted})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export")
	userID, ok := userIDFrom(w, r)
	if !ok {
		return
	}

	statuses, err := s.svc.ListStatuses(r.Context(), userID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName(userID, s.now())))
	if err := export.Write(w, statuses); err != nil {
		// Headers are already out; all we can do is log.
		s.logger.Error().Err(err).Str("user_id", userID).Msg("export failed")
	}
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	result := make(map[string]string, len(s.checks))
	ready := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			result[name] = err.Error()
			ready = false
			continue
		}
		result[name] = "ok"
	}

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"ready": ready, "checks": result})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning),
		errors.Is(err, domain.ErrNoAccounts),
		errors.Is(err, domain.ErrDayAlreadyScheduled),
		errors.Is(err, domain.ErrDriveFolderDenied):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	event := s.logger.Warn()
	if code >= http.StatusInternalServerError {
		event = s.logger.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Int("status", code).Msg("request failed")

	msg := err.Error()
	if code == http.StatusInternalServerError && !errors.Is(err, domain.ErrStopFailed) && !errors.Is(err, domain.ErrSchedulingFailed) {
		msg = "internal error"
	}
	writeError(w, code, msg)
}

func userIDFrom(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := strings.TrimSpace(r.PathValue("userID"))
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user id is required")
		return "", false
	}
	return userID, true
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

const requestIDHeader = "X-Request-Id"

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
