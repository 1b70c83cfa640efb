// Package chi serves the MCP endpoint and operational routes over HTTP.
package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/maomao/internal/domain"
	"github.com/kailas-cloud/maomao/internal/metrics"
	healthuc "github.com/kailas-cloud/maomao/internal/usecase/health"
	"github.com/kailas-cloud/maomao/internal/usecase/retrieval"
)

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// StatusReader reports index statistics.
type StatusReader interface {
	GetStatus(ctx context.Context) (retrieval.Status, error)
}

// Info is the static part of the /status response.
type Info struct {
	Collection       string
	EmbeddingModel   string
	DefaultProjectID string
}

// Server routes HTTP requests to the MCP handler and the operational endpoints.
type Server struct {
	mcp     http.Handler
	health  HealthChecker
	status  StatusReader
	info    Info
	apiKeys []string
	logger  *zap.Logger
}

// NewServer creates an HTTP server. apiKeys enables bearer auth on /mcp and /status.
func NewServer(
	mcp http.Handler,
	health HealthChecker,
	status StatusReader,
	info Info,
	apiKeys []string,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		mcp:     mcp,
		health:  health,
		status:  status,
		info:    info,
		apiKeys: apiKeys,
		logger:  logger,
	}
}

// Router builds the chi router with the middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(jsonRecoverer(s.logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(s.logger))
	r.Use(BearerAuthMiddleware(s.apiKeys))
	r.Use(metrics.Middleware())

	r.Post("/mcp", s.mcp.ServeHTTP)
	r.Get("/health", s.HealthCheck)
	r.Get("/status", s.Status)
	r.Get("/metrics", s.Metrics)
	return r
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, report)
}

type statusResponse struct {
	VectorCount      int    `json:"vector_count"`
	Collection       string `json:"collection"`
	EmbeddingModel   string `json:"embedding_model"`
	DefaultProjectID string `json:"default_project_id"`
}

// Status handles GET /status.
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.GetStatus(r.Context())
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		VectorCount:      st.Count,
		Collection:       s.info.Collection,
		EmbeddingModel:   s.info.EmbeddingModel,
		DefaultProjectID: s.info.DefaultProjectID,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ListenAndServe runs srv until ctx is cancelled, then shuts it down within shutdownTimeout.
func ListenAndServe(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Received shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// errorResponse is the JSON body of every non-MCP error.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrVectorStore):
		s.logger.Warn("domain error", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "vector_store_error", domain.ErrVectorStore.Error())
	case errors.Is(err, domain.ErrNotSupported):
		writeError(w, http.StatusNotImplemented, "not_supported", domain.ErrNotSupported.Error())
	default:
		s.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
