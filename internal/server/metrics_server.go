package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/health"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/oarkflow/json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
)

// StatsProvider reports index statistics and update progress
type StatsProvider interface {
	Stats() (*model.Stats, error)
	UpdateStatus(id uint64) (model.UpdateStatus, *model.ProcessedUpdateResult, error)
}

// MetricsServer serves Prometheus metrics, health probes and index stats
type MetricsServer struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// MetricsServerConfig holds configuration for the metrics server
type MetricsServerConfig struct {
	Port int
	Path string
}

// NewMetricsServer creates a new metrics server. checker and stats may be nil.
func NewMetricsServer(cfg *MetricsServerConfig, gatherer prometheus.Gatherer, checker *health.HealthChecker, stats StatsProvider, logger *zap.Logger) *MetricsServer {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	if checker != nil {
		mux.HandleFunc("/health/live", checker.LivenessHandler)
		mux.HandleFunc("/health/ready", checker.ReadinessHandler)
	}
	if stats != nil {
		mux.HandleFunc("GET /stats", statsHandler(stats, logger))
		mux.HandleFunc("GET /updates/{id}", updateStatusHandler(stats, logger))
	}

	return &MetricsServer{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the server's HTTP handler
func (s *MetricsServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until ctx is done, then shuts down gracefully
func (s *MetricsServer) Run(ctx context.Context) error {
	s.logger.Info("Starting metrics server", zap.String("addr", s.httpServer.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping metrics server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown failed: %w", err)
	}
	return nil
}

func statsHandler(stats StatsProvider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current, err := stats.Stats()
		if err != nil {
			writeError(w, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, current)
	}
}

func updateStatusHandler(stats StatsProvider, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, logger, errors.InvalidArgument("update id must be an unsigned integer", err))
			return
		}

		status, result, err := stats.UpdateStatus(id)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if status == model.UpdateStatusUnknown {
			writeError(w, logger, errors.UpdateNotFound(id))
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"update_id": id,
			"status":    status,
			"result":    result,
		})
	}
}

// writeError reports err with the HTTP status matching its gRPC code
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	ie, ok := errors.AsIndexError(err)
	if !ok {
		ie = errors.InternalError("request failed", err)
	}
	st := ie.ToGRPCStatus()

	code := httpStatus(st.Code())
	if code >= http.StatusInternalServerError {
		logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]interface{}{
		"error": st.Message(),
		"code":  st.Code().String(),
	})
}

func httpStatus(code codes.Code) int {
	switch code {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusPreconditionFailed
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	data, err := json.Marshal(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
