package health

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/devrev/pairdb/index-node/internal/metrics"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/diskmanager"
	"github.com/oarkflow/json"
	"go.uber.org/zap"
)

// Check statuses
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// IndexStats is the view of the index the checks read
type IndexStats interface {
	PendingUpdates() (int, error)
	NumberOfDocuments() (uint64, error)
}

// HealthChecker performs health checks for the index node
type HealthChecker struct {
	cfg     HealthCheckConfig
	index   IndexStats
	disk    *diskmanager.DiskManager
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu          sync.RWMutex
	lastCheck   time.Time
	status      model.NodeStatus
	observed    model.HealthMetrics
	checks      map[string]CheckResult
	readinessOK bool
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthCheckConfig holds configuration for health checks
type HealthCheckConfig struct {
	IndexUID string
	// DataDir is empty for an in-memory index
	DataDir       string
	CheckInterval time.Duration
	// BacklogWarning marks the node degraded above this many pending updates
	BacklogWarning int
}

// NewHealthChecker creates a new health checker. disk and m may be nil.
func NewHealthChecker(cfg *HealthCheckConfig, index IndexStats, disk *diskmanager.DiskManager, m *metrics.Metrics, logger *zap.Logger) *HealthChecker {
	c := *cfg
	if c.CheckInterval <= 0 {
		c.CheckInterval = 10 * time.Second
	}
	return &HealthChecker{
		cfg:         c,
		index:       index,
		disk:        disk,
		metrics:     m,
		logger:      logger,
		checks:      make(map[string]CheckResult),
		readinessOK: true,
		status:      model.NodeStatusHealthy,
	}
}

// Start runs checks every CheckInterval until ctx is done
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.RunChecks()

	for {
		select {
		case <-ticker.C:
			h.RunChecks()
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return
		}
	}
}

// RunChecks runs every check and recomputes the node status
func (h *HealthChecker) RunChecks() {
	var observed model.HealthMetrics
	checks := []func(*model.HealthMetrics) CheckResult{
		h.checkDiskSpace,
		h.checkDataDirAccessible,
		h.checkStoreReadable,
		h.checkUpdateBacklog,
	}

	results := make([]CheckResult, 0, len(checks))
	allHealthy, allReady := true, true
	for _, check := range checks {
		result := check(&observed)
		results = append(results, result)
		if result.Status != StatusHealthy {
			allHealthy = false
			if result.Status == StatusCritical {
				allReady = false
			}
		}
	}

	status := model.NodeStatusHealthy
	switch {
	case !allReady:
		status = model.NodeStatusUnhealthy
	case !allHealthy:
		status = model.NodeStatusDegraded
	}

	h.mu.Lock()
	h.lastCheck = time.Now()
	h.observed = observed
	for _, result := range results {
		h.checks[result.Name] = result
	}
	h.status = status
	h.readinessOK = allReady
	h.mu.Unlock()

	h.logger.Debug("Health check completed",
		zap.String("status", string(status)),
		zap.Bool("readiness", allReady))
}

func result(name, status, message string) CheckResult {
	return CheckResult{Name: name, Status: status, Message: message, Timestamp: time.Now()}
}

// checkDiskSpace reports the usage cached by the disk manager
func (h *HealthChecker) checkDiskSpace(observed *model.HealthMetrics) CheckResult {
	if h.disk == nil {
		return result("disk_space", StatusHealthy, "In-memory index, no disk in use")
	}

	usage, err := h.disk.ForceCheck()
	if err != nil {
		return result("disk_space", StatusCritical, fmt.Sprintf("Failed to stat filesystem: %v", err))
	}
	observed.DiskUsage = usage.UsagePercent
	if h.metrics != nil {
		h.metrics.UpdateDiskUsage(usage.UsagePercent)
	}

	switch {
	case usage.IsCircuitBroken:
		return result("disk_space", StatusCritical, fmt.Sprintf("Disk usage critical: %.2f%%", usage.UsagePercent))
	case usage.UsagePercent > 90:
		return result("disk_space", StatusWarning, fmt.Sprintf("Disk usage high: %.2f%%", usage.UsagePercent))
	}
	return result("disk_space", StatusHealthy, fmt.Sprintf("Disk usage: %.2f%%, available: %.2f GB",
		usage.UsagePercent, float64(usage.AvailableBytes)/1024/1024/1024))
}

// checkDataDirAccessible verifies the data directory is a writable directory
func (h *HealthChecker) checkDataDirAccessible(*model.HealthMetrics) CheckResult {
	if h.cfg.DataDir == "" {
		return result("data_dir_accessible", StatusHealthy, "In-memory index, no data directory")
	}

	info, err := os.Stat(h.cfg.DataDir)
	if err != nil {
		return result("data_dir_accessible", StatusCritical, fmt.Sprintf("Data directory not accessible: %v", err))
	}
	if !info.IsDir() {
		return result("data_dir_accessible", StatusCritical, "Data path is not a directory")
	}

	probe := filepath.Join(h.cfg.DataDir, fmt.Sprintf(".health_check_%d", time.Now().UnixNano()))
	f, err := os.Create(probe)
	if err != nil {
		return result("data_dir_accessible", StatusCritical, fmt.Sprintf("Cannot write to data directory: %v", err))
	}
	f.Close()
	os.Remove(probe)

	return result("data_dir_accessible", StatusHealthy, "Data directory is accessible and writable")
}

// checkStoreReadable opens a read transaction on the index
func (h *HealthChecker) checkStoreReadable(observed *model.HealthMetrics) CheckResult {
	documents, err := h.index.NumberOfDocuments()
	if err != nil {
		return result("store_readable", StatusCritical, fmt.Sprintf("Failed to read index: %v", err))
	}
	observed.NumberOfDocuments = documents
	return result("store_readable", StatusHealthy, fmt.Sprintf("Index holds %d documents", documents))
}

// checkUpdateBacklog warns when the update queue grows past BacklogWarning
func (h *HealthChecker) checkUpdateBacklog(observed *model.HealthMetrics) CheckResult {
	pending, err := h.index.PendingUpdates()
	if err != nil {
		return result("update_backlog", StatusCritical, fmt.Sprintf("Failed to read update queue: %v", err))
	}
	observed.PendingUpdates = pending
	if h.cfg.BacklogWarning > 0 && pending > h.cfg.BacklogWarning {
		return result("update_backlog", StatusWarning, fmt.Sprintf("%d updates pending, threshold %d", pending, h.cfg.BacklogWarning))
	}
	return result("update_backlog", StatusHealthy, fmt.Sprintf("%d updates pending", pending))
}

// IsLive reports whether the process answers. It is true while the checker runs.
func (h *HealthChecker) IsLive() bool {
	return true
}

// IsReady returns whether the node is ready (readiness probe)
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.readinessOK
}

// GetStatus returns the current health status
func (h *HealthChecker) GetStatus() model.HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return model.HealthStatus{
		IndexUID:  h.cfg.IndexUID,
		Status:    h.status,
		Timestamp: h.lastCheck.Unix(),
		Metrics:   h.observed,
	}
}

// GetChecks returns a copy of the latest check results
func (h *HealthChecker) GetChecks() map[string]CheckResult {
	h.mu.RLock()
	defer h.mu.RUnlock()

	checks := make(map[string]CheckResult, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	return checks
}

// SetReadiness overrides readiness until the next check, for graceful shutdown
func (h *HealthChecker) SetReadiness(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readinessOK = ready
}

// LivenessHandler handles HTTP liveness probe requests
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	status := h.GetStatus()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"healthy": h.IsLive(),
		"status":  status.Status,
	})
}

// ReadinessHandler handles HTTP readiness probe requests
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ready := h.IsReady()
	status := h.GetStatus()

	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"ready":     ready,
		"status":    status.Status,
		"index_uid": status.IndexUID,
		"checks":    h.GetChecks(),
	})
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
