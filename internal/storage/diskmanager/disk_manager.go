// Package diskmanager watches free space on the data directory and refuses
// new updates once the disk is nearly full.
package diskmanager

import (
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"go.uber.org/zap"
)

// StatFunc reports the total and available bytes of the filesystem holding dir
type StatFunc func(dir string) (total, available uint64, err error)

// Statfs is the StatFunc backed by statfs(2)
func Statfs(dir string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return stat.Blocks * uint64(stat.Bsize), stat.Bavail * uint64(stat.Bsize), nil
}

// DiskManagerConfig holds configuration for disk manager
type DiskManagerConfig struct {
	DataDir       string
	CheckInterval time.Duration
	// WarningThreshold logs a warning at this usage percentage
	WarningThreshold float64
	// CircuitBreakerThreshold rejects enqueues at this usage percentage
	CircuitBreakerThreshold float64
	// Stat defaults to Statfs
	Stat StatFunc
}

// DefaultConfig returns default disk manager configuration
func DefaultConfig(dataDir string) *DiskManagerConfig {
	return &DiskManagerConfig{
		DataDir:                 dataDir,
		CheckInterval:           10 * time.Second,
		WarningThreshold:        80.0,
		CircuitBreakerThreshold: 95.0,
	}
}

// DiskUsageStats is the outcome of the last disk check
type DiskUsageStats struct {
	UsagePercent    float64
	AvailableBytes  uint64
	IsCircuitBroken bool
	LastCheck       time.Time
}

// DiskManager caches disk usage for CheckInterval
type DiskManager struct {
	cfg    DiskManagerConfig
	logger *zap.Logger

	mu    sync.Mutex
	usage DiskUsageStats
}

// NewDiskManager creates a disk manager and runs a first check
func NewDiskManager(cfg *DiskManagerConfig, logger *zap.Logger) (*DiskManager, error) {
	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	c := *cfg
	if c.Stat == nil {
		c.Stat = Statfs
	}

	dm := &DiskManager{cfg: c, logger: logger}
	if _, err := dm.ForceCheck(); err != nil {
		logger.Warn("Initial disk space check failed", zap.Error(err))
	}
	return dm, nil
}

// CheckBeforeWrite fails with an Unavailable error while the circuit
// breaker is engaged.
func (dm *DiskManager) CheckBeforeWrite() error {
	usage := dm.GetDiskUsage()
	if usage.IsCircuitBroken {
		return errors.Unavailable(fmt.Sprintf("disk usage at %.2f%%, circuit breaker engaged", usage.UsagePercent), nil).
			WithDetail("usage_percent", usage.UsagePercent).
			WithDetail("available_bytes", usage.AvailableBytes)
	}
	return nil
}

// GetDiskUsage returns the cached usage, refreshing it when stale
func (dm *DiskManager) GetDiskUsage() DiskUsageStats {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	if time.Since(dm.usage.LastCheck) > dm.cfg.CheckInterval {
		if err := dm.checkLocked(); err != nil {
			dm.logger.Warn("Disk space check failed", zap.Error(err))
		}
	}
	return dm.usage
}

// ForceCheck refreshes disk usage now
func (dm *DiskManager) ForceCheck() (DiskUsageStats, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	err := dm.checkLocked()
	return dm.usage, err
}

func (dm *DiskManager) checkLocked() error {
	total, available, err := dm.cfg.Stat(dm.cfg.DataDir)
	if err != nil {
		return err
	}
	if total == 0 {
		return fmt.Errorf("filesystem of %s reports zero size", dm.cfg.DataDir)
	}

	usagePercent := float64(total-available) / float64(total) * 100.0
	previouslyBroken := dm.usage.IsCircuitBroken

	dm.usage = DiskUsageStats{
		UsagePercent:    usagePercent,
		AvailableBytes:  available,
		IsCircuitBroken: usagePercent >= dm.cfg.CircuitBreakerThreshold,
		LastCheck:       time.Now(),
	}

	switch {
	case dm.usage.IsCircuitBroken && !previouslyBroken:
		dm.logger.Error("Disk circuit breaker ENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available),
			zap.Float64("threshold", dm.cfg.CircuitBreakerThreshold))
	case !dm.usage.IsCircuitBroken && previouslyBroken:
		dm.logger.Info("Disk circuit breaker DISENGAGED",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available))
	case usagePercent >= dm.cfg.WarningThreshold && !dm.usage.IsCircuitBroken:
		dm.logger.Warn("Disk usage warning",
			zap.Float64("usage_percent", usagePercent),
			zap.Uint64("available_bytes", available),
			zap.Float64("warning_threshold", dm.cfg.WarningThreshold))
	}
	return nil
}
