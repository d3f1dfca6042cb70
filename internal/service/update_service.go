// Package service drives the update queue of one index: enqueueing,
// applying in id order and reporting results.
package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/devrev/pairdb/index-node/internal/errors"
	"github.com/devrev/pairdb/index-node/internal/metrics"
	"github.com/devrev/pairdb/index-node/internal/model"
	"github.com/devrev/pairdb/index-node/internal/storage/kv"
	"github.com/devrev/pairdb/index-node/internal/store"
	"github.com/devrev/pairdb/index-node/internal/update"
	"github.com/devrev/pairdb/index-node/internal/util/workerpool"
	"go.uber.org/zap"
)

// UpdateCallback is told about every processed update
type UpdateCallback func(indexUID string, result *model.ProcessedUpdateResult)

// DiskGuard refuses writes when the data disk is nearly full
type DiskGuard interface {
	CheckBeforeWrite() error
}

// Config holds update service configuration
type Config struct {
	// PollInterval bounds how long Run sleeps without a notification
	PollInterval time.Duration
}

// UpdateService is the single consumer of an index's update queue
type UpdateService struct {
	env      *kv.Env
	index    *store.Index
	notifier *update.Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger
	cfg      Config
	guard    DiskGuard

	mu         sync.RWMutex
	callback   UpdateCallback
	callbacks  *workerpool.WorkerPool
	processing sync.Mutex
}

// NewUpdateService creates an update service for index
func NewUpdateService(cfg *Config, env *kv.Env, index *store.Index, m *metrics.Metrics, logger *zap.Logger) *UpdateService {
	c := Config{PollInterval: time.Second}
	if cfg != nil && cfg.PollInterval > 0 {
		c.PollInterval = cfg.PollInterval
	}
	return &UpdateService{
		env:      env,
		index:    index,
		notifier: update.NewNotifier(),
		metrics:  m,
		logger:   logger.With(zap.String("index_uid", index.UID)),
		cfg:      c,
	}
}

// Notifier returns the notifier Run waits on
func (s *UpdateService) Notifier() *update.Notifier {
	return s.notifier
}

// SetUpdateCallback installs fn. When pool is non-nil fn runs on it,
// otherwise on the processing goroutine.
func (s *UpdateService) SetUpdateCallback(fn UpdateCallback, pool *workerpool.WorkerPool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = fn
	s.callbacks = pool
}

// SetDiskGuard makes enqueues fail while guard rejects writes
func (s *UpdateService) SetDiskGuard(guard DiskGuard) {
	s.guard = guard
}

// EnsureSchema stores schema when the index has none. It reports whether
// schema was written.
func (s *UpdateService) EnsureSchema(ctx context.Context, schema *model.Schema) (bool, error) {
	var written bool
	err := s.env.Update(ctx, func(w *kv.WriteTxn) error {
		existing, err := s.index.Main.Schema(w)
		if err != nil || existing != nil {
			return err
		}
		written = true
		return s.index.Main.PutSchema(w, schema)
	})
	if err != nil {
		return false, err
	}
	if written {
		s.logger.Info("Schema stored", zap.Int("attributes", len(schema.Attributes)))
	}
	return written, nil
}

// EnqueueDeletion enqueues a deletion of ids and returns its update id
func (s *UpdateService) EnqueueDeletion(ctx context.Context, ids []model.DocumentID) (uint64, error) {
	return s.enqueue(ctx, func(deletion *update.DocumentsDeletion) {
		deletion.Extend(slices.Values(ids))
	})
}

// EnqueueDocumentsDeletion enqueues a deletion of documents, each identified
// by the schema's identifier field. Identifiers are extracted before the
// write txn opens, so a bad document leaves the queue untouched.
func (s *UpdateService) EnqueueDocumentsDeletion(ctx context.Context, documents []any) (uint64, error) {
	var schema *model.Schema
	err := s.env.View(func(r *kv.ReadTxn) error {
		var err error
		schema, err = s.index.Main.Schema(r)
		return err
	})
	if err != nil {
		return 0, err
	}
	if schema == nil {
		return 0, errors.SchemaMissing()
	}

	ids := make([]model.DocumentID, 0, len(documents))
	for i, document := range documents {
		id, err := update.ExtractDocumentID(schema.IdentifierName(), document)
		if err != nil {
			if ie, ok := errors.AsIndexError(err); ok {
				ie.WithDetail("position", i)
			}
			return 0, err
		}
		ids = append(ids, id)
	}
	return s.EnqueueDeletion(ctx, ids)
}

func (s *UpdateService) enqueue(ctx context.Context, fill func(*update.DocumentsDeletion)) (uint64, error) {
	if s.guard != nil {
		if err := s.guard.CheckBeforeWrite(); err != nil {
			s.logger.Warn("Enqueue rejected by disk guard", zap.Error(err))
			return 0, err
		}
	}

	var (
		id      uint64
		pending int
		size    int
	)
	err := s.env.Update(ctx, func(w *kv.WriteTxn) error {
		deletion := update.NewDocumentsDeletion(s.index, s.notifier)
		fill(deletion)
		size = deletion.Len()

		var err error
		if id, err = deletion.Finalize(w); err != nil {
			return err
		}
		pending, err = s.index.Updates.Len(w)
		return err
	})
	if err != nil {
		s.logger.Warn("Failed to enqueue deletion", zap.Error(err))
		return 0, err
	}

	s.metrics.RecordEnqueue(pending)
	s.logger.Debug("Deletion enqueued",
		zap.Uint64("update_id", id),
		zap.Int("documents", size),
		zap.Int("pending", pending))
	return id, nil
}

// ProcessNext applies the oldest pending update. It returns nil, nil when
// the queue is empty. A failing update is recorded with its error and
// removed so later updates can proceed.
func (s *UpdateService) ProcessNext(ctx context.Context) (*model.ProcessedUpdateResult, error) {
	s.processing.Lock()
	defer s.processing.Unlock()

	var (
		result   *model.ProcessedUpdateResult
		applyErr error
	)
	err := s.env.Update(ctx, func(w *kv.WriteTxn) error {
		queued, err := s.index.Updates.PopFront(w)
		if err != nil || queued == nil {
			return err
		}

		start := time.Now()
		result = &model.ProcessedUpdateResult{UpdateID: queued.ID, UpdateType: queued.Update.Type()}

		if applyErr = s.apply(w, queued.Update, result); applyErr != nil {
			return applyErr
		}
		return s.recordResult(w, result, start)
	})

	switch {
	case err == nil:
	case applyErr != nil:
		result, err = s.recordFailure(ctx, result, applyErr)
		if err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	if result == nil {
		return nil, nil
	}
	s.afterProcessed(result)
	return result, nil
}

func (s *UpdateService) apply(w *kv.WriteTxn, u model.Update, result *model.ProcessedUpdateResult) error {
	switch u := u.(type) {
	case *model.DocumentsDeletion:
		summary, err := update.ApplyDocumentsDeletion(w, s.index, u.DocumentIDs, s.logger)
		if err != nil {
			return err
		}
		result.DeletedDocuments = summary.DeletedDocuments
		result.RemovedTerms = summary.RemovedTerms
		_, err = s.updateFieldsFrequency(w)
		return err
	default:
		return errors.InternalError(fmt.Sprintf("unsupported update type %q", u.Type()), nil)
	}
}

func (s *UpdateService) recordResult(w *kv.WriteTxn, result *model.ProcessedUpdateResult, start time.Time) error {
	now := time.Now()
	result.DurationNanos = int64(now.Sub(start))
	result.ProcessedAt = now.UTC()
	if err := s.index.UpdatesResults.PutUpdateResult(w, result.UpdateID, result); err != nil {
		return err
	}
	return s.index.Main.PutUpdatedAt(w, now)
}

// recordFailure pops the update that failed to apply and stores its error
func (s *UpdateService) recordFailure(ctx context.Context, failed *model.ProcessedUpdateResult, cause error) (*model.ProcessedUpdateResult, error) {
	s.logger.Error("Failed to apply update",
		zap.Uint64("update_id", failed.UpdateID),
		zap.String("update_type", string(failed.UpdateType)),
		zap.Error(cause))

	result := &model.ProcessedUpdateResult{
		UpdateID:   failed.UpdateID,
		UpdateType: failed.UpdateType,
		Error:      cause.Error(),
	}
	err := s.env.Update(ctx, func(w *kv.WriteTxn) error {
		start := time.Now()
		queued, err := s.index.Updates.PopFront(w)
		if err != nil {
			return err
		}
		if queued == nil || queued.ID != failed.UpdateID {
			return errors.InternalError("update queue changed while recording a failure", nil).
				WithDetail("update_id", failed.UpdateID)
		}
		return s.recordResult(w, result, start)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *UpdateService) afterProcessed(result *model.ProcessedUpdateResult) {
	s.metrics.RecordUpdateProcessed(string(result.UpdateType), result.Succeeded(), result.Duration().Seconds())
	if result.Succeeded() {
		s.metrics.RecordDeletion(result.DeletedDocuments, result.RemovedTerms)
	}

	if err := s.refreshGauges(); err != nil {
		s.logger.Warn("Failed to refresh index gauges", zap.Error(err))
	}

	s.logger.Info("Update processed",
		zap.Uint64("update_id", result.UpdateID),
		zap.String("update_type", string(result.UpdateType)),
		zap.Bool("succeeded", result.Succeeded()),
		zap.Uint64("deleted_documents", result.DeletedDocuments),
		zap.Int("removed_terms", result.RemovedTerms),
		zap.Duration("duration", result.Duration()))

	s.dispatch(result)
}

func (s *UpdateService) dispatch(result *model.ProcessedUpdateResult) {
	s.mu.RLock()
	fn, pool := s.callback, s.callbacks
	s.mu.RUnlock()

	if fn == nil {
		return
	}
	if pool == nil {
		fn(s.index.UID, result)
		return
	}

	task := workerpool.Task{
		Name: fmt.Sprintf("update-callback-%d", result.UpdateID),
		Fn: func(context.Context) error {
			fn(s.index.UID, result)
			return nil
		},
	}
	if err := pool.Submit(task); err != nil {
		s.logger.Warn("Dropped update callback",
			zap.Uint64("update_id", result.UpdateID),
			zap.Error(err))
	}
}

func (s *UpdateService) refreshGauges() error {
	return s.env.View(func(r *kv.ReadTxn) error {
		pending, err := s.index.Updates.Len(r)
		if err != nil {
			return err
		}
		documents, err := s.index.Main.NumberOfDocuments(r)
		if err != nil {
			return err
		}
		s.metrics.UpdateIndexStats(pending, documents)
		return nil
	})
}

// Run processes updates until ctx is done. It drains the queue, then sleeps
// until notified or PollInterval elapses.
func (s *UpdateService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.logger.Info("Update loop started", zap.Duration("poll_interval", s.cfg.PollInterval))
	for {
		if err := s.drain(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			s.logger.Error("Update loop failed to process queue", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			s.logger.Info("Update loop stopped")
			return nil
		case <-s.notifier.C():
		case <-ticker.C:
		}
	}
	s.logger.Info("Update loop stopped")
	return nil
}

func (s *UpdateService) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		result, err := s.ProcessNext(ctx)
		if err != nil {
			return err
		}
		if result == nil {
			return nil
		}
	}
	return ctx.Err()
}

// UpdateStatus reports where update id is in its lifecycle
func (s *UpdateService) UpdateStatus(id uint64) (model.UpdateStatus, *model.ProcessedUpdateResult, error) {
	status := model.UpdateStatusUnknown
	var result *model.ProcessedUpdateResult
	err := s.env.View(func(r *kv.ReadTxn) error {
		var err error
		if result, err = s.index.UpdatesResults.UpdateResult(r, id); err != nil {
			return err
		}
		if result != nil {
			status = model.UpdateStatusProcessed
			if !result.Succeeded() {
				status = model.UpdateStatusFailed
			}
			return nil
		}

		pending, err := s.index.Updates.Get(r, id)
		if err != nil {
			return err
		}
		if pending != nil {
			status = model.UpdateStatusEnqueued
		}
		return nil
	})
	return status, result, err
}

// EnqueuedUpdates lists pending updates in processing order
func (s *UpdateService) EnqueuedUpdates() ([]*store.QueuedUpdate, error) {
	var queued []*store.QueuedUpdate
	err := s.env.View(func(r *kv.ReadTxn) error {
		return s.index.Updates.Iter(r, func(u *store.QueuedUpdate) (bool, error) {
			queued = append(queued, u)
			return true, nil
		})
	})
	return queued, err
}

// CurrentUpdateID returns the id of the update that will be processed next
func (s *UpdateService) CurrentUpdateID() (uint64, bool, error) {
	var (
		id    uint64
		found bool
	)
	err := s.env.View(func(r *kv.ReadTxn) error {
		return s.index.Updates.Iter(r, func(u *store.QueuedUpdate) (bool, error) {
			id, found = u.ID, true
			return false, nil
		})
	})
	return id, found, err
}

// PendingUpdates returns the number of queued updates
func (s *UpdateService) PendingUpdates() (int, error) {
	var n int
	err := s.env.View(func(r *kv.ReadTxn) error {
		var err error
		n, err = s.index.Updates.Len(r)
		return err
	})
	return n, err
}

// NumberOfDocuments returns the document count of the index
func (s *UpdateService) NumberOfDocuments() (uint64, error) {
	var n uint64
	err := s.env.View(func(r *kv.ReadTxn) error {
		var err error
		n, err = s.index.Main.NumberOfDocuments(r)
		return err
	})
	return n, err
}

// LastUpdate returns the result of the most recently processed update
func (s *UpdateService) LastUpdate() (*model.ProcessedUpdateResult, error) {
	var result *model.ProcessedUpdateResult
	err := s.env.View(func(r *kv.ReadTxn) error {
		var err error
		_, result, err = s.index.UpdatesResults.LastUpdateID(r)
		return err
	})
	return result, err
}

// ComputeStats counts, per attribute name, the documents holding a value for
// it and stores the result as the fields frequency. ProcessNext does the same
// after every applied update.
func (s *UpdateService) ComputeStats(ctx context.Context) (map[string]int, error) {
	var frequency map[string]int
	err := s.env.Update(ctx, func(w *kv.WriteTxn) error {
		var err error
		frequency, err = s.updateFieldsFrequency(w)
		return err
	})
	if err != nil {
		return nil, err
	}
	return frequency, nil
}

func (s *UpdateService) updateFieldsFrequency(w *kv.WriteTxn) (map[string]int, error) {
	schema, err := s.index.Main.Schema(w)
	if err != nil {
		return nil, err
	}
	if schema == nil {
		return nil, errors.SchemaMissing()
	}

	frequency := make(map[string]int)
	err = s.index.DocumentsFieldsCounts.AllDocumentsFieldsCounts(w, func(_ model.DocumentID, attr model.AttributeID, _ uint64) error {
		if name := schema.AttributeName(attr); name != "" {
			frequency[name]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return frequency, s.index.Main.PutFieldsFrequency(w, frequency)
}

// Stats returns the document count, whether updates are pending and the last
// computed fields frequency.
func (s *UpdateService) Stats() (*model.Stats, error) {
	stats := &model.Stats{}
	err := s.env.View(func(r *kv.ReadTxn) error {
		var err error
		if stats.NumberOfDocuments, err = s.index.Main.NumberOfDocuments(r); err != nil {
			return err
		}
		pending, err := s.index.Updates.Len(r)
		if err != nil {
			return err
		}
		stats.IsIndexing = pending > 0
		stats.FieldsFrequency, err = s.index.Main.FieldsFrequency(r)
		return err
	})
	if err != nil {
		return nil, err
	}
	if stats.FieldsFrequency == nil {
		stats.FieldsFrequency = map[string]int{}
	}
	return stats, nil
}
