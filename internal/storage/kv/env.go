package kv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/devrev/pairdb/index-node/internal/storage/commitlog"
	"github.com/devrev/pairdb/index-node/internal/storage/memtable"
	"github.com/devrev/pairdb/index-node/internal/storage/sstable"
	"go.uber.org/zap"
)

const (
	// SnapshotFileName is the checkpoint file inside the data directory.
	SnapshotFileName = "snapshot.sst"

	defaultCheckpointThreshold = 64 << 20
)

var (
	// ErrTxnClosed is returned when a committed or aborted txn is used again.
	ErrTxnClosed = errors.New("transaction already closed")
	// ErrEnvClosed is returned when a txn is started on a closed env.
	ErrEnvClosed = errors.New("environment closed")
)

// Config holds environment configuration
type Config struct {
	// Dir is the data directory. An empty Dir keeps everything in memory.
	Dir string
	// CheckpointThreshold is the commit log size in bytes that triggers a
	// snapshot. Zero selects the default.
	CheckpointThreshold int64
	SyncWrites          bool
	// MaxCommitSize caps the encoded size of one commit. Zero selects the
	// largest size the commit log can read back.
	MaxCommitSize int
}

// Env is an ordered key/value store with one writer and many readers.
//
// Committed data lives in a skip list. A write txn buffers its changes and
// publishes them at commit, after they reached the commit log, while holding
// mu exclusively. Read txns hold mu shared for their whole lifetime, so a
// reader never sees part of a commit. A goroutine must not commit while it
// holds an open read txn.
type Env struct {
	config *Config
	logger *zap.Logger

	mu   sync.RWMutex
	data *memtable.SkipList[[]byte]
	seq  uint64

	// writer is the single write slot
	writer chan struct{}
	log    *commitlog.CommitLog
	closed bool
}

// Open opens the environment, loading the latest snapshot and replaying the
// commit log on top of it.
func Open(cfg *Config, logger *zap.Logger) (*Env, error) {
	if cfg.CheckpointThreshold <= 0 {
		cfg.CheckpointThreshold = defaultCheckpointThreshold
	}

	env := &Env{
		config: cfg,
		logger: logger,
		data:   memtable.NewSkipList[[]byte](),
		writer: make(chan struct{}, 1),
	}

	if cfg.Dir == "" {
		logger.Info("Opened in-memory environment")
		return env, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	// leftover of a checkpoint interrupted before its rename
	os.Remove(env.snapshotPath() + ".tmp")

	if err := env.loadSnapshot(); err != nil {
		return nil, err
	}

	log, err := commitlog.Open(&commitlog.Config{
		SyncWrites:    cfg.SyncWrites,
		MaxRecordSize: cfg.MaxCommitSize,
	}, cfg.Dir, logger)
	if err != nil {
		return nil, err
	}

	replayed := 0
	_, err = log.Replay(context.Background(), func(record *commitlog.Record) error {
		if record.Sequence <= env.seq {
			return nil
		}
		env.apply(record.Ops)
		env.seq = record.Sequence
		replayed++
		return nil
	})
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to replay commit log: %w", err)
	}
	env.log = log

	logger.Info("Opened environment",
		zap.String("dir", cfg.Dir),
		zap.Uint64("sequence", env.seq),
		zap.Int("replayed_records", replayed),
		zap.Int("keys", env.data.Len()))

	return env, nil
}

func (e *Env) snapshotPath() string {
	return filepath.Join(e.config.Dir, SnapshotFileName)
}

func (e *Env) loadSnapshot() error {
	reader, err := sstable.NewSSTableReader(e.snapshotPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer reader.Close()

	err = reader.ForEach(func(key, value []byte) error {
		e.data.Insert(string(key), append([]byte(nil), value...))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	e.seq = reader.Sequence()
	return nil
}

// apply publishes ops to the committed data. Callers hold mu or have
// exclusive access.
func (e *Env) apply(ops []commitlog.Op) {
	for _, op := range ops {
		if op.Delete {
			e.data.Delete(string(op.Key))
		} else {
			e.data.Insert(string(op.Key), op.Value)
		}
	}
}

// checkpoint writes every committed key to a new snapshot and empties the
// commit log. Called with the write slot held, so data cannot change.
func (e *Env) checkpoint() error {
	writer, err := sstable.NewSSTableWriter(e.snapshotPath(), e.seq)
	if err != nil {
		return err
	}

	it := e.data.Iterator()
	for it.Next() {
		if err := writer.Write([]byte(it.Key()), it.Value()); err != nil {
			writer.Abort()
			return err
		}
	}
	if err := writer.Finalize(); err != nil {
		return err
	}

	if err := e.log.Truncate(); err != nil {
		return err
	}

	e.logger.Info("Checkpoint completed",
		zap.Uint64("sequence", e.seq),
		zap.Int("keys", writer.Count()),
		zap.Int64("size", writer.Size()))
	return nil
}

// BeginRead starts a read txn over the current committed state. The txn must
// be released with Abort.
func (e *Env) BeginRead() (*ReadTxn, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, ErrEnvClosed
	}
	return &ReadTxn{env: e}, nil
}

// BeginWrite starts the write txn, waiting for the previous one to finish
// or for ctx to be done.
func (e *Env) BeginWrite(ctx context.Context) (*WriteTxn, error) {
	select {
	case e.writer <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		<-e.writer
		return nil, ErrEnvClosed
	}

	return &WriteTxn{
		env:     e,
		ctx:     ctx,
		overlay: memtable.NewSkipList[pending](),
	}, nil
}

// Update runs fn in a write txn, committing when fn succeeds and aborting
// otherwise.
func (e *Env) Update(ctx context.Context, fn func(*WriteTxn) error) error {
	txn, err := e.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		return err
	}
	return txn.Commit()
}

// View runs fn in a read txn
func (e *Env) View(fn func(*ReadTxn) error) error {
	txn, err := e.BeginRead()
	if err != nil {
		return err
	}
	defer txn.Abort()
	return fn(txn)
}

// Sequence returns the sequence of the last commit
func (e *Env) Sequence() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.seq
}

// Close waits for the active write txn and closes the commit log
func (e *Env) Close() error {
	e.writer <- struct{}{}
	defer func() { <-e.writer }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.log != nil {
		return e.log.Close()
	}
	return nil
}
