package commitlog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/devrev/pairdb/index-node/internal/util"
	"github.com/oarkflow/json"
	"go.uber.org/zap"
)

// FileName is the name of the active log file inside the data directory.
const FileName = "commitlog.log"

// Op is a single key mutation of a committed transaction.
type Op struct {
	Key    []byte `json:"k"`
	Value  []byte `json:"v,omitempty"`
	Delete bool   `json:"d,omitempty"`
}

// Record is the write set of one committed transaction.
type Record struct {
	Sequence uint64 `json:"seq"`
	Ops      []Op   `json:"ops"`
}

// Config holds commit log configuration
type Config struct {
	SyncWrites bool
	// MaxRecordSize caps an encoded record. Zero or anything above
	// util.MaxFrameSize selects util.MaxFrameSize.
	MaxRecordSize int
}

// CommitLog is an append-only write-ahead log of committed transactions.
// Every record is a checksummed frame; recovery stops at the first torn or
// corrupt frame.
type CommitLog struct {
	config *Config
	file   *os.File
	path   string
	size   int64
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens (creating when needed) the commit log in dataDir
func Open(cfg *Config, dataDir string, logger *zap.Logger) (*CommitLog, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create commit log directory: %w", err)
	}

	path := filepath.Join(dataDir, FileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open commit log file: %w", err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat commit log: %w", err)
	}

	logger.Info("Opened commit log",
		zap.String("path", path),
		zap.Int64("size", info.Size()))

	return &CommitLog{
		config: cfg,
		file:   file,
		path:   path,
		size:   info.Size(),
		logger: logger,
	}, nil
}

// Append appends a record to the commit log
func (c *CommitLog) Append(ctx context.Context, record *Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if err := util.CheckFrameSize(len(data), c.config.MaxRecordSize); err != nil {
		return fmt.Errorf("record %d rejected: %w", record.Sequence, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return fmt.Errorf("commit log is closed")
	}

	n, err := util.WriteFrame(c.file, data)
	if err != nil {
		return fmt.Errorf("failed to write to commit log: %w", err)
	}
	c.size += int64(n)

	if c.config.SyncWrites {
		if err := c.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync commit log: %w", err)
		}
	}

	return nil
}

// Replay calls fn for every intact record in log order. A torn or corrupt
// tail is logged and truncated so later appends start on a frame boundary.
func (c *CommitLog) Replay(ctx context.Context, fn func(*Record) error) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return 0, fmt.Errorf("commit log is closed")
	}
	if _, err := c.file.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("failed to seek commit log: %w", err)
	}

	reader := bufio.NewReader(c.file)
	var offset int64
	count := 0

	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		payload, err := util.ReadFrame(reader)
		if err == io.EOF {
			break
		}
		if err != nil {
			if errors.Is(err, util.ErrCorruptFrame) || errors.Is(err, io.ErrUnexpectedEOF) {
				c.logger.Warn("Discarding damaged commit log tail",
					zap.String("path", c.path),
					zap.Int64("offset", offset),
					zap.Error(err))
				if err := c.truncateLocked(offset); err != nil {
					return count, err
				}
				break
			}
			return count, fmt.Errorf("failed to read commit log: %w", err)
		}

		var record Record
		if err := json.Unmarshal(payload, &record); err != nil {
			c.logger.Warn("Failed to unmarshal commit log record",
				zap.Int64("offset", offset),
				zap.Error(err))
			if err := c.truncateLocked(offset); err != nil {
				return count, err
			}
			break
		}

		if err := fn(&record); err != nil {
			return count, err
		}

		offset += int64(util.FrameHeaderSize + len(payload))
		count++
	}

	c.logger.Info("Commit log replay completed",
		zap.String("path", c.path),
		zap.Int("records", count))

	return count, nil
}

// Size returns the current size of the log in bytes
func (c *CommitLog) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Truncate empties the log. It is called once a snapshot covering every
// record has been durably written.
func (c *CommitLog) Truncate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncateLocked(0)
}

func (c *CommitLog) truncateLocked(size int64) error {
	if err := c.file.Truncate(size); err != nil {
		return fmt.Errorf("failed to truncate commit log: %w", err)
	}
	if _, err := c.file.Seek(size, io.SeekStart); err != nil {
		return fmt.Errorf("failed to seek commit log: %w", err)
	}
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync commit log: %w", err)
	}
	c.size = size
	return nil
}

// Close closes the commit log
func (c *CommitLog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}
