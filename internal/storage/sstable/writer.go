package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"

	"github.com/devrev/pairdb/index-node/internal/util"
	"github.com/oarkflow/json"
)

const formatVersion = 1

// Header is the first frame of every table. Sequence is the last commit
// sequence whose effects are contained in the table.
type Header struct {
	Version  int    `json:"version"`
	Sequence uint64 `json:"sequence"`
}

// SSTableWriter writes a sorted run of key/value entries to a table file.
//
// The table is written to "<path>.tmp" and only renamed to path by Finalize,
// so a crash mid-write never leaves a partial table behind.
type SSTableWriter struct {
	dataFile *os.File
	buf      *bufio.Writer
	path     string
	offset   int64
	count    int
	lastKey  []byte
}

// NewSSTableWriter creates a new table writer for the given commit sequence
func NewSSTableWriter(path string, sequence uint64) (*SSTableWriter, error) {
	dataFile, err := os.Create(path + ".tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create data file: %w", err)
	}

	w := &SSTableWriter{
		dataFile: dataFile,
		buf:      bufio.NewWriterSize(dataFile, 64<<10),
		path:     path,
	}

	header, err := json.Marshal(&Header{Version: formatVersion, Sequence: sequence})
	if err != nil {
		w.abort()
		return nil, fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := w.writeFrame(header); err != nil {
		w.abort()
		return nil, err
	}

	return w, nil
}

// Write appends an entry. Keys must be written in strictly ascending order.
func (w *SSTableWriter) Write(key, value []byte) error {
	if w.count > 0 && string(key) <= string(w.lastKey) {
		return fmt.Errorf("key %q written out of order after %q", key, w.lastKey)
	}

	payload := make([]byte, 4+len(key)+len(value))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(key)))
	copy(payload[4:], key)
	copy(payload[4+len(key):], value)

	if err := w.writeFrame(payload); err != nil {
		return err
	}

	w.lastKey = append(w.lastKey[:0], key...)
	w.count++
	return nil
}

func (w *SSTableWriter) writeFrame(payload []byte) error {
	n, err := util.WriteFrame(w.buf, payload)
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	w.offset += int64(n)
	return nil
}

// Finalize flushes and syncs the table, then atomically moves it into place
func (w *SSTableWriter) Finalize() error {
	if err := w.buf.Flush(); err != nil {
		w.abort()
		return fmt.Errorf("failed to flush data file: %w", err)
	}
	if err := w.dataFile.Sync(); err != nil {
		w.abort()
		return fmt.Errorf("failed to sync data file: %w", err)
	}
	if err := w.dataFile.Close(); err != nil {
		os.Remove(w.path + ".tmp")
		return fmt.Errorf("failed to close data file: %w", err)
	}
	if err := os.Rename(w.path+".tmp", w.path); err != nil {
		os.Remove(w.path + ".tmp")
		return fmt.Errorf("failed to install table: %w", err)
	}
	return nil
}

// Abort discards a table that will not be finalized
func (w *SSTableWriter) Abort() {
	w.abort()
}

func (w *SSTableWriter) abort() {
	w.dataFile.Close()
	os.Remove(w.path + ".tmp")
}

// Size returns the number of bytes written so far
func (w *SSTableWriter) Size() int64 {
	return w.offset
}

// Count returns the number of entries written so far
func (w *SSTableWriter) Count() int {
	return w.count
}
