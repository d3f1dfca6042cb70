package sstable

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/devrev/pairdb/index-node/internal/util"
	"github.com/oarkflow/json"
)

// SSTableReader streams the entries of a table in key order
type SSTableReader struct {
	dataFile *os.File
	buf      *bufio.Reader
	header   Header
}

// NewSSTableReader opens a table and validates its header
func NewSSTableReader(path string) (*SSTableReader, error) {
	dataFile, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	r := &SSTableReader{
		dataFile: dataFile,
		buf:      bufio.NewReaderSize(dataFile, 64<<10),
	}

	payload, err := util.ReadFrame(r.buf)
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if err := json.Unmarshal(payload, &r.header); err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("failed to unmarshal header: %w", err)
	}
	if r.header.Version != formatVersion {
		dataFile.Close()
		return nil, fmt.Errorf("unsupported table version %d", r.header.Version)
	}

	return r, nil
}

// Sequence returns the commit sequence covered by the table
func (r *SSTableReader) Sequence() uint64 {
	return r.header.Sequence
}

// ForEach calls fn for every entry in key order. Any damaged frame is an
// error: tables are installed atomically so they are never legitimately torn.
func (r *SSTableReader) ForEach(fn func(key, value []byte) error) error {
	for {
		payload, err := util.ReadFrame(r.buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read entry: %w", err)
		}

		if len(payload) < 4 {
			return fmt.Errorf("entry too short: %d bytes", len(payload))
		}
		keyLen := binary.LittleEndian.Uint32(payload[0:4])
		if uint64(keyLen) > uint64(len(payload)-4) {
			return fmt.Errorf("entry key length %d exceeds entry size %d", keyLen, len(payload))
		}

		key := payload[4 : 4+keyLen]
		value := payload[4+keyLen:]
		if err := fn(key, value); err != nil {
			return err
		}
	}
}

// Close closes the reader
func (r *SSTableReader) Close() error {
	return r.dataFile.Close()
}
