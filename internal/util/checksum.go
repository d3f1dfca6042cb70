package util

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
)

// Frames are the unit of on-disk persistence for the commit log and snapshot
// files. Layout (little-endian):
//
//	[payload length u32][crc32 of payload u32][payload]
const FrameHeaderSize = 8

// MaxFrameSize bounds a single payload so a corrupted length cannot trigger a
// huge allocation during recovery.
const MaxFrameSize = 256 << 20

var crc32Table = crc32.MakeTable(crc32.IEEE)

// ErrCorruptFrame is returned when a frame header or checksum does not match.
var ErrCorruptFrame = errors.New("corrupt frame")

// ErrFrameTooLarge is returned when a payload exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// CheckFrameSize fails when a payload of n bytes could not be read back.
func CheckFrameSize(n, limit int) error {
	if limit <= 0 || limit > MaxFrameSize {
		limit = MaxFrameSize
	}
	if n > limit {
		return fmt.Errorf("%w: payload of %d bytes exceeds maximum %d", ErrFrameTooLarge, n, limit)
	}
	return nil
}

// ComputeChecksum computes a CRC32 (IEEE) checksum for the given data
func ComputeChecksum(data []byte) uint32 {
	return crc32.Checksum(data, crc32Table)
}

// ValidateChecksum validates data against an expected checksum
func ValidateChecksum(data []byte, expected uint32) bool {
	return ComputeChecksum(data) == expected
}

// EncodeFrame returns payload wrapped in a frame header.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(frame[4:8], ComputeChecksum(payload))
	copy(frame[FrameHeaderSize:], payload)
	return frame
}

// WriteFrame writes one frame to w and returns the number of bytes written.
// Payloads over MaxFrameSize are rejected, since ReadFrame would treat them
// as corrupt.
func WriteFrame(w io.Writer, payload []byte) (int, error) {
	if err := CheckFrameSize(len(payload), MaxFrameSize); err != nil {
		return 0, err
	}
	return w.Write(EncodeFrame(payload))
}

// ReadFrame reads the next frame from r.
//
// It returns io.EOF on a clean end of stream, io.ErrUnexpectedEOF when the
// stream ends inside a frame (a torn write) and ErrCorruptFrame when the
// checksum does not match.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.LittleEndian.Uint32(header[0:4])
	checksum := binary.LittleEndian.Uint32(header[4:8])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame size %d exceeds maximum %d", ErrCorruptFrame, size, MaxFrameSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	if !ValidateChecksum(payload, checksum) {
		return nil, fmt.Errorf("%w: expected checksum %d, got %d", ErrCorruptFrame, checksum, ComputeChecksum(payload))
	}

	return payload, nil
}
