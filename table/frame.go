package table

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Every byte sequence in the on-disk format, keys in the index file
// and value records in the data file alike, is stored as a frame: an
// 8-byte big-endian length prefix followed by exactly that many raw
// bytes.

const frameHeaderSize = 8

// maxFrameLen caps the length prefix a decoder will accept. Anything
// larger means we're reading garbage, not a record.
const maxFrameLen = 1 << 31

// ErrTruncatedRecord is returned when a frame's length prefix or body
// can't be read in full: either the file was cut short or the bytes at
// this position aren't a frame at all.
var ErrTruncatedRecord = errors.New("truncated record")

// AppendFrame appends the framed encoding of p to dst and returns the
// extended slice.
func AppendFrame(dst, p []byte) []byte {
	dst = binary.BigEndian.AppendUint64(dst, uint64(len(p)))
	return append(dst, p...)
}

// ReadFrame reads the next frame from r into dst (grown as needed) and
// returns the frame body. A clean EOF before the length prefix is
// reported as io.EOF so callers can tell "end of file" from "file cut
// off mid-record", which is ErrTruncatedRecord.
func ReadFrame(r io.Reader, dst []byte) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("frame header: %w", ErrTruncatedRecord)
	}

	n := binary.BigEndian.Uint64(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame length %d: %w", n, ErrTruncatedRecord)
	}

	if uint64(cap(dst)) < n {
		dst = make([]byte, n)
	} else {
		dst = dst[:n]
	}
	if _, err := io.ReadFull(r, dst); err != nil {
		return nil, fmt.Errorf("frame body: %w", ErrTruncatedRecord)
	}
	return dst, nil
}

// ReadFrameAt reads one frame starting at offset off.
func ReadFrameAt(r io.ReaderAt, off int64, dst []byte) ([]byte, error) {
	var hdr [frameHeaderSize]byte
	if _, err := r.ReadAt(hdr[:], off); err != nil {
		return nil, fmt.Errorf("frame header at %d: %w", off, ErrTruncatedRecord)
	}

	n := binary.BigEndian.Uint64(hdr[:])
	if n > maxFrameLen {
		return nil, fmt.Errorf("frame length %d at %d: %w", n, off, ErrTruncatedRecord)
	}

	if uint64(cap(dst)) < n {
		dst = make([]byte, n)
	} else {
		dst = dst[:n]
	}
	if _, err := r.ReadAt(dst, off+frameHeaderSize); err != nil {
		return nil, fmt.Errorf("frame body at %d: %w", off, ErrTruncatedRecord)
	}
	return dst, nil
}
