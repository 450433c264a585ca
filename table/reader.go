package table

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tkoivu/flatkv/bufferpool"
	"github.com/tkoivu/flatkv/compression"
	"github.com/tkoivu/flatkv/memtable"
)

// Reader performs point lookups against a persisted table pair. Each
// lookup is a linear scan of the index file; tables are unordered on
// purpose, there is no index structure to binary search. All reads go
// through ReadAt, so a single Reader is safe for concurrent lookups.
type Reader struct {
	seq       uint64
	indexPath string
	dataPath  string
	index     *os.File
	data      *os.File
	indexSize int64
}

// NewReader opens the table pair for sequence id seq under dir.
func NewReader(dir string, seq uint64) (*Reader, error) {
	indexPath := filepath.Join(dir, IndexFileName(seq))
	dataPath := filepath.Join(dir, DataFileName(seq))

	index, err := os.Open(indexPath)
	if err != nil {
		return nil, fmt.Errorf("open index file: %w", err)
	}
	data, err := os.Open(dataPath)
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("open data file: %w", err)
	}
	stat, err := index.Stat()
	if err != nil {
		index.Close()
		data.Close()
		return nil, err
	}

	return &Reader{
		seq:       seq,
		indexPath: indexPath,
		dataPath:  dataPath,
		index:     index,
		data:      data,
		indexSize: stat.Size(),
	}, nil
}

// Seq returns the table's sequence id.
func (r *Reader) Seq() uint64 { return r.seq }

// Get scans the index for key. The bool reports whether the table has
// an entry for the key at all; a found tombstone comes back as
// Entry{Tombstone: true}. The returned value bytes are owned by the
// caller.
func (r *Reader) Get(key []byte) (memtable.Entry, bool, error) {
	br := bufio.NewReader(io.NewSectionReader(r.index, 0, r.indexSize))

	keyBuf := bufferpool.Get(0)
	defer func() { bufferpool.Put(keyBuf) }()

	for {
		stored, err := ReadFrame(br, keyBuf[:0])
		if err == io.EOF {
			return memtable.Entry{}, false, nil
		}
		if err != nil {
			return memtable.Entry{}, false, err
		}
		if cap(stored) > cap(keyBuf) {
			keyBuf = stored
		}

		marker, err := br.ReadByte()
		if err != nil {
			return memtable.Entry{}, false, fmt.Errorf("index marker: %w", ErrTruncatedRecord)
		}

		switch marker {
		case markerTombstone:
			if bytes.Equal(stored, key) {
				return memtable.Entry{Tombstone: true}, true, nil
			}

		case markerValue:
			var offBuf [offsetSize]byte
			if _, err := io.ReadFull(br, offBuf[:]); err != nil {
				return memtable.Entry{}, false, fmt.Errorf("index offset: %w", ErrTruncatedRecord)
			}
			if bytes.Equal(stored, key) {
				off := binary.BigEndian.Uint64(offBuf[:])
				value, err := r.readValue(int64(off))
				if err != nil {
					return memtable.Entry{}, false, err
				}
				return memtable.Entry{Value: value}, true, nil
			}

		default:
			return memtable.Entry{}, false, fmt.Errorf("index marker %d: %w", marker, ErrTruncatedRecord)
		}
	}
}

// readValue decodes the data frame at off and undoes any compression.
func (r *Reader) readValue(off int64) ([]byte, error) {
	buf := bufferpool.Get(0)
	defer func() { bufferpool.Put(buf) }()

	payload, err := ReadFrameAt(r.data, off, buf[:0])
	if err != nil {
		return nil, err
	}
	if cap(payload) > cap(buf) {
		buf = payload
	}
	if len(payload) < 1 {
		return nil, fmt.Errorf("empty data record at %d: %w", off, ErrTruncatedRecord)
	}

	tag := payload[len(payload)-1]
	value, err := compression.DecompressValue(nil, payload[:len(payload)-1], tag)
	if err != nil {
		return nil, fmt.Errorf("data record at %d: %w", off, err)
	}
	return value, nil
}

// Scan walks every index entry in file order, loading values as it
// goes. The key and value slices passed to fn are only valid for the
// duration of the call.
func (r *Reader) Scan(fn func(key []byte, e memtable.Entry) error) error {
	br := bufio.NewReader(io.NewSectionReader(r.index, 0, r.indexSize))

	for {
		key, err := ReadFrame(br, nil)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		marker, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("index marker: %w", ErrTruncatedRecord)
		}

		var e memtable.Entry
		switch marker {
		case markerTombstone:
			e.Tombstone = true

		case markerValue:
			var offBuf [offsetSize]byte
			if _, err := io.ReadFull(br, offBuf[:]); err != nil {
				return fmt.Errorf("index offset: %w", ErrTruncatedRecord)
			}
			value, err := r.readValue(int64(binary.BigEndian.Uint64(offBuf[:])))
			if err != nil {
				return err
			}
			e.Value = value

		default:
			return fmt.Errorf("index marker %d: %w", marker, ErrTruncatedRecord)
		}

		if err := fn(key, e); err != nil {
			return err
		}
	}
}

// Close releases the underlying file handles.
func (r *Reader) Close() error {
	ierr := r.index.Close()
	derr := r.data.Close()
	if ierr != nil {
		return ierr
	}
	return derr
}
