package table

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"

	"github.com/tkoivu/flatkv/bufferpool"
	"github.com/tkoivu/flatkv/compression"
	"github.com/tkoivu/flatkv/memtable"
)

// Writer serializes one flush unit into an index/data file pair. Add
// streams entries through buffered writers; Finish makes everything
// durable, data file first, so an index entry can never point at bytes
// that didn't reach the disk. Nothing about a table is visible to the
// metadata store until Finish returns nil.
type Writer struct {
	seq       uint64
	indexPath string
	dataPath  string
	indexFile *os.File
	dataFile  *os.File
	iw        *bufio.Writer
	dw        *bufio.Writer

	// Write offset of the next data frame.
	offset uint64

	compressor compression.Compressor
	logger     *slog.Logger
	scratch    []byte
	finished   bool
}

// NewWriter creates the file pair for sequence id seq under dir,
// truncating any partial leftovers from an earlier failed attempt with
// the same id.
func NewWriter(dir string, seq uint64, compressor compression.Compressor, logger *slog.Logger) (*Writer, error) {
	indexPath := filepath.Join(dir, IndexFileName(seq))
	dataPath := filepath.Join(dir, DataFileName(seq))

	indexFile, err := os.OpenFile(indexPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("create index file: %w", err)
	}
	dataFile, err := os.OpenFile(dataPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		indexFile.Close()
		return nil, fmt.Errorf("create data file: %w", err)
	}

	return &Writer{
		seq:        seq,
		indexPath:  indexPath,
		dataPath:   dataPath,
		indexFile:  indexFile,
		dataFile:   dataFile,
		iw:         bufio.NewWriter(indexFile),
		dw:         bufio.NewWriter(dataFile),
		compressor: compressor,
		logger:     logger,
		scratch:    bufferpool.Get(0),
	}, nil
}

// Add appends one entry. Live values get a data frame plus an index
// entry carrying its offset; tombstones get an index entry only.
func (w *Writer) Add(key []byte, e memtable.Entry) error {
	// Index entry: framed key, then the marker.
	w.scratch = AppendFrame(w.scratch[:0], key)
	if e.Tombstone {
		w.scratch = append(w.scratch, markerTombstone)
		if _, err := w.iw.Write(w.scratch); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}
		return nil
	}

	w.scratch = append(w.scratch, markerValue)
	w.scratch = binary.BigEndian.AppendUint64(w.scratch, w.offset)
	if _, err := w.iw.Write(w.scratch); err != nil {
		return fmt.Errorf("write index entry: %w", err)
	}

	// Data frame: length prefix, stored bytes, one byte codec tag.
	stored, tag, err := compression.CompressValue(w.compressor, w.scratch[:0], e.Value)
	if err != nil {
		return fmt.Errorf("compress value: %w", err)
	}
	var hdr [frameHeaderSize]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(stored)+1))
	if _, err := w.dw.Write(hdr[:]); err != nil {
		return fmt.Errorf("write data frame: %w", err)
	}
	if _, err := w.dw.Write(stored); err != nil {
		return fmt.Errorf("write data frame: %w", err)
	}
	if err := w.dw.WriteByte(tag); err != nil {
		return fmt.Errorf("write data frame: %w", err)
	}
	w.offset += frameHeaderSize + uint64(len(stored)) + 1

	return nil
}

// Finish flushes and fsyncs both files and the directory entry. The
// data file is synced before the index file so the offsets the index
// ends up holding are always backed by durable frames.
func (w *Writer) Finish() error {
	if err := w.dw.Flush(); err != nil {
		w.logger.Error("Failed to flush data file", "error", err, "table", w.dataPath)
		return err
	}
	if err := w.dataFile.Sync(); err != nil {
		w.logger.Error("Failed to sync data file", "error", err, "table", w.dataPath)
		return err
	}
	if err := w.iw.Flush(); err != nil {
		w.logger.Error("Failed to flush index file", "error", err, "table", w.indexPath)
		return err
	}
	if err := w.indexFile.Sync(); err != nil {
		w.logger.Error("Failed to sync index file", "error", err, "table", w.indexPath)
		return err
	}

	if err := w.dataFile.Close(); err != nil {
		return err
	}
	if err := w.indexFile.Close(); err != nil {
		return err
	}

	// Sync the directory so the new file entries survive a crash. File
	// contents being durable doesn't help if the names aren't.
	if err := syncDir(filepath.Dir(w.indexPath)); err != nil {
		return err
	}

	bufferpool.Put(w.scratch)
	w.scratch = nil
	w.finished = true
	return nil
}

// Abort closes and removes the partial file pair. Called when a flush
// attempt fails; the retry recreates both files from scratch.
func (w *Writer) Abort() {
	if w.finished {
		return
	}
	w.dataFile.Close()
	w.indexFile.Close()
	if err := os.Remove(w.dataPath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("Failed to remove partial data file", "error", err, "path", w.dataPath)
	}
	if err := os.Remove(w.indexPath); err != nil && !os.IsNotExist(err) {
		w.logger.Warn("Failed to remove partial index file", "error", err, "path", w.indexPath)
	}
	bufferpool.Put(w.scratch)
	w.scratch = nil
}

// WriteTable writes a whole flush unit as table seq. On error the
// partial files are already cleaned up and the caller may retry with
// the same sequence id.
func WriteTable(dir string, unit *memtable.FlushUnit, compressor compression.Compressor, logger *slog.Logger) error {
	w, err := NewWriter(dir, unit.Seq(), compressor, logger)
	if err != nil {
		return err
	}

	for key, e := range unit.All() {
		if err := w.Add([]byte(key), e); err != nil {
			w.Abort()
			return err
		}
	}

	if err := w.Finish(); err != nil {
		w.Abort()
		return err
	}
	return nil
}

// syncDir fsyncs a directory. Some filesystems don't support it and
// return EINVAL; that's ignored.
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := f.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		return err
	}
	return nil
}
