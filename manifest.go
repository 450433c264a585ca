package flatkv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"syscall"
)

// MetadataFileName is the name of the metadata record inside the
// storage directory.
const MetadataFileName = "METADATA"

// Manifest is the metadata store: it durably tracks how many on-disk
// tables exist. Tables are numbered 0..count-1, so the count is the
// whole story; there are no gaps and no other ordering to record.
//
// The record is 8 big-endian bytes. Commit goes through a temp file
// and an atomic rename, so the METADATA file either holds the old
// count or the new one, never a torn write. The flusher only commits
// after a table's files are fully synced, which means metadata can
// never reference a partially written table.
type Manifest struct {
	dir    string
	logger *slog.Logger
}

// NewManifest returns a manifest rooted at dir. Nothing is touched on
// disk until Load or Commit.
func NewManifest(dir string, logger *slog.Logger) *Manifest {
	return &Manifest{dir: dir, logger: logger}
}

func (m *Manifest) path() string {
	return filepath.Join(m.dir, MetadataFileName)
}

// Load reads the table count. A missing METADATA file means a fresh
// database with zero tables.
func (m *Manifest) Load() (uint64, error) {
	data, err := os.ReadFile(m.path())
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read metadata: %w", err)
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("metadata record is %d bytes, want 8: %w", len(data), ErrCorruption)
	}
	return binary.BigEndian.Uint64(data), nil
}

// Commit durably records a new table count.
func (m *Manifest) Commit(count uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], count)

	tmp := m.path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("create metadata temp: %w", err)
	}
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, m.path()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("install metadata: %w", err)
	}
	if err := syncDir(m.dir); err != nil {
		return err
	}

	m.logger.Debug("Committed metadata", "tables", count)
	return nil
}

// syncDir fsyncs a directory so renames and new file entries survive a
// crash. Filesystems that don't support it return EINVAL, which is
// ignored.
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
