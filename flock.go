//go:build !windows

package flatkv

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Locker is an interface for a file-based lock.
type Locker interface {
	// Lock acquires the lock. It does not block; a held lock is an error.
	Lock() error
	// Unlock releases the lock.
	Unlock() error
}

// fileLocker guards the storage directory against a second process.
// The engine is strictly single-process; without this, two opens of
// the same path would clobber each other's tables and metadata.
type fileLocker struct {
	file *os.File
}

// newFileLocker creates the "LOCK" file inside the database directory.
func newFileLocker(dir string) (Locker, error) {
	lockPath := filepath.Join(dir, "LOCK")

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	return &fileLocker{file: file}, nil
}

// Lock acquires an exclusive flock on the file descriptor.
func (l *fileLocker) Lock() error {
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return ErrDBAlreadyOpen
	}
	if err != nil {
		return fmt.Errorf("failed to acquire file lock: %w", err)
	}
	return nil
}

// Unlock releases the flock and closes the file.
func (l *fileLocker) Unlock() error {
	if err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN); err != nil {
		return fmt.Errorf("failed to release file lock: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close lock file: %w", err)
	}
	return nil
}
