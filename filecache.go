package flatkv

import (
	"container/list"
	"log/slog"
	"sync"

	"github.com/tkoivu/flatkv/table"
)

// FileCache keeps a bounded number of table reader pairs open so the
// read path doesn't pay two opens per table per lookup. Tables are
// immutable once written, so a cached reader never goes stale; the
// only thing the cache manages is file descriptors.
//
// Entries are reference counted. Eviction of a reader that a lookup is
// still scanning just unhooks it from the cache; the files close when
// the last holder releases it.
type FileCache struct {
	mu       sync.Mutex
	dir      string
	capacity int
	entries  map[uint64]*fileCacheEntry
	lru      *list.List // front = most recently used
	closed   bool
	logger   *slog.Logger
}

type fileCacheEntry struct {
	seq     uint64
	reader  *table.Reader
	element *list.Element
	refs    int
	evicted bool
}

// NewFileCache creates a cache for tables under dir holding at most
// capacity open reader pairs.
func NewFileCache(dir string, capacity int, logger *slog.Logger) *FileCache {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &FileCache{
		dir:      dir,
		capacity: max(1, capacity),
		entries:  make(map[uint64]*fileCacheEntry),
		lru:      list.New(),
		logger:   logger,
	}
}

// Get returns a pinned reader for table seq, opening it if it isn't
// cached. The caller must Release the returned CachedReader when the
// lookup is done.
func (fc *FileCache) Get(seq uint64) (*CachedReader, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.closed {
		return nil, ErrDBClosed
	}

	if e, ok := fc.entries[seq]; ok {
		e.refs++
		fc.lru.MoveToFront(e.element)
		return &CachedReader{Reader: e.reader, fc: fc, entry: e}, nil
	}

	reader, err := table.NewReader(fc.dir, seq)
	if err != nil {
		return nil, err
	}

	e := &fileCacheEntry{seq: seq, reader: reader, refs: 1}
	e.element = fc.lru.PushFront(e)
	fc.entries[seq] = e

	for len(fc.entries) > fc.capacity {
		if !fc.evictOldestLocked() {
			break // everything left is pinned
		}
	}

	return &CachedReader{Reader: reader, fc: fc, entry: e}, nil
}

// evictOldestLocked unhooks the least recently used unpinned entry.
// Returns false if every entry is pinned.
func (fc *FileCache) evictOldestLocked() bool {
	for el := fc.lru.Back(); el != nil; el = el.Prev() {
		e := el.Value.(*fileCacheEntry)
		if e.refs > 0 {
			continue
		}
		fc.lru.Remove(el)
		delete(fc.entries, e.seq)
		if err := e.reader.Close(); err != nil {
			fc.logger.Warn("Failed to close evicted table reader", "error", err, "seq", e.seq)
		}
		return true
	}
	return false
}

// Close closes every cached reader. Readers still pinned by in-flight
// lookups close when released.
func (fc *FileCache) Close() error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.closed {
		return nil
	}
	fc.closed = true

	var firstErr error
	for _, e := range fc.entries {
		if e.refs > 0 {
			e.evicted = true
			continue
		}
		if err := e.reader.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	fc.entries = nil
	fc.lru.Init()
	return firstErr
}

// CachedReader is a pinned cache entry. Reader stays valid until
// Release is called.
type CachedReader struct {
	Reader   *table.Reader
	fc       *FileCache
	entry    *fileCacheEntry
	released bool
}

// Release unpins the reader. Safe to call once per Get.
func (cr *CachedReader) Release() {
	if cr.released {
		return
	}
	cr.released = true

	cr.fc.mu.Lock()
	cr.entry.refs--
	closeNow := cr.entry.evicted && cr.entry.refs == 0
	cr.fc.mu.Unlock()

	if closeNow {
		if err := cr.entry.reader.Close(); err != nil {
			cr.fc.logger.Warn("Failed to close released table reader", "error", err, "seq", cr.entry.seq)
		}
	}
}
