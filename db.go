// Package flatkv is an embedded log-structured key-value store. Writes
// land in an in-memory buffer; full buffers are frozen and persisted in
// the background as immutable index/data file pairs. Reads reconcile
// the buffer, any frozen-but-unflushed buffers, and the on-disk tables
// newest to oldest. There is no compaction: every flushed table lives
// forever. That keeps the write path a straight append and makes reads
// pay a linear scan per table, a deliberate trade for simplicity.
//
// Durability boundary: data still in the write buffer is lost on
// crash. A key is durable once its table and the metadata record are
// on disk, which Close guarantees for everything buffered before it.
package flatkv

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/tkoivu/flatkv/compression"
	"github.com/tkoivu/flatkv/memtable"
)

// Engine states. Gets are still served while Closing so readers aren't
// cut off mid-drain; writes are not.
const (
	dbOpen int32 = iota
	dbClosing
	dbClosed
)

// DB is a database handle. Safe for concurrent use by multiple
// goroutines; writers are serialized through the engine's mutex.
//
// DB is a thin wrapper over the engine state so that a dropped handle
// can be garbage collected: the background flusher holds the inner
// engine, never the handle, which lets the handle's finalizer run and
// close the database implicitly.
type DB struct {
	e *engine
}

// engine holds the actual database state shared with the flusher.
type engine struct {
	options *Options
	path    string

	// mu guards the fields below. The buffer swap on promotion, queue
	// changes, and table registration all happen under the write lock,
	// so a reader's snapshot is never half-swapped.
	mu        sync.RWMutex
	memtable  *memtable.MemTable
	queue     []*memtable.FlushUnit // frozen buffers, oldest first
	numTables uint64                // durable tables, ids 0..numTables-1
	nextSeq   uint64                // id reserved for the next frozen buffer
	flushErr  error                 // permanent flush failure, if any

	state atomic.Int32

	// Coordination with the single background flusher.
	flushWg      sync.WaitGroup
	flushTrigger *sync.Cond // something entered the queue, or we're closing
	flushDone    *sync.Cond // something left the queue

	manifest   *Manifest
	fileCache  *FileCache
	compressor compression.Compressor
	flock      Locker
	errCh      chan error
	logger     *slog.Logger
}

// Open opens (or creates) the database at opts.Path and starts the
// background flusher. The directory is flock-guarded; a second open of
// the same path from any process fails with ErrDBAlreadyOpen.
func Open(opts *Options) (*DB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	logger := opts.Logger
	if logger == nil {
		logger = DefaultLogger()
	}

	if err := opts.Validate(); err != nil {
		logger.Error("Options did not validate", "error", err)
		return nil, err
	}

	dbExists := false
	if _, err := os.Stat(opts.Path); err == nil {
		dbExists = true
	}

	if opts.ErrorIfExists && dbExists {
		err := errors.New("database already exists")
		logger.Error("database already exists at path", "error", err, "path", opts.Path)
		return nil, err
	}
	if !opts.CreateIfMissing && !dbExists {
		err := errors.New("database does not exist")
		logger.Error("database does not exist at path", "error", err, "path", opts.Path)
		return nil, err
	}

	if err := os.MkdirAll(opts.Path, 0755); err != nil {
		logger.Error("Failed to create database directory", "error", err, "path", opts.Path)
		return nil, err
	}

	flock, err := newFileLocker(opts.Path)
	if err != nil {
		return nil, err
	}
	if err := flock.Lock(); err != nil {
		return nil, err
	}

	compressor, err := compression.NewCompressor(opts.Compression)
	if err != nil {
		flock.Unlock()
		return nil, err
	}

	e := &engine{
		options:    opts,
		path:       opts.Path,
		logger:     logger,
		manifest:   NewManifest(opts.Path, logger),
		compressor: compressor,
		flock:      flock,
		errCh:      make(chan error, 16),
	}
	e.flushTrigger = sync.NewCond(&e.mu)
	e.flushDone = sync.NewCond(&e.mu)
	e.fileCache = NewFileCache(opts.Path, opts.MaxOpenTables, logger)

	// Recover the set of existing tables from the metadata record.
	// Absent metadata means a fresh database with zero tables.
	count, err := e.manifest.Load()
	if err != nil {
		flock.Unlock()
		return nil, err
	}
	e.numTables = count
	e.nextSeq = count
	e.memtable = memtable.NewMemtable(opts.WriteBufferSize)
	e.state.Store(dbOpen)

	e.flushWg.Add(1)
	go e.backgroundFlusher()

	db := &DB{e: e}

	// Close on garbage collection if the caller loses the handle
	// without calling Close. Same code path, idempotent either way.
	runtime.SetFinalizer(db, func(d *DB) {
		if err := d.e.close(); err != nil {
			d.e.logger.Error("Implicit close failed", "error", err, "path", d.e.path)
		}
	})

	logger.Info("Opened database", "path", opts.Path, "tables", count)
	return db, nil
}

// Put inserts or overwrites a key-value pair.
func (db *DB) Put(key, value []byte) error {
	return db.e.write(key, value, false)
}

// Delete removes a key by recording a tombstone. The tombstone shadows
// every older layer, so the key reads as missing even if an old table
// still holds a value for it.
func (db *DB) Delete(key []byte) error {
	return db.e.write(key, nil, true)
}

// Get retrieves the value for a key. Returns ErrNotFound for keys that
// were never written or whose latest layer is a tombstone.
func (db *DB) Get(key []byte) ([]byte, error) {
	return db.e.get(key)
}

// Close flushes the remaining buffer, waits for the flush queue to
// drain, and releases everything. Blocks proportionally to the pending
// data volume. Idempotent: later calls (and the GC-driven implicit
// close) are no-ops.
func (db *DB) Close() error {
	runtime.SetFinalizer(db, nil)
	return db.e.close()
}

// Errors exposes background flush failures. Each failed write attempt
// produces one error. The channel is closed when the database closes.
func (db *DB) Errors() <-chan error {
	return db.e.errCh
}

// NumTables reports how many durable on-disk tables the database has.
// Mostly useful for tests and tooling.
func (db *DB) NumTables() uint64 {
	db.e.mu.RLock()
	defer db.e.mu.RUnlock()
	return db.e.numTables
}

// promote freezes the active buffer into the flush queue and installs
// a fresh one. Caller must hold e.mu. The frozen unit takes the next
// reserved sequence id; the swap is a pointer exchange, nothing is
// copied.
func (e *engine) promote() {
	unit := e.memtable.Freeze(e.nextSeq)
	e.nextSeq++
	e.queue = append(e.queue, unit)
	e.memtable = memtable.NewMemtable(e.options.WriteBufferSize)
	e.flushTrigger.Signal()
}

// write applies one mutation to the active buffer and rotates it when
// it crosses the size threshold. Put and Delete are the same operation
// with a different payload.
func (e *engine) write(key, value []byte, tombstone bool) error {
	if len(key) == 0 {
		return ErrInvalidKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// State is checked under the lock: close flips to Closing before
	// its final promotion, so a write that sneaks in while the drain
	// releases the lock must be rejected, not landed in a buffer
	// nobody will flush.
	if e.state.Load() != dbOpen {
		return ErrDBClosed
	}
	if e.flushErr != nil {
		return e.flushErr
	}

	if tombstone {
		e.memtable.Delete(key)
	} else {
		e.memtable.Put(key, value)
	}

	// Threshold check after the insert: an oversized single write is
	// buffered first and triggers promotion on its way out.
	if e.memtable.Size() >= e.options.WriteBufferSize {
		e.promote()
	}
	return nil
}

// get checks the layers in recency order: active buffer, then frozen
// buffers newest first, then on-disk tables newest first. The first
// layer that knows the key wins.
func (e *engine) get(key []byte) ([]byte, error) {
	if len(key) == 0 {
		return nil, ErrInvalidKey
	}
	if e.state.Load() == dbClosed {
		return nil, ErrDBClosed
	}

	// Snapshot the layer set. Holding the read lock just for the
	// snapshot keeps buffer swaps cheap and file I/O unlocked.
	e.mu.RLock()
	mt := e.memtable
	pending := make([]*memtable.FlushUnit, len(e.queue))
	copy(pending, e.queue)
	numTables := e.numTables
	e.mu.RUnlock()

	if entry, ok := mt.Get(key); ok {
		return entryValue(entry)
	}

	for i := len(pending) - 1; i >= 0; i-- {
		if entry, ok := pending[i].Get(key); ok {
			return entryValue(entry)
		}
	}

	for seq := numTables; seq > 0; seq-- {
		cr, err := e.fileCache.Get(seq - 1)
		if err != nil {
			return nil, err
		}
		entry, ok, err := cr.Reader.Get(key)
		cr.Release()
		if err != nil {
			return nil, fmt.Errorf("table %d: %w", seq-1, err)
		}
		if ok {
			return entryValue(entry)
		}
	}

	return nil, ErrNotFound
}

// entryValue translates a layer hit into the public Get result.
func entryValue(e memtable.Entry) ([]byte, error) {
	if e.Tombstone {
		return nil, ErrNotFound
	}
	return bytes.Clone(e.Value), nil
}

func (e *engine) close() error {
	if !e.state.CompareAndSwap(dbOpen, dbClosing) {
		return nil
	}

	// Freeze whatever is left in the active buffer so it reaches disk.
	e.mu.Lock()
	if e.memtable.Len() > 0 {
		e.promote()
	}
	// Drain: every queued unit must become a durable table before we
	// stop, unless the flusher already failed for good.
	for len(e.queue) > 0 && e.flushErr == nil {
		e.flushDone.Wait()
	}
	err := e.flushErr
	e.mu.Unlock()

	// Let the flusher observe the state change and exit.
	e.state.Store(dbClosed)
	e.mu.Lock()
	e.flushTrigger.Signal()
	e.mu.Unlock()
	e.flushWg.Wait()
	close(e.errCh)

	if cerr := e.fileCache.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if lerr := e.flock.Unlock(); lerr != nil && err == nil {
		err = lerr
	}

	e.logger.Info("Closed database", "path", e.path)
	return err
}
