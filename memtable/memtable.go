package memtable

import (
	"bytes"
	"iter"
	"maps"
	"sync"
)

// Entry is a single memtable slot: either a live value or a tombstone.
// Tombstones have to be kept as real entries so a delete can shadow an
// older value living in a flushed table.
type Entry struct {
	Value     []byte
	Tombstone bool
}

// MemTable is the active write buffer. It's an unordered map guarded by
// a RWMutex. The engine never iterates it in key order; tables on disk
// are unordered too, so there's nothing to gain from a sorted structure
// here.
type MemTable struct {
	mu      sync.RWMutex
	entries map[string]Entry
	size    int // cumulative bytes of keys + values
}

// NewMemtable creates an empty write buffer. writeBufferSize is only a
// capacity hint for the backing map.
func NewMemtable(writeBufferSize int) *MemTable {
	// Assume ~64 bytes per key+value pair for the initial sizing.
	return &MemTable{
		entries: make(map[string]Entry, max(16, writeBufferSize/64)),
	}
}

// Put inserts or overwrites a key. Key and value bytes are copied, so
// the caller is free to reuse its slices.
func (mt *MemTable) Put(key, value []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	k := string(key)
	if old, ok := mt.entries[k]; ok {
		mt.size -= len(old.Value)
	} else {
		mt.size += len(key)
	}
	mt.size += len(value)
	mt.entries[k] = Entry{Value: bytes.Clone(value)}
}

// Delete records a tombstone for the key. The entry stays in the table;
// it has to reach disk so it can shadow older layers.
func (mt *MemTable) Delete(key []byte) {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	k := string(key)
	if old, ok := mt.entries[k]; ok {
		mt.size -= len(old.Value)
	} else {
		mt.size += len(key)
	}
	mt.entries[k] = Entry{Tombstone: true}
}

// Get looks the key up in this buffer only. The second return reports
// whether the buffer holds any entry for the key, tombstone included.
func (mt *MemTable) Get(key []byte) (Entry, bool) {
	mt.mu.RLock()
	defer mt.mu.RUnlock()

	e, ok := mt.entries[string(key)]
	return e, ok
}

// Size returns the cumulative byte size of stored keys and values. The
// engine compares this against Options.WriteBufferSize to decide when
// to rotate the buffer.
func (mt *MemTable) Size() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return mt.size
}

// Len returns the number of entries, tombstones included.
func (mt *MemTable) Len() int {
	mt.mu.RLock()
	defer mt.mu.RUnlock()
	return len(mt.entries)
}

// Freeze wraps the buffer's contents in an immutable FlushUnit tagged
// with the given sequence id. This is the only way data leaves a
// memtable. The unit shares the entry map rather than stealing it: a
// reader that picked up this memtable just before the engine swapped in
// a fresh one must keep seeing every entry, and no writer can touch the
// old map once the swap is done. The memtable must not be written to
// afterwards.
func (mt *MemTable) Freeze(seq uint64) *FlushUnit {
	mt.mu.Lock()
	defer mt.mu.Unlock()

	return &FlushUnit{seq: seq, entries: mt.entries, size: mt.size}
}

// FlushUnit is a frozen memtable waiting to be written out as an
// on-disk table. It is immutable: the flusher reads it exactly once and
// concurrent Gets may scan it while it sits in the queue.
type FlushUnit struct {
	seq     uint64
	entries map[string]Entry
	size    int
}

// Seq returns the sequence id reserved for this unit at promotion time.
// The on-disk table produced from it carries the same id, including
// across flush retries.
func (fu *FlushUnit) Seq() uint64 { return fu.seq }

// Len returns the number of entries in the unit.
func (fu *FlushUnit) Len() int { return len(fu.entries) }

// Size returns the byte size the unit had as a memtable.
func (fu *FlushUnit) Size() int { return fu.size }

// Get looks the key up in this unit only.
func (fu *FlushUnit) Get(key []byte) (Entry, bool) {
	e, ok := fu.entries[string(key)]
	return e, ok
}

// All iterates the unit's entries in map order. Table files are
// unordered, so no sorting happens on the way out.
func (fu *FlushUnit) All() iter.Seq2[string, Entry] {
	return maps.All(fu.entries)
}
