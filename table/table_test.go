package table

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tkoivu/flatkv/compression"
	"github.com/tkoivu/flatkv/memtable"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// buildTable freezes a memtable filled by fill and writes it as table
// seq in dir.
func buildTable(t *testing.T, dir string, seq uint64, cfg compression.Config, fill func(*memtable.MemTable)) {
	t.Helper()

	mt := memtable.NewMemtable(1 << 20)
	fill(mt)

	c, err := compression.NewCompressor(cfg)
	if err != nil {
		t.Fatalf("NewCompressor: %v", err)
	}
	if err := WriteTable(dir, mt.Freeze(seq), c, testLogger()); err != nil {
		t.Fatalf("WriteTable: %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	buildTable(t, dir, 0, compression.DefaultConfig(), func(mt *memtable.MemTable) {
		mt.Put([]byte("alpha"), []byte("one"))
		mt.Put([]byte("beta"), []byte("two"))
		mt.Put([]byte("empty"), nil)
		mt.Delete([]byte("gone"))
	})

	r, err := NewReader(dir, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	if r.Seq() != 0 {
		t.Errorf("Seq() = %d", r.Seq())
	}

	e, ok, err := r.Get([]byte("alpha"))
	if err != nil || !ok {
		t.Fatalf("Get(alpha): ok=%v err=%v", ok, err)
	}
	if e.Tombstone || !bytes.Equal(e.Value, []byte("one")) {
		t.Errorf("Get(alpha) = %+v", e)
	}

	e, ok, err = r.Get([]byte("empty"))
	if err != nil || !ok {
		t.Fatalf("Get(empty): ok=%v err=%v", ok, err)
	}
	if len(e.Value) != 0 || e.Tombstone {
		t.Errorf("Get(empty) = %+v", e)
	}

	e, ok, err = r.Get([]byte("gone"))
	if err != nil || !ok {
		t.Fatalf("Get(gone): ok=%v err=%v", ok, err)
	}
	if !e.Tombstone {
		t.Error("expected a tombstone for 'gone'")
	}

	_, ok, err = r.Get([]byte("never"))
	if err != nil {
		t.Fatalf("Get(never): %v", err)
	}
	if ok {
		t.Error("'never' should not be found")
	}
}

func TestLargeValues(t *testing.T) {
	dir := t.TempDir()

	big := bytes.Repeat([]byte("0123456789abcdef"), 16*1024) // 256 KiB

	buildTable(t, dir, 3, compression.DefaultConfig(), func(mt *memtable.MemTable) {
		mt.Put([]byte("big"), big)
		mt.Put([]byte("small"), []byte("s"))
	})

	r, err := NewReader(dir, 3)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	e, ok, err := r.Get([]byte("big"))
	if err != nil || !ok {
		t.Fatalf("Get(big): ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(e.Value, big) {
		t.Error("large value mismatch")
	}
}

func TestCompressedTables(t *testing.T) {
	value := []byte(strings.Repeat("compressible payload ", 50))

	for _, cfg := range []compression.Config{
		compression.SnappyConfig(),
		compression.S2Config(),
		compression.ZstdBalancedConfig(),
	} {
		t.Run(cfg.Type.String(), func(t *testing.T) {
			dir := t.TempDir()

			buildTable(t, dir, 0, cfg, func(mt *memtable.MemTable) {
				mt.Put([]byte("k"), value)
			})

			// Reading requires no knowledge of the writer's config; the
			// trailer tag carries it.
			r, err := NewReader(dir, 0)
			if err != nil {
				t.Fatalf("NewReader: %v", err)
			}
			defer r.Close()

			e, ok, err := r.Get([]byte("k"))
			if err != nil || !ok {
				t.Fatalf("Get: ok=%v err=%v", ok, err)
			}
			if !bytes.Equal(e.Value, value) {
				t.Error("compressed round trip mismatch")
			}
		})
	}
}

func TestScan(t *testing.T) {
	dir := t.TempDir()

	buildTable(t, dir, 1, compression.DefaultConfig(), func(mt *memtable.MemTable) {
		for i := range 20 {
			mt.Put(fmt.Appendf(nil, "key-%02d", i), fmt.Appendf(nil, "value-%02d", i))
		}
		mt.Delete([]byte("dead"))
	})

	r, err := NewReader(dir, 1)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	values := 0
	tombstones := 0
	err = r.Scan(func(key []byte, e memtable.Entry) error {
		if e.Tombstone {
			tombstones++
			return nil
		}
		want := append([]byte("value-"), key[len("key-"):]...)
		if !bytes.Equal(e.Value, want) {
			t.Errorf("key %q: got %q, want %q", key, e.Value, want)
		}
		values++
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if values != 20 || tombstones != 1 {
		t.Errorf("scanned %d values and %d tombstones", values, tombstones)
	}
}

func TestTruncatedIndexSurfacesError(t *testing.T) {
	dir := t.TempDir()

	buildTable(t, dir, 0, compression.DefaultConfig(), func(mt *memtable.MemTable) {
		mt.Put([]byte("a-long-enough-key"), []byte("value"))
	})

	// Chop the tail off the index file.
	path := filepath.Join(dir, IndexFileName(0))
	stat, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, stat.Size()-5); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(dir, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	// The query key isn't in the intact prefix, so the scan runs into
	// the cut and must report corruption, not "not found".
	_, _, err = r.Get([]byte("zzz"))
	if !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("expected ErrTruncatedRecord, got %v", err)
	}
}

func TestTruncatedDataSurfacesError(t *testing.T) {
	dir := t.TempDir()

	buildTable(t, dir, 0, compression.DefaultConfig(), func(mt *memtable.MemTable) {
		mt.Put([]byte("k"), bytes.Repeat([]byte("v"), 1000))
	})

	path := filepath.Join(dir, DataFileName(0))
	if err := os.Truncate(path, 100); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(dir, 0)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	_, _, err = r.Get([]byte("k"))
	if !errors.Is(err, ErrTruncatedRecord) {
		t.Errorf("expected ErrTruncatedRecord, got %v", err)
	}
}

func TestAbortRemovesPartialFiles(t *testing.T) {
	dir := t.TempDir()

	c, _ := compression.NewCompressor(compression.DefaultConfig())
	w, err := NewWriter(dir, 5, c, testLogger())
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if err := w.Add([]byte("k"), memtable.Entry{Value: []byte("v")}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	w.Abort()

	for _, name := range []string{IndexFileName(5), DataFileName(5)} {
		if _, err := os.Stat(filepath.Join(dir, name)); !os.IsNotExist(err) {
			t.Errorf("%s should have been removed, stat err=%v", name, err)
		}
	}
}

func TestFileNames(t *testing.T) {
	if IndexFileName(7) != "000007.ix" {
		t.Errorf("IndexFileName(7) = %q", IndexFileName(7))
	}
	if DataFileName(123456) != "123456.dt" {
		t.Errorf("DataFileName(123456) = %q", DataFileName(123456))
	}
}

func TestSyncDir(t *testing.T) {
	if err := syncDir(t.TempDir()); err != nil {
		t.Errorf("syncDir on a plain directory: %v", err)
	}
	if err := syncDir(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("syncDir on a missing directory should fail")
	}
}
