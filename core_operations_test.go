package flatkv

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
)

// TestBasicOperations covers the basic Put/Get/Delete cycle that every
// KV store should support. This is the smoke test - if this fails,
// everything else is broken.
func TestBasicOperations(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	key := []byte("test-key")
	value := []byte("test-value")

	if err := db.Put(key, value); err != nil {
		t.Fatalf("Put: %v", err)
	}

	retrievedValue, err := db.Get(key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(value, retrievedValue) {
		t.Errorf("Expected %s, got %s", string(value), string(retrievedValue))
	}

	// Non-existent key on a fresh database.
	if _, err := db.Get([]byte("non-existent")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	if err := db.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after deletion, got %v", err)
	}
}

// TestMultipleOperations verifies that we can store multiple keys and
// that updates replace older values.
func TestMultipleOperations(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	testData := map[string]string{
		"key1": "value1",
		"key2": "value2",
		"key3": "value3",
	}

	for k, v := range testData {
		if err := db.Put([]byte(k), []byte(v)); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}

	for k, v := range testData {
		got, err := db.Get([]byte(k))
		if err != nil {
			t.Fatalf("Get(%s): %v", k, err)
		}
		if !bytes.Equal(got, []byte(v)) {
			t.Errorf("Key %s: expected %s, got %s", k, v, got)
		}
	}

	// Updates win.
	if err := db.Put([]byte("key2"), []byte("updated")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("key2"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("updated")) {
		t.Errorf("Expected updated value, got %s", got)
	}
}

// TestLayerPrecedence writes a key, forces it into an on-disk table,
// then overwrites it in the new active buffer. The newer layer must
// shadow the persisted one.
func TestLayerPrecedence(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	opts.WriteBufferSize = 256
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Filler writes push the buffer over the threshold, carrying k=v1
	// into table 0.
	for i := range 20 {
		if err := db.Put(fmt.Appendf(nil, "filler-%d", i), bytes.Repeat([]byte("x"), 32)); err != nil {
			t.Fatalf("Put filler: %v", err)
		}
	}
	waitForTables(t, db, 1)

	if err := db.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Errorf("Expected v2 from the active buffer, got %s", got)
	}
}

// TestTombstoneShadowsTable deletes a key whose value already lives in
// a flushed table. The tombstone must win both from the buffer and
// after it gets flushed itself.
func TestTombstoneShadowsTable(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	opts.WriteBufferSize = 256
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("doomed"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := range 20 {
		if err := db.Put(fmt.Appendf(nil, "filler-%d", i), bytes.Repeat([]byte("x"), 32)); err != nil {
			t.Fatalf("Put filler: %v", err)
		}
	}
	waitForTables(t, db, 1)

	if err := db.Delete([]byte("doomed")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("doomed")); !errors.Is(err, ErrNotFound) {
		t.Errorf("tombstone in buffer should shadow the table, got %v", err)
	}

	// Push the tombstone into its own table and check again.
	n := db.NumTables()
	for i := range 20 {
		if err := db.Put(fmt.Appendf(nil, "filler2-%d", i), bytes.Repeat([]byte("y"), 32)); err != nil {
			t.Fatalf("Put filler: %v", err)
		}
	}
	waitForTables(t, db, n+1)

	if _, err := db.Get([]byte("doomed")); !errors.Is(err, ErrNotFound) {
		t.Errorf("flushed tombstone should still shadow the older table, got %v", err)
	}
}

func TestEmptyKeyRejected(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put(nil, []byte("v")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Put(nil key): expected ErrInvalidKey, got %v", err)
	}
	if _, err := db.Get([]byte{}); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Get(empty key): expected ErrInvalidKey, got %v", err)
	}
	if err := db.Delete(nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("Delete(nil key): expected ErrInvalidKey, got %v", err)
	}
}

func TestEmptyValueAllowed(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), nil); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty value, got %q", got)
	}
}

// TestOperationsAfterClose checks the Closed state rejections.
func TestOperationsAfterClose(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := db.Put([]byte("k2"), []byte("v")); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Put after close: expected ErrDBClosed, got %v", err)
	}
	if err := db.Delete([]byte("k")); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Delete after close: expected ErrDBClosed, got %v", err)
	}
	if _, err := db.Get([]byte("k")); !errors.Is(err, ErrDBClosed) {
		t.Errorf("Get after close: expected ErrDBClosed, got %v", err)
	}
}

// TestRandomizedWorkload runs a deterministic random mix of operations
// against a small buffer so the data keeps spilling to disk, and
// validates the visible state along the way.
func TestRandomizedWorkload(t *testing.T) {
	opts := DefaultOptions()
	opts.Path = t.TempDir()
	opts.WriteBufferSize = 1 * KiB
	db, err := Open(opts)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	sv := NewStateValidator(t, db)
	gen := NewRandomDataGenerator(42)
	pairs := gen.GenerateKeyValuePairs(500, 20, 50)

	for i, p := range pairs {
		if err := db.Put(p.Key, p.Value); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
		sv.TrackPut(p.Key, p.Value)

		// Delete every seventh key right after writing it.
		if i%7 == 0 {
			if err := db.Delete(p.Key); err != nil {
				t.Fatalf("Delete %d: %v", i, err)
			}
			sv.TrackDelete(p.Key)
		}

		if i%100 == 99 {
			sv.ValidateConsistency()
		}
	}

	sv.ValidateConsistency()
}
