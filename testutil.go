package flatkv

import (
	"bytes"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"
)

// StateValidator tracks what the database should contain and checks it
// actually does.
type StateValidator struct {
	db        *DB
	t         *testing.T
	knownData map[string][]byte // everything that should exist
	deleted   map[string]bool   // everything that should read as missing
	mu        sync.RWMutex
}

// NewStateValidator creates a new state validator for a database
func NewStateValidator(t *testing.T, db *DB) *StateValidator {
	return &StateValidator{
		db:        db,
		t:         t,
		knownData: make(map[string][]byte),
		deleted:   make(map[string]bool),
	}
}

// TrackPut records a put operation for later validation
func (sv *StateValidator) TrackPut(key, value []byte) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	sv.knownData[string(key)] = bytes.Clone(value)
	delete(sv.deleted, string(key))
}

// TrackDelete records a delete operation for later validation
func (sv *StateValidator) TrackDelete(key []byte) {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	delete(sv.knownData, string(key))
	sv.deleted[string(key)] = true
}

// ValidateConsistency checks that every tracked key reads back with
// its last written value and every deleted key reads as missing.
func (sv *StateValidator) ValidateConsistency() {
	sv.mu.RLock()
	defer sv.mu.RUnlock()

	sv.t.Helper()

	for keyStr, expectedValue := range sv.knownData {
		actualValue, err := sv.db.Get([]byte(keyStr))
		if err != nil {
			sv.t.Errorf("Key %q should exist but got error: %v", keyStr, err)
			continue
		}
		if !bytes.Equal(expectedValue, actualValue) {
			sv.t.Errorf("Key %q: expected %q, got %q", keyStr, expectedValue, actualValue)
		}
	}

	for keyStr := range sv.deleted {
		if _, err := sv.db.Get([]byte(keyStr)); !errors.Is(err, ErrNotFound) {
			sv.t.Errorf("Key %q should be deleted, got err=%v", keyStr, err)
		}
	}
}

// RandomDataGenerator provides deterministic random data generation
type RandomDataGenerator struct {
	rng  *rand.Rand
	seed int64
}

// NewRandomDataGenerator creates a new deterministic random data generator
func NewRandomDataGenerator(seed int64) *RandomDataGenerator {
	return &RandomDataGenerator{
		rng:  rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// KeyValuePair represents a key-value pair for testing
type KeyValuePair struct {
	Key   []byte
	Value []byte
}

// GenerateKeyValuePairs creates deterministic key/value pairs
func (rdg *RandomDataGenerator) GenerateKeyValuePairs(count, keySize, valueSize int) []KeyValuePair {
	pairs := make([]KeyValuePair, count)

	for i := range count {
		key := fmt.Sprintf("key_%08d_%s", i, rdg.randomString(max(0, keySize-13)))
		pairs[i] = KeyValuePair{
			Key:   []byte(key),
			Value: []byte(rdg.randomString(valueSize)),
		}
	}

	return pairs
}

func (rdg *RandomDataGenerator) randomString(length int) string {
	if length <= 0 {
		return ""
	}
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rdg.rng.Intn(len(charset))]
	}
	return string(b)
}

// waitForTables polls until the database has flushed at least n tables
// or the deadline passes. Flushes are asynchronous; tests that force a
// promotion need this before poking at the files.
func waitForTables(t *testing.T, db *DB, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if db.NumTables() >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d tables, have %d", n, db.NumTables())
}
