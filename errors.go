package flatkv

import (
	"errors"

	"github.com/tkoivu/flatkv/table"
)

// Error definitions for the database.
// Standard Go practice - define all your errors in one place so they're easy to find.
var (
	// ErrNotFound is returned when a key is not found, or was deleted.
	ErrNotFound = errors.New("key not found")

	// ErrDBClosed is returned when operating on a closed database
	ErrDBClosed = errors.New("database is closed")

	// ErrDBAlreadyOpen is returned when attempting to open a database that is already locked by another process
	ErrDBAlreadyOpen = errors.New("database is already open by another process")

	// ErrInvalidKey is returned when a key is invalid
	ErrInvalidKey = errors.New("invalid key")

	// ErrCorruption is returned when a malformed frame is hit while
	// reading a table: either the file was cut short or the bytes at
	// that position were never a record.
	ErrCorruption = table.ErrTruncatedRecord

	// ErrFlushFailed is returned when a background flush exhausted its
	// retry budget. The database is no longer writable at that point.
	ErrFlushFailed = errors.New("background flush failed")

	// Configuration validation errors
	ErrInvalidPath            = errors.New("invalid database path")
	ErrInvalidWriteBufferSize = errors.New("invalid write buffer size")
	ErrInvalidMaxOpenTables   = errors.New("invalid max open tables")
	ErrInvalidMaxFlushRetries = errors.New("invalid max flush retries")
)
