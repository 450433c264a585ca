package flatkv

import (
	"log/slog"
	"os"
	"time"

	"github.com/tkoivu/flatkv/compression"
)

const (
	KiB = 1024
	MiB = KiB * 1024
)

// Default values. The write buffer default matches what the LevelDB
// family settled on.
var (
	DefaultWriteBufferSize = 4 * MiB
	DefaultMaxOpenTables   = 64
	DefaultFlushRetryDelay = 100 * time.Millisecond
)

// Options holds configuration for a database. Zero values are filled
// in by Validate where a sensible default exists.
type Options struct {
	// Database path. The storage directory holds the METADATA file,
	// the LOCK file and one index/data pair per flushed table.
	Path string

	// WriteBufferSize is the byte threshold for the active write
	// buffer. Once its keys+values reach this size the buffer is
	// frozen and queued for flushing. A single oversized write is
	// still buffered first; promotion happens after the insert.
	WriteBufferSize int

	// MaxOpenTables caps how many table reader pairs the file cache
	// keeps open. Tables beyond this are reopened on demand.
	MaxOpenTables int

	// MaxFlushRetries bounds how often a failed table write is
	// retried before the flusher gives up and fails the database.
	// 0 means retry forever.
	MaxFlushRetries int

	// FlushRetryDelay is the pause between flush retry attempts.
	FlushRetryDelay time.Duration

	// Compression applied to values as they are flushed. Defaults to
	// none, which keeps data files as plain framed values.
	Compression compression.Config

	// Database creation/existence options
	CreateIfMissing bool
	ErrorIfExists   bool

	// Structured logger
	Logger *slog.Logger
}

// DefaultOptions returns Options with sensible defaults. Only Path has
// to be filled in by the caller.
func DefaultOptions() *Options {
	return &Options{
		WriteBufferSize: DefaultWriteBufferSize,
		MaxOpenTables:   DefaultMaxOpenTables,
		FlushRetryDelay: DefaultFlushRetryDelay,
		Compression:     compression.DefaultConfig(),
		CreateIfMissing: true,
		ErrorIfExists:   false,
		Logger:          DefaultLogger(),
	}
}

// DefaultLogger returns the logger used when Options.Logger is nil:
// text on stderr, warnings and up.
func DefaultLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// Validate checks the options and fills in defaults for unset fields.
func (o *Options) Validate() error {
	if o.Path == "" {
		return ErrInvalidPath
	}
	if o.WriteBufferSize < 0 {
		return ErrInvalidWriteBufferSize
	}
	if o.WriteBufferSize == 0 {
		o.WriteBufferSize = DefaultWriteBufferSize
	}
	if o.MaxOpenTables < 0 {
		return ErrInvalidMaxOpenTables
	}
	if o.MaxOpenTables == 0 {
		o.MaxOpenTables = DefaultMaxOpenTables
	}
	if o.MaxFlushRetries < 0 {
		return ErrInvalidMaxFlushRetries
	}
	if o.FlushRetryDelay <= 0 {
		o.FlushRetryDelay = DefaultFlushRetryDelay
	}
	if o.Logger == nil {
		o.Logger = DefaultLogger()
	}
	return nil
}
