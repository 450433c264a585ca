// Package table implements the on-disk table format: for each flushed
// write buffer a pair of files keyed by the table's sequence id, an
// index file (<seq>.ix) and a data file (<seq>.dt).
//
// The index file is a sequence of entries, one per key: the framed key,
// a one byte marker, and for live values an 8-byte big-endian offset
// into the data file. The data file is a sequence of framed value
// records; offsets point at frame starts. Neither file is sorted:
// lookups are a linear scan of the index, which keeps the writer a
// straight pass over the buffer and the format trivially append-only.
package table

import "fmt"

const (
	// Index entry markers. A tombstone entry carries no offset.
	markerValue     = 0
	markerTombstone = 1

	// Width of the data-file offset stored in index entries.
	offsetSize = 8
)

// IndexFileName returns the index file name for a table sequence id.
func IndexFileName(seq uint64) string {
	return fmt.Sprintf("%06d.ix", seq)
}

// DataFileName returns the data file name for a table sequence id.
func DataFileName(seq uint64) string {
	return fmt.Sprintf("%06d.dt", seq)
}
