// Package compression provides optional per-value compression for data
// file records. Each stored value carries a one byte trailer tag naming
// the codec it was written with, so readers never depend on the
// database's current configuration.
package compression

import "fmt"

// Type selects a compression algorithm for newly written values.
type Type uint8

const (
	// None stores values uncompressed. This is the default.
	None Type = iota

	// Snappy is fast with modest ratios.
	Snappy

	// Zstd trades CPU for better ratios than Snappy.
	Zstd

	// S2 is faster than Snappy with slightly better ratios.
	S2
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Snappy:
		return "snappy"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	default:
		return "unknown"
	}
}

// Config holds compression settings for a database.
type Config struct {
	// Type of compression applied to values as they are flushed.
	Type Type

	// MinReductionPercent is the minimum size reduction required to
	// keep a value compressed. Values that don't shrink by at least
	// this much are stored raw with a None tag.
	MinReductionPercent uint8

	// ZstdLevel picks the Zstd encoder level. Only used when Type is
	// Zstd.
	ZstdLevel ZstdLevel
}

// DefaultConfig stores values uncompressed.
func DefaultConfig() Config {
	return Config{Type: None}
}

// SnappyConfig returns a Snappy configuration.
func SnappyConfig() Config {
	return Config{Type: Snappy, MinReductionPercent: 12}
}

// S2Config returns an S2 configuration.
func S2Config() Config {
	return Config{Type: S2, MinReductionPercent: 12}
}

// ZstdFastConfig returns a fast Zstd configuration.
func ZstdFastConfig() Config {
	return Config{Type: Zstd, MinReductionPercent: 10, ZstdLevel: ZstdFastest}
}

// ZstdBalancedConfig returns the recommended Zstd configuration. The
// default level is far lighter on memory than ZstdBest.
func ZstdBalancedConfig() Config {
	return Config{Type: Zstd, MinReductionPercent: 8, ZstdLevel: ZstdDefault}
}

// ZstdBestConfig returns the strongest (and slowest) Zstd configuration.
func ZstdBestConfig() Config {
	return Config{Type: Zstd, MinReductionPercent: 5, ZstdLevel: ZstdBest}
}

// Compressor is implemented once per algorithm.
type Compressor interface {
	// Compress compresses src into dst. The bool reports whether the
	// result is actually compressed; a compressor may decline when the
	// reduction threshold isn't met.
	Compress(dst, src []byte) ([]byte, bool, error)

	// Decompress decompresses src into dst.
	Decompress(dst, src []byte) ([]byte, error)

	// Type returns the algorithm this compressor implements.
	Type() Type
}

// NewCompressor builds a compressor from a configuration.
func NewCompressor(config Config) (Compressor, error) {
	switch config.Type {
	case None:
		return &noneCompressor{}, nil
	case Snappy:
		return NewSnappyCompressor(config.MinReductionPercent), nil
	case Zstd:
		return NewZstdCompressor(config.MinReductionPercent, config.ZstdLevel), nil
	case S2:
		return NewS2Compressor(config.MinReductionPercent), nil
	default:
		return nil, fmt.Errorf("unknown compression type: %d", config.Type)
	}
}

type noneCompressor struct{}

func (c *noneCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst, false, nil
}

func (c *noneCompressor) Decompress(dst, src []byte) ([]byte, error) {
	if cap(dst) < len(src) {
		dst = make([]byte, len(src))
	} else {
		dst = dst[:len(src)]
	}
	copy(dst, src)
	return dst, nil
}

func (c *noneCompressor) Type() Type {
	return None
}

// Trailer tags stored alongside each value record.
const (
	TagNone   = 0
	TagSnappy = 1
	TagZstd   = 2
	TagS2     = 3
)

// Values below this size skip the encoder entirely; the overhead isn't
// worth it.
const minCompressionSize = 64

// CompressValue compresses one value and returns the bytes to store
// plus the trailer tag describing them.
func CompressValue(compressor Compressor, dst, src []byte) ([]byte, uint8, error) {
	if compressor == nil || compressor.Type() == None || len(src) < minCompressionSize {
		if cap(dst) < len(src) {
			dst = make([]byte, len(src))
		} else {
			dst = dst[:len(src)]
		}
		copy(dst, src)
		return dst, TagNone, nil
	}

	compressed, wasCompressed, err := compressor.Compress(dst, src)
	if err != nil {
		return nil, 0, err
	}
	if !wasCompressed {
		return compressed, TagNone, nil
	}

	switch compressor.Type() {
	case Snappy:
		return compressed, TagSnappy, nil
	case Zstd:
		return compressed, TagZstd, nil
	case S2:
		return compressed, TagS2, nil
	default:
		return compressed, TagNone, nil
	}
}

// DecompressValue restores a stored value based on its trailer tag.
func DecompressValue(dst, src []byte, tag uint8) ([]byte, error) {
	switch tag {
	case TagNone:
		if cap(dst) < len(src) {
			dst = make([]byte, len(src))
		} else {
			dst = dst[:len(src)]
		}
		copy(dst, src)
		return dst, nil
	case TagSnappy:
		return DecompressSnappy(dst, src)
	case TagZstd:
		return DecompressZstd(dst, src)
	case TagS2:
		return DecompressS2(dst, src)
	default:
		return nil, fmt.Errorf("unknown compression tag: %d", tag)
	}
}
