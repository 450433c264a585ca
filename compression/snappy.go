package compression

import (
	"fmt"

	"github.com/klauspost/compress/snappy"
)

type snappyCompressor struct {
	minReductionPercent uint8
}

// NewSnappyCompressor creates a Snappy compressor.
func NewSnappyCompressor(minReductionPercent uint8) Compressor {
	return &snappyCompressor{minReductionPercent: minReductionPercent}
}

func (c *snappyCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	compressed := snappy.Encode(dst, src)

	if c.minReductionPercent > 0 {
		reductionPercent := (len(src) - len(compressed)) * 100 / len(src)
		if reductionPercent < int(c.minReductionPercent) {
			// Not worth it, keep the value raw.
			if cap(dst) < len(src) {
				dst = make([]byte, len(src))
			} else {
				dst = dst[:len(src)]
			}
			copy(dst, src)
			return dst, false, nil
		}
	}

	return compressed, true, nil
}

func (c *snappyCompressor) Decompress(dst, src []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompression failed: %w", err)
	}
	return decompressed, nil
}

func (c *snappyCompressor) Type() Type {
	return Snappy
}

// DecompressSnappy decompresses Snappy data directly, without a
// Compressor. Used on the read path where the trailer tag already
// names the codec.
func DecompressSnappy(dst, src []byte) ([]byte, error) {
	decompressed, err := snappy.Decode(dst, src)
	if err != nil {
		return nil, fmt.Errorf("snappy decompression failed: %w", err)
	}
	return decompressed, nil
}
