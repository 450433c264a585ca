package compression

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// ZstdLevel selects a Zstd encoder level.
type ZstdLevel int

const (
	// ZstdFastest: fastest, lowest ratio.
	ZstdFastest ZstdLevel = 1

	// ZstdDefault: balanced speed and ratio.
	ZstdDefault ZstdLevel = 3

	// ZstdBetter: better ratio, more CPU.
	ZstdBetter ZstdLevel = 6

	// ZstdBest: best ratio, highest CPU and memory cost.
	ZstdBest ZstdLevel = 9
)

// zstdCompressor pools encoder and decoder instances; they are
// expensive to construct and safe to reuse.
type zstdCompressor struct {
	minReductionPercent uint8
	level               zstd.EncoderLevel

	encoderPool sync.Pool
	decoderPool sync.Pool
}

// NewZstdCompressor creates a Zstd compressor at the given level.
func NewZstdCompressor(minReductionPercent uint8, level ZstdLevel) Compressor {
	var encoderLevel zstd.EncoderLevel
	switch level {
	case ZstdFastest:
		encoderLevel = zstd.SpeedFastest
	case ZstdBetter:
		encoderLevel = zstd.SpeedBetterCompression
	case ZstdBest:
		encoderLevel = zstd.SpeedBestCompression
	default:
		encoderLevel = zstd.SpeedDefault
	}

	c := &zstdCompressor{
		minReductionPercent: minReductionPercent,
		level:               encoderLevel,
	}

	c.encoderPool = sync.Pool{
		New: func() any {
			// Low-memory mode with a 1MB window; values are small
			// compared to the default 8MB window.
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(encoderLevel),
				zstd.WithLowerEncoderMem(true),
				zstd.WithWindowSize(1<<20),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
			}
			return encoder
		},
	}

	c.decoderPool = sync.Pool{
		New: func() any {
			decoder, err := zstd.NewReader(nil)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return decoder
		},
	}

	return c
}

func (c *zstdCompressor) Compress(dst, src []byte) ([]byte, bool, error) {
	encoder := c.encoderPool.Get().(*zstd.Encoder)
	defer c.encoderPool.Put(encoder)

	compressed := encoder.EncodeAll(src, dst[:0])

	if c.minReductionPercent > 0 {
		reductionPercent := (len(src) - len(compressed)) * 100 / len(src)
		if reductionPercent < int(c.minReductionPercent) {
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

func (c *zstdCompressor) Decompress(dst, src []byte) ([]byte, error) {
	decoder := c.decoderPool.Get().(*zstd.Decoder)
	defer c.decoderPool.Put(decoder)

	decompressed, err := decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return decompressed, nil
}

func (c *zstdCompressor) Type() Type {
	return Zstd
}

// DecompressZstd decompresses Zstd data directly, without a Compressor.
func DecompressZstd(dst, src []byte) ([]byte, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	decompressed, err := decoder.DecodeAll(src, dst[:0])
	if err != nil {
		return nil, fmt.Errorf("zstd decompression failed: %w", err)
	}
	return decompressed, nil
}
