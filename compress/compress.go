// Package compress provides the per-column byte transforms applied to jar
// cells. Each cell is compressed independently so a point lookup only pays for
// the cell it touches.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Kind identifies a compression codec. The value is persisted per column, so
// existing values must never be renumbered.
type Kind uint8

const (
	// KindNone stores cells verbatim.
	KindNone Kind = 0
	// KindLZ4 uses LZ4 block compression (fast, good for hot data).
	KindLZ4 Kind = 1
	// KindZstd uses Zstandard block compression (better ratio, good for cold data).
	KindZstd Kind = 2
)

var (
	// ErrUnknownKind is returned when decoding an unrecognized codec kind.
	ErrUnknownKind = errors.New("compress: unknown codec kind")

	// ErrMalformedCell is returned when a compressed cell fails structural checks.
	ErrMalformedCell = errors.New("compress: malformed cell")

	// ErrCellTooLarge is returned when a cell exceeds the uint32 framing limit.
	ErrCellTooLarge = errors.New("compress: cell exceeds 4 GiB framing limit")
)

// Codec transforms cell bytes on the way in and out of a jar. Implementations
// must be safe for concurrent use; decompression runs on the read path.
type Codec interface {
	Kind() Kind
	Compress(src []byte) ([]byte, error)
	Decompress(src []byte) ([]byte, error)
}

// ByKind returns the codec for a persisted kind byte.
func ByKind(k Kind) (Codec, error) {
	switch k {
	case KindNone:
		return None{}, nil
	case KindLZ4:
		return LZ4{}, nil
	case KindZstd:
		return Zstd{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, k)
	}
}

// None is the identity codec.
type None struct{}

// Kind implements Codec.
func (None) Kind() Kind { return KindNone }

// Compress implements Codec.
func (None) Compress(src []byte) ([]byte, error) { return src, nil }

// Decompress implements Codec.
func (None) Decompress(src []byte) ([]byte, error) { return src, nil }

// Cell framing for the real codecs:
// [UncompressedSize uint32][CompressedSize uint32][Data...]
// CompressedSize == 0 means the payload is stored uncompressed (incompressible
// input, or compression did not pay for itself).
const cellHeaderSize = 8

// checkCellSize rejects cells whose length cannot be recorded in the uint32
// frame header.
func checkCellSize(n int) error {
	if uint64(n) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes", ErrCellTooLarge, n)
	}
	return nil
}

func frameUncompressed(src []byte) []byte {
	out := make([]byte, cellHeaderSize+len(src))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(src)))
	binary.LittleEndian.PutUint32(out[4:], 0)
	copy(out[cellHeaderSize:], src)
	return out
}

func frameCompressed(src, compressed []byte) []byte {
	out := make([]byte, cellHeaderSize+len(compressed))
	binary.LittleEndian.PutUint32(out[0:], uint32(len(src)))
	binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
	copy(out[cellHeaderSize:], compressed)
	return out
}

func splitFrame(src []byte) (uncompressedSize uint32, payload []byte, raw bool, err error) {
	if len(src) < cellHeaderSize {
		return 0, nil, false, ErrMalformedCell
	}
	uncompressedSize = binary.LittleEndian.Uint32(src[0:])
	compressedSize := binary.LittleEndian.Uint32(src[4:])

	if compressedSize == 0 {
		if uint32(len(src)) < cellHeaderSize+uncompressedSize {
			return 0, nil, false, ErrMalformedCell
		}
		return uncompressedSize, src[cellHeaderSize : cellHeaderSize+uncompressedSize], true, nil
	}

	if uint32(len(src)) < cellHeaderSize+compressedSize {
		return 0, nil, false, ErrMalformedCell
	}
	return uncompressedSize, src[cellHeaderSize : cellHeaderSize+compressedSize], false, nil
}

// LZ4 compresses cells with LZ4 block compression.
type LZ4 struct{}

// Kind implements Codec.
func (LZ4) Kind() Kind { return KindLZ4 }

// Compress implements Codec.
func (LZ4) Compress(src []byte) ([]byte, error) {
	if err := checkCellSize(len(src)); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return frameUncompressed(src), nil
	}

	bound := lz4.CompressBlockBound(len(src))
	compressed := make([]byte, bound)
	n, err := lz4.CompressBlock(src, compressed, nil)
	if err != nil {
		return nil, err
	}

	// n == 0 means incompressible; also skip when the ratio doesn't pay.
	if n == 0 || float64(n) > float64(len(src))*0.9 {
		return frameUncompressed(src), nil
	}
	return frameCompressed(src, compressed[:n]), nil
}

// Decompress implements Codec.
func (LZ4) Decompress(src []byte) ([]byte, error) {
	size, payload, raw, err := splitFrame(src)
	if err != nil {
		return nil, err
	}
	if raw {
		return payload, nil
	}

	out := make([]byte, size)
	n, err := lz4.UncompressBlock(payload, out)
	if err != nil {
		return nil, err
	}
	if uint32(n) != size {
		return nil, fmt.Errorf("%w: decompressed size mismatch", ErrMalformedCell)
	}
	return out, nil
}

// Encoder/decoder pools: zstd contexts are expensive to create and safe to reuse.
var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Zstd compresses cells with Zstandard.
type Zstd struct{}

// Kind implements Codec.
func (Zstd) Kind() Kind { return KindZstd }

// Compress implements Codec.
func (Zstd) Compress(src []byte) ([]byte, error) {
	if err := checkCellSize(len(src)); err != nil {
		return nil, err
	}
	if len(src) == 0 {
		return frameUncompressed(src), nil
	}

	enc := getZstdEncoder()
	compressed := enc.EncodeAll(src, nil)
	zstdEncoderPool.Put(enc)

	if float64(len(compressed)) > float64(len(src))*0.9 {
		return frameUncompressed(src), nil
	}
	return frameCompressed(src, compressed), nil
}

// Decompress implements Codec.
func (Zstd) Decompress(src []byte) ([]byte, error) {
	size, payload, raw, err := splitFrame(src)
	if err != nil {
		return nil, err
	}
	if raw {
		return payload, nil
	}

	dec := getZstdDecoder()
	out, err := dec.DecodeAll(payload, make([]byte, 0, size))
	zstdDecoderPool.Put(dec)
	if err != nil {
		return nil, err
	}
	if uint32(len(out)) != size {
		return nil, fmt.Errorf("%w: decompressed size mismatch", ErrMalformedCell)
	}
	return out, nil
}
