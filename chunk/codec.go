package chunk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ErrMalformedChunk is returned when persisted chunk bytes fail to decode.
var ErrMalformedChunk = errors.New("malformed chunk")

// Compression selects the block compression algorithm.
type Compression uint8

const (
	// CompressionNone stores chunks raw.
	CompressionNone Compression = 0
	// CompressionLZ4 is fast with a modest ratio, good for hot chunks.
	CompressionLZ4 Compression = 1
	// CompressionZSTD trades speed for ratio, good for cold chunks.
	CompressionZSTD Compression = 2
)

// ZSTD encoder/decoder pools; both are expensive to construct.
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

// chunkHeaderSize covers version, compression and the point count.
const chunkHeaderSize = 1 + 1 + 8

// chunkVersion is bumped on layout changes.
const chunkVersion = 1

// Codec encodes and decodes chunks: a small header, then the depth column
// and the packed records, block-compressed as configured. Safe for
// concurrent use.
type Codec struct {
	schema      Schema
	compression Compression
}

// NewCodec creates a codec for the given record layout.
func NewCodec(schema Schema, compression Compression) *Codec {
	return &Codec{schema: schema, compression: compression}
}

// Schema returns the codec's record layout.
func (c *Codec) Schema() Schema { return c.schema }

// Encode serializes a chunk.
func (c *Codec) Encode(ch *Chunk) ([]byte, error) {
	payload := make([]byte, 0, len(ch.depths)*4+len(ch.data))
	for _, d := range ch.depths {
		payload = binary.LittleEndian.AppendUint32(payload, d)
	}
	payload = append(payload, ch.data...)

	compressed, err := compressBlock(payload, c.compression)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, chunkHeaderSize+len(compressed))
	out = append(out, chunkVersion, byte(c.compression))
	out = binary.LittleEndian.AppendUint64(out, uint64(len(ch.depths)))
	return append(out, compressed...), nil
}

// Decode reconstructs a chunk.
func (c *Codec) Decode(data []byte) (*Chunk, error) {
	if len(data) < chunkHeaderSize {
		return nil, fmt.Errorf("%w: %d bytes is below the header size", ErrMalformedChunk, len(data))
	}
	if data[0] != chunkVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedChunk, data[0])
	}
	compression := Compression(data[1])
	numPoints := binary.LittleEndian.Uint64(data[2:])

	payload, err := decompressBlock(data[chunkHeaderSize:], compression)
	if err != nil {
		return nil, err
	}

	recordBytes := 4 + c.schema.PointSize()
	if numPoints > uint64(len(payload))/recordBytes || uint64(len(payload)) != numPoints*recordBytes {
		return nil, fmt.Errorf("%w: payload %d bytes does not hold %d points",
			ErrMalformedChunk, len(payload), numPoints)
	}

	depths := make([]uint32, numPoints)
	for i := range depths {
		depths[i] = binary.LittleEndian.Uint32(payload[i*4:])
	}

	return &Chunk{
		schema: c.schema,
		depths: depths,
		data:   payload[numPoints*4:],
	}, nil
}

// blockHeader is [UncompressedSize u32][CompressedSize u32]; a compressed
// size of 0 means the block is stored raw (compression didn't help or was
// disabled).
const blockHeaderSize = 8

func compressBlock(data []byte, compression Compression) ([]byte, error) {
	raw := func() []byte {
		out := make([]byte, blockHeaderSize+len(data))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], 0)
		copy(out[blockHeaderSize:], data)
		return out
	}

	switch compression {
	case CompressionNone:
		return raw(), nil

	case CompressionLZ4:
		buf := make([]byte, blockHeaderSize+lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf[blockHeaderSize:], nil)
		if err != nil {
			return nil, err
		}
		if n == 0 || n >= len(data) {
			return raw(), nil
		}
		binary.LittleEndian.PutUint32(buf[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(buf[4:], uint32(n))
		return buf[:blockHeaderSize+n], nil

	case CompressionZSTD:
		enc := getZstdEncoder()
		defer zstdEncoderPool.Put(enc)

		compressed := enc.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			return raw(), nil
		}
		out := make([]byte, blockHeaderSize+len(compressed))
		binary.LittleEndian.PutUint32(out[0:], uint32(len(data)))
		binary.LittleEndian.PutUint32(out[4:], uint32(len(compressed)))
		copy(out[blockHeaderSize:], compressed)
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrMalformedChunk, compression)
	}
}

func decompressBlock(data []byte, compression Compression) ([]byte, error) {
	if len(data) < blockHeaderSize {
		return nil, fmt.Errorf("%w: truncated block header", ErrMalformedChunk)
	}
	uncompressedSize := binary.LittleEndian.Uint32(data[0:])
	compressedSize := binary.LittleEndian.Uint32(data[4:])
	body := data[blockHeaderSize:]

	// Stored raw.
	if compressedSize == 0 {
		if uint32(len(body)) != uncompressedSize {
			return nil, fmt.Errorf("%w: raw block %d bytes, header says %d",
				ErrMalformedChunk, len(body), uncompressedSize)
		}
		return body, nil
	}

	if uint32(len(body)) != compressedSize {
		return nil, fmt.Errorf("%w: compressed block %d bytes, header says %d",
			ErrMalformedChunk, len(body), compressedSize)
	}

	switch compression {
	case CompressionLZ4:
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(body, out)
		if err != nil || uint32(n) != uncompressedSize {
			return nil, fmt.Errorf("%w: lz4 decode failed", ErrMalformedChunk)
		}
		return out, nil

	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(body, make([]byte, 0, uncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd decode failed", ErrMalformedChunk)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: unknown compression %d", ErrMalformedChunk, compression)
	}
}
