package cache

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

const (
	// DefaultCompressionMinSize is the payload size at which compression kicks in (1KB)
	DefaultCompressionMinSize = 1024

	// DefaultCompressionLevel matches zlib level 6
	DefaultCompressionLevel = 6

	// maxDecompressedSize caps inflated payloads to guard against corrupt data
	maxDecompressedSize = 16 * 1024 * 1024

	// CodecGzip and CodecZstd name the supported codecs
	CodecGzip = "gzip"
	CodecZstd = "zstd"
)

// Codec compresses and decompresses durable cache payloads
type Codec interface {
	Name() string
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) ([]byte, error)
}

// NewCodec returns the codec registered under name
func NewCodec(name string, level int) (Codec, error) {
	switch name {
	case "", CodecGzip:
		if level == 0 {
			level = DefaultCompressionLevel
		}
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return nil, fmt.Errorf("invalid gzip level %d", level)
		}
		return &gzipCodec{level: level}, nil
	case CodecZstd:
		return newZstdCodec(level)
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type gzipCodec struct {
	level int
}

func (g *gzipCodec) Name() string { return CodecGzip }

func (g *gzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, g.level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, maxDecompressedSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	if len(out) > maxDecompressedSize {
		return nil, fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedSize)
	}
	return out, nil
}

// zstdCodec shares one encoder and decoder; EncodeAll and DecodeAll are
// safe for concurrent use.
type zstdCodec struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

func newZstdCodec(level int) (*zstdCodec, error) {
	encLevel := zstd.SpeedDefault
	if level > 0 {
		encLevel = zstd.EncoderLevelFromZstd(level)
	}

	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encLevel))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxDecompressedSize))
	if err != nil {
		_ = encoder.Close()
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &zstdCodec{encoder: encoder, decoder: decoder}, nil
}

func (z *zstdCodec) Name() string { return CodecZstd }

func (z *zstdCodec) Compress(data []byte) ([]byte, error) {
	return z.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func (z *zstdCodec) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress: %w", err)
	}
	return out, nil
}

// Close releases the zstd encoder and decoder
func (z *zstdCodec) Close() error {
	var err error
	z.once.Do(func() {
		err = z.encoder.Close()
		z.decoder.Close()
	})
	return err
}
