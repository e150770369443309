package http

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// streamWriter is the shared shape of the gzip and zlib writers.
type streamWriter interface {
	io.WriteCloser
	Reset(w io.Writer)
}

// Compressor compresses request bodies. It is safe for concurrent use
// by exporter workers.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
	writers   sync.Pool // streamWriter, gzip or zlib only
}

// NewCompressor creates a new Compressor for the specified algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	c := &Compressor{algorithm: algorithm}

	switch algorithm {
	case CompressionNone, "", CompressionSnappy:
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	case CompressionGzip:
		c.writers.New = func() any {
			return gzip.NewWriter(io.Discard)
		}
	case CompressionZlib:
		c.writers.New = func() any {
			return zlib.NewWriter(io.Discard)
		}
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	return c, nil
}

// Compress compresses the data using the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case CompressionNone, "":
		return data, nil
	case CompressionZstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
	case CompressionSnappy:
		return snappy.Encode(nil, data), nil
	default:
		return c.compressStream(data)
	}
}

func (c *Compressor) compressStream(data []byte) ([]byte, error) {
	var buf bytes.Buffer

	buf.Grow(len(data) / 2)

	w, _ := c.writers.Get().(streamWriter)
	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
	}

	c.writers.Put(w)

	return buf.Bytes(), nil
}

// ContentEncoding returns the Content-Encoding header value for the algorithm.
func (c *Compressor) ContentEncoding() string {
	switch c.algorithm {
	case CompressionGzip:
		return "gzip"
	case CompressionZstd:
		return "zstd"
	case CompressionZlib:
		return "deflate"
	case CompressionSnappy:
		return "snappy"
	default:
		return ""
	}
}

// Close closes the compressor and releases resources.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}
