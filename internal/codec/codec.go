// Package codec provides the compression algorithms shared by snapshot files
// and exported payloads.
package codec

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression type constants.
const (
	None   = "none"
	Gzip   = "gzip"
	Zstd   = "zstd"
	Zlib   = "zlib"
	Snappy = "snappy"
)

// All lists every supported algorithm.
var All = []string{None, Gzip, Zstd, Zlib, Snappy}

// Valid reports whether algorithm is supported. The empty string means None.
func Valid(algorithm string) bool {
	if algorithm == "" {
		return true
	}

	for _, a := range All {
		if a == algorithm {
			return true
		}
	}

	return false
}

// Extension returns the file suffix for algorithm, empty for None.
func Extension(algorithm string) string {
	switch algorithm {
	case Gzip:
		return ".gz"
	case Zstd:
		return ".zst"
	case Zlib:
		return ".zlib"
	case Snappy:
		return ".sz"
	default:
		return ""
	}
}

// ContentEncoding returns the Content-Encoding header value for algorithm.
func ContentEncoding(algorithm string) string {
	switch algorithm {
	case Gzip:
		return "gzip"
	case Zstd:
		return "zstd"
	case Zlib:
		return "deflate"
	case Snappy:
		return "snappy"
	default:
		return ""
	}
}

// NewWriter wraps w with a streaming encoder. The returned writer must be
// closed to flush the codec; closing does not close w. Snappy uses the
// framed stream format.
func NewWriter(algorithm string, w io.Writer) (io.WriteCloser, error) {
	switch algorithm {
	case None, "":
		return nopWriteCloser{w}, nil
	case Gzip:
		return gzip.NewWriter(w), nil
	case Zlib:
		return zlib.NewWriter(w), nil
	case Zstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		return enc, nil
	case Snappy:
		return snappy.NewBufferedWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

// NewReader wraps r with the streaming decoder matching NewWriter.
func NewReader(algorithm string, r io.Reader) (io.ReadCloser, error) {
	switch algorithm {
	case None, "":
		return io.NopCloser(r), nil
	case Gzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}

		return gr, nil
	case Zlib:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zlib reader: %w", err)
		}

		return zr, nil
	case Zstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}

		return dec.IOReadCloser(), nil
	case Snappy:
		return io.NopCloser(snappy.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

// Compressor compresses whole payloads, such as HTTP request bodies.
type Compressor struct {
	algorithm string
	encoder   *zstd.Encoder
}

// NewCompressor creates a Compressor for algorithm.
func NewCompressor(algorithm string) (*Compressor, error) {
	if !Valid(algorithm) {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm}

	// The zstd encoder is reused across payloads.
	if algorithm == Zstd {
		encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.encoder = encoder
	}

	return c, nil
}

// Compress compresses data. Snappy uses the block format.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	switch c.algorithm {
	case None, "":
		return data, nil
	case Zstd:
		return c.encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
	case Snappy:
		return snappy.Encode(nil, data), nil
	default:
		var buf bytes.Buffer

		w, err := NewWriter(c.algorithm, &buf)
		if err != nil {
			return nil, err
		}

		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("%s write: %w", c.algorithm, err)
		}

		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("%s close: %w", c.algorithm, err)
		}

		return buf.Bytes(), nil
	}
}

// ContentEncoding returns the Content-Encoding header value.
func (c *Compressor) ContentEncoding() string {
	return ContentEncoding(c.algorithm)
}

// Close releases the compressor.
func (c *Compressor) Close() error {
	if c.encoder != nil {
		return c.encoder.Close()
	}

	return nil
}

// Decompress reverses Compressor.Compress.
func Decompress(algorithm string, data []byte) ([]byte, error) {
	switch algorithm {
	case None, "":
		return data, nil
	case Snappy:
		return snappy.Decode(nil, data)
	default:
		r, err := NewReader(algorithm, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	}
}
