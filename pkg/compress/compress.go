// Package compress wraps the stream codecs used for request and response bodies.
package compress

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm is a body compression algorithm.
type Algorithm uint8

const (
	None Algorithm = iota
	LZ4
	ZSTD
	GZIP
	DEFLATE
	SNAPPY
)

const (
	MinLevel     = 0
	MaxLevel     = 9
	DefaultLevel = 3
)

var ErrUnknownAlgorithm = errors.New("compress: unknown algorithm")

var algorithmNames = [...]string{
	None:    "none",
	LZ4:     "lz4",
	ZSTD:    "zstd",
	GZIP:    "gzip",
	DEFLATE: "deflate",
	SNAPPY:  "snappy",
}

func (a Algorithm) String() string {
	if int(a) < len(algorithmNames) {
		return algorithmNames[a]
	}
	return fmt.Sprintf("algorithm(%d)", uint8(a))
}

// ContentEncoding is the HTTP Content-Encoding value, empty for None.
func (a Algorithm) ContentEncoding() string {
	if a == None {
		return ""
	}
	return a.String()
}

// ParseAlgorithm accepts the algorithm names case-insensitively. The empty
// string is None.
func ParseAlgorithm(s string) (Algorithm, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return None, nil
	}
	for i, n := range algorithmNames {
		if n == s {
			return Algorithm(i), nil
		}
	}
	if s == "zlib" {
		return DEFLATE, nil
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

func (a Algorithm) MarshalText() ([]byte, error) {
	if int(a) >= len(algorithmNames) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAlgorithm, uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Algorithm) UnmarshalText(b []byte) error {
	v, err := ParseAlgorithm(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// NormalizeLevel clamps level into [MinLevel, MaxLevel].
func NormalizeLevel(level int) int {
	switch {
	case level < MinLevel:
		return MinLevel
	case level > MaxLevel:
		return MaxLevel
	}
	return level
}

var lz4Levels = [...]lz4.CompressionLevel{
	lz4.Fast, lz4.Level1, lz4.Level2, lz4.Level3, lz4.Level4,
	lz4.Level5, lz4.Level6, lz4.Level7, lz4.Level8, lz4.Level9,
}

// Writer compresses everything written to it. It buffers in front of the
// compressor so it can serve as a wire.Sink.
type Writer struct {
	w   io.WriteCloser
	buf *bufio.Writer

	alg      Algorithm
	rawBytes int
}

// NewWriter returns a Writer compressing into w. Closing it flushes the
// compressed stream but does not close w.
func NewWriter(w io.Writer, alg Algorithm, level int) (*Writer, error) {
	level = NormalizeLevel(level)

	var (
		cw  io.WriteCloser
		err error
	)
	switch alg {
	case None:
		cw = nopCloseWriter{w}
	case LZ4:
		zw := lz4.NewWriter(w)
		if err = zw.Apply(lz4.CompressionLevelOption(lz4Levels[level])); err == nil {
			cw = zw
		}
	case ZSTD:
		cw, err = zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	case GZIP:
		cw, err = gzip.NewWriterLevel(w, level)
	case DEFLATE:
		cw, err = zlib.NewWriterLevel(w, level)
	case SNAPPY:
		cw = snappy.NewBufferedWriter(w)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
	}
	if err != nil {
		return nil, fmt.Errorf("compress: new %s writer: %w", alg, err)
	}
	return &Writer{w: cw, buf: bufio.NewWriter(cw), alg: alg}, nil
}

func (c *Writer) Write(p []byte) (int, error) {
	n, err := c.buf.Write(p)
	c.rawBytes += n
	return n, err
}

func (c *Writer) WriteByte(b byte) error {
	if err := c.buf.WriteByte(b); err != nil {
		return err
	}
	c.rawBytes++
	return nil
}

// Flush pushes buffered bytes through the compressor.
func (c *Writer) Flush() error {
	if err := c.buf.Flush(); err != nil {
		return fmt.Errorf("flushing buffer: %w", err)
	}
	if f, ok := c.w.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flushing %s writer: %w", c.alg, err)
		}
	}
	return nil
}

// BytesWritten is the number of uncompressed bytes written.
func (c *Writer) BytesWritten() int { return c.rawBytes }

func (c *Writer) Algorithm() Algorithm { return c.alg }

func (c *Writer) Close() error {
	if err := c.Flush(); err != nil {
		return err
	}
	return c.w.Close()
}

// NewReader returns a reader decompressing r. Closing it releases decoder
// resources but does not close r.
func NewReader(r io.Reader, alg Algorithm) (io.ReadCloser, error) {
	switch alg {
	case None:
		return io.NopCloser(r), nil
	case LZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case ZSTD:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("compress: new zstd reader: %w", err)
		}
		return zr.IOReadCloser(), nil
	case GZIP:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("compress: new gzip reader: %w", err)
		}
		return gr, nil
	case DEFLATE:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("compress: new deflate reader: %w", err)
		}
		return zr, nil
	case SNAPPY:
		return io.NopCloser(snappy.NewReader(r)), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, alg)
}

type nopCloseWriter struct{ w io.Writer }

func (w nopCloseWriter) Write(p []byte) (n int, err error) { return w.w.Write(p) }
func (w nopCloseWriter) Close() error                      { return nil }
