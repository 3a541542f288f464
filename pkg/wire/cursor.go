package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

var (
	ErrShortBuffer = errors.New("wire: buffer underflow")
	ErrNegative    = errors.New("wire: negative length")
)

// Sink is where encoders write; bytes.Buffer and bufio.Writer satisfy it.
type Sink interface {
	io.Writer
	io.ByteWriter
}

// Source is where decoders read from; *Cursor, bytes.Reader and bufio.Reader satisfy it.
type Source interface {
	io.Reader
	io.ByteReader
}

// NewSource returns r itself when it already is a Source, otherwise a buffered wrapper.
func NewSource(r io.Reader) Source {
	if s, ok := r.(Source); ok {
		return s
	}
	return bufio.NewReader(r)
}

// Cursor is a zero-copy view over buf[pos:end]. Reads advance pos; the backing
// array is never copied unless Compact is called.
type Cursor struct {
	buf []byte
	pos int
	end int
}

var _ Source = (*Cursor)(nil)

// NewCursor views the whole of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b, end: len(b)}
}

// WrapCursor views b[offset:offset+length]. Out of range arguments panic.
func WrapCursor(b []byte, offset, length int) *Cursor {
	if offset < 0 || length < 0 || offset+length > len(b) {
		panic(fmt.Sprintf("wire: cursor [%d:%d] out of range for %d bytes", offset, offset+length, len(b)))
	}
	return &Cursor{buf: b, pos: offset, end: offset + length}
}

// Array returns the full backing slice.
func (c *Cursor) Array() []byte { return c.buf }

// Pos is the absolute read position inside Array.
func (c *Cursor) Pos() int { return c.pos }

// Len is the absolute end of the view inside Array.
func (c *Cursor) Len() int { return c.end }

func (c *Cursor) Remaining() int { return c.end - c.pos }

// Bytes returns the unread part of the view without copying.
func (c *Cursor) Bytes() []byte { return c.buf[c.pos:c.end:c.end] }

func (c *Cursor) ReadByte() (byte, error) {
	if c.pos >= c.end {
		return 0, io.EOF
	}
	b := c.buf[c.pos]
	c.pos++
	return b, nil
}

func (c *Cursor) Read(p []byte) (int, error) {
	if c.pos >= c.end {
		if len(p) == 0 {
			return 0, nil
		}
		return 0, io.EOF
	}
	n := copy(p, c.buf[c.pos:c.end])
	c.pos += n
	return n, nil
}

// Next returns the next n bytes as a sub-slice of the backing array.
func (c *Cursor) Next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegative
	}
	if c.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := c.buf[c.pos : c.pos+n : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *Cursor) Skip(n int) error {
	_, err := c.Next(n)
	return err
}

// Reset rewinds to the start of the backing array and views all of it.
func (c *Cursor) Reset() {
	c.pos = 0
	c.end = len(c.buf)
}

// Compact copies the unread bytes into a fresh array so the old one can be released.
func (c *Cursor) Compact() {
	nb := make([]byte, c.Remaining())
	copy(nb, c.buf[c.pos:c.end])
	c.buf = nb
	c.pos = 0
	c.end = len(nb)
}
