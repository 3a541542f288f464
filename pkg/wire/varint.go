package wire

import (
	"errors"
	"fmt"
	"io"
)

// MaxVarintLen is the longest encoding of a uint64.
//
// Bytes 1..8 carry 7 bits each with the high bit as continuation flag. A 9th
// byte, when present, carries the remaining 8 bits with no flag. Values below
// 2^56 are therefore byte-identical to LEB128.
const MaxVarintLen = 9

// MaxStringLength bounds string lengths read off the wire.
const MaxStringLength = 1 << 30

var (
	ErrVarintTruncated = errors.New("wire: truncated varint")
	ErrStringTooLong   = errors.New("wire: string length exceeds limit")
)

// UvarintLen returns the number of bytes AppendUvarint writes for v.
func UvarintLen(v uint64) int {
	n := 1
	for v > 0x7f && n < MaxVarintLen {
		v >>= 7
		n++
	}
	return n
}

// PutUvarint encodes v into buf, which must hold UvarintLen(v) bytes, and
// returns the number of bytes written.
func PutUvarint(buf []byte, v uint64) int {
	i := 0
	for ; i < MaxVarintLen-1; i++ {
		if v <= 0x7f {
			buf[i] = byte(v)
			return i + 1
		}
		buf[i] = byte(v) | 0x80
		v >>= 7
	}
	buf[i] = byte(v)
	return MaxVarintLen
}

func AppendUvarint(dst []byte, v uint64) []byte {
	var tmp [MaxVarintLen]byte
	n := PutUvarint(tmp[:], v)
	return append(dst, tmp[:n]...)
}

func WriteUvarint(w io.ByteWriter, v uint64) error {
	var tmp [MaxVarintLen]byte
	n := PutUvarint(tmp[:], v)
	for i := 0; i < n; i++ {
		if err := w.WriteByte(tmp[i]); err != nil {
			return err
		}
	}
	return nil
}

// Uvarint decodes from b. n is the number of bytes consumed, or 0 when b is truncated.
func Uvarint(b []byte) (v uint64, n int) {
	var shift uint
	for i := 0; i < len(b); i++ {
		if i == MaxVarintLen-1 {
			return v | uint64(b[i])<<shift, MaxVarintLen
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, i + 1
		}
		shift += 7
	}
	return 0, 0
}

func ReadUvarint(r io.ByteReader) (uint64, error) {
	var (
		v     uint64
		shift uint
	)
	for i := 0; i < MaxVarintLen; i++ {
		c, err := r.ReadByte()
		if err != nil {
			if i > 0 && errors.Is(err, io.EOF) {
				return 0, ErrVarintTruncated
			}
			return 0, err
		}
		if i == MaxVarintLen-1 {
			return v | uint64(c)<<shift, nil
		}
		v |= uint64(c&0x7f) << shift
		if c < 0x80 {
			return v, nil
		}
		shift += 7
	}
	return v, nil
}

// AppendString appends s with its varint length prefix.
func AppendString(dst []byte, s string) []byte {
	dst = AppendUvarint(dst, uint64(len(s)))
	return append(dst, s...)
}

// WriteString writes s with its varint length prefix. The empty string is a single 0x00.
func WriteString(w Sink, s string) error {
	if err := WriteUvarint(w, uint64(len(s))); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := io.WriteString(w, s)
	return err
}

// WriteBytes is WriteString for raw bytes; nil encodes like the empty string.
func WriteBytes(w Sink, b []byte) error {
	if err := WriteUvarint(w, uint64(len(b))); err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}

func ReadString(r Source) (string, error) {
	b, err := ReadBytes(r, MaxStringLength)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ReadBytes reads a length-prefixed byte string of at most maxLen bytes. When r
// is a *Cursor the result aliases its backing array.
func ReadBytes(r Source, maxLen int) ([]byte, error) {
	n, err := ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	if n > uint64(maxLen) {
		return nil, fmt.Errorf("%w: %d > %d", ErrStringTooLong, n, maxLen)
	}
	if n == 0 {
		return []byte{}, nil
	}
	if c, ok := r.(*Cursor); ok {
		b, err := c.Next(int(n))
		if err != nil {
			return nil, io.ErrUnexpectedEOF
		}
		return b, nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return b, nil
}
