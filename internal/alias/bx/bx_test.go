package bx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestLittleEndianReadWrite verifies that PutU16/U32/U64 and U16/U32/U64
// round-trip values using little-endian encoding.
func TestLittleEndianReadWrite(t *testing.T) {
	// ---- U16 ----
	{
		b := make([]byte, 2)
		var v uint16 = 0x1234

		PutU16(b, v)
		// least-significant byte goes first
		assert.Equal(t, []byte{0x34, 0x12}, b)
		assert.Equal(t, v, U16(b))
	}

	// ---- U32 ----
	{
		b := make([]byte, 4)
		var v uint32 = 0x01020304

		PutU32(b, v)
		assert.Equal(t, []byte{0x04, 0x03, 0x02, 0x01}, b)
		assert.Equal(t, v, U32(b))
	}

	// ---- U64 ----
	{
		b := make([]byte, 8)
		var v uint64 = 0x0102030405060708

		PutU64(b, v)
		assert.Equal(t, []byte{0x08, 0x07, 0x06, 0x05, 0x04, 0x03, 0x02, 0x01}, b)
		assert.Equal(t, v, U64(b))
	}
}

func TestAppend(t *testing.T) {
	b := AppendU16(nil, 0x0A0B)
	b = AppendU32(b, 0x01020304)
	b = AppendU64(b, 0x0102030405060708)

	assert.Len(t, b, 14)
	assert.Equal(t, uint16(0x0A0B), U16(b[0:]))
	assert.Equal(t, uint32(0x01020304), U32(b[2:]))
	assert.Equal(t, uint64(0x0102030405060708), U64(b[6:]))
}

// TestIntAliases checks I16/I32/I64 wrappers around U16/U32/U64.
func TestIntAliases(t *testing.T) {
	{
		b := make([]byte, 2)
		var v int16 = -1234
		PutU16(b, uint16(v))
		assert.Equal(t, v, I16(b))
	}
	{
		b := make([]byte, 4)
		var v int32 = -123456
		PutU32(b, uint32(v))
		assert.Equal(t, v, I32(b))
	}
	{
		b := make([]byte, 8)
		var v int64 = -1234567890
		PutU64(b, uint64(v))
		assert.Equal(t, v, I64(b))
	}
}

func TestReverse(t *testing.T) {
	b := []byte{1, 2, 3, 4, 5}
	Reverse(b)
	assert.Equal(t, []byte{5, 4, 3, 2, 1}, b)

	even := []byte{1, 2}
	Reverse(even)
	assert.Equal(t, []byte{2, 1}, even)

	Reverse(nil)
}
