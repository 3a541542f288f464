// stand for bytes helper
package bx

import "encoding/binary"

// LE is the byte order of every fixed-width value on the wire.
var LE = binary.LittleEndian

// --- read ---
func U16(b []byte) uint16 { return LE.Uint16(b) }
func U32(b []byte) uint32 { return LE.Uint32(b) }
func U64(b []byte) uint64 { return LE.Uint64(b) }
func I16(b []byte) int16  { return int16(U16(b)) }
func I32(b []byte) int32  { return int32(U32(b)) }
func I64(b []byte) int64  { return int64(U64(b)) }

// --- write ---
func PutU16(b []byte, v uint16) { LE.PutUint16(b, v) }
func PutU32(b []byte, v uint32) { LE.PutUint32(b, v) }
func PutU64(b []byte, v uint64) { LE.PutUint64(b, v) }

// --- append ---
func AppendU16(b []byte, v uint16) []byte { return LE.AppendUint16(b, v) }
func AppendU32(b []byte, v uint32) []byte { return LE.AppendUint32(b, v) }
func AppendU64(b []byte, v uint64) []byte { return LE.AppendUint64(b, v) }

// Reverse flips b in place. IPv4 addresses, UUID halves and wide integers
// travel little-endian, reversed relative to their big-endian form.
func Reverse(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
