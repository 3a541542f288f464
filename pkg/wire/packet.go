package wire

import (
	"fmt"
	"io"

	"github.com/timeplus-io/proton-go/internal/alias/bx"
)

// PacketKind is the leading varint of every native-protocol message.
type PacketKind uint64

// Client → server.
const (
	ClientHello  PacketKind = 0
	ClientQuery  PacketKind = 1
	ClientData   PacketKind = 2
	ClientCancel PacketKind = 3
	ClientPing   PacketKind = 4
)

// Server → client.
const (
	ServerHello       PacketKind = 0
	ServerData        PacketKind = 1
	ServerException   PacketKind = 2
	ServerProgress    PacketKind = 3
	ServerPong        PacketKind = 4
	ServerEndOfStream PacketKind = 5
)

// MaxExceptionDepth limits nested server exceptions on malformed/hostile input.
const MaxExceptionDepth = 16

// WritePacket writes kind followed by each field as a length-prefixed string.
func WritePacket(w Sink, kind PacketKind, fields ...string) error {
	if err := WriteUvarint(w, uint64(kind)); err != nil {
		return err
	}
	for _, f := range fields {
		if err := WriteString(w, f); err != nil {
			return err
		}
	}
	return nil
}

func ReadPacket(r Source) (PacketKind, error) {
	k, err := ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	return PacketKind(k), nil
}

// Exception is the payload of a ServerException packet.
type Exception struct {
	Code       int32
	Name       string
	Message    string
	StackTrace string
	Nested     *Exception
}

func (e *Exception) Error() string {
	return fmt.Sprintf("code %d, %s: %s", e.Code, e.Name, e.Message)
}

func (e *Exception) Unwrap() error {
	if e.Nested == nil {
		return nil
	}
	return e.Nested
}

// ReadException decodes an exception payload; the packet kind has already been consumed.
func ReadException(r Source) (*Exception, error) {
	return readException(r, 0)
}

func readException(r Source, depth int) (*Exception, error) {
	if depth >= MaxExceptionDepth {
		return nil, fmt.Errorf("wire: exception nesting deeper than %d", MaxExceptionDepth)
	}
	var code [4]byte
	if _, err := io.ReadFull(r, code[:]); err != nil {
		return nil, err
	}
	e := &Exception{Code: bx.I32(code[:])}

	var err error
	if e.Name, err = ReadString(r); err != nil {
		return nil, err
	}
	if e.Message, err = ReadString(r); err != nil {
		return nil, err
	}
	if e.StackTrace, err = ReadString(r); err != nil {
		return nil, err
	}
	hasNested, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	if hasNested != 0 {
		if e.Nested, err = readException(r, depth+1); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// WriteException is the inverse of ReadException, without the packet kind.
func WriteException(w Sink, e *Exception) error {
	var code [4]byte
	bx.PutU32(code[:], uint32(e.Code))
	if _, err := w.Write(code[:]); err != nil {
		return err
	}
	for _, s := range []string{e.Name, e.Message, e.StackTrace} {
		if err := WriteString(w, s); err != nil {
			return err
		}
	}
	if e.Nested == nil {
		return w.WriteByte(0)
	}
	if err := w.WriteByte(1); err != nil {
		return err
	}
	return WriteException(w, e.Nested)
}
