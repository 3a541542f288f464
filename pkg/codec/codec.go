// Package codec defines the contract row-format codecs implement and ships a
// reference RowBinary implementation.
package codec

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/timeplus-io/proton-go/pkg/types"
	"github.com/timeplus-io/proton-go/pkg/wire"
)

var (
	ErrSchemaMismatch  = errors.New("codec: value does not match column")
	ErrUnsupportedType = errors.New("codec: unsupported type")
	ErrUnknownFormat   = errors.New("codec: unknown format")
)

// Serializer writes one value of col.
type Serializer interface {
	Serialize(w wire.Sink, col *types.Column, v any) error
}

// Deserializer reads one value of col.
type Deserializer interface {
	Deserialize(r wire.Source, col *types.Column) (any, error)
}

type ValueCodec interface {
	Serializer
	Deserializer
}

// Format is a data format name understood by the server.
type Format uint8

const (
	UnknownFormat Format = iota
	RowBinary
	RowBinaryWithNamesAndTypes
	TabSeparated
	TabSeparatedWithNamesAndTypes
	CSV
	CSVWithNames
	JSONEachRow
	Native
)

var formatNames = [...]string{
	UnknownFormat:                 "",
	RowBinary:                     "RowBinary",
	RowBinaryWithNamesAndTypes:    "RowBinaryWithNamesAndTypes",
	TabSeparated:                  "TabSeparated",
	TabSeparatedWithNamesAndTypes: "TabSeparatedWithNamesAndTypes",
	CSV:                           "CSV",
	CSVWithNames:                  "CSVWithNames",
	JSONEachRow:                   "JSONEachRow",
	Native:                        "Native",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return ""
}

func (f Format) IsBinary() bool {
	return f == RowBinary || f == RowBinaryWithNamesAndTypes || f == Native
}

// HasHeader reports whether the stream starts with column names (and types).
func (f Format) HasHeader() bool {
	switch f {
	case RowBinaryWithNamesAndTypes, TabSeparatedWithNamesAndTypes, CSVWithNames, Native:
		return true
	}
	return false
}

// ParseFormat matches format names case-insensitively.
func ParseFormat(s string) (Format, error) {
	for i, n := range formatNames {
		if n != "" && strings.EqualFold(n, s) {
			return Format(i), nil
		}
	}
	return UnknownFormat, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// RowWriter streams rows in some format.
type RowWriter interface {
	WriteRow(values []any) error
	Flush() error
}

// RowReader reads rows until io.EOF.
type RowReader interface {
	Columns() []*types.Column
	ReadRow() ([]any, error)
}

// Factory builds readers and writers for one format. For formats with a
// header the reader ignores cols and reads them from the stream.
type Factory interface {
	NewRowWriter(w io.Writer, cols []*types.Column) (RowWriter, error)
	NewRowReader(r io.Reader, cols []*types.Column) (RowReader, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[Format]Factory{}
)

// Register installs the factory for format. Registering a format twice panics.
func Register(format Format, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[format]; dup {
		panic(fmt.Sprintf("codec: format %s registered twice", format))
	}
	registry[format] = f
}

func Lookup(format Format) (Factory, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[format]
	if !ok {
		return nil, fmt.Errorf("%w: no codec for %s", ErrUnknownFormat, format)
	}
	return f, nil
}

// RowSizeHint sums the columns' size hints.
func RowSizeHint(cols []*types.Column) types.SizeHint {
	var n types.SizeHint
	for _, c := range cols {
		n += c.EstimatedByteLength()
	}
	return n
}
