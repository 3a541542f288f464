package codec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/timeplus-io/proton-go/pkg/types"
	"github.com/timeplus-io/proton-go/pkg/wire"
)

func init() {
	Register(RowBinary, rowBinaryFactory{})
	Register(RowBinaryWithNamesAndTypes, rowBinaryFactory{header: true})
}

type rowBinaryFactory struct {
	header bool
}

func (f rowBinaryFactory) NewRowWriter(w io.Writer, cols []*types.Column) (RowWriter, error) {
	return NewRowBinaryWriter(w, cols, f.header), nil
}

func (f rowBinaryFactory) NewRowReader(r io.Reader, cols []*types.Column) (RowReader, error) {
	return NewRowBinaryReader(r, cols, f.header)
}

// RowBinaryWriter buffers encoded rows in front of w.
type RowBinaryWriter struct {
	out   *bufio.Writer
	cols  []*types.Column
	codec RowBinaryCodec

	header      bool
	wroteHeader bool
	rows        int
}

// NewRowBinaryWriter sizes its buffer from the columns' size hints. With
// header set, names and types precede the first row.
func NewRowBinaryWriter(w io.Writer, cols []*types.Column, header bool) *RowBinaryWriter {
	size := int(RowSizeHint(cols)) * 64
	if size < 4096 {
		size = 4096
	}
	return &RowBinaryWriter{
		out:    bufio.NewWriterSize(w, size),
		cols:   cols,
		header: header,
	}
}

// SetLocation sets the zone used for date/time columns without one.
func (w *RowBinaryWriter) SetLocation(loc *time.Location) { w.codec.Location = loc }

func (w *RowBinaryWriter) writeHeader() error {
	if !w.header || w.wroteHeader {
		return nil
	}
	w.wroteHeader = true
	return WriteHeader(w.out, w.cols)
}

func (w *RowBinaryWriter) WriteRow(values []any) error {
	if len(values) != len(w.cols) {
		return fmt.Errorf("%w: %d values for %d columns", ErrSchemaMismatch, len(values), len(w.cols))
	}
	if err := w.writeHeader(); err != nil {
		return err
	}
	for i, col := range w.cols {
		if err := w.codec.Serialize(w.out, col, values[i]); err != nil {
			return fmt.Errorf("column %q: %w", col.Name(), err)
		}
	}
	w.rows++
	return nil
}

// Rows is the number of rows written so far.
func (w *RowBinaryWriter) Rows() int { return w.rows }

func (w *RowBinaryWriter) Flush() error {
	if err := w.writeHeader(); err != nil {
		return err
	}
	return w.out.Flush()
}

// RowBinaryReader decodes rows until the source is exhausted.
type RowBinaryReader struct {
	src   wire.Source
	cols  []*types.Column
	codec RowBinaryCodec
}

// NewRowBinaryReader reads the header right away when header is set and
// ignores cols in that case.
func NewRowBinaryReader(r io.Reader, cols []*types.Column, header bool) (*RowBinaryReader, error) {
	var src wire.Source
	switch s := r.(type) {
	case *wire.Cursor:
		src = s
	case *bufio.Reader:
		src = s
	default:
		src = bufio.NewReader(r)
	}
	rr := &RowBinaryReader{src: src, cols: cols}
	if header {
		hcols, err := ReadHeader(src)
		if err != nil {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		rr.cols = hcols
	}
	return rr, nil
}

func (r *RowBinaryReader) SetLocation(loc *time.Location) { r.codec.Location = loc }

func (r *RowBinaryReader) Columns() []*types.Column { return r.cols }

// ReadRow returns io.EOF only at a row boundary. A row cut short yields
// io.ErrUnexpectedEOF.
func (r *RowBinaryReader) ReadRow() ([]any, error) {
	if r.atEOF() {
		return nil, io.EOF
	}
	row := make([]any, len(r.cols))
	for i, col := range r.cols {
		v, err := r.codec.Deserialize(r.src, col)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("column %q: %w", col.Name(), err)
		}
		row[i] = v
	}
	return row, nil
}

func (r *RowBinaryReader) atEOF() bool {
	switch s := r.src.(type) {
	case *wire.Cursor:
		return s.Remaining() == 0
	case *bufio.Reader:
		_, err := s.Peek(1)
		return err != nil
	}
	return false
}

// WriteHeader writes the RowBinaryWithNamesAndTypes prefix: the column
// count, the names and then the types.
func WriteHeader(w wire.Sink, cols []*types.Column) error {
	if err := wire.WriteUvarint(w, uint64(len(cols))); err != nil {
		return err
	}
	for _, c := range cols {
		if err := wire.WriteString(w, c.Name()); err != nil {
			return err
		}
	}
	for _, c := range cols {
		if err := wire.WriteString(w, c.TypeName()); err != nil {
			return err
		}
	}
	return nil
}

func ReadHeader(r wire.Source) ([]*types.Column, error) {
	n, err := readLength(r)
	if err != nil {
		return nil, err
	}
	names := make([]string, n)
	for i := range names {
		if names[i], err = wire.ReadString(r); err != nil {
			return nil, err
		}
	}
	cols := make([]*types.Column, n)
	for i := range cols {
		typ, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		if cols[i], err = types.Parse(typ, names[i]); err != nil {
			return nil, err
		}
	}
	return cols, nil
}
