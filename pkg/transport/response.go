package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/types"
)

// Summary is the server's progress report for a finished request.
type Summary struct {
	ReadRows        uint64 `json:"read_rows,string"`
	ReadBytes       uint64 `json:"read_bytes,string"`
	WrittenRows     uint64 `json:"written_rows,string"`
	WrittenBytes    uint64 `json:"written_bytes,string"`
	TotalRowsToRead uint64 `json:"total_rows_to_read,string"`
	ResultRows      uint64 `json:"result_rows,string"`
	ResultBytes     uint64 `json:"result_bytes,string"`
}

func parseSummary(h string) (Summary, error) {
	var s Summary
	if h == "" {
		return s, nil
	}
	if err := json.Unmarshal([]byte(h), &s); err != nil {
		return s, fmt.Errorf("%w: bad summary header: %v", errs.ErrProtocol, err)
	}
	return s, nil
}

// Response is a result stream. Close it when done.
type Response struct {
	QueryID string
	Format  codec.Format
	Summary Summary
	Body    io.Reader

	closers []io.Closer
	rows    codec.RowReader
}

// Rows decodes Body with the codec registered for Format. For formats
// without a header, cols describes the rows.
func (r *Response) Rows(cols ...*types.Column) (codec.RowReader, error) {
	if r.rows != nil {
		return r.rows, nil
	}
	f, err := codec.Lookup(r.Format)
	if err != nil {
		return nil, err
	}
	rows, err := f.NewRowReader(r.Body, cols)
	if err != nil {
		return nil, err
	}
	r.rows = rows
	return rows, nil
}

// Columns reads the header of a self-describing format.
func (r *Response) Columns() ([]*types.Column, error) {
	if !r.Format.HasHeader() {
		return nil, fmt.Errorf("%w: %s has no header", codec.ErrUnsupportedType, r.Format)
	}
	rows, err := r.Rows()
	if err != nil {
		return nil, err
	}
	return rows.Columns(), nil
}

func (r *Response) Close() error {
	var errList []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errList = append(errList, err)
		}
	}
	r.closers = nil
	return errors.Join(errList...)
}
