package request

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/config"
)

// Sealed is an immutable request. It has no mutators; build a new one from
// the Builder instead.
type Sealed struct {
	mode     Mode
	cfg      config.Config
	node     *cluster.Node
	query    *ParameterizedQuery
	format   codec.Format
	params   map[string]string
	settings []Setting
	external []ExternalTable
	queryID  string
	table    string
	data     io.Reader
}

func (s *Sealed) Mode() Mode                { return s.mode }
func (s *Sealed) Config() config.Config     { return s.cfg }
func (s *Sealed) Node() *cluster.Node       { return s.node }
func (s *Sealed) Format() codec.Format      { return s.format }
func (s *Sealed) QueryID() string           { return s.queryID }
func (s *Sealed) SessionID() string         { return s.cfg.Session.ID }
func (s *Sealed) Table() string             { return s.table }
// Data is this snapshot's mutation body. Snapshots sealed from a seekable
// source each get their own reader.
func (s *Sealed) Data() io.Reader { return s.data }

func (s *Sealed) Settings() []Setting       { return slices.Clone(s.settings) }
func (s *Sealed) External() []ExternalTable { return slices.Clone(s.external) }

// Params are the bound placeholders as rendered literals.
func (s *Sealed) Params() map[string]string { return maps.Clone(s.params) }

// Query is the raw text, placeholders included.
func (s *Sealed) Query() string {
	if s.query == nil {
		return ""
	}
	return s.query.Text()
}

// Statement is the text sent to the server. It fails with
// ErrMissingParameter while a placeholder is unbound. A mutation without
// query text becomes an INSERT into Table in the request format.
func (s *Sealed) Statement() (string, error) {
	if s.query == nil {
		return fmt.Sprintf("INSERT INTO %s FORMAT %s", s.table, s.format), nil
	}
	return s.query.Apply(s.params)
}
