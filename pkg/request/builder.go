// Package request builds requests and seals them into immutable snapshots
// ready for dispatch.
package request

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/compress"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/types"
)

// Mode separates reads from writes that carry a data stream.
type Mode uint8

const (
	ModeQuery Mode = iota
	ModeMutation
)

func (m Mode) String() string {
	if m == ModeMutation {
		return "mutation"
	}
	return "query"
}

// Resolver picks a node for a selector. *cluster.Registry is one.
type Resolver interface {
	Select(sel cluster.Selector) (*cluster.Node, error)
}

// Setting is a server-side setting sent with the request.
type Setting struct {
	Key   string
	Value string
}

// ExternalTable is a temporary table shipped with a query.
type ExternalTable struct {
	Name      string
	Structure string // column list, e.g. "id uint64, name string"
	Format    codec.Format
	Content   io.Reader

	columns []*types.Column
	body    *body
}

// Columns is the parsed Structure. It is set once the table is added to a
// builder.
func (t ExternalTable) Columns() []*types.Column { return slices.Clone(t.columns) }

// Builder collects a request. Mutators return the builder and record the
// first failure, reported by Err and Seal. A Builder is not safe for
// concurrent use; Seal it and share the result.
type Builder struct {
	mode Mode
	base config.Config

	query    *ParameterizedQuery
	format   codec.Format
	values   []string
	named    map[string]string
	options  map[config.Option]any
	settings []Setting
	external []ExternalTable
	queryID  string
	table    string
	data     *body

	node     *cluster.Node
	resolver Resolver
	selector cluster.Selector

	derived *config.Config
	err     error
}

func New(mode Mode, cfg config.Config) *Builder {
	b := &Builder{mode: mode, base: cfg}
	b.Reset()
	return b
}

func NewQuery(cfg config.Config) *Builder { return New(ModeQuery, cfg) }

func NewMutation(cfg config.Config) *Builder { return New(ModeMutation, cfg) }

// Reset clears everything but the mode and base configuration.
func (b *Builder) Reset() *Builder {
	mode, base := b.mode, b.base
	*b = Builder{
		mode:     mode,
		base:     base,
		named:    map[string]string{},
		options:  map[config.Option]any{},
		selector: cluster.AnyNode,
	}
	b.format, _ = codec.ParseFormat(base.Format)
	return b
}

func (b *Builder) fail(err error) *Builder {
	if b.err == nil {
		b.err = err
	}
	return b
}

// Err is the first error recorded by a mutator.
func (b *Builder) Err() error { return b.err }

func (b *Builder) Mode() Mode { return b.mode }

func (b *Builder) Query(sql string) *Builder {
	b.query = ParseQuery(sql)
	return b
}

func (b *Builder) Format(f codec.Format) *Builder {
	if f == codec.UnknownFormat {
		return b.fail(fmt.Errorf("%w: empty format", codec.ErrUnknownFormat))
	}
	b.format = f
	return b
}

// Param binds one placeholder by name. It wins over a positional value.
func (b *Builder) Param(name string, v any) *Builder {
	lit, err := Literal(v)
	if err != nil {
		return b.fail(fmt.Errorf("parameter %s: %w", name, err))
	}
	b.named[name] = lit
	return b
}

// Params binds placeholders positionally in declaration order, replacing
// earlier positional values.
func (b *Builder) Params(vs ...any) *Builder {
	lits := make([]string, 0, len(vs))
	for i, v := range vs {
		lit, err := Literal(v)
		if err != nil {
			return b.fail(fmt.Errorf("parameter #%d: %w", i+1, err))
		}
		lits = append(lits, lit)
	}
	b.values = lits
	return b
}

func (b *Builder) ParamsMap(m map[string]any) *Builder {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		b.Param(k, m[k])
	}
	return b
}

// Option overrides one configuration value for this request.
func (b *Builder) Option(o config.Option, v any) *Builder {
	if !slices.Contains(config.Options(), o) {
		return b.fail(fmt.Errorf("%w: unknown option %q", config.ErrInvalid, string(o)))
	}
	b.options[o] = v
	b.derived = nil
	return b
}

func (b *Builder) RemoveOption(o config.Option) *Builder {
	if _, ok := b.options[o]; ok {
		delete(b.options, o)
		b.derived = nil
	}
	return b
}

// Set adds a setting or replaces its value in place.
func (b *Builder) Set(key, value string) *Builder {
	for i := range b.settings {
		if b.settings[i].Key == key {
			b.settings[i].Value = value
			return b
		}
	}
	b.settings = append(b.settings, Setting{Key: key, Value: value})
	return b
}

func (b *Builder) RemoveSetting(key string) *Builder {
	b.settings = slices.DeleteFunc(b.settings, func(s Setting) bool { return s.Key == key })
	return b
}

func (b *Builder) External(t ExternalTable) *Builder {
	if t.Name == "" {
		return b.fail(fmt.Errorf("%w: external table without a name", errs.ErrIllegalState))
	}
	cols, err := types.ParseColumns(t.Structure)
	if err != nil {
		return b.fail(fmt.Errorf("external table %s: %w", t.Name, err))
	}
	if t.Format == codec.UnknownFormat {
		t.Format = codec.TabSeparated
	}
	t.columns = cols
	t.body = newBody(t.Content)
	b.external = append(b.external, t)
	return b
}

func (b *Builder) Session(id string, check bool, timeout time.Duration) *Builder {
	b.Option(config.OptSessionID, id)
	b.Option(config.OptSessionCheck, check)
	return b.Option(config.OptSessionTimeout, timeout)
}

func (b *Builder) QueryID(id string) *Builder {
	b.queryID = id
	return b
}

// Compress asks for a compressed response. Level is clamped into [0,9]; an
// enabled request with alg None uses the configured algorithm.
func (b *Builder) Compress(enable bool, alg compress.Algorithm, level int) *Builder {
	return b.compression(config.OptCompress, config.OptCompressAlgorithm, config.OptCompressLevel,
		b.base.Compress.Algorithm, enable, alg, level)
}

// Decompress compresses the request body so the server decompresses it.
func (b *Builder) Decompress(enable bool, alg compress.Algorithm, level int) *Builder {
	return b.compression(config.OptDecompress, config.OptDecompressAlgorithm, config.OptDecompressLevel,
		b.base.Decompress.Algorithm, enable, alg, level)
}

func (b *Builder) compression(on, algo, lvl config.Option, fallback compress.Algorithm,
	enable bool, alg compress.Algorithm, level int,
) *Builder {
	if enable && alg == compress.None {
		alg = fallback
		if alg == compress.None {
			alg = compress.LZ4
		}
	}
	b.Option(on, enable)
	b.Option(algo, alg)
	return b.Option(lvl, compress.NormalizeLevel(level))
}

// Server pins the request to node.
func (b *Builder) Server(node *cluster.Node) *Builder {
	if node == nil {
		return b.fail(fmt.Errorf("%w: nil node", errs.ErrIllegalState))
	}
	b.node = node
	b.resolver = nil
	return b
}

// Select defers the node choice to r until Seal.
func (b *Builder) Select(r Resolver, sel cluster.Selector) *Builder {
	if r == nil {
		return b.fail(fmt.Errorf("%w: nil resolver", errs.ErrIllegalState))
	}
	b.node = nil
	b.resolver = r
	b.selector = sel
	return b
}

// Table names the insert target of a mutation.
func (b *Builder) Table(name string) *Builder {
	if b.mode != ModeMutation {
		return b.fail(fmt.Errorf("%w: table is only valid for mutations", errs.ErrIllegalState))
	}
	b.table = name
	return b
}

// Data is the body of a mutation, encoded in the request format. When r
// implements io.ReaderAt and Size, as *bytes.Reader and *strings.Reader do,
// every Seal reads it from the start. Any other reader belongs to the first
// snapshot and later Seals fail with ErrStreamTaken.
func (b *Builder) Data(r io.Reader) *Builder {
	if b.mode != ModeMutation {
		return b.fail(fmt.Errorf("%w: data is only valid for mutations", errs.ErrIllegalState))
	}
	b.data = newBody(r)
	return b
}

// Config is the base configuration with this request's options applied. It
// is recomputed only after an option changed.
func (b *Builder) Config() (config.Config, error) {
	if b.derived != nil {
		return *b.derived, nil
	}
	cfg, err := b.base.With(b.options)
	if err != nil {
		return b.base, err
	}
	b.derived = &cfg
	return cfg, nil
}

// Seal snapshots the builder. The node is resolved now and never changes
// for the snapshot. The builder stays usable and later changes to it do
// not reach the snapshot.
func (b *Builder) Seal(ctx context.Context) (*Sealed, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.query == nil && (b.mode == ModeQuery || b.table == "") {
		return nil, fmt.Errorf("%w: %s without a statement", errs.ErrIllegalState, b.mode)
	}

	cfg, err := b.Config()
	if err != nil {
		return nil, err
	}

	node := b.node
	switch {
	case node != nil:
	case b.resolver != nil:
		node, err = b.resolver.Select(b.selector)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: no server or resolver set", errs.ErrIllegalState)
	}

	params := map[string]string{}
	if b.query != nil {
		params, err = b.query.Bind(b.values)
		if err != nil {
			return nil, err
		}
	}
	maps.Copy(params, b.named)

	if !b.data.available() {
		return nil, fmt.Errorf("%w: mutation data", ErrStreamTaken)
	}
	for _, t := range b.external {
		if !t.body.available() {
			return nil, fmt.Errorf("%w: external table %s", ErrStreamTaken, t.Name)
		}
	}
	external := slices.Clone(b.external)
	for i := range external {
		external[i].Content = external[i].body.take()
		external[i].body = nil
	}

	id := b.queryID
	if id == "" {
		id = uuid.NewString()
	}

	return &Sealed{
		mode:     b.mode,
		cfg:      cfg,
		node:     node,
		query:    b.query,
		format:   b.format,
		params:   params,
		settings: slices.Clone(b.settings),
		external: external,
		queryID:  id,
		table:    b.table,
		data:     b.data.take(),
	}, nil
}

// ErrStreamTaken is returned by Seal when a plain stream was already handed
// to an earlier snapshot.
var ErrStreamTaken = fmt.Errorf("%w: request stream already sealed", errs.ErrIllegalState)

type sizedReaderAt interface {
	io.ReaderAt
	Size() int64
}

// body gives each snapshot its own reader when the source can be read at an
// offset, and the source itself to the first snapshot otherwise.
type body struct {
	r     io.Reader
	taken bool
}

func newBody(r io.Reader) *body {
	if r == nil {
		return nil
	}
	return &body{r: r}
}

func (b *body) available() bool {
	if b == nil {
		return true
	}
	_, sized := b.r.(sizedReaderAt)
	return sized || !b.taken
}

func (b *body) take() io.Reader {
	if b == nil {
		return nil
	}
	if ra, ok := b.r.(sizedReaderAt); ok {
		return io.NewSectionReader(ra, 0, ra.Size())
	}
	b.taken = true
	return b.r
}

// MustSeal is Seal for tests and examples.
func (b *Builder) MustSeal() *Sealed {
	s, err := b.Seal(context.Background())
	if err != nil {
		panic(fmt.Sprintf("request: seal: %v", err))
	}
	return s
}
