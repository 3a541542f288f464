package request

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"math/big"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/compress"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/types"
)

func TestParseQuery_Placeholders(t *testing.T) {
	cases := []struct {
		name  string
		query string
		want  []string
	}{
		{"none", "SELECT 1", nil},
		{"simple", "SELECT * FROM t WHERE id = :id AND name = :name", []string{"id", "name"}},
		{"repeated", "SELECT :a + :b + :a", []string{"a", "b"}},
		{"cast", "SELECT x::int32, :v::string", []string{"v"}},
		{"quoted", "SELECT ':not', \":nope\", `:no`, :yes", []string{"yes"}},
		{"escaped quote", `SELECT 'it\'s :x', :y`, []string{"y"}},
		{"line comment", "SELECT 1 -- :skip\n, :p", []string{"p"}},
		{"block comment", "SELECT /* :skip */ :p", []string{"p"}},
		{"digits", "SELECT :1, :p1", []string{"p1"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := ParseQuery(tc.query)
			assert.Equal(t, tc.want, q.Parameters())
			assert.Equal(t, tc.query, q.Text())
		})
	}
}

func TestParameterizedQuery_Apply(t *testing.T) {
	q := ParseQuery("SELECT :a, ':a', :b, :a::string")

	out, err := q.Apply(map[string]string{"a": "1", "b": "'x'"})
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1, ':a', 'x', 1::string", out)

	_, err = q.Apply(map[string]string{"a": "1"})
	require.ErrorIs(t, err, ErrMissingParameter)
	assert.Contains(t, err.Error(), "b")

	bound, err := q.Bind([]string{"1"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1"}, bound)

	_, err = q.Bind([]string{"1", "2", "3"})
	require.Error(t, err)
}

type stringer struct{}

func (stringer) String() string { return "it's" }

func TestLiteral(t *testing.T) {
	ts := time.Date(2024, 3, 7, 8, 9, 5, 0, time.UTC)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	n := 5

	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"nil pointer", (*int)(nil), "NULL"},
		{"pointer", &n, "5"},
		{"bool", true, "true"},
		{"int8", int8(-8), "-8"},
		{"uint64", uint64(math.MaxUint64), "18446744073709551615"},
		{"float", 1.5, "1.5"},
		{"float32", float32(0.1), "0.1"},
		{"inf", math.Inf(1), "inf"},
		{"neg inf", math.Inf(-1), "-inf"},
		{"nan", math.NaN(), "nan"},
		{"string", `a'b\c`, `'a\'b\\c'`},
		{"bytes", []byte("xy"), "'xy'"},
		{"time", ts, "'2024-03-07 08:09:05'"},
		{"time micros", ts.Add(1500 * time.Microsecond), "'2024-03-07 08:09:05.001500'"},
		{"decimal", decimal.RequireFromString("-12.340"), "-12.34"},
		{"big int", new(big.Int).Lsh(big.NewInt(1), 100), "1267650600228229401496703205376"},
		{"uuid", id, "'6ba7b810-9dad-11d1-80b4-00c04fd430c8'"},
		{"ip", net.ParseIP("10.0.0.1"), "'10.0.0.1'"},
		{"netip", netip.MustParseAddr("::1"), "'::1'"},
		{"stringer", stringer{}, `'it\'s'`},
		{"raw", Raw("now()"), "now()"},
		{"array", []int{1, 2}, "[1, 2]"},
		{"nested array", [][]string{{"a"}, {}}, "[['a'], []]"},
		{"nil slice", []int(nil), "[]"},
		{"fixed array", [2]bool{true, false}, "[true, false]"},
		{"tuple", Tuple{1, "x", nil}, "(1, 'x', NULL)"},
		{"map", map[string]int{"b": 2, "a": 1}, "{'a': 1, 'b': 2}"},
		{"named int", codec.RowBinary, strconv.Itoa(int(codec.RowBinary))},
		{"duration", 1500 * time.Millisecond, "1500000000"},
		{"stringer pointer", &stringer{}, `'it\'s'`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Literal(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := Literal(make(chan int))
	require.ErrorIs(t, err, ErrUnsupportedLiteral)
	_, err = Literal([]any{func() {}})
	require.ErrorIs(t, err, ErrUnsupportedLiteral)
}

type fixedResolver struct {
	node *cluster.Node
	err  error
}

func (r *fixedResolver) Select(cluster.Selector) (*cluster.Node, error) { return r.node, r.err }

var testNode = cluster.NewNode("db1", cluster.UseProtocol(cluster.HTTP))

func TestBuilder_Seal(t *testing.T) {
	b := NewQuery(config.Default()).
		Query("SELECT * FROM t WHERE a = :a AND b = :b").
		Params(1, "x").
		Set("max_threads", "2").
		QueryID("q-1").
		Server(testNode)
	require.NoError(t, b.Err())

	s, err := b.Seal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeQuery, s.Mode())
	assert.Same(t, testNode, s.Node())
	assert.Equal(t, "q-1", s.QueryID())
	assert.Equal(t, codec.RowBinaryWithNamesAndTypes, s.Format())
	assert.Equal(t, []Setting{{"max_threads", "2"}}, s.Settings())

	stmt, err := s.Statement()
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM t WHERE a = 1 AND b = 'x'", stmt)
}

func TestBuilder_SealIsolation(t *testing.T) {
	b := NewQuery(config.Default()).Query("SELECT :a").Params(1).Set("k", "v").Server(testNode)
	s, err := b.Seal(context.Background())
	require.NoError(t, err)

	b.Params(2).Set("k", "changed").Set("other", "1").Server(cluster.NewNode("db2"))

	stmt, err := s.Statement()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", stmt)
	assert.Equal(t, []Setting{{"k", "v"}}, s.Settings())
	assert.Same(t, testNode, s.Node())

	settings := s.Settings()
	settings[0].Value = "mutated"
	assert.Equal(t, "v", s.Settings()[0].Value)

	s2, err := b.Seal(context.Background())
	require.NoError(t, err)
	stmt, err = s2.Statement()
	require.NoError(t, err)
	assert.Equal(t, "SELECT 2", stmt)
	assert.NotEqual(t, s.QueryID(), s2.QueryID())
}

func TestBuilder_NodeFixedAtSeal(t *testing.T) {
	down := cluster.ProberFunc(func(context.Context, *cluster.Node) error { return errors.New("down") })
	reg := cluster.NewRegistry(cluster.WithBackoff(time.Hour), cluster.WithProber(down))
	defer reg.Close()
	a := cluster.NewNode("a", cluster.UseProtocol(cluster.HTTP))
	require.NoError(t, reg.Register(a))

	s, err := NewQuery(config.Default()).Query("SELECT 1").Select(reg, cluster.AnyNode).Seal(context.Background())
	require.NoError(t, err)
	assert.True(t, s.Node().Equal(a))

	require.NoError(t, reg.Update(a, cluster.Unhealthy))
	assert.Empty(t, reg.HealthyNodes())
	assert.True(t, s.Node().Equal(a))
}

func TestBuilder_MissingParameterAtExecution(t *testing.T) {
	s, err := NewQuery(config.Default()).Query("SELECT :a, :b").Params(1).Server(testNode).Seal(context.Background())
	require.NoError(t, err, "unbound parameters are accepted when sealing")

	_, err = s.Statement()
	require.ErrorIs(t, err, ErrMissingParameter)
	assert.Equal(t, map[string]string{"a": "1"}, s.Params())
}

func TestBuilder_NamedParams(t *testing.T) {
	s, err := NewQuery(config.Default()).
		Query("SELECT :a, :b").
		Params(1, 2).
		Param("b", "two").
		ParamsMap(map[string]any{"a": []int{1}}).
		Server(testNode).
		Seal(context.Background())
	require.NoError(t, err)
	stmt, err := s.Statement()
	require.NoError(t, err)
	assert.Equal(t, "SELECT [1], 'two'", stmt)
}

func TestBuilder_Errors(t *testing.T) {
	t.Run("first error wins", func(t *testing.T) {
		b := NewQuery(config.Default()).Param("a", make(chan int)).Option("nope", 1)
		require.ErrorIs(t, b.Err(), ErrUnsupportedLiteral)
		_, err := b.Seal(context.Background())
		require.ErrorIs(t, err, ErrUnsupportedLiteral)
	})
	t.Run("unknown option", func(t *testing.T) {
		b := NewQuery(config.Default()).Option("nope", 1)
		require.ErrorIs(t, b.Err(), config.ErrInvalid)
	})
	t.Run("bad option value", func(t *testing.T) {
		_, err := NewQuery(config.Default()).Query("SELECT 1").Server(testNode).
			Option(config.OptSocketTimeout, "soon").Seal(context.Background())
		require.ErrorIs(t, err, config.ErrInvalid)
	})
	t.Run("no statement", func(t *testing.T) {
		_, err := NewQuery(config.Default()).Server(testNode).Seal(context.Background())
		require.ErrorIs(t, err, errs.ErrIllegalState)
	})
	t.Run("no server", func(t *testing.T) {
		_, err := NewQuery(config.Default()).Query("SELECT 1").Seal(context.Background())
		require.ErrorIs(t, err, errs.ErrIllegalState)
	})
	t.Run("nil server", func(t *testing.T) {
		require.ErrorIs(t, NewQuery(config.Default()).Server(nil).Err(), errs.ErrIllegalState)
		require.ErrorIs(t, NewQuery(config.Default()).Select(nil, cluster.AnyNode).Err(), errs.ErrIllegalState)
	})
	t.Run("no healthy node", func(t *testing.T) {
		r := &fixedResolver{err: errs.ErrNoHealthyNode}
		_, err := NewQuery(config.Default()).Query("SELECT 1").Select(r, cluster.AnyNode).Seal(context.Background())
		require.ErrorIs(t, err, errs.ErrNoHealthyNode)
	})
	t.Run("table on query", func(t *testing.T) {
		require.ErrorIs(t, NewQuery(config.Default()).Table("t").Err(), errs.ErrIllegalState)
		require.ErrorIs(t, NewQuery(config.Default()).Data(strings.NewReader("")).Err(), errs.ErrIllegalState)
	})
	t.Run("too many values", func(t *testing.T) {
		_, err := NewQuery(config.Default()).Query("SELECT :a").Params(1, 2).Server(testNode).Seal(context.Background())
		require.Error(t, err)
	})
	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewQuery(config.Default()).Query("SELECT 1").Server(testNode).Seal(ctx)
		require.True(t, errors.Is(err, context.Canceled))
	})
	t.Run("empty format", func(t *testing.T) {
		require.ErrorIs(t, NewQuery(config.Default()).Format(codec.UnknownFormat).Err(), codec.ErrUnknownFormat)
	})
}

func TestBuilder_Compression(t *testing.T) {
	cfg := config.Default()
	cfg.Compress.Algorithm = compress.ZSTD
	b := NewQuery(cfg)

	b.Compress(true, compress.None, 42)
	got, err := b.Config()
	require.NoError(t, err)
	assert.True(t, got.Compress.Enabled)
	assert.Equal(t, compress.ZSTD, got.Compress.Algorithm)
	assert.Equal(t, compress.MaxLevel, got.Compress.Level)

	b.Decompress(true, compress.GZIP, -3)
	got, err = b.Config()
	require.NoError(t, err)
	assert.Equal(t, compress.GZIP, got.RequestAlgorithm())
	assert.Equal(t, compress.MinLevel, got.Decompress.Level)

	cfg.Decompress.Algorithm = compress.None
	b = NewQuery(cfg).Decompress(true, compress.None, 1)
	got, err = b.Config()
	require.NoError(t, err)
	assert.Equal(t, compress.LZ4, got.Decompress.Algorithm)
}

func TestBuilder_ConfigCache(t *testing.T) {
	b := NewQuery(config.Default()).Option(config.OptDatabase, "first")
	c1, err := b.Config()
	require.NoError(t, err)
	assert.Equal(t, "first", c1.Database)
	assert.NotNil(t, b.derived)

	b.Option(config.OptDatabase, "second")
	assert.Nil(t, b.derived)
	c2, err := b.Config()
	require.NoError(t, err)
	assert.Equal(t, "second", c2.Database)

	b.RemoveOption(config.OptDatabase)
	c3, err := b.Config()
	require.NoError(t, err)
	assert.Equal(t, "default", c3.Database)
}

func TestBuilder_Session(t *testing.T) {
	s, err := NewQuery(config.Default()).Query("SELECT 1").Server(testNode).
		Session("sess", true, time.Minute).Seal(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess", s.SessionID())
	assert.True(t, s.Config().Session.Check)
	assert.Equal(t, time.Minute, s.Config().Session.Timeout)
	_, err = uuid.Parse(s.QueryID())
	require.NoError(t, err, "query id defaults to a uuid")
}

func TestBuilder_Settings(t *testing.T) {
	b := NewQuery(config.Default()).Set("a", "1").Set("b", "2").Set("a", "3").RemoveSetting("b").Set("c", "4")
	s := b.Query("SELECT 1").Server(testNode).MustSeal()
	assert.Equal(t, []Setting{{"a", "3"}, {"c", "4"}}, s.Settings())
}

func TestBuilder_External(t *testing.T) {
	s := NewQuery(config.Default()).
		Query("SELECT * FROM ext").
		External(ExternalTable{Name: "ext", Structure: "id uint64, name nullable(string)", Content: strings.NewReader("1\ta\n")}).
		Server(testNode).
		MustSeal()

	ext := s.External()
	require.Len(t, ext, 1)
	assert.Equal(t, codec.TabSeparated, ext[0].Format)
	cols := ext[0].Columns()
	require.Len(t, cols, 2)
	assert.Equal(t, types.UInt64, cols[0].DataType())
	assert.True(t, cols[1].Nullable())

	b := NewQuery(config.Default()).External(ExternalTable{Name: "bad", Structure: "id map(string)"})
	require.ErrorIs(t, b.Err(), errs.ErrTypeSyntax)
	b = NewQuery(config.Default()).External(ExternalTable{Structure: "id int32"})
	require.ErrorIs(t, b.Err(), errs.ErrIllegalState)
}

func TestBuilder_Mutation(t *testing.T) {
	data := strings.NewReader("payload")
	s := NewMutation(config.Default()).Table("events").Format(codec.RowBinary).Data(data).Server(testNode).MustSeal()

	assert.Equal(t, ModeMutation, s.Mode())
	assert.Equal(t, "events", s.Table())
	got, err := io.ReadAll(s.Data())
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	stmt, err := s.Statement()
	require.NoError(t, err)
	assert.Equal(t, "INSERT INTO events FORMAT RowBinary", stmt)

	_, err = NewMutation(config.Default()).Server(testNode).Seal(context.Background())
	require.ErrorIs(t, err, errs.ErrIllegalState)
}

func TestBuilder_SealedSnapshotsReadTheirOwnData(t *testing.T) {
	b := NewMutation(config.Default()).Table("events").Data(strings.NewReader("row1\n")).
		External(ExternalTable{Name: "ids", Structure: "id uint32", Content: bytes.NewReader([]byte("1\n2\n"))}).
		Server(testNode)

	s1 := b.MustSeal()
	s2 := b.MustSeal()
	for _, s := range []*Sealed{s1, s2} {
		got, err := io.ReadAll(s.Data())
		require.NoError(t, err)
		assert.Equal(t, "row1\n", string(got))

		ext := s.External()
		require.Len(t, ext, 1)
		got, err = io.ReadAll(ext[0].Content)
		require.NoError(t, err)
		assert.Equal(t, "1\n2\n", string(got))
	}
}

func TestBuilder_PlainStreamGoesToOneSnapshot(t *testing.T) {
	stream := io.MultiReader(strings.NewReader("row1\n"))
	b := NewMutation(config.Default()).Table("events").Data(stream).Server(testNode)

	s := b.MustSeal()
	_, err := b.Seal(context.Background())
	require.ErrorIs(t, err, ErrStreamTaken)
	require.ErrorIs(t, err, errs.ErrIllegalState)

	got, err := io.ReadAll(s.Data())
	require.NoError(t, err)
	assert.Equal(t, "row1\n", string(got))

	// A fresh stream makes the builder sealable again.
	_, err = b.Data(io.MultiReader(strings.NewReader("row2\n"))).Seal(context.Background())
	require.NoError(t, err)

	q := NewQuery(config.Default()).Query("SELECT * FROM ext").
		External(ExternalTable{Name: "ext", Structure: "id int8", Content: io.MultiReader(strings.NewReader("1\n"))}).
		Server(testNode)
	q.MustSeal()
	_, err = q.Seal(context.Background())
	require.ErrorIs(t, err, ErrStreamTaken)
}

func TestBuilder_Reset(t *testing.T) {
	b := NewMutation(config.Default()).Table("t").Set("a", "1").Option(config.OptUser, "x").Param("p", 1)
	b.Param("bad", make(chan int))
	require.Error(t, b.Err())

	b.Reset()
	require.NoError(t, b.Err())
	assert.Equal(t, ModeMutation, b.Mode())
	cfg, err := b.Config()
	require.NoError(t, err)
	assert.Equal(t, "default", cfg.User)

	_, err = b.Server(testNode).Seal(context.Background())
	require.ErrorIs(t, err, errs.ErrIllegalState, "table was cleared")
}
