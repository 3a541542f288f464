package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proton "github.com/timeplus-io/proton-go"
	"github.com/timeplus-io/proton-go/internal/testserver"
	"github.com/timeplus-io/proton-go/pkg/codec"
	"github.com/timeplus-io/proton-go/pkg/config"
	"github.com/timeplus-io/proton-go/pkg/errs"
	"github.com/timeplus-io/proton-go/pkg/executor"
	"github.com/timeplus-io/proton-go/pkg/types"
)

func TestStatementComplete(t *testing.T) {
	cases := map[string]bool{
		"SELECT 1":            false,
		"SELECT 1;":           true,
		"SELECT ';'":          false,
		"SELECT 'it\\'s';":    true,
		"SELECT `a;b` FROM t": false,
		`SELECT "x;" FROM t;`: true,
	}
	for in, want := range cases {
		assert.Equal(t, want, statementComplete(in), in)
	}
}

func TestCompactOneLine(t *testing.T) {
	assert.Equal(t, "SELECT a, b FROM t", compactOneLine("  SELECT a,\n\tb\r\n  FROM   t "))
	assert.Empty(t, compactOneLine(" \n\t"))
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "history")
	h := NewHistory(path)
	require.NoError(t, h.Load(10))
	for _, s := range []string{"SELECT 1;", "  ", "SELECT\n2;", `\nodes`} {
		require.NoError(t, h.Append(s))
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1;\nSELECT 2;\n\\nodes\n", string(data))

	again := NewHistory(path)
	require.NoError(t, again.Load(2))
	assert.Equal(t, []string{"SELECT 2;", `\nodes`}, again.Lines())

	var buf bytes.Buffer
	again.Print(&buf, 1)
	assert.Equal(t, "    2  \\nodes\n", buf.String())

	require.NoError(t, again.Append("SELECT\t3;"))
	assert.Equal(t, []string{`\nodes`, "SELECT 3;"}, again.Lines())
}

func TestHistory_LoadCompactsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history")
	require.NoError(t, os.WriteFile(path, []byte("SELECT  1;\r\n\n  \n\\type   UInt8\r\n"), 0o644))

	h := NewHistory(path)
	require.NoError(t, h.Load(0))
	assert.Equal(t, []string{"SELECT 1;", `\type UInt8`}, h.Lines())

	require.NoError(t, NewHistory(filepath.Join(t.TempDir(), "missing")).Load(5))
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"id", "name"}, [][]string{{"1", "alpha"}, {"22", "b"}})
	assert.Equal(t, ""+
		"id | name \n"+
		"---+------\n"+
		"1  | alpha\n"+
		"22 | b    \n", buf.String())
}

func newInspector(t *testing.T, nodes ...string) (*inspector, *bytes.Buffer) {
	t.Helper()
	cfg := config.Default()
	cfg.Nodes = nodes
	cfg.Compress.Enabled = false
	cfg.HealthCheckInterval = time.Hour
	c, err := proton.New(cfg, proton.WithShared(executor.NewShared("inspect", 1, 4, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })

	var out bytes.Buffer
	return &inspector{out: &out, client: c, history: NewHistory(""), timeout: time.Second}, &out
}

func TestInspector_Type(t *testing.T) {
	in, out := newInspector(t)

	require.NoError(t, in.meta(context.Background(), `\type Nullable(Decimal(10, 2))`))
	assert.Contains(t, out.String(), "value: nullable(decimal(10, 2))")
	assert.Contains(t, out.String(), "nullable")
	assert.Contains(t, out.String(), "precision=10 scale=2")

	out.Reset()
	require.NoError(t, in.meta(context.Background(), `\type Map(String, Array(UInt8))`))
	assert.Contains(t, out.String(), "value: map(string, array(uint8))")
	assert.Contains(t, out.String(), "\n  ", "key and value are printed as children")

	require.Error(t, in.meta(context.Background(), `\type`))
	require.ErrorIs(t, in.meta(context.Background(), `\type Array(`), errs.ErrTypeSyntax)
}

func TestInspector_Columns(t *testing.T) {
	in, out := newInspector(t)

	require.NoError(t, in.meta(context.Background(), `\columns id UInt32, name String`))
	lines := bytes.Split(bytes.TrimSpace(out.Bytes()), []byte("\n"))
	require.Len(t, lines, 4)
	assert.Contains(t, string(lines[0]), "name")
	assert.Contains(t, string(lines[2]), "id   | uint32")
	assert.Contains(t, string(lines[2]), "| 4")
}

func TestInspector_ProbeAndNodes(t *testing.T) {
	s, err := testserver.Start(nil)
	require.NoError(t, err)
	defer s.Close()

	in, out := newInspector(t, "http://"+s.HTTPAddr)
	ctx := context.Background()

	require.NoError(t, in.meta(ctx, `\probe `+s.NativeAddr))
	assert.Contains(t, out.String(), "detected tcp")
	assert.Contains(t, out.String(), " ok in ")

	out.Reset()
	require.NoError(t, in.meta(ctx, `\nodes`))
	assert.Contains(t, out.String(), s.HTTPAddr)
	assert.Contains(t, out.String(), "healthy")

	out.Reset()
	require.NoError(t, in.meta(ctx, `\health`))
	assert.Equal(t, "0 node(s) still unhealthy\n", out.String())

	s.SetDown(true)
	require.Error(t, in.meta(ctx, `\probe http://`+s.HTTPAddr))
}

func TestInspector_Query(t *testing.T) {
	s, err := testserver.Start(nil)
	require.NoError(t, err)
	defer s.Close()

	cols, err := types.ParseColumns("n UInt8, s Nullable(String)")
	require.NoError(t, err)
	var body bytes.Buffer
	w := codec.NewRowBinaryWriter(&body, cols, true)
	require.NoError(t, w.WriteRow([]any{uint8(7), "seven"}))
	require.NoError(t, w.WriteRow([]any{uint8(8), nil}))
	require.NoError(t, w.Flush())
	s.Handle(func(testserver.Query) testserver.Reply {
		return testserver.Reply{
			Header: map[string]string{
				"X-ClickHouse-Format":  "RowBinaryWithNamesAndTypes",
				"X-ClickHouse-Summary": `{"read_rows":"2"}`,
			},
			Body: body.Bytes(),
		}
	})

	in, out := newInspector(t, "http://"+s.HTTPAddr)
	require.NoError(t, in.query(context.Background(), "SELECT n, s FROM t;"))
	assert.Equal(t, ""+
		"n | s    \n"+
		"--+------\n"+
		"7 | seven\n"+
		"8 | NULL \n"+
		"(2 rows, 2 read)\n", out.String())
	assert.Equal(t, "SELECT n, s FROM t", s.Queries()[0].Text)
}

func TestInspector_Meta(t *testing.T) {
	in, out := newInspector(t)
	ctx := context.Background()

	require.ErrorIs(t, in.meta(ctx, `\q`), errQuit)
	require.ErrorIs(t, in.meta(ctx, "exit"), errQuit)
	require.Error(t, in.meta(ctx, `\bogus`))

	require.NoError(t, in.meta(ctx, `\help`))
	assert.Contains(t, out.String(), `\probe <uri>`)
}
