package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	proton "github.com/timeplus-io/proton-go"
	"github.com/timeplus-io/proton-go/pkg/cluster"
	"github.com/timeplus-io/proton-go/pkg/transport"
	"github.com/timeplus-io/proton-go/pkg/types"
)

var errQuit = errors.New("quit")

const helpText = `meta commands:
  \type <type>           parse one type and print its tree
  \columns <list>        parse "name Type, ..." and print a table
  \probe <uri>           detect the protocol of a node and ping it
  \nodes                 list managed nodes with their status
  \health                sweep unhealthy nodes now
  \history               print history
  \help                  show help
  \q | quit | exit       quit

sql:
  end a statement with ';' to run it (multiline is supported)`

type inspector struct {
	out     io.Writer
	client  *proton.Client
	history *History
	timeout time.Duration
}

func isMetaCommand(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "\\") || line == "quit" || line == "exit"
}

// meta runs one backslash command.
func (in *inspector) meta(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "\\q", "quit", "exit":
		return errQuit
	case "\\help":
		fmt.Fprintln(in.out, helpText)
	case "\\history":
		in.history.Print(in.out, 50)
	case "\\type":
		return in.describeType(arg)
	case "\\columns":
		return in.describeColumns(arg)
	case "\\probe":
		return in.probe(ctx, arg)
	case "\\nodes":
		in.nodes()
	case "\\health":
		n, err := in.client.CheckHealth(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(in.out, "%d node(s) still unhealthy\n", n)
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
	return nil
}

func (in *inspector) describeType(text string) error {
	if text == "" {
		return errors.New(`usage: \type <type>`)
	}
	col, err := in.client.Columns("value " + text)
	if err != nil {
		return err
	}
	printTree(in.out, col[0], 0)
	return nil
}

func (in *inspector) describeColumns(text string) error {
	cols, err := in.client.Columns(text)
	if err != nil {
		return err
	}
	rows := make([][]string, len(cols))
	for i, c := range cols {
		rows[i] = []string{c.Name(), c.TypeName(), arrowName(c), fmt.Sprint(c.EstimatedByteLength().Bytes())}
	}
	printTable(in.out, []string{"name", "type", "arrow", "size"}, rows)
	return nil
}

func (in *inspector) probe(ctx context.Context, uri string) error {
	node, err := cluster.ParseNode(uri)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, in.timeout)
	defer cancel()

	start := time.Now()
	if node.Protocol() == cluster.Any {
		p, err := cluster.DetectProtocol(ctx, node.Address())
		if err != nil {
			return fmt.Errorf("detect %s: %w", node.Address(), err)
		}
		fmt.Fprintf(in.out, "detected %s\n", p)
		node = node.WithProtocol(p)
	}
	if err := transport.NewProber(in.client.Config()).Probe(ctx, node); err != nil {
		return err
	}
	fmt.Fprintf(in.out, "%s ok in %s\n", node, time.Since(start).Round(time.Microsecond))
	return nil
}

func (in *inspector) nodes() {
	reg := in.client.Registry()
	var rows [][]string
	for _, n := range reg.HealthyNodes() {
		rows = append(rows, []string{n.String(), reg.Status(n).String(), fmt.Sprint(reg.Failures(n))})
	}
	for _, n := range reg.UnhealthyNodes() {
		rows = append(rows, []string{n.String(), reg.Status(n).String(), fmt.Sprint(reg.Failures(n))})
	}
	printTable(in.out, []string{"node", "status", "failures"}, rows)
}

// query runs stmt and prints the result.
func (in *inspector) query(ctx context.Context, stmt string) error {
	stmt = strings.TrimSuffix(strings.TrimSpace(stmt), ";")
	resp, err := in.client.Execute(ctx, in.client.Query(stmt))
	if err != nil {
		return err
	}
	defer func() { _ = resp.Close() }()

	if !resp.Format.HasHeader() {
		_, err := io.Copy(in.out, resp.Body)
		return err
	}
	cols, err := resp.Columns()
	if err != nil {
		return err
	}
	rows, err := resp.Rows()
	if err != nil {
		return err
	}

	header := make([]string, len(cols))
	for i, c := range cols {
		header[i] = c.Name()
	}
	var out [][]string
	for {
		row, err := rows.ReadRow()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatValue(v)
		}
		out = append(out, cells)
	}
	printTable(in.out, header, out)
	fmt.Fprintf(in.out, "(%d rows, %d read)\n", len(out), resp.Summary.ReadRows)
	return nil
}

func printTree(w io.Writer, c *types.Column, depth int) {
	indent := strings.Repeat("  ", depth)
	fmt.Fprintf(w, "%s%s: %s\n", indent, c.Name(), c.TypeName())

	var props []string
	props = append(props, "kind="+c.DataType().String())
	if c.Nullable() {
		props = append(props, "nullable")
	}
	if c.LowCardinality() {
		props = append(props, "low_cardinality")
	}
	if c.DataType().IsDecimal() {
		props = append(props, fmt.Sprintf("precision=%d", c.Precision()), fmt.Sprintf("scale=%d", c.Scale()))
	}
	if tz := c.TimeZone(); tz != "" {
		props = append(props, "tz="+tz)
	}
	if n := c.ArrayNestingLevel(); n > 0 {
		props = append(props, fmt.Sprintf("array_level=%d", n))
	}
	if name := c.AggregateFunctionName(); name != "" {
		props = append(props, "aggregate="+name)
	}
	props = append(props, fmt.Sprintf("size=%d", c.EstimatedByteLength().Bytes()), "arrow="+arrowName(c))
	fmt.Fprintf(w, "%s  %s\n", indent, strings.Join(props, " "))

	for _, n := range c.Nested() {
		printTree(w, n, depth+1)
	}
}

func arrowName(c *types.Column) string {
	t, err := c.ArrowType()
	if err != nil {
		return "-"
	}
	return t.String()
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}
	if t, ok := v.(time.Time); ok {
		return t.Format(time.DateTime)
	}
	return fmt.Sprintf("%v", v)
}

func printTable(w io.Writer, header []string, rows [][]string) {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i := range header {
			if i < len(row) && len(row[i]) > widths[i] {
				widths[i] = len(row[i])
			}
		}
	}

	printRow := func(values []string) {
		for i := range header {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			var s string
			if i < len(values) {
				s = values[i]
			}
			fmt.Fprint(w, padRight(s, widths[i]))
		}
		fmt.Fprintln(w)
	}

	printRow(header)
	for i := range header {
		if i > 0 {
			fmt.Fprint(w, "-+-")
		}
		fmt.Fprint(w, strings.Repeat("-", widths[i]))
	}
	fmt.Fprintln(w)
	for _, row := range rows {
		printRow(row)
	}
}

func padRight(s string, w int) string {
	if len(s) >= w {
		return s
	}
	return s + strings.Repeat(" ", w-len(s))
}

// statementComplete reports whether buf holds a ';' outside quotes.
func statementComplete(buf string) bool {
	var quote rune
	escaped := false
	for _, r := range buf {
		if escaped {
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == ';':
			return true
		}
	}
	return false
}
