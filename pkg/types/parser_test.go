package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timeplus-io/proton-go/pkg/errs"
)

func TestParse_RoundTrip(t *testing.T) {
	cases := []string{
		"int32",
		"nullable(string)",
		"low_cardinality(nullable(string))",
		"array(array(int64))",
		"map(string, int32)",
		"tuple(int8, string)",
		"decimal(18,4)",
		"datetime64(3, 'UTC')",
		"enum8('a'=1,'b'=2)",
		"nullable(low_cardinality(string))",
		"tuple(a int8, `b c` array(nullable(float64)))",
		"nested(id uint64, tags array(string))",
		"aggregate_function(quantiles(0.5, 0.9), float64)",
		"simple_aggregate_function(sum, uint64)",
		"fixed_string(16)",
		"datetime('Asia/Shanghai')",
		"decimal32(4)",
		"multi_polygon",
	}
	for _, text := range cases {
		t.Run(text, func(t *testing.T) {
			c, err := Parse(text, "c")
			require.NoError(t, err)
			assert.Equal(t, text, c.OriginalType())

			again, err := Parse(c.TypeName(), "c")
			require.NoError(t, err, "canonical form %q", c.TypeName())
			assert.True(t, c.Equal(again), "%q vs %q", text, c.TypeName())

			orig, err := Parse(c.OriginalType(), "c")
			require.NoError(t, err)
			assert.True(t, c.Equal(orig))
		})
	}
}

func TestParse_CanonicalNames(t *testing.T) {
	cases := map[string]string{
		"Int32":                                "int32",
		"Nullable(String)":                     "nullable(string)",
		"LowCardinality(Nullable(String))":     "low_cardinality(nullable(string))",
		"nullable(low_cardinality(string))":    "low_cardinality(nullable(string))",
		"Array(Nullable(Decimal(18, 4)))":      "array(nullable(decimal(18, 4)))",
		"DateTime64(3, 'UTC')":                 "datetime64(3, 'UTC')",
		"FixedString(8)":                       "fixed_string(8)",
		"enum8( 'b' = 2 , 'a' = 1 )":           "enum8('a'=1, 'b'=2)",
		"Map(String, UInt64)":                  "map(string, uint64)",
		"string NULL":                          "nullable(string)",
		"AggregateFunction(uniqExact, String)": "aggregate_function(uniqExact, string)",
	}
	for in, want := range cases {
		c, err := Parse(in, "")
		require.NoError(t, err, in)
		assert.Equal(t, want, c.TypeName(), in)
	}
}

func TestParse_Aliases(t *testing.T) {
	cases := map[string]DataType{
		"INT":        Int32,
		"integer":    Int32,
		"BIGINT":     Int64,
		"TINYINT":    Int8,
		"SMALLINT":   Int16,
		"BOOLEAN":    Bool,
		"bool":       Bool,
		"TEXT":       String,
		"VARCHAR":    String,
		"BLOB":       String,
		"FLOAT":      Float32,
		"DOUBLE":     Float64,
		"TIMESTAMP":  DateTime,
		"INET4":      IPv4,
		"INET6":      IPv6,
		"UUID":       UUID,
		"Date32":     Date32,
		"UInt256":    UInt256,
		"`string`":   String,
		"BINARY(16)": FixedString,
	}
	for in, want := range cases {
		c, err := Parse(in, "x")
		require.NoError(t, err, in)
		assert.Equal(t, want, c.DataType(), in)
	}

	c, err := Parse("VARCHAR(255)", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"255"}, c.Parameters())
	assert.Equal(t, "string(255)", c.TypeName())
}

func TestParse_PrimaryKeywordsAreCaseSensitive(t *testing.T) {
	for _, in := range []string{"ARRAY(int32)", "NULLABLE(string)", "MAP(string, int8)", "Low_Cardinality(string)"} {
		_, err := Parse(in, "")
		require.ErrorIs(t, err, errs.ErrTypeSyntax, in)
	}
}

func TestParse_ArrayNesting(t *testing.T) {
	c, err := Parse("array(array(array(int32)))", "a")
	require.NoError(t, err)

	assert.Equal(t, Array, c.DataType())
	assert.Equal(t, 3, c.ArrayNestingLevel())
	require.NotNil(t, c.ArrayBaseColumn())
	assert.Equal(t, Int32, c.ArrayBaseColumn().DataType())

	inner := c.Nested()[0]
	assert.Equal(t, 2, inner.ArrayNestingLevel())
	assert.Same(t, c.ArrayBaseColumn(), inner.ArrayBaseColumn())

	scalar, err := Parse("int32", "")
	require.NoError(t, err)
	assert.Equal(t, 0, scalar.ArrayNestingLevel())
	assert.Nil(t, scalar.ArrayBaseColumn())
}

func TestParse_Arity(t *testing.T) {
	bad := []string{
		"map(string)",
		"map()",
		"map(string, int32, int8)",
		"tuple()",
		"array()",
		"array(int8, int16)",
		"nested()",
		"simple_aggregate_function(sum)",
		"aggregate_function()",
	}
	for _, in := range bad {
		_, err := Parse(in, "")
		require.ErrorIs(t, err, errs.ErrTypeSyntax, in)
	}
}

func TestParse_Errors(t *testing.T) {
	bad := []string{
		"",
		"foo",
		"array(int32",
		"array int32",
		"nullable(string",
		"nullable(string) NOT NULL",
		"nullable(nullable(string))",
		"low_cardinality(low_cardinality(string))",
		"string NOT NULL NULL",
		"string NULL NOT NULL",
		"string NOT",
		"int32(5)",
		"decimal(77, 2)",
		"decimal(10, 11)",
		"decimal(a, b)",
		"decimal64(1, 2)",
		"datetime64",
		"datetime64(10)",
		"datetime('UTC', 1)",
		"fixed_string",
		"fixed_string(0)",
		"enum8('a'=1, 'b'=1)",
		"enum8('a'=1, 'a'=2)",
		"enum8('a'=200)",
		"enum8(a=1)",
		"aggregate_function(no_such_fn, int32)",
		"int32 garbage",
		"decimal(1,,2)",
		"tuple(`a string)",
		"point(1)",
	}
	for _, in := range bad {
		_, err := Parse(in, "")
		require.ErrorIs(t, err, errs.ErrTypeSyntax, "%q", in)
	}
}

func TestParse_SyntaxErrorPosition(t *testing.T) {
	_, err := Parse("array(nosuch)", "")
	var se *SyntaxError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 6, se.Pos)
	assert.Contains(t, se.Error(), `unknown type "nosuch"`)
}

func TestParse_Modifiers(t *testing.T) {
	c, err := Parse("string NOT NULL", "s")
	require.NoError(t, err)
	assert.False(t, c.Nullable())

	c, err = Parse("int32 NULL", "n")
	require.NoError(t, err)
	assert.True(t, c.Nullable())

	c, err = Parse("nullable(int32) NULL", "n")
	require.NoError(t, err)
	assert.True(t, c.Nullable())

	for _, stop := range []string{"DEFAULT 'x, y'", "ALIAS concat(a, ', ', b)", "MATERIALIZED now()", "CODEC(ZSTD(1))", "TTL d + INTERVAL 1 DAY"} {
		c, err = Parse("string "+stop, "s")
		require.NoError(t, err, stop)
		assert.Equal(t, "string", c.OriginalType(), stop)
	}
}

func TestParse_Decimal(t *testing.T) {
	cases := []struct {
		in        string
		kind      DataType
		precision int
		scale     int
		width     int
	}{
		{"decimal(9, 2)", Decimal32, 9, 2, 4},
		{"decimal(10, 2)", Decimal64, 10, 2, 8},
		{"decimal(18,4)", Decimal64, 18, 4, 8},
		{"decimal(38, 0)", Decimal128, 38, 0, 16},
		{"decimal(39, 0)", Decimal256, 39, 0, 32},
		{"decimal(5)", Decimal32, 5, 0, 4},
		{"decimal", Decimal64, 10, 0, 8},
		{"decimal32(4)", Decimal32, 9, 4, 4},
		{"decimal64(4)", Decimal64, 18, 4, 8},
		{"decimal128(10)", Decimal128, 38, 10, 16},
		{"decimal256(20)", Decimal256, 76, 20, 32},
		{"NUMERIC(12, 3)", Decimal64, 12, 3, 8},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			c, err := Parse(tc.in, "")
			require.NoError(t, err)
			assert.Equal(t, tc.kind, c.DataType())
			assert.Equal(t, tc.precision, c.Precision())
			assert.Equal(t, tc.scale, c.Scale())
			w, ok := c.FixedByteLength()
			assert.True(t, ok)
			assert.Equal(t, tc.width, w)
		})
	}
}

func TestParse_DateTime(t *testing.T) {
	c, err := Parse("DateTime64(6, 'Asia/Shanghai')", "ts")
	require.NoError(t, err)
	assert.Equal(t, DateTime64, c.DataType())
	assert.Equal(t, 6, c.Scale())
	assert.Equal(t, "Asia/Shanghai", c.TimeZone())

	c, err = Parse("datetime", "ts")
	require.NoError(t, err)
	assert.Equal(t, "", c.TimeZone())
	loc, err := c.Location(nil)
	require.NoError(t, err)
	assert.Nil(t, loc)

	c, err = Parse("datetime('UTC')", "ts")
	require.NoError(t, err)
	assert.Equal(t, "UTC", c.TimeZone())
	loc, err = c.Location(nil)
	require.NoError(t, err)
	assert.Equal(t, "UTC", loc.String())
}

func TestParse_Enum(t *testing.T) {
	c, err := Parse("enum16('on'=1, 'off'=-1, 'it''s'=300)", "e")
	require.NoError(t, err)
	require.NotNil(t, c.EnumTable())

	et := c.EnumTable()
	assert.Equal(t, 3, et.Len())
	v, ok := et.Value("it's")
	assert.True(t, ok)
	assert.Equal(t, int16(300), v)
	n, ok := et.Name(-1)
	assert.True(t, ok)
	assert.Equal(t, "off", n)

	assert.Equal(t, "enum16('off'=-1, 'on'=1, 'it\\'s'=300)", c.TypeName())
	again, err := Parse(c.TypeName(), "e")
	require.NoError(t, err)
	assert.True(t, c.Equal(again))
}

func TestParse_Aggregate(t *testing.T) {
	c, err := Parse("aggregate_function(quantiles(0.5, 0.9), float64)", "q")
	require.NoError(t, err)
	assert.Equal(t, AggregateFunction, c.DataType())
	assert.Equal(t, AggQuantiles, c.AggregateFunction())
	assert.Equal(t, []string{"0.5", "0.9"}, c.AggregateParameters())
	require.Len(t, c.Nested(), 1)
	assert.Equal(t, Float64, c.Nested()[0].DataType())

	c, err = Parse("aggregate_function(sum_if, uint64, uint8)", "s")
	require.NoError(t, err)
	assert.Equal(t, AggSum, c.AggregateFunction())
	assert.Equal(t, "sum_if", c.AggregateFunctionName())
	assert.Len(t, c.Nested(), 2)

	c, err = Parse("aggregate_function(count)", "n")
	require.NoError(t, err)
	assert.Equal(t, AggCount, c.AggregateFunction())
	assert.Empty(t, c.Nested())

	c, err = Parse("SimpleAggregateFunction(anyLast, Nullable(String))", "l")
	require.NoError(t, err)
	assert.Equal(t, SimpleAggregateFunction, c.DataType())
	assert.Equal(t, AggAnyLast, c.AggregateFunction())
	assert.True(t, c.Nested()[0].Nullable())
}

func TestParse_TupleMembers(t *testing.T) {
	c, err := Parse("tuple(a int8, `b c` string, \"d\" nullable(int32), date, datetime64(3))", "t")
	require.NoError(t, err)
	nested := c.Nested()
	require.Len(t, nested, 5)

	names := make([]string, len(nested))
	for i, n := range nested {
		names[i] = n.Name()
	}
	assert.Equal(t, []string{"a", "b c", "d", "", ""}, names)
	assert.Equal(t, Date, nested[3].DataType())
	assert.Equal(t, "tuple(a int8, `b c` string, d nullable(int32), date, datetime64(3))", c.TypeName())

	c, err = Parse("tuple(date date, string NOT NULL)", "")
	require.NoError(t, err)
	require.Len(t, c.Nested(), 2)
	assert.Equal(t, "date", c.Nested()[0].Name())
	assert.Equal(t, "", c.Nested()[1].Name())
}

func TestParse_Map(t *testing.T) {
	c, err := Parse("map(low_cardinality(string), array(uint64))", "m")
	require.NoError(t, err)
	assert.True(t, c.Key().LowCardinality())
	assert.Equal(t, Array, c.Value().DataType())

	scalar := MustParse("int8")
	assert.Nil(t, scalar.Key())
	assert.Nil(t, scalar.Value())
}

func TestParse_Geo(t *testing.T) {
	p := MustParse("point")
	require.Len(t, p.Nested(), 2)
	assert.Equal(t, Float64, p.Nested()[0].DataType())
	w, ok := p.FixedByteLength()
	assert.True(t, ok)
	assert.Equal(t, 16, w)

	mp := MustParse("multi_polygon")
	poly := mp.Nested()[0]
	ring := poly.Nested()[0]
	point := ring.Nested()[0]
	assert.Equal(t, Polygon, poly.DataType())
	assert.Equal(t, Ring, ring.DataType())
	assert.Equal(t, Point, point.DataType())
}

func TestParse_ByteLength(t *testing.T) {
	cases := []struct {
		in       string
		fixed    int
		isFixed  bool
		estimate int
	}{
		{"int32", 4, true, 4},
		{"nullable(int32)", 0, false, 5},
		{"low_cardinality(int32)", 0, false, 4},
		{"string", 0, false, variableEstimate},
		{"fixed_string(10)", 10, true, 10},
		{"tuple(int8, uint64)", 9, true, 9},
		{"tuple(int8, string)", 0, false, 1 + variableEstimate},
		{"array(int32)", 0, false, 1 + elementsEstimate*4},
		{"map(uint8, uint16)", 0, false, 1 + elementsEstimate*3},
		{"uuid", 16, true, 16},
		{"aggregate_function(uniq, string)", 0, false, aggregateEstimate},
	}
	for _, tc := range cases {
		c := MustParse(tc.in)
		n, ok := c.FixedByteLength()
		assert.Equal(t, tc.isFixed, ok, tc.in)
		assert.Equal(t, tc.fixed, n, tc.in)
		assert.Equal(t, tc.estimate, c.EstimatedByteLength().Bytes(), tc.in)
	}
}

func TestParseColumns(t *testing.T) {
	text := "id uint64, name low_cardinality(string), " +
		"m map(string, array(decimal(10, 2))), " +
		"t tuple(a int8, b string) DEFAULT (1, 'x'), " +
		"`odd, name` string"
	cols, err := ParseColumns(text)
	require.NoError(t, err)
	require.Len(t, cols, 5)

	assert.Equal(t, "id", cols[0].Name())
	assert.Equal(t, UInt64, cols[0].DataType())
	assert.True(t, cols[1].LowCardinality())
	assert.Equal(t, Decimal64, cols[2].Value().ArrayBaseColumn().DataType())
	assert.Equal(t, "tuple(a int8, b string)", cols[3].OriginalType())
	assert.Equal(t, "odd, name", cols[4].Name())
	assert.Equal(t, "`odd, name` string", cols[4].String())
}

func TestParseColumns_Errors(t *testing.T) {
	for _, in := range []string{"", "   ", "id", "id uint64,", "id uint64 name string", "a array(int8"} {
		_, err := ParseColumns(in)
		require.ErrorIs(t, err, errs.ErrTypeSyntax, "%q", in)
	}
}

func TestParse_Nested(t *testing.T) {
	c := MustParse("nested(id uint64, tags array(string))")
	require.Len(t, c.Nested(), 2)
	assert.Equal(t, "tags", c.Nested()[1].Name())
	assert.Equal(t, 1, c.Nested()[1].ArrayNestingLevel())
}

func TestColumn_AccessorsReturnCopies(t *testing.T) {
	c := MustParse("tuple(int8, string)")
	n := c.Nested()
	n[0] = nil
	assert.NotNil(t, c.Nested()[0])

	d := MustParse("decimal(18, 4)")
	p := d.Parameters()
	p[0] = "99"
	assert.Equal(t, []string{"18", "4"}, d.Parameters())
}

func TestColumn_Equal(t *testing.T) {
	a := MustParse("array(nullable(int32))")
	assert.True(t, a.Equal(MustParse("Array(Nullable(Int32))")))
	assert.False(t, a.Equal(MustParse("array(int32)")))
	assert.False(t, a.Equal(nil))

	x, err := Parse("int32", "x")
	require.NoError(t, err)
	y, err := Parse("int32", "y")
	require.NoError(t, err)
	assert.False(t, x.Equal(y))
}

func TestMustParse_Panics(t *testing.T) {
	assert.Panics(t, func() { MustParse("nope(") })
}
