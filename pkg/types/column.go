package types

import (
	"slices"
	"strings"
	"time"
)

// SizeHint is an estimate of a value's encoded size, used to presize buffers.
// It is never an exact wire size.
type SizeHint int

func (h SizeHint) Bytes() int { return int(h) }

// Column is the resolved, immutable description of one column. Accessors that
// return slices return copies.
type Column struct {
	name         string
	originalType string
	keyword      string // canonical spelling used by TypeName

	dataType       DataType
	nullable       bool
	lowCardinality bool
	precision      int
	scale          int
	timeZone       string
	parameters     []string
	nested         []*Column
	enums          *EnumTable

	aggFunc   AggFunc
	aggName   string
	aggParams []string

	arrayLevel int
	arrayBase  *Column

	fixedLen  int
	fixed     bool
	estimated SizeHint
}

func (c *Column) Name() string { return c.name }

// OriginalType is the type text exactly as it appeared in the input.
func (c *Column) OriginalType() string { return c.originalType }
func (c *Column) DataType() DataType { return c.dataType }
func (c *Column) Nullable() bool { return c.nullable }
func (c *Column) LowCardinality() bool { return c.lowCardinality }
func (c *Column) Precision() int { return c.precision }
func (c *Column) Scale() int { return c.scale }
func (c *Column) TimeZone() string { return c.timeZone }
func (c *Column) Parameters() []string { return slices.Clone(c.parameters) }
func (c *Column) Nested() []*Column { return slices.Clone(c.nested) }
func (c *Column) EnumTable() *EnumTable { return c.enums }
func (c *Column) ArrayNestingLevel() int { return c.arrayLevel }
func (c *Column) EstimatedByteLength() SizeHint { return c.estimated }

// AggregateFunction is the aggregate of an aggregate_function or
// simple_aggregate_function column, AggUnknown otherwise.
func (c *Column) AggregateFunction() AggFunc { return c.aggFunc }

// AggregateFunctionName is the function name as written, combinators included.
func (c *Column) AggregateFunctionName() string { return c.aggName }

// AggregateParameters are the aggregate's own arguments, e.g. 0.5 in quantile(0.5).
func (c *Column) AggregateParameters() []string { return slices.Clone(c.aggParams) }

// ArrayBaseColumn is the innermost non-array column of a (multi-dimensional)
// array, or nil for non-array columns.
func (c *Column) ArrayBaseColumn() *Column { return c.arrayBase }

// FixedByteLength reports the wire width when every value of the column has
// the same statically known size.
func (c *Column) FixedByteLength() (int, bool) { return c.fixedLen, c.fixed }

// Key is the key column of a map.
func (c *Column) Key() *Column {
	if c.dataType != Map {
		return nil
	}
	return c.nested[0]
}

// Value is the value column of a map.
func (c *Column) Value() *Column {
	if c.dataType != Map {
		return nil
	}
	return c.nested[1]
}

// Location loads the column's time zone. Columns without a zone use fallback.
func (c *Column) Location(fallback *time.Location) (*time.Location, error) {
	if c.timeZone == "" {
		return fallback, nil
	}
	return time.LoadLocation(c.timeZone)
}

// TypeName renders the column type canonically. Parsing the result yields a
// column equal to c.
func (c *Column) TypeName() string {
	var b strings.Builder
	c.writeType(&b)
	return b.String()
}

func (c *Column) writeType(b *strings.Builder) {
	closers := 0
	if c.lowCardinality {
		b.WriteString("low_cardinality(")
		closers++
	}
	if c.nullable {
		b.WriteString("nullable(")
		closers++
	}

	switch c.dataType {
	case Array, Map:
		b.WriteString(c.dataType.String())
		b.WriteByte('(')
		for i, n := range c.nested {
			if i > 0 {
				b.WriteString(", ")
			}
			n.writeType(b)
		}
		b.WriteByte(')')
	case Tuple, Nested:
		b.WriteString(c.dataType.String())
		b.WriteByte('(')
		for i, n := range c.nested {
			if i > 0 {
				b.WriteString(", ")
			}
			if n.name != "" {
				b.WriteString(quoteIdent(n.name))
				b.WriteByte(' ')
			}
			n.writeType(b)
		}
		b.WriteByte(')')
	case AggregateFunction, SimpleAggregateFunction:
		b.WriteString(c.dataType.String())
		b.WriteByte('(')
		b.WriteString(c.aggName)
		if len(c.aggParams) > 0 {
			b.WriteByte('(')
			b.WriteString(strings.Join(c.aggParams, ", "))
			b.WriteByte(')')
		}
		for _, n := range c.nested {
			b.WriteString(", ")
			n.writeType(b)
		}
		b.WriteByte(')')
	default:
		b.WriteString(c.keyword)
		if len(c.parameters) > 0 {
			b.WriteByte('(')
			b.WriteString(strings.Join(c.parameters, ", "))
			b.WriteByte(')')
		}
	}

	for ; closers > 0; closers-- {
		b.WriteByte(')')
	}
}

// Equal reports structural equality: same name, type, flags, derived fields
// and nested columns. The original text is not compared.
func (c *Column) Equal(o *Column) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.name != o.name || c.dataType != o.dataType || c.keyword != o.keyword ||
		c.nullable != o.nullable || c.lowCardinality != o.lowCardinality ||
		c.precision != o.precision || c.scale != o.scale || c.timeZone != o.timeZone ||
		c.aggFunc != o.aggFunc || c.aggName != o.aggName || c.arrayLevel != o.arrayLevel {
		return false
	}
	if !slices.Equal(c.parameters, o.parameters) || !slices.Equal(c.aggParams, o.aggParams) {
		return false
	}
	if !c.enums.equal(o.enums) {
		return false
	}
	return slices.EqualFunc(c.nested, o.nested, (*Column).Equal)
}

func (c *Column) String() string {
	if c.name == "" {
		return c.TypeName()
	}
	return quoteIdent(c.name) + " " + c.TypeName()
}

func quoteIdent(s string) string {
	if isBareIdent(s) {
		return s
	}
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

func isBareIdent(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i], i == 0) {
			return false
		}
	}
	// a bare name that looks like a modifier would be misread
	_, isMod := modifierWords[strings.ToUpper(s)]
	return !isMod
}

func isIdentByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_':
		return true
	case c >= '0' && c <= '9', c == '.':
		return !first
	}
	return false
}
