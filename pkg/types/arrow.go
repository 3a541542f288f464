package types

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// ArrowType maps the column to the Arrow type used to hold its values.
// Nullability is carried on the field, see ArrowField.
func (c *Column) ArrowType() (arrow.DataType, error) {
	dt, err := c.valueArrowType()
	if err != nil {
		return nil, err
	}
	if c.lowCardinality {
		return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int32, ValueType: dt}, nil
	}
	return dt, nil
}

// ArrowField is ArrowType plus the column's name and nullability.
func (c *Column) ArrowField() (arrow.Field, error) {
	dt, err := c.ArrowType()
	if err != nil {
		return arrow.Field{}, fmt.Errorf("column %q: %w", c.name, err)
	}
	return arrow.Field{Name: c.name, Type: dt, Nullable: c.nullable}, nil
}

// ArrowSchema converts a column list, e.g. a result header, to an Arrow schema.
func ArrowSchema(cols []*Column) (*arrow.Schema, error) {
	fields := make([]arrow.Field, len(cols))
	for i, c := range cols {
		f, err := c.ArrowField()
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return arrow.NewSchema(fields, nil), nil
}

func (c *Column) valueArrowType() (arrow.DataType, error) {
	switch c.dataType {
	case Nothing:
		return arrow.Null, nil
	case Bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case Int8:
		return arrow.PrimitiveTypes.Int8, nil
	case Int16:
		return arrow.PrimitiveTypes.Int16, nil
	case Int32:
		return arrow.PrimitiveTypes.Int32, nil
	case Int64:
		return arrow.PrimitiveTypes.Int64, nil
	case UInt8:
		return arrow.PrimitiveTypes.Uint8, nil
	case UInt16:
		return arrow.PrimitiveTypes.Uint16, nil
	case UInt32, IPv4:
		return arrow.PrimitiveTypes.Uint32, nil
	case UInt64:
		return arrow.PrimitiveTypes.Uint64, nil
	case Int128, UInt128, UUID, IPv6:
		return &arrow.FixedSizeBinaryType{ByteWidth: 16}, nil
	case Int256, UInt256:
		return &arrow.FixedSizeBinaryType{ByteWidth: 32}, nil
	case Float32:
		return arrow.PrimitiveTypes.Float32, nil
	case Float64:
		return arrow.PrimitiveTypes.Float64, nil
	case Decimal32, Decimal64, Decimal128:
		return &arrow.Decimal128Type{Precision: int32(c.precision), Scale: int32(c.scale)}, nil
	case Decimal256:
		return &arrow.Decimal256Type{Precision: int32(c.precision), Scale: int32(c.scale)}, nil
	case Date, Date32:
		return arrow.FixedWidthTypes.Date32, nil
	case DateTime:
		return &arrow.TimestampType{Unit: arrow.Second, TimeZone: c.timeZone}, nil
	case DateTime64:
		return &arrow.TimestampType{Unit: timeUnit(c.scale), TimeZone: c.timeZone}, nil
	case String, JSON:
		return arrow.BinaryTypes.String, nil
	case FixedString:
		return &arrow.FixedSizeBinaryType{ByteWidth: c.precision}, nil
	case Enum8:
		return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int8, ValueType: arrow.BinaryTypes.String}, nil
	case Enum16:
		return &arrow.DictionaryType{IndexType: arrow.PrimitiveTypes.Int16, ValueType: arrow.BinaryTypes.String}, nil
	case Array, Ring, Polygon, MultiPolygon:
		elem, err := c.nested[0].ArrowField()
		if err != nil {
			return nil, err
		}
		elem.Name = "item"
		return arrow.ListOfField(elem), nil
	case Map:
		key, err := c.nested[0].ArrowType()
		if err != nil {
			return nil, err
		}
		val, err := c.nested[1].ArrowType()
		if err != nil {
			return nil, err
		}
		return arrow.MapOf(key, val), nil
	case Tuple, Point:
		return c.structType()
	case Nested:
		st, err := c.structType()
		if err != nil {
			return nil, err
		}
		return arrow.ListOf(st), nil
	case SimpleAggregateFunction:
		return c.nested[0].ArrowType()
	case AggregateFunction:
		return arrow.BinaryTypes.Binary, nil
	}
	return nil, fmt.Errorf("no arrow mapping for %s", c.dataType)
}

func (c *Column) structType() (arrow.DataType, error) {
	fields := make([]arrow.Field, len(c.nested))
	for i, n := range c.nested {
		f, err := n.ArrowField()
		if err != nil {
			return nil, err
		}
		if f.Name == "" {
			f.Name = fmt.Sprintf("_%d", i+1)
		}
		fields[i] = f
	}
	return arrow.StructOf(fields...), nil
}

func timeUnit(scale int) arrow.TimeUnit {
	switch {
	case scale == 0:
		return arrow.Second
	case scale <= 3:
		return arrow.Millisecond
	case scale <= 6:
		return arrow.Microsecond
	default:
		return arrow.Nanosecond
	}
}
