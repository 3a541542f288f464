package types

import (
	"fmt"
	"strconv"
)

// finalize fills the fields derived from a column's type and parameters. It
// works on a copy and returns the completed column.
func finalize(c Column) (Column, error) {
	var err error
	switch t := c.dataType; {
	case t == DateTime || t == DateTime64:
		c, err = finalizeDateTime(c)
	case t.IsDecimal():
		c, err = finalizeDecimal(c)
	case t == FixedString:
		c, err = finalizeFixedString(c)
	case t == Enum8 || t == Enum16:
		c, err = finalizeEnum(c)
	case t == Array:
		c = finalizeArray(c)
	case t.IsGeo():
		c, err = finalizeGeo(c)
	case t == String || t == JSON || t.IsComposite():
		// string(N) from SQL-style DDL carries an advisory length; keep it.
	default:
		if len(c.parameters) > 0 {
			err = fmt.Errorf("%s takes no parameters", c.keyword)
		}
	}
	if err != nil {
		return c, err
	}
	c.fixedLen, c.fixed = fixedLength(&c)
	c.estimated = estimate(&c)
	return c, nil
}

func finalizeDateTime(c Column) (Column, error) {
	params := c.parameters
	if c.dataType == DateTime64 {
		if len(params) == 0 || len(params) > 2 {
			return c, fmt.Errorf("datetime64 requires a scale and an optional time zone")
		}
		scale, err := strconv.Atoi(params[0])
		if err != nil || scale < 0 || scale > 9 {
			return c, fmt.Errorf("datetime64 scale %q out of range [0, 9]", params[0])
		}
		c.scale = scale
		params = params[1:]
	}
	switch len(params) {
	case 0:
	case 1:
		tz, rest, err := unquoteSingle(params[0])
		if err != nil || rest != "" || tz == "" {
			return c, fmt.Errorf("invalid time zone %s", params[0])
		}
		c.timeZone = tz
	default:
		return c, fmt.Errorf("datetime takes at most a time zone")
	}
	return c, nil
}

var decimalPrecision = map[DataType]int{
	Decimal32:  9,
	Decimal64:  18,
	Decimal128: 38,
	Decimal256: 76,
}

func decimalKind(precision int) DataType {
	switch {
	case precision <= 9:
		return Decimal32
	case precision <= 18:
		return Decimal64
	case precision <= 38:
		return Decimal128
	default:
		return Decimal256
	}
}

func finalizeDecimal(c Column) (Column, error) {
	ints := make([]int, len(c.parameters))
	for i, p := range c.parameters {
		n, err := strconv.Atoi(p)
		if err != nil {
			return c, fmt.Errorf("%s parameter %q is not an integer", c.keyword, p)
		}
		ints[i] = n
	}

	if c.dataType == Decimal {
		switch len(ints) {
		case 0:
			c.precision, c.scale = 10, 0
		case 1:
			c.precision = ints[0]
		case 2:
			c.precision, c.scale = ints[0], ints[1]
		default:
			return c, fmt.Errorf("decimal takes precision and scale")
		}
		if c.precision < 1 || c.precision > 76 {
			return c, fmt.Errorf("decimal precision %d out of range [1, 76]", c.precision)
		}
		c.dataType = decimalKind(c.precision)
	} else {
		if len(ints) != 1 {
			return c, fmt.Errorf("%s takes exactly a scale", c.keyword)
		}
		c.precision, c.scale = decimalPrecision[c.dataType], ints[0]
	}

	if c.scale < 0 || c.scale > c.precision {
		return c, fmt.Errorf("decimal scale %d out of range [0, %d]", c.scale, c.precision)
	}
	return c, nil
}

func finalizeFixedString(c Column) (Column, error) {
	if len(c.parameters) != 1 {
		return c, fmt.Errorf("fixed_string requires a length")
	}
	n, err := strconv.Atoi(c.parameters[0])
	if err != nil || n <= 0 {
		return c, fmt.Errorf("fixed_string length %q must be a positive integer", c.parameters[0])
	}
	c.precision = n
	return c, nil
}

func finalizeEnum(c Column) (Column, error) {
	t, err := parseEnumParams(c.parameters)
	if err != nil {
		return c, err
	}
	if c.dataType == Enum8 && !t.fitsInt8() {
		return c, fmt.Errorf("enum8 value out of int8 range")
	}
	c.enums = t
	c.parameters = t.params()
	return c, nil
}

func finalizeArray(c Column) Column {
	elem := c.nested[0]
	if elem.dataType == Array {
		c.arrayLevel = elem.arrayLevel + 1
		c.arrayBase = elem.arrayBase
	} else {
		c.arrayLevel = 1
		c.arrayBase = elem
	}
	return c
}

// finalizeGeo synthesizes the nested layout of the geo types:
// point = tuple(float64, float64), ring = array(point),
// polygon = array(ring), multi_polygon = array(polygon).
func finalizeGeo(c Column) (Column, error) {
	if len(c.parameters) > 0 {
		return c, fmt.Errorf("%s takes no parameters", c.keyword)
	}
	var children []DataType
	switch c.dataType {
	case Point:
		children = []DataType{Float64, Float64}
	case Ring:
		children = []DataType{Point}
	case Polygon:
		children = []DataType{Ring}
	case MultiPolygon:
		children = []DataType{Polygon}
	}
	c.nested = make([]*Column, len(children))
	for i, t := range children {
		child, err := finalize(Column{dataType: t, keyword: t.String()})
		if err != nil {
			return c, err
		}
		c.nested[i] = &child
	}
	return c, nil
}

func fixedLength(c *Column) (int, bool) {
	if c.nullable || c.lowCardinality {
		return 0, false
	}
	switch c.dataType {
	case FixedString:
		return c.precision, true
	case Tuple, Point:
		total := 0
		for _, n := range c.nested {
			w, ok := n.FixedByteLength()
			if !ok {
				return 0, false
			}
			total += w
		}
		return total, true
	}
	if w := c.dataType.Width(); w > 0 && !c.dataType.IsComposite() {
		return w, true
	}
	return 0, false
}

const (
	variableEstimate  = 32
	aggregateEstimate = 64
	elementsEstimate  = 4
)

// estimate is a presizing heuristic; composite widths assume a handful of
// elements per value.
func estimate(c *Column) SizeHint {
	var n int
	if w, ok := c.FixedByteLength(); ok {
		n = w
	} else {
		switch c.dataType {
		case Array, Ring, Polygon, MultiPolygon, Nested:
			inner := 0
			for _, e := range c.nested {
				inner += e.estimated.Bytes()
			}
			n = 1 + elementsEstimate*inner
		case Map:
			n = 1 + elementsEstimate*(c.nested[0].estimated.Bytes()+c.nested[1].estimated.Bytes())
		case Tuple, Point:
			for _, e := range c.nested {
				n += e.estimated.Bytes()
			}
		case AggregateFunction:
			n = aggregateEstimate
		case SimpleAggregateFunction:
			n = c.nested[0].estimated.Bytes()
		case FixedString:
			n = c.precision
		default:
			if n = c.dataType.Width(); n == 0 {
				n = variableEstimate
			}
		}
	}
	if c.nullable {
		n++
	}
	return SizeHint(n)
}
