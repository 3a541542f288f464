package types

import "strings"

// DataType is the resolved kind of a column.
type DataType uint8

const (
	Invalid DataType = iota
	Nothing
	Bool
	Int8
	Int16
	Int32
	Int64
	Int128
	Int256
	UInt8
	UInt16
	UInt32
	UInt64
	UInt128
	UInt256
	Float32
	Float64
	Decimal
	Decimal32
	Decimal64
	Decimal128
	Decimal256
	Date
	Date32
	DateTime
	DateTime64
	String
	FixedString
	UUID
	IPv4
	IPv6
	Enum8
	Enum16
	JSON
	Array
	Map
	Tuple
	Nested
	AggregateFunction
	SimpleAggregateFunction
	Point
	Ring
	Polygon
	MultiPolygon
)

type typeInfo struct {
	name  string
	width int // fixed byte width, 0 when variable
}

var typeInfos = [...]typeInfo{
	Invalid:                 {"invalid", 0},
	Nothing:                 {"nothing", 1},
	Bool:                    {"bool", 1},
	Int8:                    {"int8", 1},
	Int16:                   {"int16", 2},
	Int32:                   {"int32", 4},
	Int64:                   {"int64", 8},
	Int128:                  {"int128", 16},
	Int256:                  {"int256", 32},
	UInt8:                   {"uint8", 1},
	UInt16:                  {"uint16", 2},
	UInt32:                  {"uint32", 4},
	UInt64:                  {"uint64", 8},
	UInt128:                 {"uint128", 16},
	UInt256:                 {"uint256", 32},
	Float32:                 {"float32", 4},
	Float64:                 {"float64", 8},
	Decimal:                 {"decimal", 0},
	Decimal32:               {"decimal32", 4},
	Decimal64:               {"decimal64", 8},
	Decimal128:              {"decimal128", 16},
	Decimal256:              {"decimal256", 32},
	Date:                    {"date", 2},
	Date32:                  {"date32", 4},
	DateTime:                {"datetime", 4},
	DateTime64:              {"datetime64", 8},
	String:                  {"string", 0},
	FixedString:             {"fixed_string", 0},
	UUID:                    {"uuid", 16},
	IPv4:                    {"ipv4", 4},
	IPv6:                    {"ipv6", 16},
	Enum8:                   {"enum8", 1},
	Enum16:                  {"enum16", 2},
	JSON:                    {"json", 0},
	Array:                   {"array", 0},
	Map:                     {"map", 0},
	Tuple:                   {"tuple", 0},
	Nested:                  {"nested", 0},
	AggregateFunction:       {"aggregate_function", 0},
	SimpleAggregateFunction: {"simple_aggregate_function", 0},
	Point:                   {"point", 16},
	Ring:                    {"ring", 0},
	Polygon:                 {"polygon", 0},
	MultiPolygon:            {"multi_polygon", 0},
}

func (t DataType) String() string {
	if int(t) < len(typeInfos) {
		return typeInfos[t].name
	}
	return "invalid"
}

// Width is the fixed wire width of a scalar, or 0 when it depends on the value
// or on parameters (fixed_string, decimal).
func (t DataType) Width() int {
	if int(t) < len(typeInfos) {
		return typeInfos[t].width
	}
	return 0
}

func (t DataType) IsComposite() bool {
	switch t {
	case Array, Map, Tuple, Nested, AggregateFunction, SimpleAggregateFunction:
		return true
	}
	return false
}

func (t DataType) IsDecimal() bool {
	return t >= Decimal && t <= Decimal256
}

func (t DataType) IsGeo() bool {
	return t >= Point && t <= MultiPolygon
}

// compositeKeywords are matched case-sensitively. Both the native snake_case
// spelling and the CamelCase form servers emit in metadata are accepted.
var compositeKeywords = map[string]DataType{
	"array":                     Array,
	"Array":                     Array,
	"map":                       Map,
	"Map":                       Map,
	"tuple":                     Tuple,
	"Tuple":                     Tuple,
	"nested":                    Nested,
	"Nested":                    Nested,
	"aggregate_function":        AggregateFunction,
	"AggregateFunction":         AggregateFunction,
	"simple_aggregate_function": SimpleAggregateFunction,
	"SimpleAggregateFunction":   SimpleAggregateFunction,
}

const (
	kwLowCardinality = iota + 1
	kwNullable
)

var wrapperKeywords = map[string]int{
	"low_cardinality": kwLowCardinality,
	"LowCardinality":  kwLowCardinality,
	"nullable":        kwNullable,
	"Nullable":        kwNullable,
}

// scalarAliases maps lower-cased spellings to a canonical scalar keyword.
// Canonical names are matched exactly before this table is consulted.
var scalarAliases = map[string]string{
	"boolean":      "bool",
	"tinyint":      "int8",
	"int1":         "int8",
	"byte":         "int8",
	"smallint":     "int16",
	"int":          "int32",
	"integer":      "int32",
	"mediumint":    "int32",
	"bigint":       "int64",
	"signed":       "int64",
	"unsigned":     "uint64",
	"float":        "float32",
	"real":         "float32",
	"double":       "float64",
	"numeric":      "decimal",
	"dec":          "decimal",
	"fixed":        "decimal",
	"text":         "string",
	"varchar":      "string",
	"char":         "string",
	"character":    "string",
	"blob":         "string",
	"longtext":     "string",
	"clob":         "string",
	"bytea":        "string",
	"binary":       "fixed_string",
	"fixedstring":  "fixed_string",
	"timestamp":    "datetime",
	"datetime32":   "datetime",
	"inet4":        "ipv4",
	"inet6":        "ipv6",
	"object":       "json",
	"multipolygon": "multi_polygon",
}

var scalarKeywords = func() map[string]DataType {
	m := make(map[string]DataType)
	for t := Nothing; t <= MultiPolygon; t++ {
		if t.IsComposite() {
			continue
		}
		m[t.String()] = t
	}
	return m
}()

// lookupScalar resolves a scalar keyword. It returns the canonical spelling
// used when rendering the type back to text.
func lookupScalar(word string) (string, DataType, bool) {
	if t, ok := scalarKeywords[word]; ok {
		return word, t, true
	}
	low := strings.ToLower(word)
	if t, ok := scalarKeywords[low]; ok {
		return low, t, true
	}
	if canon, ok := scalarAliases[low]; ok {
		return canon, scalarKeywords[canon], true
	}
	return "", Invalid, false
}
