package types

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// EnumTable maps enum8/enum16 constant names to their ordinals and back.
type EnumTable struct {
	names  []string
	values []int16
	byName map[string]int16
	byVal  map[int16]string
}

// NewEnumTable builds a table from parallel name/value slices. Names and values
// must each be unique.
func NewEnumTable(names []string, values []int16) (*EnumTable, error) {
	if len(names) != len(values) {
		return nil, fmt.Errorf("enum: %d names but %d values", len(names), len(values))
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("enum: no constants")
	}
	t := &EnumTable{
		names:  append([]string(nil), names...),
		values: append([]int16(nil), values...),
		byName: make(map[string]int16, len(names)),
		byVal:  make(map[int16]string, len(names)),
	}
	for i, n := range names {
		v := values[i]
		if _, dup := t.byName[n]; dup {
			return nil, fmt.Errorf("enum: duplicate name %q", n)
		}
		if _, dup := t.byVal[v]; dup {
			return nil, fmt.Errorf("enum: duplicate value %d", v)
		}
		t.byName[n] = v
		t.byVal[v] = n
	}
	return t, nil
}

func (t *EnumTable) Len() int { return len(t.names) }

// Name returns the constant for ordinal v.
func (t *EnumTable) Name(v int16) (string, bool) {
	n, ok := t.byVal[v]
	return n, ok
}

// Value returns the ordinal of name.
func (t *EnumTable) Value(name string) (int16, bool) {
	v, ok := t.byName[name]
	return v, ok
}

// Names returns the constants in declaration order.
func (t *EnumTable) Names() []string { return append([]string(nil), t.names...) }

func (t *EnumTable) Values() []int16 { return append([]int16(nil), t.values...) }

// fitsInt8 reports whether every ordinal is representable by enum8.
func (t *EnumTable) fitsInt8() bool {
	for _, v := range t.values {
		if v < math.MinInt8 || v > math.MaxInt8 {
			return false
		}
	}
	return true
}

func (t *EnumTable) equal(o *EnumTable) bool {
	if t == nil || o == nil {
		return t == o
	}
	if len(t.names) != len(o.names) {
		return false
	}
	for n, v := range t.byName {
		if ov, ok := o.byName[n]; !ok || ov != v {
			return false
		}
	}
	return true
}

// params renders the constants as normalized type parameters ('a'=1), ordered by value.
func (t *EnumTable) params() []string {
	idx := make([]int, len(t.names))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return t.values[idx[a]] < t.values[idx[b]] })
	out := make([]string, len(idx))
	for i, j := range idx {
		out[i] = quoteSingle(t.names[j]) + "=" + strconv.Itoa(int(t.values[j]))
	}
	return out
}

// parseEnumParams parses `'name'=value` parameters.
func parseEnumParams(params []string) (*EnumTable, error) {
	names := make([]string, 0, len(params))
	values := make([]int16, 0, len(params))
	for _, p := range params {
		name, rest, err := unquoteSingle(p)
		if err != nil {
			return nil, fmt.Errorf("enum constant %s: %w", p, err)
		}
		rest = strings.TrimSpace(rest)
		if !strings.HasPrefix(rest, "=") {
			return nil, fmt.Errorf("enum constant %s: missing '='", p)
		}
		v, err := strconv.ParseInt(strings.TrimSpace(rest[1:]), 10, 16)
		if err != nil {
			return nil, fmt.Errorf("enum constant %s: %w", p, err)
		}
		names = append(names, name)
		values = append(values, int16(v))
	}
	return NewEnumTable(names, values)
}

func quoteSingle(s string) string {
	var b strings.Builder
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'', '\\':
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('\'')
	return b.String()
}

// unquoteSingle reads a single-quoted literal at the start of s and returns its
// value and whatever follows the closing quote.
func unquoteSingle(s string) (string, string, error) {
	if len(s) == 0 || s[0] != '\'' {
		return "", "", fmt.Errorf("expected quoted string")
	}
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\':
			if i+1 >= len(s) {
				return "", "", fmt.Errorf("dangling escape")
			}
			i++
			b.WriteByte(s[i])
		case '\'':
			if i+1 < len(s) && s[i+1] == '\'' {
				b.WriteByte('\'')
				i++
				continue
			}
			return b.String(), s[i+1:], nil
		default:
			b.WriteByte(c)
		}
	}
	return "", "", fmt.Errorf("unterminated string")
}
