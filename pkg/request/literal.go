package request

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"net/netip"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var ErrUnsupportedLiteral = errors.New("request: value has no SQL literal")

// Tuple renders as (a, b, ...) instead of an array.
type Tuple []any

// Raw is inserted verbatim.
type Raw string

// Literal renders v as a SQL literal expression.
func Literal(v any) (string, error) {
	var b strings.Builder
	if err := writeLiteral(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeLiteral(b *strings.Builder, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("NULL")
	case Raw:
		b.WriteString(string(x))
	case bool:
		b.WriteString(strconv.FormatBool(x))
	case int:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int8:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int16:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(x), 10))
	case int64:
		b.WriteString(strconv.FormatInt(x, 10))
	case uint:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint8:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint16:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint32:
		b.WriteString(strconv.FormatUint(uint64(x), 10))
	case uint64:
		b.WriteString(strconv.FormatUint(x, 10))
	case float32:
		writeFloat(b, float64(x), 32)
	case float64:
		writeFloat(b, x, 64)
	case *big.Int:
		if x == nil {
			b.WriteString("NULL")
			return nil
		}
		b.WriteString(x.String())
	case decimal.Decimal:
		b.WriteString(x.String())
	case string:
		writeQuoted(b, x)
	case []byte:
		writeQuoted(b, string(x))
	case time.Time:
		writeQuoted(b, formatTime(x))
	case uuid.UUID:
		writeQuoted(b, x.String())
	case net.IP:
		writeQuoted(b, x.String())
	case netip.Addr:
		writeQuoted(b, x.String())
	case Tuple:
		return writeList(b, '(', ')', len(x), func(i int) any { return x[i] })
	default:
		rv := reflect.ValueOf(v)
		// Named numbers such as time.Duration stay numeric; only struct
		// values fall back to their String form.
		if s, ok := v.(fmt.Stringer); ok && structValue(rv) {
			writeQuoted(b, s.String())
			return nil
		}
		return writeReflect(b, rv)
	}
	return nil
}

func writeFloat(b *strings.Builder, f float64, bits int) {
	switch {
	case math.IsNaN(f):
		b.WriteString("nan")
	case math.IsInf(f, 1):
		b.WriteString("inf")
	case math.IsInf(f, -1):
		b.WriteString("-inf")
	default:
		b.WriteString(strconv.FormatFloat(f, 'g', -1, bits))
	}
}

func writeQuoted(b *strings.Builder, s string) {
	b.WriteByte('\'')
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '\\', '\'':
			b.WriteByte('\\')
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('\'')
}

// formatTime gives YYYY-MM-DD hh:mm:ss, with microseconds when set.
func formatTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02 15:04:05")
	}
	return t.Format("2006-01-02 15:04:05.000000")
}

func writeList(b *strings.Builder, open, end byte, n int, at func(int) any) error {
	b.WriteByte(open)
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		if err := writeLiteral(b, at(i)); err != nil {
			return err
		}
	}
	b.WriteByte(end)
	return nil
}

func structValue(rv reflect.Value) bool {
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return false
		}
		rv = rv.Elem()
	}
	return rv.Kind() == reflect.Struct
}

func writeReflect(b *strings.Builder, rv reflect.Value) error {
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface:
		if rv.IsNil() {
			b.WriteString("NULL")
			return nil
		}
		return writeLiteral(b, rv.Elem().Interface())
	case reflect.Slice:
		if rv.IsNil() {
			b.WriteString("[]")
			return nil
		}
		fallthrough
	case reflect.Array:
		return writeList(b, '[', ']', rv.Len(), func(i int) any { return rv.Index(i).Interface() })
	case reflect.Map:
		type entry struct{ k, v string }
		entries := make([]entry, 0, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			k, err := Literal(iter.Key().Interface())
			if err != nil {
				return err
			}
			v, err := Literal(iter.Value().Interface())
			if err != nil {
				return err
			}
			entries = append(entries, entry{k, v})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].k < entries[j].k })
		b.WriteByte('{')
		for i, e := range entries {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(e.k)
			b.WriteString(": ")
			b.WriteString(e.v)
		}
		b.WriteByte('}')
		return nil
	case reflect.Bool:
		b.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		b.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		b.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32:
		writeFloat(b, rv.Float(), 32)
		return nil
	case reflect.Float64:
		writeFloat(b, rv.Float(), 64)
		return nil
	case reflect.String:
		writeQuoted(b, rv.String())
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedLiteral, rv.Type())
}
