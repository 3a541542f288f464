package codec

import (
	"fmt"
	"io"
	"math"
	"math/big"
	"net"
	"net/netip"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/timeplus-io/proton-go/internal/alias/bx"
	"github.com/timeplus-io/proton-go/pkg/types"
	"github.com/timeplus-io/proton-go/pkg/wire"
)

// RowBinaryCodec encodes single values in the RowBinary layout:
//
//   - nullable values carry a leading flag byte, 1 => NULL
//   - fixed-width numbers are little-endian
//   - strings and array/map lengths are varint prefixed
//   - tuples are their elements back to back
//
// low_cardinality is transparent in this format.
type RowBinaryCodec struct {
	// Location applies to date/time columns without their own time zone.
	// nil means UTC.
	Location *time.Location
}

var _ ValueCodec = RowBinaryCodec{}

const secondsPerDay = 24 * 60 * 60

func (c RowBinaryCodec) Serialize(w wire.Sink, col *types.Column, v any) error {
	v = indirect(v)
	if col.Nullable() {
		if v == nil {
			return w.WriteByte(1)
		}
		if err := w.WriteByte(0); err != nil {
			return err
		}
	} else if v == nil {
		return fmt.Errorf("%w: NULL for non-nullable %s", ErrSchemaMismatch, col.TypeName())
	}
	return c.writeValue(w, col, v)
}

func (c RowBinaryCodec) Deserialize(r wire.Source, col *types.Column) (any, error) {
	if col.Nullable() {
		flag, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if flag != 0 {
			return nil, nil
		}
	}
	return c.readValue(r, col)
}

func (c RowBinaryCodec) loc(col *types.Column) (*time.Location, error) {
	fallback := c.Location
	if fallback == nil {
		fallback = time.UTC
	}
	return col.Location(fallback)
}

func mismatch(col *types.Column, v any) error {
	return fmt.Errorf("%w: %T for %s", ErrSchemaMismatch, v, col.TypeName())
}

func (c RowBinaryCodec) writeValue(w wire.Sink, col *types.Column, v any) error {
	var buf [8]byte

	switch t := col.DataType(); t {
	case types.Nothing:
		return w.WriteByte(0)

	case types.Bool:
		x, ok := v.(bool)
		if !ok {
			return mismatch(col, v)
		}
		if x {
			return w.WriteByte(1)
		}
		return w.WriteByte(0)

	case types.Int8, types.Int16, types.Int32, types.Int64:
		x, ok := asInt64(v)
		if !ok || !fitsSigned(x, t.Width()) {
			return mismatch(col, v)
		}
		return writeLE(w, buf[:t.Width()], uint64(x))

	case types.UInt8, types.UInt16, types.UInt32, types.UInt64:
		x, ok := asUint64(v)
		if !ok || !fitsUnsigned(x, t.Width()) {
			return mismatch(col, v)
		}
		return writeLE(w, buf[:t.Width()], x)

	case types.Int128, types.Int256, types.UInt128, types.UInt256:
		x, ok := asBigInt(v)
		if !ok {
			return mismatch(col, v)
		}
		return writeBigInt(w, x, t.Width(), t == types.Int128 || t == types.Int256)

	case types.Float32:
		x, ok := asFloat64(v)
		if !ok {
			return mismatch(col, v)
		}
		return writeLE(w, buf[:4], uint64(math.Float32bits(float32(x))))

	case types.Float64:
		x, ok := asFloat64(v)
		if !ok {
			return mismatch(col, v)
		}
		return writeLE(w, buf[:8], math.Float64bits(x))

	case types.Decimal32, types.Decimal64, types.Decimal128, types.Decimal256:
		d, ok := asDecimal(v)
		if !ok {
			return mismatch(col, v)
		}
		unscaled := d.Shift(int32(col.Scale())).Round(0)
		switch t {
		case types.Decimal32, types.Decimal64:
			bi := unscaled.BigInt()
			if !bi.IsInt64() || !fitsSigned(bi.Int64(), t.Width()) {
				return fmt.Errorf("%w: %s overflows %s", ErrSchemaMismatch, d, col.TypeName())
			}
			return writeLE(w, buf[:t.Width()], uint64(bi.Int64()))
		default:
			return writeBigInt(w, unscaled.BigInt(), t.Width(), true)
		}

	case types.Date, types.Date32:
		tm, ok := v.(time.Time)
		if !ok {
			return mismatch(col, v)
		}
		y, m, d := tm.Date()
		days := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / secondsPerDay
		if t == types.Date {
			if days < 0 || days > math.MaxUint16 {
				return fmt.Errorf("%w: %s out of date range", ErrSchemaMismatch, tm)
			}
			return writeLE(w, buf[:2], uint64(days))
		}
		return writeLE(w, buf[:4], uint64(uint32(int32(days))))

	case types.DateTime:
		tm, ok := v.(time.Time)
		if !ok {
			return mismatch(col, v)
		}
		sec := tm.Unix()
		if sec < 0 || sec > math.MaxUint32 {
			return fmt.Errorf("%w: %s out of datetime range", ErrSchemaMismatch, tm)
		}
		return writeLE(w, buf[:4], uint64(sec))

	case types.DateTime64:
		tm, ok := v.(time.Time)
		if !ok {
			return mismatch(col, v)
		}
		return writeLE(w, buf[:8], uint64(toTicks(tm, col.Scale())))

	case types.String:
		switch x := v.(type) {
		case string:
			return wire.WriteString(w, x)
		case []byte:
			return wire.WriteBytes(w, x)
		}
		return mismatch(col, v)

	case types.FixedString:
		var b []byte
		switch x := v.(type) {
		case string:
			b = []byte(x)
		case []byte:
			b = x
		default:
			return mismatch(col, v)
		}
		n := col.Precision()
		if len(b) > n {
			return fmt.Errorf("%w: %d bytes for %s", ErrSchemaMismatch, len(b), col.TypeName())
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		for i := len(b); i < n; i++ {
			if err := w.WriteByte(0); err != nil {
				return err
			}
		}
		return nil

	case types.UUID:
		u, ok := asUUID(v)
		if !ok {
			return mismatch(col, v)
		}
		// two little-endian uint64 halves, high half first
		b := u
		bx.Reverse(b[:8])
		bx.Reverse(b[8:])
		_, err := w.Write(b[:])
		return err

	case types.IPv4:
		a, ok := asAddr(v)
		if !ok || !a.Unmap().Is4() {
			return mismatch(col, v)
		}
		b := a.Unmap().As4()
		bx.Reverse(b[:])
		_, err := w.Write(b[:])
		return err

	case types.IPv6:
		a, ok := asAddr(v)
		if !ok {
			return mismatch(col, v)
		}
		b := a.As16()
		_, err := w.Write(b[:])
		return err

	case types.Enum8, types.Enum16:
		ord, err := enumOrdinal(col, v)
		if err != nil {
			return err
		}
		if t == types.Enum8 {
			return w.WriteByte(byte(int8(ord)))
		}
		return writeLE(w, buf[:2], uint64(uint16(ord)))

	case types.Array, types.Ring, types.Polygon, types.MultiPolygon:
		elems, ok := sliceValues(v)
		if !ok {
			return mismatch(col, v)
		}
		if err := wire.WriteUvarint(w, uint64(len(elems))); err != nil {
			return err
		}
		elem := col.Nested()[0]
		for _, e := range elems {
			if err := c.Serialize(w, elem, e); err != nil {
				return err
			}
		}
		return nil

	case types.Map:
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Map {
			return mismatch(col, v)
		}
		if err := wire.WriteUvarint(w, uint64(rv.Len())); err != nil {
			return err
		}
		key, val := col.Key(), col.Value()
		iter := rv.MapRange()
		for iter.Next() {
			if err := c.Serialize(w, key, iter.Key().Interface()); err != nil {
				return err
			}
			if err := c.Serialize(w, val, iter.Value().Interface()); err != nil {
				return err
			}
		}
		return nil

	case types.Tuple, types.Point:
		elems, ok := sliceValues(v)
		nested := col.Nested()
		if !ok || len(elems) != len(nested) {
			return mismatch(col, v)
		}
		for i, e := range elems {
			if err := c.Serialize(w, nested[i], e); err != nil {
				return err
			}
		}
		return nil

	case types.SimpleAggregateFunction:
		return c.Serialize(w, col.Nested()[0], v)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedType, col.TypeName())
}

func (c RowBinaryCodec) readValue(r wire.Source, col *types.Column) (any, error) {
	var buf [32]byte

	switch t := col.DataType(); t {
	case types.Nothing:
		_, err := r.ReadByte()
		return nil, err

	case types.Bool:
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		return b != 0, nil

	case types.Int8:
		b, err := r.ReadByte()
		return int8(b), err
	case types.Int16:
		b, err := readFull(r, buf[:2])
		if err != nil {
			return nil, err
		}
		return bx.I16(b), nil
	case types.Int32:
		b, err := readFull(r, buf[:4])
		if err != nil {
			return nil, err
		}
		return bx.I32(b), nil
	case types.Int64:
		b, err := readFull(r, buf[:8])
		if err != nil {
			return nil, err
		}
		return bx.I64(b), nil
	case types.UInt8:
		b, err := r.ReadByte()
		return b, err
	case types.UInt16:
		b, err := readFull(r, buf[:2])
		if err != nil {
			return nil, err
		}
		return bx.U16(b), nil
	case types.UInt32:
		b, err := readFull(r, buf[:4])
		if err != nil {
			return nil, err
		}
		return bx.U32(b), nil
	case types.UInt64:
		b, err := readFull(r, buf[:8])
		if err != nil {
			return nil, err
		}
		return bx.U64(b), nil

	case types.Int128, types.Int256, types.UInt128, types.UInt256:
		b, err := readFull(r, buf[:t.Width()])
		if err != nil {
			return nil, err
		}
		return readBigInt(b, t == types.Int128 || t == types.Int256), nil

	case types.Float32:
		b, err := readFull(r, buf[:4])
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(bx.U32(b)), nil
	case types.Float64:
		b, err := readFull(r, buf[:8])
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(bx.U64(b)), nil

	case types.Decimal32, types.Decimal64, types.Decimal128, types.Decimal256:
		b, err := readFull(r, buf[:t.Width()])
		if err != nil {
			return nil, err
		}
		exp := -int32(col.Scale())
		switch t {
		case types.Decimal32:
			return decimal.New(int64(bx.I32(b)), exp), nil
		case types.Decimal64:
			return decimal.New(bx.I64(b), exp), nil
		}
		return decimal.NewFromBigInt(readBigInt(b, true), exp), nil

	case types.Date, types.Date32, types.DateTime, types.DateTime64:
		loc, err := c.loc(col)
		if err != nil {
			return nil, err
		}
		return readTime(r, col, loc, buf[:])

	case types.String:
		return wire.ReadString(r)

	case types.FixedString:
		n := col.Precision()
		out := make([]byte, n)
		if _, err := io.ReadFull(r, out); err != nil {
			return nil, err
		}
		return out, nil

	case types.UUID:
		b, err := readFull(r, buf[:16])
		if err != nil {
			return nil, err
		}
		var u uuid.UUID
		copy(u[:], b)
		bx.Reverse(u[:8])
		bx.Reverse(u[8:])
		return u, nil

	case types.IPv4:
		b, err := readFull(r, buf[:4])
		if err != nil {
			return nil, err
		}
		return netip.AddrFrom4([4]byte{b[3], b[2], b[1], b[0]}), nil

	case types.IPv6:
		b, err := readFull(r, buf[:16])
		if err != nil {
			return nil, err
		}
		return netip.AddrFrom16([16]byte(b)), nil

	case types.Enum8, types.Enum16:
		var ord int16
		if t == types.Enum8 {
			b, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			ord = int16(int8(b))
		} else {
			b, err := readFull(r, buf[:2])
			if err != nil {
				return nil, err
			}
			ord = bx.I16(b)
		}
		name, ok := col.EnumTable().Name(ord)
		if !ok {
			return nil, fmt.Errorf("%w: ordinal %d not in %s", ErrSchemaMismatch, ord, col.TypeName())
		}
		return name, nil

	case types.Array, types.Ring, types.Polygon, types.MultiPolygon:
		n, err := readLength(r)
		if err != nil {
			return nil, err
		}
		elem := col.Nested()[0]
		out := make([]any, n)
		for i := range out {
			if out[i], err = c.Deserialize(r, elem); err != nil {
				return nil, err
			}
		}
		return out, nil

	case types.Map:
		n, err := readLength(r)
		if err != nil {
			return nil, err
		}
		key, val := col.Key(), col.Value()
		out := make(map[any]any, n)
		for i := 0; i < n; i++ {
			k, err := c.Deserialize(r, key)
			if err != nil {
				return nil, err
			}
			if k != nil && !reflect.TypeOf(k).Comparable() {
				return nil, fmt.Errorf("%w: map key %s", ErrUnsupportedType, key.TypeName())
			}
			v, err := c.Deserialize(r, val)
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case types.Tuple, types.Point:
		nested := col.Nested()
		out := make([]any, len(nested))
		for i, n := range nested {
			v, err := c.Deserialize(r, n)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case types.SimpleAggregateFunction:
		return c.Deserialize(r, col.Nested()[0])
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, col.TypeName())
}

func readTime(r wire.Source, col *types.Column, loc *time.Location, buf []byte) (time.Time, error) {
	switch col.DataType() {
	case types.Date:
		b, err := readFull(r, buf[:2])
		if err != nil {
			return time.Time{}, err
		}
		return dayToTime(int64(bx.U16(b)), loc), nil
	case types.Date32:
		b, err := readFull(r, buf[:4])
		if err != nil {
			return time.Time{}, err
		}
		return dayToTime(int64(bx.I32(b)), loc), nil
	case types.DateTime:
		b, err := readFull(r, buf[:4])
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(int64(bx.U32(b)), 0).In(loc), nil
	default:
		b, err := readFull(r, buf[:8])
		if err != nil {
			return time.Time{}, err
		}
		return fromTicks(bx.I64(b), col.Scale()).In(loc), nil
	}
}

// dayToTime returns midnight of the calendar day in loc.
func dayToTime(days int64, loc *time.Location) time.Time {
	y, m, d := time.Unix(days*secondsPerDay, 0).UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

var pow10 = [...]int64{1, 10, 100, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9}

func toTicks(t time.Time, scale int) int64 {
	return t.Unix()*pow10[scale] + int64(t.Nanosecond())/pow10[9-scale]
}

func fromTicks(ticks int64, scale int) time.Time {
	p := pow10[scale]
	sec, rem := ticks/p, ticks%p
	if rem < 0 {
		sec--
		rem += p
	}
	return time.Unix(sec, rem*pow10[9-scale])
}

func readFull(r wire.Source, b []byte) ([]byte, error) {
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func readLength(r wire.Source) (int, error) {
	n, err := wire.ReadUvarint(r)
	if err != nil {
		return 0, err
	}
	if n > wire.MaxStringLength {
		return 0, fmt.Errorf("%w: collection length %d", wire.ErrStringTooLong, n)
	}
	return int(n), nil
}

func writeLE(w wire.Sink, b []byte, v uint64) error {
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	_, err := w.Write(b)
	return err
}

func fitsSigned(x int64, width int) bool {
	if width >= 8 {
		return true
	}
	lim := int64(1) << (uint(width)*8 - 1)
	return x >= -lim && x < lim
}

func fitsUnsigned(x uint64, width int) bool {
	return width >= 8 || x < uint64(1)<<(uint(width)*8)
}

var bigOne = big.NewInt(1)

func writeBigInt(w wire.Sink, v *big.Int, size int, signed bool) error {
	bits := uint(size * 8)
	x := new(big.Int).Set(v)
	if signed {
		lim := new(big.Int).Lsh(bigOne, bits-1)
		if x.Cmp(new(big.Int).Neg(lim)) < 0 || x.Cmp(lim) >= 0 {
			return fmt.Errorf("%w: %s overflows int%d", ErrSchemaMismatch, v, bits)
		}
		if x.Sign() < 0 {
			x.Add(x, new(big.Int).Lsh(bigOne, bits))
		}
	} else if x.Sign() < 0 || x.BitLen() > int(bits) {
		return fmt.Errorf("%w: %s overflows uint%d", ErrSchemaMismatch, v, bits)
	}
	var buf [32]byte
	b := x.FillBytes(buf[:size])
	bx.Reverse(b)
	_, err := w.Write(b)
	return err
}

func readBigInt(le []byte, signed bool) *big.Int {
	be := make([]byte, len(le))
	copy(be, le)
	bx.Reverse(be)
	x := new(big.Int).SetBytes(be)
	if signed && be[0]&0x80 != 0 {
		x.Sub(x, new(big.Int).Lsh(bigOne, uint(len(be)*8)))
	}
	return x
}

func enumOrdinal(col *types.Column, v any) (int16, error) {
	et := col.EnumTable()
	if s, ok := v.(string); ok {
		ord, ok := et.Value(s)
		if !ok {
			return 0, fmt.Errorf("%w: %q not in %s", ErrSchemaMismatch, s, col.TypeName())
		}
		return ord, nil
	}
	x, ok := asInt64(v)
	if !ok || x < math.MinInt16 || x > math.MaxInt16 {
		return 0, mismatch(col, v)
	}
	if _, ok := et.Name(int16(x)); !ok {
		return 0, fmt.Errorf("%w: ordinal %d not in %s", ErrSchemaMismatch, x, col.TypeName())
	}
	return int16(x), nil
}

// ---- small helpers to accept multiple Go types on encode ----

// indirect dereferences pointers; nil pointers become nil. Pointer-shaped
// values the codec understands are kept as is.
func indirect(v any) any {
	switch v.(type) {
	case nil:
		return nil
	case *big.Int:
		if v.(*big.Int) == nil {
			return nil
		}
		return v
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer {
		return v
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	return rv.Interface()
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int16:
		return int64(x), true
	case int8:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		if x <= math.MaxInt64 {
			return int64(x), true
		}
	case uint:
		if uint64(x) <= math.MaxInt64 {
			return int64(x), true
		}
	}
	return 0, false
}

func asUint64(v any) (uint64, bool) {
	switch x := v.(type) {
	case uint64:
		return x, true
	case uint:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	}
	if x, ok := asInt64(v); ok && x >= 0 {
		return uint64(x), true
	}
	return 0, false
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	}
	if x, ok := asInt64(v); ok {
		return float64(x), true
	}
	return 0, false
}

func asBigInt(v any) (*big.Int, bool) {
	switch x := v.(type) {
	case *big.Int:
		return x, true
	case big.Int:
		return &x, true
	case string:
		return new(big.Int).SetString(x, 10)
	}
	if x, ok := asInt64(v); ok {
		return big.NewInt(x), true
	}
	if x, ok := asUint64(v); ok {
		return new(big.Int).SetUint64(x), true
	}
	return nil, false
}

func asDecimal(v any) (decimal.Decimal, bool) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, true
	case string:
		d, err := decimal.NewFromString(x)
		return d, err == nil
	case float64:
		return decimal.NewFromFloat(x), true
	case float32:
		return decimal.NewFromFloat32(x), true
	case *big.Int:
		return decimal.NewFromBigInt(x, 0), true
	}
	if x, ok := asInt64(v); ok {
		return decimal.NewFromInt(x), true
	}
	return decimal.Decimal{}, false
}

func asUUID(v any) ([16]byte, bool) {
	switch x := v.(type) {
	case uuid.UUID:
		return x, true
	case [16]byte:
		return x, true
	case string:
		u, err := uuid.Parse(x)
		return u, err == nil
	}
	return [16]byte{}, false
}

func asAddr(v any) (netip.Addr, bool) {
	switch x := v.(type) {
	case netip.Addr:
		return x, x.IsValid()
	case net.IP:
		a, ok := netip.AddrFromSlice(x)
		return a, ok
	case string:
		a, err := netip.ParseAddr(x)
		return a, err == nil
	}
	return netip.Addr{}, false
}

func sliceValues(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
