// Package codec converts typed property values to and from the canonical
// string form stored in the audit log.
package codec

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Codec formats and parses values of a single Go type.
type Codec interface {
	// Label is the canonical, language-agnostic type label (without nullable marker).
	Label() string
	// Format renders v, which must be of the codec's type.
	Format(v any) string
	// Parse converts s back to a value of the codec's type.
	Parse(s string) (any, error)
}

var (
	mu     sync.RWMutex
	codecs = map[reflect.Type]Codec{}
)

// Register installs c for values of type t, replacing any previous codec.
func Register(t reflect.Type, c Codec) {
	mu.Lock()
	defer mu.Unlock()
	codecs[t] = c
}

// For returns the codec for t. Named types without their own codec fall back
// to the codec of their underlying basic kind.
func For(t reflect.Type) (Codec, bool) {
	if t == nil {
		return nil, false
	}
	mu.RLock()
	c, ok := codecs[t]
	mu.RUnlock()
	if ok {
		return c, true
	}
	base, ok := kindTypes[t.Kind()]
	if !ok {
		return nil, false
	}
	mu.RLock()
	bc, ok := codecs[base]
	mu.RUnlock()
	if !ok {
		return nil, false
	}
	return converting{base: bc, baseType: base, typ: t}, true
}

// Func builds a Codec for V from a pair of functions. The label is derived
// from V's type name.
func Func[V any](format func(V) string, parse func(string) (V, error)) Codec {
	return funcCodec[V]{
		label:  CanonicalTypeName(reflect.TypeFor[V]().String(), false),
		format: format,
		parse:  parse,
	}
}

type funcCodec[V any] struct {
	label  string
	format func(V) string
	parse  func(string) (V, error)
}

func (c funcCodec[V]) Label() string { return c.label }

func (c funcCodec[V]) Format(v any) string {
	if tv, ok := v.(V); ok {
		return c.format(tv)
	}
	return fmt.Sprint(v)
}

func (c funcCodec[V]) Parse(s string) (any, error) {
	v, err := c.parse(s)
	if err != nil {
		return nil, errors.Wrapf(err, "codec: parse %q as %s", s, c.label)
	}
	return v, nil
}

// converting adapts a basic-kind codec to a named type of the same kind.
type converting struct {
	base     Codec
	baseType reflect.Type
	typ      reflect.Type
}

func (c converting) Label() string {
	return CanonicalTypeName(c.typ.String(), false)
}

func (c converting) Format(v any) string {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || !rv.Type().ConvertibleTo(c.baseType) {
		return fmt.Sprint(v)
	}
	return c.base.Format(rv.Convert(c.baseType).Interface())
}

func (c converting) Parse(s string) (any, error) {
	v, err := c.base.Parse(s)
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(v).Convert(c.typ).Interface(), nil
}

var kindTypes = map[reflect.Kind]reflect.Type{
	reflect.String:  reflect.TypeFor[string](),
	reflect.Bool:    reflect.TypeFor[bool](),
	reflect.Int:     reflect.TypeFor[int](),
	reflect.Int8:    reflect.TypeFor[int8](),
	reflect.Int16:   reflect.TypeFor[int16](),
	reflect.Int32:   reflect.TypeFor[int32](),
	reflect.Int64:   reflect.TypeFor[int64](),
	reflect.Uint:    reflect.TypeFor[uint](),
	reflect.Uint8:   reflect.TypeFor[uint8](),
	reflect.Uint16:  reflect.TypeFor[uint16](),
	reflect.Uint32:  reflect.TypeFor[uint32](),
	reflect.Uint64:  reflect.TypeFor[uint64](),
	reflect.Float32: reflect.TypeFor[float32](),
	reflect.Float64: reflect.TypeFor[float64](),
}

func signed[V ~int | ~int8 | ~int16 | ~int32 | ~int64](bits int) Codec {
	return Func(
		func(v V) string { return strconv.FormatInt(int64(v), 10) },
		func(s string) (V, error) {
			n, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
			return V(n), err
		},
	)
}

func unsigned[V ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64](bits int) Codec {
	return Func(
		func(v V) string { return strconv.FormatUint(uint64(v), 10) },
		func(s string) (V, error) {
			n, err := strconv.ParseUint(strings.TrimSpace(s), 10, bits)
			return V(n), err
		},
	)
}

func float[V ~float32 | ~float64](bits int) Codec {
	return Func(
		func(v V) string { return strconv.FormatFloat(float64(v), 'g', -1, bits) },
		func(s string) (V, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), bits)
			return V(f), err
		},
	)
}

func init() {
	Register(reflect.TypeFor[string](), Func(
		func(v string) string { return v },
		func(s string) (string, error) { return s, nil },
	))
	Register(reflect.TypeFor[bool](), Func(strconv.FormatBool, strconv.ParseBool))
	Register(reflect.TypeFor[int](), signed[int](strconv.IntSize))
	Register(reflect.TypeFor[int8](), signed[int8](8))
	Register(reflect.TypeFor[int16](), signed[int16](16))
	Register(reflect.TypeFor[int32](), signed[int32](32))
	Register(reflect.TypeFor[int64](), signed[int64](64))
	Register(reflect.TypeFor[uint](), unsigned[uint](strconv.IntSize))
	Register(reflect.TypeFor[uint8](), unsigned[uint8](8))
	Register(reflect.TypeFor[uint16](), unsigned[uint16](16))
	Register(reflect.TypeFor[uint32](), unsigned[uint32](32))
	Register(reflect.TypeFor[uint64](), unsigned[uint64](64))
	Register(reflect.TypeFor[float32](), float[float32](32))
	Register(reflect.TypeFor[float64](), float[float64](64))
	Register(reflect.TypeFor[time.Time](), Func(
		func(v time.Time) string { return v.UTC().Format(time.RFC3339Nano) },
		ParseTime,
	))
	Register(reflect.TypeFor[time.Duration](), Func(
		func(v time.Duration) string { return v.String() },
		time.ParseDuration,
	))
	Register(reflect.TypeFor[uuid.UUID](), Func(
		func(v uuid.UUID) string { return v.String() },
		uuid.Parse,
	))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 as well as the layouts SQLite drivers write.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Newf("codec: unrecognised time %q", s)
}

// FormatDriverValue renders a raw database/sql driver value. It reports false
// for SQL NULL.
func FormatDriverValue(v any) (string, bool) {
	switch tv := v.(type) {
	case nil:
		return "", false
	case []byte:
		return string(tv), true
	case string:
		return tv, true
	case time.Time:
		return tv.UTC().Format(time.RFC3339Nano), true
	case bool:
		return strconv.FormatBool(tv), true
	case int64:
		return strconv.FormatInt(tv, 10), true
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64), true
	default:
		return fmt.Sprint(tv), true
	}
}
