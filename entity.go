package fieldtrail

import (
	"reflect"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/cockroachdb/errors"
	"github.com/guregu/null/v5"
	"github.com/jinzhu/inflection"

	"github.com/mickamy/fieldtrail/internal/codec"
	"github.com/mickamy/fieldtrail/internal/meta"
)

// TableNamer provides a custom table name for a model.
type TableNamer interface {
	TableName() string
}

// EntityType is a registered entity type. Its properties are declared with
// Key or NaturalKey, Field and NullableField.
type EntityType[T any] struct {
	h *Handler
	t *meta.Type
}

// Name is the entity name recorded in the audit log.
func (et *EntityType[T]) Name() string { return et.t.Name }

// Table is the host table rows of the type are stored in.
func (et *EntityType[T]) Table() string { return et.t.Table }

// TypeOption customises a registered entity type.
type TypeOption func(*meta.Type)

// Table overrides the table name derived from the entity name.
func Table(name string) TypeOption {
	return func(t *meta.Type) { t.Table = name }
}

// NotAudited registers a type whose rows are persisted but never audited.
// Relationships touching it are not audited either.
func NotAudited() TypeOption {
	return func(t *meta.Type) { t.Ignored = true }
}

// Register adds T to the handler under name, which defaults to T's type
// name. The table defaults to TableName() when *T implements TableNamer, or
// else to the snake-cased plural of name.
func Register[T any](h *Handler, name string, opts ...TypeOption) (*EntityType[T], error) {
	if name == "" {
		name = reflect.TypeFor[T]().Name()
	}
	if name == "" {
		return nil, errors.Newf("fieldtrail: cannot derive entity name for %v", reflect.TypeFor[T]())
	}
	t := &meta.Type{
		Name:   name,
		Table:  defaultTableName[T](name),
		GoType: reflect.TypeFor[*T](),
		New:    func() any { return new(T) },
	}
	for _, opt := range opts {
		opt(t)
	}
	if strings.TrimSpace(t.Table) == "" {
		return nil, errors.Newf("fieldtrail: empty table name for %s", name)
	}
	if err := h.registry.Add(t); err != nil {
		return nil, err
	}
	return &EntityType[T]{h: h, t: t}, nil
}

func defaultTableName[T any](name string) string {
	if namer, ok := any(new(T)).(TableNamer); ok {
		if n := strings.TrimSpace(namer.TableName()); n != "" {
			return n
		}
	}
	return inflection.Plural(toSnakeCase(name))
}

// Key declares a database-generated int64 key. set receives the generated
// id once the row is inserted.
func Key[T any](et *EntityType[T], column string, get func(*T) int64, set func(*T, int64)) {
	et.t.Key = &meta.Key{
		Column:    column,
		Generated: true,
		Get: func(e any) (string, bool) {
			id := get(e.(*T))
			return strconv.FormatInt(id, 10), id != 0
		},
		Value:  func(e any) any { return get(e.(*T)) },
		Assign: func(e any, id int64) { set(e.(*T), id) },
		Set: func(e any, s string) error {
			id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
			if err != nil {
				return errors.Wrapf(err, "fieldtrail: parse %s key %q", et.t.Name, s)
			}
			set(e.(*T), id)
			return nil
		},
		Copy: func(dst, src any) { set(dst.(*T), get(src.(*T))) },
	}
}

// NaturalKey declares a client-assigned key of any type with a codec, such
// as string, int64 or uuid.UUID.
func NaturalKey[T any, K comparable](et *EntityType[T], column string, get func(*T) K, set func(*T, K)) error {
	c, ok := codec.For(reflect.TypeFor[K]())
	if !ok {
		return errors.Newf("fieldtrail: no codec for %s key type %v", et.t.Name, reflect.TypeFor[K]())
	}
	var zero K
	et.t.Key = &meta.Key{
		Column: column,
		Get: func(e any) (string, bool) {
			k := get(e.(*T))
			return c.Format(k), k != zero
		},
		Value: func(e any) any { return get(e.(*T)) },
		Set: func(e any, s string) error {
			v, err := c.Parse(s)
			if err != nil {
				return err
			}
			set(e.(*T), v.(K))
			return nil
		},
		Copy: func(dst, src any) { set(dst.(*T), get(src.(*T))) },
	}
	return nil
}

// FieldOption customises a declared property.
type FieldOption func(*meta.Property)

// Column overrides the column name derived from the property name.
func Column(name string) FieldOption {
	return func(p *meta.Property) { p.Column = name }
}

// Ignore persists the property without auditing it.
func Ignore() FieldOption {
	return func(p *meta.Property) { p.Ignored = true }
}

// NotMapped keeps the property out of both the host table and the audit log.
func NotMapped() FieldOption {
	return func(p *meta.Property) { p.Unmapped = true }
}

// Field declares a property of type V. Types without a codec (slices, maps,
// structs) are navigation properties: they are neither persisted, audited
// nor copied into snapshots.
func Field[T, V any](et *EntityType[T], name string, get func(*T) V, set func(*T, V), opts ...FieldOption) {
	p := &meta.Property{Name: name, Column: toSnakeCase(name)}
	if c, ok := codec.For(reflect.TypeFor[V]()); ok {
		p.Scalar = true
		p.Label = c.Label()
		p.Get = func(e any) null.String {
			return null.StringFrom(c.Format(get(e.(*T))))
		}
		p.Set = func(e any, s null.String) error {
			if !s.Valid {
				var zero V
				set(e.(*T), zero)
				return nil
			}
			v, err := c.Parse(s.String)
			if err != nil {
				return err
			}
			set(e.(*T), v.(V))
			return nil
		}
		p.Value = func(e any) any { return get(e.(*T)) }
		p.Copy = func(dst, src any) { set(dst.(*T), get(src.(*T))) }
	}
	for _, opt := range opts {
		opt(p)
	}
	et.t.Props = append(et.t.Props, p)
}

// NullableField declares a property of type *V where nil is stored as NULL.
func NullableField[T, V any](et *EntityType[T], name string, get func(*T) *V, set func(*T, *V), opts ...FieldOption) {
	p := &meta.Property{Name: name, Column: toSnakeCase(name)}
	if c, ok := codec.For(reflect.TypeFor[V]()); ok {
		p.Scalar = true
		p.Label = c.Label() + "?"
		p.Get = func(e any) null.String {
			v := get(e.(*T))
			if v == nil {
				return null.String{}
			}
			return null.StringFrom(c.Format(*v))
		}
		p.Set = func(e any, s null.String) error {
			if !s.Valid {
				set(e.(*T), nil)
				return nil
			}
			x, err := c.Parse(s.String)
			if err != nil {
				return err
			}
			v := x.(V)
			set(e.(*T), &v)
			return nil
		}
		p.Value = func(e any) any {
			if v := get(e.(*T)); v != nil {
				return *v
			}
			return nil
		}
		p.Copy = func(dst, src any) {
			if v := get(src.(*T)); v != nil {
				cp := *v
				set(dst.(*T), &cp)
				return
			}
			set(dst.(*T), nil)
		}
	}
	for _, opt := range opts {
		opt(p)
	}
	et.t.Props = append(et.t.Props, p)
}

// Stamps registers bookkeeping hooks. created runs for new rows, changed for
// new and modified rows, each with the commit time and the acting user name.
// Either may be nil.
func Stamps[T any](et *EntityType[T], created, changed func(*T, time.Time, string)) {
	if created != nil {
		et.t.StampCreated = func(e any, at time.Time, by string) { created(e.(*T), at, by) }
	}
	if changed != nil {
		et.t.StampChanged = func(e any, at time.Time, by string) { changed(e.(*T), at, by) }
	}
}

// Relation registers a many-to-many relationship between L and R stored in
// table, whose leftColumn and rightColumn reference the keys of the two ends.
// Both types must be registered first. Changes are recorded against the left
// end's key.
func Relation[L, R any](h *Handler, name, table, leftColumn, rightColumn string) error {
	if name == "" || table == "" {
		return errors.New("fieldtrail: relation requires a name and a table")
	}
	left, ok := h.registry.Of(new(L))
	if !ok {
		return errors.Wrapf(ErrUnregisteredType, "left end of %s: %v", name, reflect.TypeFor[L]())
	}
	right, ok := h.registry.Of(new(R))
	if !ok {
		return errors.Wrapf(ErrUnregisteredType, "right end of %s: %v", name, reflect.TypeFor[R]())
	}
	return h.registry.AddRelation(&meta.Relation{
		Name:        name,
		Table:       table,
		LeftColumn:  leftColumn,
		RightColumn: rightColumn,
		Left:        left,
		Right:       right,
	})
}

func toSnakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
