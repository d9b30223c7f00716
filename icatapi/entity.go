package icatapi

import (
	"fmt"
	"strconv"
	"time"
)

// TypeName is the logical name of an entity type in the catalogue schema,
// e.g. "facility", "dataset", "datafile".
// The set of valid names is closed; the Registry is its authority.
//
// Type names are also the tags under which records are grouped in a dump
// chunk, so they are part of the dump stream contract.
type TypeName string

// Entity is one catalogued object, held in memory.
//
// An Entity is transient: it is either materialized from a live catalogue
// (and then carries the identity the service assigned) or decoded from a
// dump record (and then has no identity until it is created remotely).
// The zero ID means "not persisted".  The identity is never part of a
// dump's content.
//
// Attrs holds plain attribute values.  After normalization the value set
// is: string, int64, float64, bool, time.Time.  ToOne holds single-valued
// cross-references; the referencing entity does not own the target.
// ToMany holds exclusively-owned child collections; children have no
// independent existence in a dump and are always nested under the parent.
type Entity struct {
	Type   TypeName
	ID     int64
	Attrs  map[string]interface{}
	ToOne  map[string]*Entity
	ToMany map[string][]*Entity
}

// New allocates an empty entity of the given type.
func New(t TypeName) *Entity {
	return &Entity{
		Type:   t,
		Attrs:  map[string]interface{}{},
		ToOne:  map[string]*Entity{},
		ToMany: map[string][]*Entity{},
	}
}

// WithAttrs allocates an entity and sets the given attributes.
// Values pass through NormalizeValue; invalid kinds panic, so this is a
// convenience for literals in tests and seed code, not for decoded input.
func WithAttrs(t TypeName, attrs map[string]interface{}) *Entity {
	e := New(t)
	for k, v := range attrs {
		nv, err := NormalizeValue(v)
		if err != nil {
			panic(fmt.Sprintf("icatapi.WithAttrs: attribute %q: %s", k, err))
		}
		e.Attrs[k] = nv
	}
	return e
}

// SetOne sets a to-one relation.  A nil target removes the relation.
func (e *Entity) SetOne(name string, target *Entity) *Entity {
	if target == nil {
		delete(e.ToOne, name)
		return e
	}
	e.ToOne[name] = target
	return e
}

// AddChild appends an owned child to a to-many relation.
func (e *Entity) AddChild(name string, child *Entity) *Entity {
	e.ToMany[name] = append(e.ToMany[name], child)
	return e
}

// Persisted reports whether the remote service has assigned an identity.
func (e *Entity) Persisted() bool {
	return e.ID != 0
}

// Same reports whether a and b denote the same catalogue row.
// Two fetches of one row yield distinct objects, so pointer equality is
// not enough once entities carry a persisted identity.
func Same(a, b *Entity) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Type == b.Type && a.ID != 0 && a.ID == b.ID
}

// NormalizeValue collapses the value kinds an attribute may carry:
// any integer width becomes int64, float32 widens to float64, and
// string/bool/time.Time pass through.
//
// Errors:
//
//    - icat-error-invalid -- when the value's kind has no place in an attribute
func NormalizeValue(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case string, bool, int64, float64, time.Time:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return int64(v), nil
	case float32:
		return float64(v), nil
	default:
		return nil, ErrorInvalid(fmt.Sprintf("unsupported attribute value of type %T", v))
	}
}

// FormatValue renders a normalized attribute value in the canonical string
// form used inside unique keys and sort tuples.  Timestamps render as
// RFC 3339; a UTC timestamp gets the explicit 'Z' suffix, any other zone
// keeps its offset.  No locale-dependent formatting anywhere.
func FormatValue(v interface{}) string {
	switch v := v.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case time.Time:
		return FormatTime(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FormatTime renders a timestamp the way dumps carry them: RFC 3339 with
// nanoseconds where present, 'Z' for UTC.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ParseTime is the inverse of FormatTime, tolerant of second and
// sub-second precision.
//
// Errors:
//
//    - icat-error-invalid -- when the string is not an RFC 3339 timestamp
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339, s)
	}
	if err != nil {
		return time.Time{}, ErrorInvalid(fmt.Sprintf("invalid timestamp %q", s))
	}
	return t, nil
}
