package icatapi

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// FieldValue is one field of a parsed unique key.  For constraint fields
// that are to-one relations, Value holds the target's whole key.
type FieldValue struct {
	Field string
	Value string
}

// ComputeKey derives the unique key of an entity from its type's
// constraint fields: `<type>:<field>=<value>/...` with fields sorted by
// name and values query-escaped.  Constraint fields that are to-one
// relations substitute the target entity's key, taken from idx when the
// target is registered there and computed recursively otherwise.  The
// result is registered in idx (when given), so later calls for the same
// entity return the same key.
//
// The key is a pure function of the entity's constraint field values.
// Server identities never leak into it, which is what makes keys stable
// across a dump and a restore into a different server.
//
// Errors:
//
//   - icat-error-ambiguous-entity -- when the type has no uniqueness
//     constraint, a constraint attribute is unset, a constraint relation
//     has no target, or the constraint chain cycles.
//   - icat-error-unknown-entity-type -- when the entity's type is not in
//     the registry.
//   - icat-error-internal -- when the schema table names a constraint
//     field the type does not declare.
func ComputeKey(reg *Registry, e *Entity, idx *KeyIndex) (string, error) {
	return computeKey(reg, e, idx, make(map[*Entity]struct{}))
}

func computeKey(reg *Registry, e *Entity, idx *KeyIndex, path map[*Entity]struct{}) (string, error) {
	if idx != nil {
		if key, ok := idx.KeyFor(e); ok {
			return key, nil
		}
	}
	ti, err := reg.Type(e.Type)
	if err != nil {
		return "", err
	}
	if len(ti.Constraint) == 0 {
		return "", ErrorAmbiguousEntity(e.Type, "", "type has no uniqueness constraint")
	}
	if _, cyclic := path[e]; cyclic {
		return "", ErrorAmbiguousEntity(e.Type, "", "constraint chain cycles back to this entity")
	}
	path[e] = struct{}{}
	defer delete(path, e)

	fields := make([]string, len(ti.Constraint))
	copy(fields, ti.Constraint)
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString(string(e.Type))
	b.WriteByte(':')
	for i, f := range fields {
		if i > 0 {
			b.WriteByte('/')
		}
		var value string
		switch {
		case hasAttr(ti, f):
			v, ok := e.Attrs[f]
			if !ok {
				return "", ErrorAmbiguousEntity(e.Type, f, "constraint attribute is unset")
			}
			value = FormatValue(v)
		case hasToOne(ti, f):
			target := e.ToOne[f]
			if target == nil {
				return "", ErrorAmbiguousEntity(e.Type, f, "constraint relation has no target")
			}
			value, err = computeKey(reg, target, idx, path)
			if err != nil {
				return "", err
			}
		default:
			// The registry closure check keeps constraint fields declared.
			panic(fmt.Sprintf("icatapi: schema table for %q names unknown constraint field %q", e.Type, f))
		}
		b.WriteString(f)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(value))
	}
	key := b.String()
	if idx != nil {
		idx.Register(key, e)
	}
	return key, nil
}

func hasAttr(ti *TypeInfo, name string) bool {
	_, ok := ti.Attr(name)
	return ok
}

func hasToOne(ti *TypeInfo, name string) bool {
	_, ok := ti.ToOneRel(name)
	return ok
}

// ParseKey splits a key into its type tag and field values, undoing the
// escaping ComputeKey applied.  It is a pure syntax operation: the type
// tag is not checked against any registry and nested keys in the values
// are returned verbatim.
//
// Errors:
//
//   - icat-error-invalid -- when the key does not have the
//     `<type>:<field>=<value>/...` shape or a value is not valid
//     query-escaped text.
func ParseKey(key string) (TypeName, []FieldValue, error) {
	colon := strings.IndexByte(key, ':')
	if colon <= 0 {
		return "", nil, ErrorInvalid("unique key has no type tag", [2]string{"key", key})
	}
	tag := key[:colon]
	rest := key[colon+1:]
	if rest == "" {
		return "", nil, ErrorInvalid("unique key has no fields", [2]string{"key", key})
	}
	parts := strings.Split(rest, "/")
	fields := make([]FieldValue, 0, len(parts))
	for _, part := range parts {
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return "", nil, ErrorInvalid("unique key field is not a field=value pair", [2]string{"key", key}, [2]string{"field", part})
		}
		value, err := url.QueryUnescape(part[eq+1:])
		if err != nil {
			return "", nil, ErrorInvalid("unique key field value is not query-escaped text", [2]string{"key", key}, [2]string{"field", part[:eq]})
		}
		fields = append(fields, FieldValue{Field: part[:eq], Value: value})
	}
	return TypeName(tag), fields, nil
}

// KeyIndex maps the alias keys of one dump or restore session to resolved
// entities, in both directions.  A dump session uses it to give shared
// relation targets one stable alias; a restore session uses it to resolve
// references to entities created earlier in the same stream before asking
// the catalogue.
//
// Not safe for concurrent use.
type KeyIndex struct {
	byKey map[string]*Entity
	byEnt map[*Entity]string
}

func NewKeyIndex() *KeyIndex {
	return &KeyIndex{
		byKey: make(map[string]*Entity),
		byEnt: make(map[*Entity]string),
	}
}

// Register binds key to e.  An entity keeps the first alias it was
// registered under; later keys still resolve to it via Lookup.
func (x *KeyIndex) Register(key string, e *Entity) {
	x.byKey[key] = e
	if _, ok := x.byEnt[e]; !ok {
		x.byEnt[e] = key
	}
}

// Rebind forces key to be e's alias in both directions, overriding the
// first-registration-wins rule.  Alias allocation uses this to repair the
// index when two entities compute the same canonical key.
func (x *KeyIndex) Rebind(key string, e *Entity) {
	x.byKey[key] = e
	x.byEnt[e] = key
}

func (x *KeyIndex) Lookup(key string) (*Entity, bool) {
	e, ok := x.byKey[key]
	return e, ok
}

func (x *KeyIndex) KeyFor(e *Entity) (string, bool) {
	key, ok := x.byEnt[e]
	return key, ok
}

func (x *KeyIndex) Len() int {
	return len(x.byKey)
}
