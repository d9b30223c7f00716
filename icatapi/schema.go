package icatapi

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// AttrKind tells the decoder how to re-materialize a plain attribute from
// its serialized form, and lets the encoder check what it is handed.
type AttrKind string

const (
	KindString AttrKind = "string"
	KindInt    AttrKind = "int"
	KindFloat  AttrKind = "float"
	KindBool   AttrKind = "bool"
	KindDate   AttrKind = "date"
)

// Attr describes one plain attribute of an entity type.
type Attr struct {
	Name string
	Kind AttrKind
}

// Relation describes one relation of an entity type: its field name and
// the type of the entity on the other end.
type Relation struct {
	Name   string
	Target TypeName
}

// TypeInfo is the full static description of one entity type, for one
// schema version.  This is the explicit data structure that replaces the
// source design's runtime attribute introspection: one lookup per type,
// no reflection over live objects.
//
// Constraint names the attributes and to-one relations whose combined
// values uniquely identify an instance; it is empty for types the schema
// gives no natural identity (these fall back to all plain attributes plus
// the keys of all to-one relations when a key must be computed).
// SortAttrs names the fields of the natural sort key used to order owned
// children deterministically in dumps; when empty it defaults to the
// constraint, or failing that to all attributes in name order.
type TypeInfo struct {
	Name       TypeName
	Bean       string
	Attrs      []Attr
	ToOne      []Relation
	ToMany     []Relation
	Constraint []string
	SortAttrs  []string

	attrByName map[string]Attr
	oneByName  map[string]Relation
	manyByName map[string]Relation
}

func (ti *TypeInfo) index() {
	ti.attrByName = make(map[string]Attr, len(ti.Attrs))
	for _, a := range ti.Attrs {
		ti.attrByName[a.Name] = a
	}
	ti.oneByName = make(map[string]Relation, len(ti.ToOne))
	for _, r := range ti.ToOne {
		ti.oneByName[r.Name] = r
	}
	ti.manyByName = make(map[string]Relation, len(ti.ToMany))
	for _, r := range ti.ToMany {
		ti.manyByName[r.Name] = r
	}
	if len(ti.SortAttrs) == 0 {
		if len(ti.Constraint) > 0 {
			ti.SortAttrs = ti.Constraint
		} else {
			names := make([]string, 0, len(ti.Attrs)+len(ti.ToOne))
			for _, a := range ti.Attrs {
				names = append(names, a.Name)
			}
			for _, r := range ti.ToOne {
				names = append(names, r.Name)
			}
			sort.Strings(names)
			ti.SortAttrs = names
		}
	}
}

// Attr looks up a plain attribute declaration by name.
func (ti *TypeInfo) Attr(name string) (Attr, bool) {
	a, ok := ti.attrByName[name]
	return a, ok
}

// ToOneRel looks up a to-one relation declaration by name.
func (ti *TypeInfo) ToOneRel(name string) (Relation, bool) {
	r, ok := ti.oneByName[name]
	return r, ok
}

// ToManyRel looks up a to-many relation declaration by name.
func (ti *TypeInfo) ToManyRel(name string) (Relation, bool) {
	r, ok := ti.manyByName[name]
	return r, ok
}

// HasField reports whether name is any declared field of the type.
func (ti *TypeInfo) HasField(name string) bool {
	if _, ok := ti.attrByName[name]; ok {
		return true
	}
	if _, ok := ti.oneByName[name]; ok {
		return true
	}
	_, ok := ti.manyByName[name]
	return ok
}

// Registry is the schema registry: the fixed mapping from type name to its
// description, selected once for one schema version at construction time.
//
// The registry also fixes the restore order: the sequence of top-level
// type tags such that every to-one relation target of a dumped record
// either appears under an earlier tag or is nested as an owned child.
type Registry struct {
	version string
	types   map[TypeName]*TypeInfo
	order   []TypeName
}

// SchemaVersionDefault is the schema variant assumed when none is configured.
const SchemaVersionDefault = "4.3"

// NewRegistry builds the registry for one schema version.
// Versions below 4.3 select the base variants; 4.3 and anything newer
// select the 4.3 variants (the newest this library knows).
//
// Errors:
//
//    - icat-error-invalid -- when the version string does not parse
func NewRegistry(version string) (*Registry, error) {
	major, minor, err := parseVersion(version)
	if err != nil {
		return nil, err
	}
	v43 := major > 4 || (major == 4 && minor >= 3)
	types := typeTable(v43)
	r := &Registry{
		version: version,
		types:   make(map[TypeName]*TypeInfo, len(types)),
		order:   restoreOrder,
	}
	for i := range types {
		ti := &types[i]
		ti.index()
		r.types[ti.Name] = ti
	}
	return r, nil
}

// MustRegistry is NewRegistry for static version strings.
func MustRegistry(version string) *Registry {
	r, err := NewRegistry(version)
	if err != nil {
		panic(err)
	}
	return r
}

// Version returns the schema version the registry was built for.
func (r *Registry) Version() string {
	return r.version
}

// Type looks up the description of one entity type.
//
// Errors:
//
//    - icat-error-unknown-entity-type -- when the name is outside the schema's type set
func (r *Registry) Type(name TypeName) (*TypeInfo, error) {
	ti, ok := r.types[name]
	if !ok {
		return nil, ErrorUnknownEntityType(string(name))
	}
	return ti, nil
}

// Order returns the fixed dependency order in which top-level entity
// types must be restored.  The slice is shared; do not modify.
func (r *Registry) Order() []TypeName {
	return r.order
}

// Dumpable reports whether the tag may appear as a top-level type in a
// dump chunk.  Types outside the restore order (server-internal ones,
// and the owned child types that only ever nest) are not dumpable.
func (r *Registry) Dumpable(name TypeName) bool {
	for _, t := range r.order {
		if t == name {
			return true
		}
	}
	return false
}

// Names returns the names of all declared types in a stable order.
func (r *Registry) Names() []TypeName {
	names := make([]string, 0, len(r.types))
	for n := range r.types {
		names = append(names, string(n))
	}
	sort.Strings(names)
	out := make([]TypeName, len(names))
	for i, n := range names {
		out[i] = TypeName(n)
	}
	return out
}

func parseVersion(version string) (major, minor int, err error) {
	parts := strings.SplitN(strings.TrimSpace(version), ".", 3)
	if len(parts) < 2 {
		return 0, 0, ErrorInvalid(fmt.Sprintf("invalid schema version %q, want MAJOR.MINOR", version))
	}
	major, err = strconv.Atoi(parts[0])
	if err == nil {
		minor, err = strconv.Atoi(parts[1])
	}
	if err != nil {
		return 0, 0, ErrorInvalid(fmt.Sprintf("invalid schema version %q, want MAJOR.MINOR", version))
	}
	return major, minor, nil
}
