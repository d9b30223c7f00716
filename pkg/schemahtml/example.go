package schemahtml

import (
	"fmt"
	"time"

	"github.com/ipld/go-ipld-prime"
	ipldJson "github.com/ipld/go-ipld-prime/codec/json"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dump"
	"github.com/icatools/icat/pkg/dumpfile"
)

// exampleRecordJson builds a synthetic entity carrying every declared
// field of the type and encodes it with the real dump encoder, so the
// document shown on the page has exactly the field ordering, key
// escaping and child nesting the dump writer emits.  For top-level
// types the entity's own unique key comes back too; nested types are
// never addressed by key in a chunk.
//
// Errors:
//
//   - icat-error-serialization -- in case the assembled record fails to encode.
//   - icat-error-unknown-entity-type -- never in practice: the example is built from the registry's own tables.
//   - icat-error-ambiguous-entity -- never in practice: example constraint fields are always populated.
//   - icat-error-unknown-field -- never in practice: examples carry only declared fields.
//   - icat-error-invalid -- never in practice: example values are made for their declared kinds.
func exampleRecordJson(reg *icatapi.Registry, ti *icatapi.TypeInfo) (string, []byte, error) {
	ka := dumpfile.NewKeyAllocator(reg, nil)
	e, err := exampleEntity(reg, ti, ka, nil)
	if err != nil {
		return "", nil, err
	}
	key := ""
	if reg.Dumpable(ti.Name) {
		key, err = ka.Alias(e)
		if err != nil {
			return "", nil, err
		}
	}
	n, err := dumpfile.Encode(reg, e, ka.Index())
	if err != nil {
		return "", nil, err
	}
	doc, err := ipld.Encode(n, ipldJson.Encode)
	if err != nil {
		return "", nil, icatapi.ErrorSerialization("encoding an example record", err)
	}
	return key, doc, nil
}

// exampleEntity builds the synthetic entity behind a type page: every
// attribute set to a value of its kind, every reference pointing at a
// keyable stand-in, and one nested child per collection the dump format
// inlines.  parent is the owning entity when this call builds such a
// child; for a page about a nested-only type there is no parent entity,
// and the reference the nesting would imply is left unset instead.
func exampleEntity(reg *icatapi.Registry, ti *icatapi.TypeInfo, ka *dumpfile.KeyAllocator, parent *icatapi.Entity) (*icatapi.Entity, error) {
	e := &icatapi.Entity{
		Type:   ti.Name,
		Attrs:  map[string]interface{}{},
		ToOne:  map[string]*icatapi.Entity{},
		ToMany: map[string][]*icatapi.Entity{},
	}
	for _, a := range ti.Attrs {
		e.Attrs[a.Name] = exampleValue(a.Kind)
	}

	backref := ""
	if parent != nil {
		backref = backrefField(ti, parent.Type)
	} else if owner := dump.ParentOf(reg, ti.Name); owner != "" {
		backref = backrefField(ti, owner)
	}
	for _, rel := range ti.ToOne {
		if rel.Name == backref {
			if parent != nil {
				e.ToOne[rel.Name] = parent
			}
			continue
		}
		ref, err := exampleRef(reg, rel.Target, ka)
		if err != nil {
			return nil, err
		}
		e.ToOne[rel.Name] = ref
	}

	for _, rel := range dump.InlineCollections(reg, ti) {
		ct, err := reg.Type(rel.Target)
		if err != nil {
			return nil, err
		}
		child, err := exampleEntity(reg, ct, ka, e)
		if err != nil {
			return nil, err
		}
		e.ToMany[rel.Name] = []*icatapi.Entity{child}
	}
	return e, nil
}

// backrefField picks the reference field the nesting under owner implies.
func backrefField(ti *icatapi.TypeInfo, owner icatapi.TypeName) string {
	for _, rel := range ti.ToOne {
		if rel.Target == owner {
			return rel.Name
		}
	}
	return ""
}

// exampleRef builds just enough of a referenced entity for its key to be
// computable: the constraint fields, recursively.  Types with no
// uniqueness constraint get an ordinal alias from ka, the same way a
// real dump session hands them one.
func exampleRef(reg *icatapi.Registry, t icatapi.TypeName, ka *dumpfile.KeyAllocator) (*icatapi.Entity, error) {
	ti, err := reg.Type(t)
	if err != nil {
		return nil, err
	}
	e := &icatapi.Entity{
		Type:  t,
		Attrs: map[string]interface{}{},
		ToOne: map[string]*icatapi.Entity{},
	}
	if len(ti.Constraint) == 0 {
		if _, err := ka.Alias(e); err != nil {
			return nil, err
		}
		return e, nil
	}
	for _, f := range ti.Constraint {
		if a, ok := ti.Attr(f); ok {
			e.Attrs[f] = exampleValue(a.Kind)
			continue
		}
		if rel, ok := ti.ToOneRel(f); ok {
			ref, err := exampleRef(reg, rel.Target, ka)
			if err != nil {
				return nil, err
			}
			e.ToOne[f] = ref
		}
	}
	return e, nil
}

func exampleValue(k icatapi.AttrKind) interface{} {
	switch k {
	case icatapi.KindString:
		return "example"
	case icatapi.KindInt:
		return int64(42)
	case icatapi.KindFloat:
		return 1.25
	case icatapi.KindBool:
		return true
	case icatapi.KindDate:
		return time.Date(2023, 6, 30, 17, 0, 0, 0, time.UTC)
	}
	panic(fmt.Sprintf("schemahtml: unhandled attribute kind %q", k))
}
