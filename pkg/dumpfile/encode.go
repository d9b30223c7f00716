package dumpfile

import (
	"fmt"
	"sort"
	"time"

	"github.com/facette/natsort"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	"github.com/icatools/icat/icatapi"
)

// Encode renders one entity as a dump record node.
//
// A record is a map from field name to value with the field names sorted.
// It never contains the numeric identity: plain attributes appear
// verbatim, to-one relations appear as the target's unique key string,
// and owned to-many children appear as lists of nested records ordered by
// the child type's natural sort key.  Unset attributes, nil references
// and empty child lists are omitted, so a record holds exactly the state
// worth restoring.  A nested child's reference back to the entity it is
// nested under is implied by the nesting and omitted too; a decoder could
// not resolve a key naming the very record it is in the middle of reading.
//
// idx supplies alias keys for references and may be nil.
//
// Errors:
//
//    - icat-error-unknown-entity-type -- when the entity's type is not in the schema
//    - icat-error-unknown-field -- when the entity carries a field its type does not declare
//    - icat-error-ambiguous-entity -- when a referenced entity has no computable key
//    - icat-error-invalid -- when an attribute value has an unsupported kind,
//        or an owned child's type does not match the relation
func Encode(reg *icatapi.Registry, e *icatapi.Entity, idx *icatapi.KeyIndex) (datamodel.Node, error) {
	return encode(reg, e, idx, nil)
}

func encode(reg *icatapi.Registry, e *icatapi.Entity, idx *icatapi.KeyIndex, parent *icatapi.Entity) (datamodel.Node, error) {
	fields, err := encodeFields(reg, e, idx, parent)
	if err != nil {
		return nil, err
	}
	n, err := qp.BuildMap(basicnode.Prototype.Map, int64(len(fields)), func(ma datamodel.MapAssembler) {
		for _, f := range fields {
			qp.MapEntry(ma, f.name, qp.Node(f.node))
		}
	})
	if err != nil {
		return nil, icatapi.ErrorSerialization("assembling a dump record", err)
	}
	return n, nil
}

type recordField struct {
	name string
	node datamodel.Node
}

func encodeFields(reg *icatapi.Registry, e *icatapi.Entity, idx *icatapi.KeyIndex, parent *icatapi.Entity) ([]recordField, error) {
	ti, err := reg.Type(e.Type)
	if err != nil {
		return nil, err
	}
	fields := make([]recordField, 0, len(e.Attrs)+len(e.ToOne)+len(e.ToMany))

	for name, v := range e.Attrs {
		if v == nil {
			continue
		}
		if _, ok := ti.Attr(name); !ok {
			return nil, icatapi.ErrorUnknownField(e.Type, name)
		}
		nv, err := icatapi.NormalizeValue(v)
		if err != nil {
			return nil, icatapi.ErrorInvalid(
				fmt.Sprintf("cannot encode %s.%s: unsupported value of type %T", e.Type, name, v))
		}
		fields = append(fields, recordField{name, scalarNode(nv)})
	}

	for name, target := range e.ToOne {
		if target == nil || icatapi.Same(target, parent) {
			continue
		}
		if _, ok := ti.ToOneRel(name); !ok {
			return nil, icatapi.ErrorUnknownField(e.Type, name)
		}
		key, err := icatapi.ComputeKey(reg, target, idx)
		if err != nil {
			return nil, err
		}
		fields = append(fields, recordField{name, basicnode.NewString(key)})
	}

	for name, children := range e.ToMany {
		if len(children) == 0 {
			continue
		}
		rel, ok := ti.ToManyRel(name)
		if !ok {
			return nil, icatapi.ErrorUnknownField(e.Type, name)
		}
		ordered := orderChildren(reg, children)
		elems := make([]datamodel.Node, 0, len(ordered))
		for _, child := range ordered {
			if child.Type != rel.Target {
				return nil, icatapi.ErrorInvalid(
					fmt.Sprintf("cannot encode %s.%s: child is a %s, relation owns %s",
						e.Type, name, child.Type, rel.Target))
			}
			cn, err := encode(reg, child, idx, e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, cn)
		}
		n, err := qp.BuildList(basicnode.Prototype.List, int64(len(elems)), func(la datamodel.ListAssembler) {
			for _, el := range elems {
				qp.ListEntry(la, qp.Node(el))
			}
		})
		if err != nil {
			return nil, icatapi.ErrorSerialization("assembling a dump record", err)
		}
		fields = append(fields, recordField{name, n})
	}

	sort.Slice(fields, func(i, j int) bool { return fields[i].name < fields[j].name })
	return fields, nil
}

func scalarNode(v interface{}) datamodel.Node {
	switch v := v.(type) {
	case string:
		return basicnode.NewString(v)
	case int64:
		return basicnode.NewInt(v)
	case float64:
		return basicnode.NewFloat(v)
	case bool:
		return basicnode.NewBool(v)
	case time.Time:
		return basicnode.NewString(icatapi.FormatTime(v))
	default:
		// NormalizeValue leaves nothing else through.
		panic(fmt.Sprintf("dumpfile: unreachable value type %T", v))
	}
}

// orderChildren sorts owned children by their natural sort key so that
// equal graphs always serialize to equal bytes.  The sort is stable:
// children whose keys compare equal keep their insertion order.
func orderChildren(reg *icatapi.Registry, children []*icatapi.Entity) []*icatapi.Entity {
	type keyed struct {
		ent   *icatapi.Entity
		tuple []string
	}
	ks := make([]keyed, len(children))
	for i, c := range children {
		ks[i] = keyed{c, sortTuple(reg, c, map[*icatapi.Entity]struct{}{})}
	}
	sort.SliceStable(ks, func(i, j int) bool { return lessTuple(ks[i].tuple, ks[j].tuple) })
	ordered := make([]*icatapi.Entity, len(ks))
	for i, k := range ks {
		ordered[i] = k.ent
	}
	return ordered
}

// sortTuple flattens an entity's natural sort key into strings.  Fields
// the entity does not carry contribute empty strings, so partially
// populated entities still order stably; reference cycles contribute
// nothing past the first visit.
func sortTuple(reg *icatapi.Registry, e *icatapi.Entity, path map[*icatapi.Entity]struct{}) []string {
	if _, cyclic := path[e]; cyclic {
		return nil
	}
	path[e] = struct{}{}
	defer delete(path, e)

	ti, err := reg.Type(e.Type)
	if err != nil {
		return nil
	}
	var tuple []string
	for _, f := range ti.SortAttrs {
		if _, ok := ti.Attr(f); ok {
			v := e.Attrs[f]
			if v == nil {
				tuple = append(tuple, "")
				continue
			}
			nv, err := icatapi.NormalizeValue(v)
			if err != nil {
				tuple = append(tuple, "")
				continue
			}
			tuple = append(tuple, icatapi.FormatValue(nv))
			continue
		}
		if target := e.ToOne[f]; target != nil {
			tuple = append(tuple, sortTuple(reg, target, path)...)
		} else {
			tuple = append(tuple, "")
		}
	}
	return tuple
}

func lessTuple(a, b []string) bool {
	for i := range a {
		if i >= len(b) {
			return false
		}
		if natsort.Compare(a[i], b[i]) {
			return true
		}
		if natsort.Compare(b[i], a[i]) {
			return false
		}
	}
	return len(a) < len(b)
}
