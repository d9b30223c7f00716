package query

import (
	"strings"

	"github.com/icatools/icat/icatapi"
)

// walkPath follows a dotted path from the root type.  Every component
// before the last must be a relation; to-many relations are only legal
// when allowMany is set.  Returns the terminal attribute, or nil when
// the path ends on a relation.
//
// "id" is accepted as a terminal component on any type even though the
// schema tables do not list it.
//
// Errors:
//
//   - icat-error-invalid -- when the path runs past an attribute or
//     traverses a to-many relation it may not
//   - icat-error-unknown-field -- when a component is not declared
//   - icat-error-unknown-entity-type -- when a relation target is not in
//     the registry
func walkPath(reg *icatapi.Registry, root *icatapi.TypeInfo, path string, allowMany bool) (*icatapi.Attr, error) {
	cur := root
	segs := strings.Split(path, ".")
	for i, seg := range segs {
		last := i == len(segs)-1
		if seg == "id" {
			if !last {
				return nil, icatapi.ErrorInvalid("path continues past the id attribute", [2]string{"path", path})
			}
			return &icatapi.Attr{Name: "id", Kind: icatapi.KindInt}, nil
		}
		if a, ok := cur.Attr(seg); ok {
			if !last {
				return nil, icatapi.ErrorInvalid("path continues past a plain attribute", [2]string{"path", path}, [2]string{"attribute", seg})
			}
			return &a, nil
		}
		if rel, ok := cur.ToOneRel(seg); ok {
			next, err := reg.Type(rel.Target)
			if err != nil {
				return nil, err
			}
			cur = next
			continue
		}
		if rel, ok := cur.ToManyRel(seg); ok {
			if !allowMany {
				return nil, icatapi.ErrorInvalid("path traverses a to-many relation", [2]string{"path", path}, [2]string{"relation", seg})
			}
			next, err := reg.Type(rel.Target)
			if err != nil {
				return nil, err
			}
			cur = next
			continue
		}
		return nil, icatapi.ErrorUnknownField(cur.Name, seg)
	}
	return nil, nil
}

// pathTerminalRelation resolves the target type of a path already known
// to consist purely of to-one relations.
func pathTerminalRelation(reg *icatapi.Registry, root *icatapi.TypeInfo, path string) (icatapi.Relation, *icatapi.TypeInfo, error) {
	cur := root
	var rel icatapi.Relation
	var target *icatapi.TypeInfo
	for _, seg := range strings.Split(path, ".") {
		r, ok := cur.ToOneRel(seg)
		if !ok {
			return icatapi.Relation{}, nil, icatapi.ErrorUnknownField(cur.Name, seg)
		}
		next, err := reg.Type(r.Target)
		if err != nil {
			return icatapi.Relation{}, nil, err
		}
		rel, target = r, next
		cur = next
	}
	return rel, target, nil
}
