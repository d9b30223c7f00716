package query

import (
	"github.com/icatools/icat/icatapi"
)

// NaturalOrder returns the dotted attribute paths that define the
// canonical ordering of an entity type: the type's sort fields, with
// fields that are to-one relations expanded recursively into the natural
// order of their target.  Types without sortable fields yield an empty
// list.
//
// Errors:
//
//   - icat-error-unknown-entity-type -- when the type is not in the registry
func NaturalOrder(reg *icatapi.Registry, tag icatapi.TypeName) ([]string, error) {
	return naturalOrder(reg, tag, make(map[icatapi.TypeName]struct{}))
}

func naturalOrder(reg *icatapi.Registry, tag icatapi.TypeName, seen map[icatapi.TypeName]struct{}) ([]string, error) {
	ti, err := reg.Type(tag)
	if err != nil {
		return nil, err
	}
	if _, cyclic := seen[tag]; cyclic {
		// a relation cycle contributes nothing further to the ordering
		return nil, nil
	}
	seen[tag] = struct{}{}
	defer delete(seen, tag)

	var out []string
	for _, f := range ti.SortAttrs {
		if _, ok := ti.Attr(f); ok {
			out = append(out, f)
			continue
		}
		if rel, ok := ti.ToOneRel(f); ok {
			sub, err := naturalOrder(reg, rel.Target, seen)
			if err != nil {
				return nil, err
			}
			for _, s := range sub {
				out = append(out, f+"."+s)
			}
		}
	}
	return out, nil
}
