package dump

import (
	"github.com/icatools/icat/icatapi"
)

// linkOwner names the dumping side of each shared association type.  Both
// ends of an association declare the link rows as owned children, so a dump
// has to pick one side to carry them or a restore would create every link
// twice.  Links between an investigation's subtree and a type outside it
// ride with the outside type, which keeps each investigation chunk free of
// references into later chunks.
var linkOwner = map[icatapi.TypeName]icatapi.TypeName{
	"userGroup":               "grouping",
	"instrumentScientist":     "instrument",
	"investigationUser":       "investigation",
	"investigationInstrument": "investigation",
	"investigationParameter":  "investigation",
	"sampleParameter":         "sample",
	"datasetParameter":        "dataset",
	"datafileParameter":       "datafile",
	"studyInvestigation":      "study",
	"dataCollectionDataset":   "dataCollection",
	"dataCollectionDatafile":  "dataCollection",
	"dataCollectionParameter": "dataCollection",
	"inputDataset":            "job",
	"inputDatafile":           "job",
	"outputDataset":           "job",
	"outputDatafile":          "job",
}

// InlineCollections picks the to-many relations whose children nest inside
// a dumped record of this type: children that are themselves top-level
// dump types are excluded, as are link rows another type carries.
func InlineCollections(reg *icatapi.Registry, ti *icatapi.TypeInfo) []icatapi.Relation {
	var out []icatapi.Relation
	for _, rel := range ti.ToMany {
		if reg.Dumpable(rel.Target) {
			continue
		}
		if owner, ok := linkOwner[rel.Target]; ok && owner != ti.Name {
			continue
		}
		out = append(out, rel)
	}
	return out
}

// ParentOf names the type whose dump records nest records of t inline,
// or "" when t is itself a top-level type or nothing inlines it.
func ParentOf(reg *icatapi.Registry, t icatapi.TypeName) icatapi.TypeName {
	if reg.Dumpable(t) {
		return ""
	}
	for _, name := range reg.Names() {
		ti, err := reg.Type(name)
		if err != nil {
			continue
		}
		for _, rel := range InlineCollections(reg, ti) {
			if rel.Target == t {
				return name
			}
		}
	}
	return ""
}

// trimForDump returns a copy of e carrying only the child collections the
// dump nests under its type.  A catalogue row comes back with everything
// it owns, so dumping it verbatim would serialize a whole investigation
// tree inside the investigation record and every link row once per side.
// Attrs and to-one references are shared with the original; kept children
// are trimmed the same way.
func trimForDump(reg *icatapi.Registry, e *icatapi.Entity) (*icatapi.Entity, error) {
	ti, err := reg.Type(e.Type)
	if err != nil {
		return nil, err
	}
	out := &icatapi.Entity{
		Type:   e.Type,
		ID:     e.ID,
		Attrs:  e.Attrs,
		ToOne:  e.ToOne,
		ToMany: map[string][]*icatapi.Entity{},
	}
	for _, rel := range InlineCollections(reg, ti) {
		children := e.ToMany[rel.Name]
		if len(children) == 0 {
			continue
		}
		kept := make([]*icatapi.Entity, 0, len(children))
		for _, c := range children {
			tc, err := trimForDump(reg, c)
			if err != nil {
				return nil, err
			}
			kept = append(kept, tc)
		}
		out.ToMany[rel.Name] = kept
	}
	return out, nil
}

// scopedTypes are the types a selection can keep out of a dump: everything
// hanging off the investigation tree, plus the trailing-chunk types whose
// records may drop out in turn.  A reference to one of these resolves only
// if its target actually made it into the stream.
var scopedTypes = map[icatapi.TypeName]bool{
	"investigation":   true,
	"sample":          true,
	"dataset":         true,
	"datafile":        true,
	"study":           true,
	"relatedDatafile": true,
	"dataCollection":  true,
	"job":             true,
}

// scopeRecord applies an investigation selection to a trimmed record bound
// for the trailing chunk.  Nested link rows whose far end stayed out of the
// dump are dropped in place; the record as a whole is rejected when one of
// its own references points outside.  idx is the dump session's key index,
// which by the time the trailing chunk is written names every entity the
// selection admitted.
func scopeRecord(idx *icatapi.KeyIndex, e *icatapi.Entity) bool {
	for _, target := range e.ToOne {
		if !scopedTypes[target.Type] {
			continue
		}
		if _, ok := idx.KeyFor(target); !ok {
			return false
		}
	}
	for name, children := range e.ToMany {
		kept := children[:0]
		for _, c := range children {
			if linkInScope(idx, e, c) {
				kept = append(kept, c)
			}
		}
		e.ToMany[name] = kept
	}
	return true
}

func linkInScope(idx *icatapi.KeyIndex, parent, child *icatapi.Entity) bool {
	for _, target := range child.ToOne {
		if icatapi.Same(target, parent) || !scopedTypes[target.Type] {
			continue
		}
		if _, ok := idx.KeyFor(target); !ok {
			return false
		}
	}
	return true
}
