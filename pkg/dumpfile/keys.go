package dumpfile

import (
	"fmt"

	"github.com/icatools/icat/icatapi"
)

// KeyAllocator hands out one stable unique key per entity for use in a dump
// stream.  Most entities get their canonical key from icatapi.ComputeKey;
// the allocator steps in for the two cases where that key cannot serve:
//
//   - Entity types with no uniqueness constraint (rule, study,
//     dataCollection, job) have no canonical key at all.  These get ordinal
//     keys of the form "dataCollection:ord=1", counted per type in
//     allocation order.
//
//   - Two distinct entities may compute the same canonical key when the
//     catalogue holds duplicate rows.  The first keeps the canonical key;
//     later ones get a "/dup=N" suffix, and the index is rebound so that
//     references by the canonical key keep resolving to the first entity.
//
// Allocated keys are registered in the allocator's KeyIndex, so references
// encoded later in the same stream resolve to them.
type KeyAllocator struct {
	reg  *icatapi.Registry
	idx  *icatapi.KeyIndex
	used map[string]*icatapi.Entity
	dups map[string]int
	ords map[icatapi.TypeName]int
}

func NewKeyAllocator(reg *icatapi.Registry, idx *icatapi.KeyIndex) *KeyAllocator {
	if idx == nil {
		idx = icatapi.NewKeyIndex()
	}
	return &KeyAllocator{
		reg:  reg,
		idx:  idx,
		used: make(map[string]*icatapi.Entity),
		dups: make(map[string]int),
		ords: make(map[icatapi.TypeName]int),
	}
}

// Index returns the key index the allocator registers into.
func (ka *KeyAllocator) Index() *icatapi.KeyIndex {
	return ka.idx
}

// Alias returns the unique key for e, allocating one if this is the first
// time the allocator sees it.
//
// Errors:
//
//   - icat-error-unknown-entity-type -- when e's type is not in the registry.
//   - icat-error-ambiguous-entity -- when a constraint attribute or reference
//     needed for the canonical key is unset on e.
func (ka *KeyAllocator) Alias(e *icatapi.Entity) (string, error) {
	if k, ok := ka.idx.KeyFor(e); ok {
		return k, nil
	}
	ti, err := ka.reg.Type(e.Type)
	if err != nil {
		return "", err
	}
	if len(ti.Constraint) == 0 {
		ka.ords[e.Type]++
		k := fmt.Sprintf("%s:ord=%d", e.Type, ka.ords[e.Type])
		ka.idx.Rebind(k, e)
		return k, nil
	}
	// ComputeKey registers e under the canonical key as a side effect, so a
	// collision with an earlier entity has to be detected against our own
	// claim table and then repaired in the index.
	k, err := icatapi.ComputeKey(ka.reg, e, ka.idx)
	if err != nil {
		return "", err
	}
	if prev, ok := ka.used[k]; ok && prev != e {
		ka.dups[k]++
		suffixed := fmt.Sprintf("%s/dup=%d", k, ka.dups[k]+1)
		ka.idx.Rebind(k, prev)
		ka.idx.Rebind(suffixed, e)
		ka.used[suffixed] = e
		return suffixed, nil
	}
	ka.used[k] = e
	return k, nil
}
