package dumpfile

import (
	"context"
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/ipld/go-ipld-prime/datamodel"
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"

	"github.com/icatools/icat/icatapi"
)

// Chunk is one parsed document of a dump stream: a map from entity type
// tag to a map of unique key to record.  A chunk is the unit of restore
// atomicity, so related records that must land together belong in the
// same chunk.
type Chunk struct {
	index int
	node  datamodel.Node
	types []icatapi.TypeName
	count map[icatapi.TypeName]int
}

// newChunk validates the raw document shape and the type tags it uses.
// A tag outside the schema's dependency order fails the whole chunk;
// silently skipping records would make a restore quietly incomplete.
//
// Errors:
//
//    - icat-error-serialization -- when the document is not a map of maps
//    - icat-error-unknown-entity-type -- when a tag names no schema type
//    - icat-error-invalid -- when a tag names a type that cannot be a dump root
func newChunk(reg *icatapi.Registry, index int, node datamodel.Node) (*Chunk, error) {
	const situation = "reading a dump chunk"
	if node.Kind() != datamodel.Kind_Map {
		return nil, icatapi.ErrorSerialization(situation,
			fmt.Errorf("chunk %d is %s, expected a map", index, node.Kind()))
	}
	c := &Chunk{index: index, node: node, count: map[icatapi.TypeName]int{}}
	for it := node.MapIterator(); !it.Done(); {
		kn, vn, err := it.Next()
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		tagStr, err := kn.AsString()
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		tag := icatapi.TypeName(tagStr)
		if _, err := reg.Type(tag); err != nil {
			return nil, err
		}
		if !reg.Dumpable(tag) {
			return nil, icatapi.ErrorInvalid(
				fmt.Sprintf("chunk %d: entity type %q cannot appear at the top level of a dump", index, tag))
		}
		if vn.Kind() != datamodel.Kind_Map {
			return nil, icatapi.ErrorSerialization(situation,
				fmt.Errorf("chunk %d: records for %s are %s, expected a map", index, tag, vn.Kind()))
		}
		c.types = append(c.types, tag)
		c.count[tag] = int(vn.Length())
	}
	return c, nil
}

// Index is the chunk's position in the stream, counting from zero.
func (c *Chunk) Index() int {
	return c.index
}

// Node exposes the raw chunk document.
func (c *Chunk) Node() datamodel.Node {
	return c.node
}

// Types lists the entity type tags the chunk holds, in document order.
func (c *Chunk) Types() []icatapi.TypeName {
	out := make([]icatapi.TypeName, len(c.types))
	copy(out, c.types)
	return out
}

// Count reports how many records the chunk holds for one tag.
func (c *Chunk) Count(tag icatapi.TypeName) int {
	return c.count[tag]
}

// Len reports the total number of records in the chunk.
func (c *Chunk) Len() int {
	n := 0
	for _, v := range c.count {
		n += v
	}
	return n
}

// Record looks up one raw record by tag and unique key.
func (c *Chunk) Record(tag icatapi.TypeName, key string) (datamodel.Node, bool) {
	tn, err := c.node.LookupByString(string(tag))
	if err != nil {
		return nil, false
	}
	rn, err := tn.LookupByString(key)
	if err != nil {
		return nil, false
	}
	return rn, true
}

// Cid computes the chunk's content id: the sha2-512 of its dag-cbor form,
// as a CIDv1.  Two chunks holding the same records under the same keys
// get the same id whichever stream backend carried them.
func (c *Chunk) Cid() string {
	lnk, errRaw := icatapi.LinkSystem.ComputeLink(cidlink.LinkPrototype{cid.Prefix{
		Version:  1,    // Usually '1'.
		Codec:    0x71, // 0x71 means "dag-cbor" -- See the multicodecs table: https://github.com/multiformats/multicodec/
		MhType:   0x13, // 0x13 means "sha2-512" -- See the multicodecs table: https://github.com/multiformats/multicodec/
		MhLength: 64,   // sha2-512 hash has a 64-byte sum.
	}}, c.node)
	if errRaw != nil {
		// panic! this should never fail unless IPLD is broken
		panic(fmt.Sprintf("Fatal IPLD Error: lsys.ComputeLink failed for dump chunk: %s", errRaw))
	}
	return lnk.String()
}

// Records starts a cursor over the chunk's entities.  The cursor yields
// records grouped by type in the registry's dependency order, and within
// a type in the chunk's own stored order, decoding each lazily through
// dec.  The usual loop mirrors Reader's:
//
//	cr := dumpfile.Records(chunk, dec)
//	for cr.Next(ctx) {
//		key, e := cr.Key(), cr.Entity()
//		...
//	}
//	if err := cr.Err(); err != nil { ... }
func Records(c *Chunk, dec *Decoder) *RecordCursor {
	return &RecordCursor{chunk: c, dec: dec}
}

// RecordCursor is a lazy iterator over one chunk's records.
type RecordCursor struct {
	chunk *Chunk
	dec   *Decoder

	order   []icatapi.TypeName
	ti      int
	inner   datamodel.MapIterator
	tag     icatapi.TypeName
	key     string
	ent     *icatapi.Entity
	rawNode datamodel.Node
	err     error
	done    bool
}

// Next advances to the next record, decoding it.  It returns false at the
// end of the chunk or on the first error; check Err when the loop ends.
func (cr *RecordCursor) Next(ctx context.Context) bool {
	if cr.done || cr.err != nil {
		return false
	}
	if cr.order == nil {
		cr.order = cr.dec.Registry.Order()
	}
	for {
		if err := ctx.Err(); err != nil {
			cr.err = err
			return false
		}
		if cr.inner == nil {
			if !cr.nextType() {
				cr.done = true
				return false
			}
		}
		if cr.inner.Done() {
			cr.inner = nil
			continue
		}
		kn, vn, err := cr.inner.Next()
		if err != nil {
			cr.err = icatapi.ErrorSerialization("reading a dump chunk", err)
			return false
		}
		key, err := kn.AsString()
		if err != nil {
			cr.err = icatapi.ErrorSerialization("reading a dump chunk", err)
			return false
		}
		ent, err := cr.dec.Decode(ctx, cr.tag, vn)
		if err != nil {
			cr.err = err
			return false
		}
		cr.key, cr.ent, cr.rawNode = key, ent, vn
		return true
	}
}

// nextType moves the cursor to the next tag, in dependency order, that
// the chunk actually holds.
func (cr *RecordCursor) nextType() bool {
	for ; cr.ti < len(cr.order); cr.ti++ {
		tag := cr.order[cr.ti]
		if cr.chunk.Count(tag) == 0 {
			continue
		}
		tn, err := cr.chunk.node.LookupByString(string(tag))
		if err != nil {
			continue
		}
		cr.tag = tag
		cr.inner = tn.MapIterator()
		cr.ti++
		return true
	}
	return false
}

// Tag names the entity type of the current record.
func (cr *RecordCursor) Tag() icatapi.TypeName {
	return cr.tag
}

// Key is the unique key of the current record.
func (cr *RecordCursor) Key() string {
	return cr.key
}

// Entity is the decoded current record.
func (cr *RecordCursor) Entity() *icatapi.Entity {
	return cr.ent
}

// Record is the raw node of the current record.
func (cr *RecordCursor) Record() datamodel.Node {
	return cr.rawNode
}

// Err reports the first error the cursor hit, if any.
func (cr *RecordCursor) Err() error {
	return cr.err
}
