package icatapi

import (
	_ "github.com/ipld/go-ipld-prime/codec/dagcbor" // side-effecting import; registers a codec (content ids hash the dag-cbor form).
	_ "github.com/ipld/go-ipld-prime/codec/json"    // side-effecting import; registers a codec.
	cidlink "github.com/ipld/go-ipld-prime/linking/cid"
	"github.com/ipld/go-ipld-prime/schema"
)

// This file is for IPLD-related helpers and constants.
// (For example, the linksystem: that's legitimately a global, because it's just for plugin config.)

var LinkSystem = cidlink.DefaultLinkSystem()

// TypeSystem describes the typed documents of this API (the dump head and
// the mirror configuration) and their representation strategies in IPLD
// Schema form.  The entity records themselves are deliberately untyped:
// their shape varies per entity type and is governed by the Registry.
//
// Types are accumulated by init functions in the files that declare the
// matching Go structs.
var TypeSystem = func() *schema.TypeSystem {
	ts := new(schema.TypeSystem)
	ts.Init()
	ts.Accumulate(schema.SpawnString("String"))
	ts.Accumulate(schema.SpawnBool("Bool"))
	ts.Accumulate(schema.SpawnInt("Int"))
	return ts
}()
