// Package dumpfile reads and writes catalogue dump streams.
//
// A dump stream is an ordered series of chunks.  Each chunk is a map from
// entity type tag to a map of unique key to record, and each record is the
// identity-free serialized form of one entity together with all the owned
// children nested below it.  Two stream backends carry the same logical
// content: newline-delimited json capsule documents, and multi-document
// yaml with a comment head.
//
// Writer accumulates records and flushes them a chunk at a time; Reader
// walks a stream lazily, yielding one chunk per step.  Encode and Decode
// translate between live icatapi.Entity values and record nodes; decoding
// resolves reference keys through a session KeyIndex first and an optional
// live catalogue second.
package dumpfile
