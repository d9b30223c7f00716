package dumpfile

import (
	"fmt"
	"io"

	"github.com/facette/natsort"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	"github.com/icatools/icat/icatapi"
)

// Writer produces a dump stream chunk by chunk.
//
// The call protocol is strict: Head at most once and only first, then any
// number of StartChunk/Add rounds, then Finalize.  Records accumulate in
// memory only until the next chunk boundary, so a dump never needs to fit
// in memory as a whole.  Within a chunk, types serialize in dependency
// order and records in natural key order, regardless of Add order.
type Writer struct {
	w    io.Writer
	reg  *icatapi.Registry
	sink docSink

	headWritten bool
	open        bool
	finalized   bool
	chunksOut   int

	staged  map[icatapi.TypeName]*stagedType
	nstaged int
}

type stagedType struct {
	keys  []string
	nodes map[string]datamodel.Node
}

// NewWriter starts a dump stream on w in the named format.
//
// Errors:
//
//    - icat-error-invalid -- when the format is not known
func NewWriter(w io.Writer, format string, reg *icatapi.Registry) (*Writer, error) {
	var sink docSink
	switch format {
	case FormatJson:
		sink = jsonSink{}
	case FormatYaml:
		sink = yamlSink{}
	default:
		return nil, icatapi.ErrorInvalid(fmt.Sprintf("unknown dump format %q", format))
	}
	return &Writer{
		w:      w,
		reg:    reg,
		sink:   sink,
		staged: map[icatapi.TypeName]*stagedType{},
	}, nil
}

// Head writes the stream's provenance document.  It must come before the
// first chunk and cannot repeat.
//
// Errors:
//
//    - icat-error-invalid -- when a head was already written, data was already
//        staged, or the stream is finalized
//    - icat-error-io -- when the underlying writer fails
func (dw *Writer) Head(head icatapi.DumpHead) error {
	if dw.finalized {
		return icatapi.ErrorInvalid("dump stream is finalized")
	}
	if dw.headWritten || dw.open {
		return icatapi.ErrorInvalid("a dump head must be the first document of the stream")
	}
	if err := dw.sink.writeHead(dw.w, head); err != nil {
		return err
	}
	dw.headWritten = true
	return nil
}

// StartChunk closes the chunk in progress, writing it out if it holds any
// records, and opens a fresh one.  An untouched chunk produces no output,
// so calling StartChunk twice in a row costs nothing.
//
// Errors:
//
//    - icat-error-invalid -- when the stream is finalized
//    - icat-error-serialization -- when the staged records cannot be assembled
//    - icat-error-io -- when the underlying writer fails
func (dw *Writer) StartChunk() error {
	if dw.finalized {
		return icatapi.ErrorInvalid("dump stream is finalized")
	}
	if err := dw.flush(); err != nil {
		return err
	}
	dw.open = true
	return nil
}

// Add encodes an entity and stages it in the open chunk under the given
// type tag and unique key.  idx supplies alias keys for the references
// inside; it may be nil.
//
// Errors:
//
//    - icat-error-invalid -- when no chunk is open, the stream is finalized,
//        or the entity's type does not match the tag
//    - icat-error-unknown-entity-type -- when the tag is not a dumpable type
//    - icat-error-already-exists -- when the key is already staged for this tag
//    - icat-error-unknown-field, icat-error-ambiguous-entity -- from encoding
func (dw *Writer) Add(tag icatapi.TypeName, key string, e *icatapi.Entity, idx *icatapi.KeyIndex) error {
	if e.Type != tag {
		return icatapi.ErrorInvalid(
			fmt.Sprintf("cannot add a %s entity under the %s tag", e.Type, tag))
	}
	n, err := Encode(dw.reg, e, idx)
	if err != nil {
		return err
	}
	return dw.AddRecord(tag, key, n)
}

// AddRecord stages an already-encoded record.  Most callers want Add; this
// exists for copying records between streams without materializing them.
//
// Errors:
//
//    - icat-error-invalid -- when no chunk is open or the stream is finalized
//    - icat-error-unknown-entity-type -- when the tag is not a dumpable type
//    - icat-error-already-exists -- when the key is already staged for this tag
func (dw *Writer) AddRecord(tag icatapi.TypeName, key string, record datamodel.Node) error {
	if dw.finalized {
		return icatapi.ErrorInvalid("dump stream is finalized")
	}
	if !dw.open {
		return icatapi.ErrorInvalid("no chunk is open; call StartChunk before Add")
	}
	if !dw.reg.Dumpable(tag) {
		return icatapi.ErrorUnknownEntityType(string(tag))
	}
	st := dw.staged[tag]
	if st == nil {
		st = &stagedType{nodes: map[string]datamodel.Node{}}
		dw.staged[tag] = st
	}
	if _, dup := st.nodes[key]; dup {
		return icatapi.ErrorAlreadyExists(tag, key)
	}
	st.keys = append(st.keys, key)
	st.nodes[key] = record
	dw.nstaged++
	return nil
}

// Finalize flushes the last chunk and seals the stream.  Calling it again
// is a no-op.
//
// Errors:
//
//    - icat-error-serialization -- when the staged records cannot be assembled
//    - icat-error-io -- when the underlying writer fails
func (dw *Writer) Finalize() error {
	if dw.finalized {
		return nil
	}
	if err := dw.flush(); err != nil {
		return err
	}
	dw.finalized = true
	dw.open = false
	return nil
}

// Chunks reports how many chunks have been written so far.
func (dw *Writer) Chunks() int {
	return dw.chunksOut
}

func (dw *Writer) flush() error {
	if dw.nstaged == 0 {
		return nil
	}
	chunk, err := dw.assemble()
	if err != nil {
		return err
	}
	if err := dw.sink.writeChunk(dw.w, chunk); err != nil {
		return err
	}
	dw.staged = map[icatapi.TypeName]*stagedType{}
	dw.nstaged = 0
	dw.chunksOut++
	return nil
}

// assemble builds the chunk node: types in the registry's dependency
// order, records per type in natural key order.
func (dw *Writer) assemble() (datamodel.Node, error) {
	n, err := qp.BuildMap(basicnode.Prototype.Map, -1, func(ma datamodel.MapAssembler) {
		for _, tag := range dw.reg.Order() {
			st := dw.staged[tag]
			if st == nil || len(st.keys) == 0 {
				continue
			}
			keys := make([]string, len(st.keys))
			copy(keys, st.keys)
			natsort.Sort(keys)
			qp.MapEntry(ma, string(tag), qp.Map(int64(len(keys)), func(ma datamodel.MapAssembler) {
				for _, k := range keys {
					qp.MapEntry(ma, k, qp.Node(st.nodes[k]))
				}
			}))
		}
	})
	if err != nil {
		return nil, icatapi.ErrorSerialization("assembling a dump chunk", err)
	}
	return n, nil
}
