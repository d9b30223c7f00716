package dumpfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/ipld/go-ipld-prime"
	"github.com/ipld/go-ipld-prime/codec/json"
	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/fluent/qp"
	"github.com/ipld/go-ipld-prime/node/basicnode"

	"github.com/icatools/icat/icatapi"
)

// The json stream backend: one capsule document per line.  The codec
// emits no raw newlines inside a document, so lines and documents
// coincide and a consumer can skip chunks without parsing them.

type jsonSink struct{}

func (jsonSink) writeHead(w io.Writer, head icatapi.DumpHead) error {
	capsule := icatapi.DumpHeadCapsule{DumpHead: &head}
	data, err := ipld.Marshal(json.Encode, &capsule, icatapi.TypeSystem.TypeByName("DumpHeadCapsule"))
	if err != nil {
		return icatapi.ErrorSerialization("writing a dump head", err)
	}
	return writeLine(w, data)
}

func (jsonSink) writeChunk(w io.Writer, chunk datamodel.Node) error {
	capsule, err := qp.BuildMap(basicnode.Prototype.Map, 1, func(ma datamodel.MapAssembler) {
		qp.MapEntry(ma, CapsuleChunk, qp.Node(chunk))
	})
	if err != nil {
		return icatapi.ErrorSerialization("writing a dump chunk", err)
	}
	data, err := ipld.Encode(capsule, json.Encode)
	if err != nil {
		return icatapi.ErrorSerialization("writing a dump chunk", err)
	}
	return writeLine(w, data)
}

func writeLine(w io.Writer, data []byte) error {
	if _, err := w.Write(data); err != nil {
		return icatapi.ErrorIo("writing a dump document", "", err)
	}
	if _, err := w.Write([]byte{'\n'}); err != nil {
		return icatapi.ErrorIo("writing a dump document", "", err)
	}
	return nil
}

type jsonSource struct {
	br      *bufio.Reader
	pending datamodel.Node
}

func newJsonSource(r io.Reader) *jsonSource {
	return &jsonSource{br: bufio.NewReader(r)}
}

func (s *jsonSource) head() (*icatapi.DumpHead, error) {
	doc, err := s.readDoc()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	key, value, err := capsuleOf(doc)
	if err != nil {
		return nil, err
	}
	switch key {
	case CapsuleHead:
		capsule := icatapi.DumpHeadCapsule{}
		_, err := ipld.Unmarshal(doc.raw, json.Decode, &capsule, icatapi.TypeSystem.TypeByName("DumpHeadCapsule"))
		if err != nil {
			return nil, icatapi.ErrorSerialization("reading a dump head", err)
		}
		if capsule.DumpHead == nil {
			// ... this isn't really reachable.
			return nil, icatapi.ErrorDataTooNew("reading a dump head", fmt.Errorf("no v1 DumpHead in DumpHeadCapsule"))
		}
		return capsule.DumpHead, nil
	case CapsuleChunk:
		// Headless stream; hold the chunk for the first next call.
		s.pending = value
		return nil, nil
	}
	return nil, icatapi.ErrorDataTooNew("reading a dump stream",
		fmt.Errorf("unrecognized document capsule %q", key))
}

func (s *jsonSource) next() (datamodel.Node, error) {
	if s.pending != nil {
		n := s.pending
		s.pending = nil
		return n, nil
	}
	doc, err := s.readDoc()
	if err != nil {
		return nil, err
	}
	key, value, err := capsuleOf(doc)
	if err != nil {
		return nil, err
	}
	switch key {
	case CapsuleChunk:
		return value, nil
	case CapsuleHead:
		return nil, icatapi.ErrorSerialization("reading a dump stream",
			fmt.Errorf("a head document may only appear before the first chunk"))
	}
	return nil, icatapi.ErrorDataTooNew("reading a dump stream",
		fmt.Errorf("unrecognized document capsule %q", key))
}

type jsonDoc struct {
	raw  []byte
	node datamodel.Node
}

// readDoc returns the next non-empty line, parsed.  io.EOF means a clean
// end of stream.
func (s *jsonSource) readDoc() (jsonDoc, error) {
	for {
		line, err := s.br.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				return jsonDoc{}, io.EOF
			}
			if err != nil {
				return jsonDoc{}, icatapi.ErrorIo("reading a dump stream", "", err)
			}
			continue
		}
		if err != nil && err != io.EOF {
			return jsonDoc{}, icatapi.ErrorIo("reading a dump stream", "", err)
		}
		n, err := ipld.Decode(line, json.Decode)
		if err != nil {
			return jsonDoc{}, icatapi.ErrorSerialization("reading a dump stream", err)
		}
		return jsonDoc{raw: line, node: n}, nil
	}
}

// capsuleOf splits a single-entry capsule map into its key and payload.
//
// Errors:
//
//    - icat-error-serialization -- when the document is not capsule-shaped
func capsuleOf(doc jsonDoc) (string, datamodel.Node, error) {
	const situation = "reading a dump stream"
	if doc.node.Kind() != datamodel.Kind_Map || doc.node.Length() != 1 {
		return "", nil, icatapi.ErrorSerialization(situation,
			fmt.Errorf("document is not a single-entry capsule map"))
	}
	it := doc.node.MapIterator()
	kn, vn, err := it.Next()
	if err != nil {
		return "", nil, icatapi.ErrorSerialization(situation, err)
	}
	key, err := kn.AsString()
	if err != nil {
		return "", nil, icatapi.ErrorSerialization(situation, err)
	}
	return key, vn, nil
}
