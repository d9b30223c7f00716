package dumpfile

import (
	"fmt"
	"io"
	"path"

	"github.com/ipld/go-ipld-prime/datamodel"

	"github.com/icatools/icat/icatapi"
)

const (
	FormatJson = "json"
	FormatYaml = "yaml"
)

// Capsule keys for the json stream backend.  A json dump is one capsule
// document per line; the key names the document's vocabulary so an old
// reader can refuse data from a newer writer instead of misreading it.
const (
	CapsuleHead  = "head.v1"
	CapsuleChunk = "chunk.v1"
)

// docSink is the writing half of a stream backend.
type docSink interface {
	writeHead(w io.Writer, head icatapi.DumpHead) error
	writeChunk(w io.Writer, chunk datamodel.Node) error
}

// docSource is the reading half of a stream backend.  head is consulted
// once, before the first chunk; next returns io.EOF when the stream ends.
type docSource interface {
	head() (*icatapi.DumpHead, error)
	next() (datamodel.Node, error)
}

// DetectFormat maps a dump file name to a stream format by extension.
//
// Errors:
//
//    - icat-error-invalid -- when the extension names no known format
func DetectFormat(filename string) (string, error) {
	switch path.Ext(filename) {
	case ".json":
		return FormatJson, nil
	case ".yaml", ".yml":
		return FormatYaml, nil
	}
	return "", icatapi.ErrorInvalid(
		fmt.Sprintf("cannot infer a dump format from %q; use a .json, .yaml or .yml name or name the format explicitly", filename))
}
