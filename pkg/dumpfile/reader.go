package dumpfile

import (
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/icatools/icat/icatapi"
)

// Reader walks a dump stream one chunk at a time.
//
// Iteration is lazy: a chunk is parsed only when Next reaches it, so a
// stream larger than memory can still be restored chunk by chunk.  The
// usual loop is:
//
//	for r.Next() {
//		chunk := r.Chunk()
//		...
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	reg    *icatapi.Registry
	src    docSource
	closer io.Closer

	head    *icatapi.DumpHead
	started bool
	cur     *Chunk
	nread   int
	err     error
	done    bool
}

// NewReader starts reading a dump stream from r in the named format.
//
// Errors:
//
//    - icat-error-invalid -- when the format is not known
func NewReader(r io.Reader, format string, reg *icatapi.Registry) (*Reader, error) {
	var src docSource
	switch format {
	case FormatJson:
		src = newJsonSource(r)
	case FormatYaml:
		src = newYamlSource(r)
	default:
		return nil, icatapi.ErrorInvalid(fmt.Sprintf("unknown dump format %q", format))
	}
	return &Reader{reg: reg, src: src}, nil
}

// FromFile opens a dump file on fsys, picking the format from the file
// name.  Close the reader to release the file.
//
// Errors:
//
//    - icat-error-invalid -- when the extension names no known format
//    - icat-error-io -- when the file cannot be opened
func FromFile(fsys fs.FS, filename string, reg *icatapi.Registry) (*Reader, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return nil, err
	}
	name := strings.TrimPrefix(filename, "/")
	f, err := fsys.Open(name)
	if err != nil {
		return nil, icatapi.ErrorIo("opening a dump file", filename, err)
	}
	r, err := NewReader(f, format, reg)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// Next advances to the next chunk, returning false at the end of the
// stream or on error.  Check Err when the loop ends.
func (r *Reader) Next() bool {
	if r.done || r.err != nil {
		return false
	}
	if !r.started {
		r.started = true
		head, err := r.src.head()
		if err != nil {
			r.err = err
			return false
		}
		r.head = head
	}
	node, err := r.src.next()
	if err == io.EOF {
		r.done = true
		r.cur = nil
		return false
	}
	if err != nil {
		r.err = err
		return false
	}
	chunk, err := newChunk(r.reg, r.nread, node)
	if err != nil {
		r.err = err
		return false
	}
	r.cur = chunk
	r.nread++
	return true
}

// Chunk returns the chunk Next moved to, or nil before the first Next and
// after the stream ends.
func (r *Reader) Chunk() *Chunk {
	return r.cur
}

// Head returns the stream's provenance document, if the stream carries
// one.  It is available once Next has been called at least once.
func (r *Reader) Head() *icatapi.DumpHead {
	return r.head
}

// Err reports the first error the iteration hit, if any.
func (r *Reader) Err() error {
	return r.err
}

// Close releases the underlying file, when the reader owns one.
//
// Errors:
//
//    - icat-error-io -- when closing the file fails
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	err := r.closer.Close()
	r.closer = nil
	if err != nil {
		return icatapi.ErrorIo("closing a dump file", "", err)
	}
	return nil
}
