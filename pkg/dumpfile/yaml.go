package dumpfile

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ipld/go-ipld-prime/datamodel"
	"github.com/ipld/go-ipld-prime/node/basicnode"
	"gopkg.in/yaml.v3"

	"github.com/icatools/icat/icatapi"
)

// The yaml stream backend: one document per chunk, separated by the usual
// "---" markers.  The head travels as comment lines before the first
// document, which keeps a dump greppable and diffable by hand; the price
// is that the head is advisory only and cannot be validated by the codec.

type yamlSink struct{}

func (yamlSink) writeHead(w io.Writer, head icatapi.DumpHead) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%%YAML 1.1\n")
	fmt.Fprintf(&b, "# Date: %s\n", head.CommentDate())
	if head.Service != nil {
		fmt.Fprintf(&b, "# Service: %s\n", *head.Service)
	}
	if head.ApiVersion != nil {
		fmt.Fprintf(&b, "# ICAT-API: %s\n", *head.ApiVersion)
	}
	fmt.Fprintf(&b, "# Generator: %s (%s)\n", head.Generator, head.Version)
	if _, err := io.WriteString(w, b.String()); err != nil {
		return icatapi.ErrorIo("writing a dump head", "", err)
	}
	return nil
}

func (yamlSink) writeChunk(w io.Writer, chunk datamodel.Node) error {
	doc, err := nodeToYaml(chunk)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return icatapi.ErrorSerialization("writing a dump chunk", err)
	}
	if err := enc.Close(); err != nil {
		return icatapi.ErrorSerialization("writing a dump chunk", err)
	}
	if _, err := io.WriteString(w, "---\n"); err != nil {
		return icatapi.ErrorIo("writing a dump document", "", err)
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return icatapi.ErrorIo("writing a dump document", "", err)
	}
	return nil
}

type yamlSource struct {
	br  *bufio.Reader
	dec *yaml.Decoder
}

func newYamlSource(r io.Reader) *yamlSource {
	return &yamlSource{br: bufio.NewReader(r)}
}

// head consumes the comment lines before the first document and
// reconstructs the provenance they carry.  A stream with no comment head
// yields nil.
func (s *yamlSource) head() (*icatapi.DumpHead, error) {
	head := icatapi.DumpHead{}
	found := false
	for {
		c, err := s.br.Peek(1)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, icatapi.ErrorIo("reading a dump stream", "", err)
		}
		if c[0] != '%' && c[0] != '#' && c[0] != '\n' {
			break
		}
		line, err := s.br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, icatapi.ErrorIo("reading a dump stream", "", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "#") {
			continue
		}
		k, v := splitHeadComment(line)
		switch k {
		case "Date":
			found = true
			if t, err := time.Parse(icatapi.HeadDateFormat, v); err == nil {
				head.Date = t.UTC().Format(time.RFC3339)
			} else {
				head.Date = v
			}
		case "Service":
			found = true
			service := v
			head.Service = &service
		case "ICAT-API":
			found = true
			apiVersion := v
			head.ApiVersion = &apiVersion
		case "Generator":
			found = true
			head.Generator, head.Version = splitGenerator(v)
		}
	}
	s.dec = yaml.NewDecoder(s.br)
	if !found {
		return nil, nil
	}
	return &head, nil
}

func (s *yamlSource) next() (datamodel.Node, error) {
	if s.dec == nil {
		s.dec = yaml.NewDecoder(s.br)
	}
	var doc yaml.Node
	err := s.dec.Decode(&doc)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, icatapi.ErrorSerialization("reading a dump stream", err)
	}
	return yamlToNode(&doc)
}

// splitHeadComment takes "# Date: ..." apart into "Date" and the rest.
func splitHeadComment(line string) (key, value string) {
	line = strings.TrimSpace(strings.TrimPrefix(line, "#"))
	i := strings.Index(line, ":")
	if i < 0 {
		return "", ""
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
}

// splitGenerator takes "icat (0.1.0)" apart into name and version.
func splitGenerator(s string) (generator, version string) {
	i := strings.LastIndex(s, " (")
	if i < 0 || !strings.HasSuffix(s, ")") {
		return s, ""
	}
	return s[:i], s[i+2 : len(s)-1]
}

// yamlToNode converts a parsed yaml document to the data model, resolving
// anchors and collapsing yaml's scalar zoo onto the five kinds records
// use.  Timestamps come back as their canonical string form, matching
// what the encoder writes.
//
// Errors:
//
//    - icat-error-serialization -- when the document uses yaml constructs
//        records have no meaning for
func yamlToNode(yn *yaml.Node) (datamodel.Node, error) {
	const situation = "reading a dump stream"
	switch yn.Kind {
	case yaml.DocumentNode:
		if len(yn.Content) != 1 {
			return nil, icatapi.ErrorSerialization(situation,
				fmt.Errorf("yaml document has %d roots", len(yn.Content)))
		}
		return yamlToNode(yn.Content[0])
	case yaml.AliasNode:
		return yamlToNode(yn.Alias)
	case yaml.MappingNode:
		nb := basicnode.Prototype.Map.NewBuilder()
		ma, err := nb.BeginMap(int64(len(yn.Content) / 2))
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		for i := 0; i+1 < len(yn.Content); i += 2 {
			kn, vn := yn.Content[i], yn.Content[i+1]
			if kn.Kind != yaml.ScalarNode {
				return nil, icatapi.ErrorSerialization(situation,
					fmt.Errorf("line %d: map keys must be scalars", kn.Line))
			}
			if err := ma.AssembleKey().AssignString(kn.Value); err != nil {
				return nil, icatapi.ErrorSerialization(situation, err)
			}
			cn, err := yamlToNode(vn)
			if err != nil {
				return nil, err
			}
			if err := ma.AssembleValue().AssignNode(cn); err != nil {
				return nil, icatapi.ErrorSerialization(situation, err)
			}
		}
		if err := ma.Finish(); err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		return nb.Build(), nil
	case yaml.SequenceNode:
		nb := basicnode.Prototype.List.NewBuilder()
		la, err := nb.BeginList(int64(len(yn.Content)))
		if err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		for _, en := range yn.Content {
			cn, err := yamlToNode(en)
			if err != nil {
				return nil, err
			}
			if err := la.AssembleValue().AssignNode(cn); err != nil {
				return nil, icatapi.ErrorSerialization(situation, err)
			}
		}
		if err := la.Finish(); err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		return nb.Build(), nil
	case yaml.ScalarNode:
		return yamlScalar(yn)
	}
	return nil, icatapi.ErrorSerialization(situation,
		fmt.Errorf("line %d: unsupported yaml node kind", yn.Line))
}

func yamlScalar(yn *yaml.Node) (datamodel.Node, error) {
	const situation = "reading a dump stream"
	switch yn.Tag {
	case "!!str":
		return basicnode.NewString(yn.Value), nil
	case "!!int":
		var i int64
		if err := yn.Decode(&i); err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		return basicnode.NewInt(i), nil
	case "!!float":
		var f float64
		if err := yn.Decode(&f); err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		return basicnode.NewFloat(f), nil
	case "!!bool":
		var b bool
		if err := yn.Decode(&b); err != nil {
			return nil, icatapi.ErrorSerialization(situation, err)
		}
		return basicnode.NewBool(b), nil
	case "!!timestamp":
		var t time.Time
		if err := yn.Decode(&t); err != nil {
			return basicnode.NewString(yn.Value), nil
		}
		return basicnode.NewString(icatapi.FormatTime(t)), nil
	case "!!null":
		return datamodel.Null, nil
	}
	return nil, icatapi.ErrorSerialization(situation,
		fmt.Errorf("line %d: unsupported yaml scalar tag %q", yn.Line, yn.Tag))
}

// nodeToYaml is the writing half of the bridge.
func nodeToYaml(n datamodel.Node) (*yaml.Node, error) {
	const situation = "writing a dump chunk"
	switch n.Kind() {
	case datamodel.Kind_Map:
		doc := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for it := n.MapIterator(); !it.Done(); {
			kn, vn, err := it.Next()
			if err != nil {
				return nil, icatapi.ErrorSerialization(situation, err)
			}
			k, err := kn.AsString()
			if err != nil {
				return nil, icatapi.ErrorSerialization(situation, err)
			}
			cv, err := nodeToYaml(vn)
			if err != nil {
				return nil, err
			}
			doc.Content = append(doc.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}, cv)
		}
		return doc, nil
	case datamodel.Kind_List:
		doc := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for it := n.ListIterator(); !it.Done(); {
			_, vn, err := it.Next()
			if err != nil {
				return nil, icatapi.ErrorSerialization(situation, err)
			}
			cv, err := nodeToYaml(vn)
			if err != nil {
				return nil, err
			}
			doc.Content = append(doc.Content, cv)
		}
		return doc, nil
	case datamodel.Kind_String:
		s, _ := n.AsString()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}, nil
	case datamodel.Kind_Int:
		i, _ := n.AsInt()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprintf("%d", i)}, nil
	case datamodel.Kind_Float:
		f, _ := n.AsFloat()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: formatYamlFloat(f)}, nil
	case datamodel.Kind_Bool:
		b, _ := n.AsBool()
		if b {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "true"}, nil
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: "false"}, nil
	case datamodel.Kind_Null:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}, nil
	}
	return nil, icatapi.ErrorSerialization(situation,
		fmt.Errorf("cannot render a %s node as yaml", n.Kind()))
}

func formatYamlFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return ".inf"
	case math.IsInf(f, -1):
		return "-.inf"
	case math.IsNaN(f):
		return ".nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	// Keep the scalar recognizable as a float after a round trip.
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}
