package dumpfile

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"

	"github.com/icatools/icat/icatapi"
)

// sampleGraph builds a small but fully connected catalogue: static
// content in one chunk, an investigation with its owned subtree in the
// next.  Returned keys are in dump order.
type sampleGraph struct {
	user, facility, ptype, inv             *icatapi.Entity
	userKey, facilityKey, ptypeKey, invKey string
}

func buildSampleGraph(t *testing.T, reg *icatapi.Registry, idx *icatapi.KeyIndex) *sampleGraph {
	t.Helper()
	g := &sampleGraph{}
	g.user = icatapi.WithAttrs("user", map[string]interface{}{
		"name": "db/jdoe", "fullName": "John Doe",
	})
	g.facility = testFacility()
	g.ptype = icatapi.WithAttrs("parameterType", map[string]interface{}{
		"name": "probe", "units": "mm", "valueType": "NUMERIC",
	})
	g.ptype.SetOne("facility", g.facility)

	g.inv = icatapi.WithAttrs("investigation", map[string]interface{}{
		"name":      "12100409-ST",
		"visitId":   "1.1-P",
		"title":     "Quantum Structure",
		"startDate": time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC),
	})
	g.inv.SetOne("facility", g.facility)
	ds := icatapi.WithAttrs("dataset", map[string]interface{}{
		"name": "e208945", "complete": true,
	})
	ds.SetOne("investigation", g.inv)
	dsp := icatapi.WithAttrs("datasetParameter", map[string]interface{}{
		"numericValue": 5.3,
	})
	dsp.SetOne("type", g.ptype)
	ds.AddChild("parameters", dsp)
	df := icatapi.WithAttrs("datafile", map[string]interface{}{
		"name": "e208945.nxs", "fileSize": 368369,
		"datafileCreateTime": time.Date(2016, 5, 12, 9, 30, 0, 0, time.UTC),
	})
	ds.AddChild("datafiles", df)
	g.inv.AddChild("datasets", ds)

	var err error
	g.userKey, err = icatapi.ComputeKey(reg, g.user, idx)
	qt.Assert(t, err, qt.IsNil)
	g.facilityKey, err = icatapi.ComputeKey(reg, g.facility, idx)
	qt.Assert(t, err, qt.IsNil)
	g.ptypeKey, err = icatapi.ComputeKey(reg, g.ptype, idx)
	qt.Assert(t, err, qt.IsNil)
	g.invKey, err = icatapi.ComputeKey(reg, g.inv, idx)
	qt.Assert(t, err, qt.IsNil)
	return g
}

func writeSampleDump(t *testing.T, reg *icatapi.Registry, format string, head icatapi.DumpHead) []byte {
	t.Helper()
	idx := icatapi.NewKeyIndex()
	g := buildSampleGraph(t, reg, idx)

	var buf bytes.Buffer
	w, err := NewWriter(&buf, format, reg)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, w.Head(head), qt.IsNil)
	qt.Assert(t, w.StartChunk(), qt.IsNil)
	// Deliberately scrambled: the stream orders types, not the caller.
	qt.Assert(t, w.Add("facility", g.facilityKey, g.facility, idx), qt.IsNil)
	qt.Assert(t, w.Add("parameterType", g.ptypeKey, g.ptype, idx), qt.IsNil)
	qt.Assert(t, w.Add("user", g.userKey, g.user, idx), qt.IsNil)
	qt.Assert(t, w.StartChunk(), qt.IsNil)
	qt.Assert(t, w.Add("investigation", g.invKey, g.inv, idx), qt.IsNil)
	qt.Assert(t, w.Finalize(), qt.IsNil)
	return buf.Bytes()
}

func testHead() icatapi.DumpHead {
	head := icatapi.NewDumpHead("icat", "0.1.0")
	service := "https://icat.example.com/ICATService"
	apiVersion := "4.3.0"
	head.Service = &service
	head.ApiVersion = &apiVersion
	return head
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg := icatapi.MustRegistry("4.3")

	for _, format := range []string{FormatJson, FormatYaml} {
		t.Run(format, func(t *testing.T) {
			head := testHead()
			data := writeSampleDump(t, reg, format, head)

			r, err := NewReader(bytes.NewReader(data), format, reg)
			qt.Assert(t, err, qt.IsNil)
			idx := icatapi.NewKeyIndex()
			dec := &Decoder{Registry: reg, Index: idx}

			type rec struct {
				tag icatapi.TypeName
				key string
			}
			var seen []rec
			byKey := map[string]*icatapi.Entity{}
			chunks := 0
			for r.Next() {
				chunks++
				cr := Records(r.Chunk(), dec)
				for cr.Next(ctx) {
					seen = append(seen, rec{cr.Tag(), cr.Key()})
					byKey[cr.Key()] = cr.Entity()
					idx.Register(cr.Key(), cr.Entity())
				}
				qt.Assert(t, cr.Err(), qt.IsNil)
			}
			qt.Assert(t, r.Err(), qt.IsNil)
			qt.Check(t, chunks, qt.Equals, 2)

			// Types come back in dependency order however they went in.
			qt.Check(t, seen, qt.DeepEquals, []rec{
				{"user", "user:name=db%2Fjdoe"},
				{"facility", "facility:name=ESNF"},
				{"parameterType", "parameterType:facility=facility%3Aname%3DESNF/name=probe/units=mm"},
				{"investigation", "investigation:facility=facility%3Aname%3DESNF/name=12100409-ST/visitId=1.1-P"},
			})

			// References across chunks resolve to the session's entities.
			inv := byKey["investigation:facility=facility%3Aname%3DESNF/name=12100409-ST/visitId=1.1-P"]
			qt.Assert(t, inv, qt.IsNotNil)
			qt.Check(t, inv.ToOne["facility"], qt.Equals, byKey["facility:name=ESNF"])
			qt.Check(t, inv.Attrs["startDate"], qt.Equals, time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC))
			qt.Assert(t, inv.ToMany["datasets"], qt.HasLen, 1)
			ds := inv.ToMany["datasets"][0]
			qt.Check(t, ds.Attrs["complete"], qt.Equals, true)
			qt.Assert(t, ds.ToMany["datafiles"], qt.HasLen, 1)
			qt.Check(t, ds.ToMany["datafiles"][0].Attrs["fileSize"], qt.Equals, int64(368369))
			qt.Assert(t, ds.ToMany["parameters"], qt.HasLen, 1)
			dsp := ds.ToMany["parameters"][0]
			qt.Check(t, dsp.Attrs["numericValue"], qt.Equals, 5.3)
			qt.Check(t, dsp.ToOne["type"], qt.Equals,
				byKey["parameterType:facility=facility%3Aname%3DESNF/name=probe/units=mm"])

			// Provenance survives both carriers; the capsule keeps the
			// uuid, the comment head cannot.
			got := r.Head()
			qt.Assert(t, got, qt.IsNotNil)
			qt.Check(t, got.Generator, qt.Equals, head.Generator)
			qt.Check(t, got.Version, qt.Equals, head.Version)
			qt.Check(t, got.Date, qt.Equals, head.Date)
			qt.Assert(t, got.Service, qt.IsNotNil)
			qt.Check(t, *got.Service, qt.Equals, *head.Service)
			qt.Assert(t, got.ApiVersion, qt.IsNotNil)
			qt.Check(t, *got.ApiVersion, qt.Equals, *head.ApiVersion)
			if format == FormatJson {
				qt.Check(t, got.Uuid, qt.Equals, head.Uuid)
			}
		})
	}
}

func TestStreamDeterminism(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	head := testHead()
	for _, format := range []string{FormatJson, FormatYaml} {
		t.Run(format, func(t *testing.T) {
			first := writeSampleDump(t, reg, format, head)
			for i := 0; i < 3; i++ {
				qt.Assert(t, string(writeSampleDump(t, reg, format, head)), qt.Equals, string(first))
			}
		})
	}
}

func TestChunkCidIsCarrierIndependent(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	head := testHead()
	collect := func(format string) []string {
		r, err := NewReader(bytes.NewReader(writeSampleDump(t, reg, format, head)), format, reg)
		qt.Assert(t, err, qt.IsNil)
		var cids []string
		for r.Next() {
			cids = append(cids, r.Chunk().Cid())
		}
		qt.Assert(t, r.Err(), qt.IsNil)
		return cids
	}
	jsonCids := collect(FormatJson)
	yamlCids := collect(FormatYaml)
	qt.Assert(t, jsonCids, qt.HasLen, 2)
	qt.Check(t, jsonCids, qt.DeepEquals, yamlCids)
	for _, c := range jsonCids {
		qt.Check(t, strings.HasPrefix(c, "baf"), qt.IsTrue, qt.Commentf("cid: %s", c))
	}
}

func TestReaderRejects(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	read := func(t *testing.T, src string) error {
		r, err := NewReader(strings.NewReader(src), FormatJson, reg)
		qt.Assert(t, err, qt.IsNil)
		for r.Next() {
		}
		return r.Err()
	}

	for _, tt := range []struct {
		name    string
		src     string
		errCode string
	}{
		{"newer-chunk-vocabulary", `{"chunk.v9":{}}`, icatapi.ECodeDataTooNew},
		{"unrecognized-capsule", `{"what":"ever"}`, icatapi.ECodeDataTooNew},
		{"not-a-capsule", `[1,2]`, icatapi.ECodeSerialization},
		{"two-entry-capsule", `{"a":1,"b":2}`, icatapi.ECodeSerialization},
		{"head-after-data", `{"chunk.v1":{}}` + "\n" + `{"head.v1":{"generator":"icat","version":"0","uuid":"u","date":"d"}}`, icatapi.ECodeSerialization},
		{"unknown-entity-tag", `{"chunk.v1":{"blobs":{}}}`, icatapi.ECodeUnknownType},
		{"non-root-entity-tag", `{"chunk.v1":{"keyword":{}}}`, icatapi.ECodeInvalid},
		{"chunk-not-a-map", `{"chunk.v1":["x"]}`, icatapi.ECodeSerialization},
	} {
		t.Run(tt.name, func(t *testing.T) {
			err := read(t, tt.src)
			qt.Check(t, serum.Code(err), qt.Equals, tt.errCode, qt.Commentf("err: %v", err))
		})
	}

	t.Run("empty-stream", func(t *testing.T) {
		r, err := NewReader(strings.NewReader(""), FormatJson, reg)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, r.Next(), qt.IsFalse)
		qt.Check(t, r.Err(), qt.IsNil)
		qt.Check(t, r.Head(), qt.IsNil)
	})
	t.Run("headless-stream", func(t *testing.T) {
		r, err := NewReader(strings.NewReader(`{"chunk.v1":{"facility":{"facility:name=A":{"name":"A"}}}}`), FormatJson, reg)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, r.Next(), qt.IsTrue)
		qt.Check(t, r.Head(), qt.IsNil)
		qt.Check(t, r.Chunk().Count("facility"), qt.Equals, 1)
		qt.Check(t, r.Next(), qt.IsFalse)
		qt.Check(t, r.Err(), qt.IsNil)
	})
	t.Run("head-only-stream", func(t *testing.T) {
		r, err := NewReader(strings.NewReader(`{"head.v1":{"generator":"icat","version":"0.1.0","uuid":"u","date":"d"}}`), FormatJson, reg)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, r.Next(), qt.IsFalse)
		qt.Check(t, r.Err(), qt.IsNil)
		qt.Assert(t, r.Head(), qt.IsNotNil)
		qt.Check(t, r.Head().Generator, qt.Equals, "icat")
	})
}

func TestYamlHeadComments(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	src := strings.Join([]string{
		"%YAML 1.1",
		"# Date: Fri, 13 May 2016 11:42:18 +0000",
		"# Service: https://icat.example.com/ICATService",
		"# ICAT-API: 4.3.0",
		"# Generator: icatdump (python-icat 1.0.0)",
		"---",
		"facility:",
		`  "facility:name=ESNF":`,
		"    daysUntilRelease: 1095",
		"    name: ESNF",
		"",
	}, "\n")

	r, err := NewReader(strings.NewReader(src), FormatYaml, reg)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, r.Next(), qt.IsTrue, qt.Commentf("err: %v", r.Err()))
	head := r.Head()
	qt.Assert(t, head, qt.IsNotNil)
	qt.Check(t, head.Date, qt.Equals, "2016-05-13T11:42:18Z")
	qt.Assert(t, head.Service, qt.IsNotNil)
	qt.Check(t, *head.Service, qt.Equals, "https://icat.example.com/ICATService")
	qt.Assert(t, head.ApiVersion, qt.IsNotNil)
	qt.Check(t, *head.ApiVersion, qt.Equals, "4.3.0")
	qt.Check(t, head.Generator, qt.Equals, "icatdump")
	qt.Check(t, head.Version, qt.Equals, "python-icat 1.0.0")

	dec := &Decoder{Registry: reg}
	cr := Records(r.Chunk(), dec)
	qt.Assert(t, cr.Next(context.Background()), qt.IsTrue)
	qt.Check(t, cr.Key(), qt.Equals, "facility:name=ESNF")
	qt.Check(t, cr.Entity().Attrs["daysUntilRelease"], qt.Equals, int64(1095))
	qt.Check(t, cr.Next(context.Background()), qt.IsFalse)
	qt.Check(t, cr.Err(), qt.IsNil)
	qt.Check(t, r.Next(), qt.IsFalse)
	qt.Check(t, r.Err(), qt.IsNil)
}

func TestFromFile(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	head := testHead()
	fsys := fstest.MapFS{
		"dumps/full.json": &fstest.MapFile{Data: writeSampleDump(t, reg, FormatJson, head)},
		"dumps/full.yaml": &fstest.MapFile{Data: writeSampleDump(t, reg, FormatYaml, head)},
		"dumps/full.xml":  &fstest.MapFile{Data: []byte("<icatdata/>")},
	}

	for _, name := range []string{"dumps/full.json", "dumps/full.yaml"} {
		t.Run(name, func(t *testing.T) {
			r, err := FromFile(fsys, name, reg)
			qt.Assert(t, err, qt.IsNil)
			defer r.Close()
			chunks := 0
			for r.Next() {
				chunks++
			}
			qt.Assert(t, r.Err(), qt.IsNil)
			qt.Check(t, chunks, qt.Equals, 2)
		})
	}
	t.Run("unknown-extension", func(t *testing.T) {
		_, err := FromFile(fsys, "dumps/full.xml", reg)
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
	t.Run("missing-file", func(t *testing.T) {
		_, err := FromFile(fsys, "dumps/nope.json", reg)
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeIo)
	})
}

func TestDetectFormat(t *testing.T) {
	for _, tt := range []struct {
		filename string
		format   string
	}{
		{"icatdump.json", FormatJson},
		{"icatdump.yaml", FormatYaml},
		{"icatdump.yml", FormatYaml},
		{"dumps/2016/icatdump.json", FormatJson},
	} {
		got, err := DetectFormat(tt.filename)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, got, qt.Equals, tt.format)
	}
	_, err := DetectFormat("icatdump.xml")
	qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	_, err = DetectFormat("icatdump")
	qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
}
