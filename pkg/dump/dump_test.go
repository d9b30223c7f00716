package dump

import (
	"bytes"
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/catalog"
	"github.com/icatools/icat/pkg/dumpfile"
)

// seedCatalog fills a transient store with a small but complete facility:
// authz data, static content, two investigations with their subtrees, and
// the objects relating them to each other.
type seedCatalog struct {
	cat catalog.Catalog

	jdoe, nbour *icatapi.Entity
	fac, instr  *icatapi.Entity
	mf, beam    *icatapi.Entity
	app         *icatapi.Entity
	inv1, inv2  *icatapi.Entity
	sample1     *icatapi.Entity
	ds11, ds12  *icatapi.Entity
	ds21        *icatapi.Entity
	df111       *icatapi.Entity
	df112       *icatapi.Entity
	df121       *icatapi.Entity
	df211       *icatapi.Entity
	reldf       *icatapi.Entity
}

func seedWorld(t *testing.T) *seedCatalog {
	t.Helper()
	ctx := context.Background()
	cat, err := catalog.Open(ctx, "mem:", "")
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { cat.Close() })
	w := &seedCatalog{cat: cat}
	create := func(es ...*icatapi.Entity) {
		qt.Assert(t, cat.CreateMany(ctx, es), qt.IsNil)
	}

	w.jdoe = icatapi.WithAttrs("user", map[string]interface{}{"name": "jdoe", "fullName": "John Doe"})
	w.nbour = icatapi.WithAttrs("user", map[string]interface{}{"name": "nbour", "fullName": "Nicolas Bourbaki"})
	create(w.jdoe, w.nbour)

	team := icatapi.WithAttrs("grouping", map[string]interface{}{"name": "pi_team"})
	team.AddChild("userGroups", icatapi.New("userGroup").SetOne("user", w.jdoe))
	create(team)
	ruleAll := icatapi.WithAttrs("rule", map[string]interface{}{
		"crudFlags": "CRUD", "what": "SELECT o FROM User o",
	})
	ruleRead := icatapi.WithAttrs("rule", map[string]interface{}{
		"crudFlags": "R", "what": "SELECT o FROM Investigation o",
	}).SetOne("grouping", team)
	create(ruleAll, ruleRead)
	create(icatapi.WithAttrs("publicStep", map[string]interface{}{
		"origin": "investigation", "field": "datasets",
	}))

	w.fac = icatapi.WithAttrs("facility", map[string]interface{}{
		"name": "ESNF", "daysUntilRelease": 1095,
	})
	create(w.fac)
	w.instr = icatapi.WithAttrs("instrument", map[string]interface{}{
		"name": "E2", "type": "Neutron Diffractometer",
	}).SetOne("facility", w.fac)
	w.instr.AddChild("instrumentScientists", icatapi.New("instrumentScientist").SetOne("user", w.nbour))
	w.mf = icatapi.WithAttrs("parameterType", map[string]interface{}{
		"name": "Magnetic field", "units": "T", "valueType": "NUMERIC",
		"applicableToDataset": true, "applicableToSample": true,
	}).SetOne("facility", w.fac)
	w.beam = icatapi.WithAttrs("parameterType", map[string]interface{}{
		"name": "Beam mode", "units": "N/A", "valueType": "STRING",
		"applicableToInvestigation": true, "applicableToDataCollection": true,
	}).SetOne("facility", w.fac)
	w.beam.AddChild("permissibleStringValues",
		icatapi.WithAttrs("permissibleStringValue", map[string]interface{}{"value": "online"}))
	w.beam.AddChild("permissibleStringValues",
		icatapi.WithAttrs("permissibleStringValue", map[string]interface{}{"value": "offline"}))
	invType := icatapi.WithAttrs("investigationType", map[string]interface{}{"name": "experiment"}).
		SetOne("facility", w.fac)
	durolType := icatapi.WithAttrs("sampleType", map[string]interface{}{
		"name": "Durol", "molecularFormula": "C10H14",
	}).SetOne("facility", w.fac)
	rawType := icatapi.WithAttrs("datasetType", map[string]interface{}{"name": "raw"}).
		SetOne("facility", w.fac)
	nexus := icatapi.WithAttrs("datafileFormat", map[string]interface{}{
		"name": "NeXus", "version": "4.3.0",
	}).SetOne("facility", w.fac)
	cycle := icatapi.WithAttrs("facilityCycle", map[string]interface{}{"name": "2016-1"}).
		SetOne("facility", w.fac)
	w.app = icatapi.WithAttrs("application", map[string]interface{}{
		"name": "reduction", "version": "1.3",
	}).SetOne("facility", w.fac)
	create(w.instr, w.mf, w.beam, invType, durolType, rawType, nexus, cycle, w.app)

	w.inv1 = icatapi.WithAttrs("investigation", map[string]interface{}{
		"name": "10100601-ST", "visitId": "1.1-P", "title": "Durol single crystal",
	})
	w.inv1.SetOne("facility", w.fac).SetOne("type", invType)
	w.inv1.AddChild("parameters",
		icatapi.WithAttrs("investigationParameter", map[string]interface{}{"stringValue": "online"}).
			SetOne("type", w.beam))
	w.inv1.AddChild("investigationInstruments", icatapi.New("investigationInstrument").SetOne("instrument", w.instr))
	w.inv1.AddChild("investigationUsers",
		icatapi.WithAttrs("investigationUser", map[string]interface{}{"role": "PI"}).SetOne("user", w.jdoe))
	w.inv1.AddChild("keywords", icatapi.WithAttrs("keyword", map[string]interface{}{"name": "durol"}))
	w.inv1.AddChild("keywords", icatapi.WithAttrs("keyword", map[string]interface{}{"name": "neutron"}))
	w.inv1.AddChild("publications", icatapi.WithAttrs("publication", map[string]interface{}{
		"fullReference": "Durol over gold, JNR 5(2016)92",
	}))
	create(w.inv1)
	w.sample1 = icatapi.WithAttrs("sample", map[string]interface{}{"name": "durol"})
	w.sample1.SetOne("investigation", w.inv1).SetOne("type", durolType)
	w.sample1.AddChild("parameters",
		icatapi.WithAttrs("sampleParameter", map[string]interface{}{"numericValue": 7.3}).
			SetOne("type", w.mf))
	create(w.sample1)
	w.ds11 = icatapi.WithAttrs("dataset", map[string]interface{}{"name": "e201215", "complete": true})
	w.ds11.SetOne("investigation", w.inv1).SetOne("type", rawType).SetOne("sample", w.sample1)
	w.ds11.AddChild("parameters",
		icatapi.WithAttrs("datasetParameter", map[string]interface{}{"numericValue": 5.3}).
			SetOne("type", w.mf))
	w.df111 = icatapi.WithAttrs("datafile", map[string]interface{}{"name": "e201215.nxs", "fileSize": 368369}).
		SetOne("datafileFormat", nexus)
	w.df112 = icatapi.WithAttrs("datafile", map[string]interface{}{"name": "e201215.dat"})
	w.ds11.AddChild("datafiles", w.df111)
	w.ds11.AddChild("datafiles", w.df112)
	w.ds12 = icatapi.WithAttrs("dataset", map[string]interface{}{"name": "e201216", "complete": false})
	w.ds12.SetOne("investigation", w.inv1).SetOne("type", rawType)
	w.df121 = icatapi.WithAttrs("datafile", map[string]interface{}{"name": "e201216.nxs"}).
		SetOne("datafileFormat", nexus)
	w.ds12.AddChild("datafiles", w.df121)
	create(w.ds11, w.ds12)

	w.inv2 = icatapi.WithAttrs("investigation", map[string]interface{}{
		"name": "12100409-ST", "visitId": "1.1-P", "title": "NiMnGa flat cone",
	})
	w.inv2.SetOne("facility", w.fac).SetOne("type", invType)
	w.inv2.AddChild("keywords", icatapi.WithAttrs("keyword", map[string]interface{}{"name": "nickel"}))
	create(w.inv2)
	w.ds21 = icatapi.WithAttrs("dataset", map[string]interface{}{"name": "e208945", "complete": true})
	w.ds21.SetOne("investigation", w.inv2).SetOne("type", rawType)
	w.df211 = icatapi.WithAttrs("datafile", map[string]interface{}{"name": "e208945.nxs"}).
		SetOne("datafileFormat", nexus)
	w.ds21.AddChild("datafiles", w.df211)
	create(w.ds21)

	study := icatapi.WithAttrs("study", map[string]interface{}{"name": "durol-series"}).
		SetOne("user", w.jdoe)
	study.AddChild("studyInvestigations", icatapi.New("studyInvestigation").SetOne("investigation", w.inv1))
	study.AddChild("studyInvestigations", icatapi.New("studyInvestigation").SetOne("investigation", w.inv2))
	create(study)
	w.reldf = icatapi.WithAttrs("relatedDatafile", map[string]interface{}{"relation": "COPY"})
	w.reldf.SetOne("sourceDatafile", w.df111).SetOne("destDatafile", w.df211)
	create(w.reldf)
	colA := icatapi.New("dataCollection")
	colA.AddChild("dataCollectionDatasets", icatapi.New("dataCollectionDataset").SetOne("dataset", w.ds11))
	colA.AddChild("dataCollectionDatafiles", icatapi.New("dataCollectionDatafile").SetOne("datafile", w.df211))
	colA.AddChild("dataCollectionParameters",
		icatapi.WithAttrs("dataCollectionParameter", map[string]interface{}{"stringValue": "online"}).
			SetOne("type", w.beam))
	colB := icatapi.New("dataCollection")
	colB.AddChild("dataCollectionDatasets", icatapi.New("dataCollectionDataset").SetOne("dataset", w.ds21))
	create(colA, colB)
	job := icatapi.WithAttrs("job", map[string]interface{}{"arguments": "--fast"})
	job.SetOne("application", w.app).SetOne("inputDataCollection", colA).SetOne("outputDataCollection", colB)
	create(job)

	return w
}

func keyOf(t *testing.T, e *icatapi.Entity) string {
	t.Helper()
	k, err := icatapi.ComputeKey(icatapi.MustRegistry("4.3"), e, nil)
	qt.Assert(t, err, qt.IsNil)
	return k
}

func runDump(t *testing.T, cat catalog.Catalog, sel [][2]string) []byte {
	t.Helper()
	reg := icatapi.MustRegistry("4.3")
	var buf bytes.Buffer
	dw, err := dumpfile.NewWriter(&buf, dumpfile.FormatJson, reg)
	qt.Assert(t, err, qt.IsNil)
	d := &Dumper{Catalog: cat, Registry: reg, Writer: dw, Select: sel}
	qt.Assert(t, d.Run(context.Background(), icatapi.NewDumpHead("icatool", reg.Version())), qt.IsNil)
	return buf.Bytes()
}

// readStream walks a produced dump the way a restore would: chunk by
// chunk, each record decoded against the keys of everything before it.
// Any reference that does not resolve fails the walk, so passing it at
// all means the stream is restorable.
func readStream(t *testing.T, data []byte) (*icatapi.DumpHead, []*dumpfile.Chunk, map[string]*icatapi.Entity) {
	t.Helper()
	ctx := context.Background()
	reg := icatapi.MustRegistry("4.3")
	r, err := dumpfile.NewReader(bytes.NewReader(data), dumpfile.FormatJson, reg)
	qt.Assert(t, err, qt.IsNil)
	idx := icatapi.NewKeyIndex()
	dec := &dumpfile.Decoder{Registry: reg, Index: idx}
	byKey := map[string]*icatapi.Entity{}
	var chunks []*dumpfile.Chunk
	for r.Next() {
		chunk := r.Chunk()
		chunks = append(chunks, chunk)
		cr := dumpfile.Records(chunk, dec)
		for cr.Next(ctx) {
			idx.Register(cr.Key(), cr.Entity())
			byKey[cr.Key()] = cr.Entity()
		}
		qt.Assert(t, cr.Err(), qt.IsNil)
	}
	qt.Assert(t, r.Err(), qt.IsNil)
	return r.Head(), chunks, byKey
}

func TestDumpLayout(t *testing.T) {
	w := seedWorld(t)
	data := runDump(t, w.cat, nil)
	head, chunks, byKey := readStream(t, data)

	qt.Assert(t, head, qt.IsNotNil)
	qt.Check(t, head.Generator, qt.Equals, "icatool")
	qt.Check(t, head.Version, qt.Equals, "4.3")
	qt.Assert(t, chunks, qt.HasLen, 5)

	t.Run("authz-chunk", func(t *testing.T) {
		c := chunks[0]
		qt.Check(t, c.Types(), qt.DeepEquals,
			[]icatapi.TypeName{"user", "grouping", "rule", "publicStep"})
		qt.Check(t, c.Count("user"), qt.Equals, 2)
		qt.Check(t, c.Count("rule"), qt.Equals, 2)

		// Rules have no natural identity; they dump in search order under
		// ordinal keys.  The unrestricted rule sorts first on crudFlags.
		all := byKey["rule:ord=1"]
		qt.Assert(t, all, qt.IsNotNil)
		qt.Check(t, all.Attrs["crudFlags"], qt.Equals, "CRUD")
		read := byKey["rule:ord=2"]
		qt.Assert(t, read, qt.IsNotNil)
		qt.Check(t, read.ToOne["grouping"], qt.Equals, byKey["grouping:name=pi_team"])

		team := byKey["grouping:name=pi_team"]
		qt.Assert(t, team.ToMany["userGroups"], qt.HasLen, 1)
		qt.Check(t, team.ToMany["userGroups"][0].ToOne["user"], qt.Equals, byKey["user:name=jdoe"])
	})

	t.Run("static-chunk", func(t *testing.T) {
		c := chunks[1]
		qt.Check(t, c.Types(), qt.DeepEquals, []icatapi.TypeName{
			"facility", "instrument", "parameterType", "investigationType",
			"sampleType", "datasetType", "datafileFormat", "facilityCycle",
			"application",
		})
		qt.Check(t, c.Count("parameterType"), qt.Equals, 2)

		instr := byKey[keyOf(t, w.instr)]
		qt.Assert(t, instr, qt.IsNotNil)
		qt.Assert(t, instr.ToMany["instrumentScientists"], qt.HasLen, 1)
		qt.Check(t, instr.ToMany["instrumentScientists"][0].ToOne["user"], qt.Equals, byKey["user:name=nbour"])

		beam := byKey[keyOf(t, w.beam)]
		qt.Assert(t, beam, qt.IsNotNil)
		qt.Check(t, beam.ToMany["permissibleStringValues"], qt.HasLen, 2)
		// The parameter rows the type is used by stay with their own
		// investigations; the type itself carries none of them.
		mf := byKey[keyOf(t, w.mf)]
		qt.Check(t, len(mf.ToMany), qt.Equals, 0)
	})

	t.Run("investigation-chunks", func(t *testing.T) {
		// One chunk per investigation, in natural order.
		c1, c2 := chunks[2], chunks[3]
		qt.Check(t, c1.Types(), qt.DeepEquals,
			[]icatapi.TypeName{"investigation", "sample", "dataset", "datafile"})
		qt.Check(t, c1.Count("dataset"), qt.Equals, 2)
		qt.Check(t, c1.Count("datafile"), qt.Equals, 3)
		qt.Check(t, c2.Count("sample"), qt.Equals, 0)
		qt.Check(t, c2.Count("dataset"), qt.Equals, 1)

		inv1 := byKey[keyOf(t, w.inv1)]
		qt.Assert(t, inv1, qt.IsNotNil)
		qt.Check(t, inv1.ToMany["keywords"], qt.HasLen, 2)
		qt.Check(t, inv1.ToMany["publications"], qt.HasLen, 1)
		qt.Check(t, inv1.ToMany["investigationUsers"], qt.HasLen, 1)
		qt.Check(t, inv1.ToMany["investigationInstruments"], qt.HasLen, 1)
		// Samples and datasets are records of their own, not nested copies.
		qt.Check(t, len(inv1.ToMany["samples"]), qt.Equals, 0)
		qt.Check(t, len(inv1.ToMany["datasets"]), qt.Equals, 0)

		ds := byKey[keyOf(t, w.ds11)]
		qt.Assert(t, ds, qt.IsNotNil)
		qt.Check(t, ds.ToOne["investigation"], qt.Equals, inv1)
		qt.Check(t, ds.ToOne["sample"], qt.Equals, byKey[keyOf(t, w.sample1)])
		qt.Check(t, ds.ToMany["parameters"], qt.HasLen, 1)
		qt.Check(t, len(ds.ToMany["datafiles"]), qt.Equals, 0)

		df := byKey[keyOf(t, w.df111)]
		qt.Assert(t, df, qt.IsNotNil)
		qt.Check(t, df.ToOne["dataset"], qt.Equals, ds)
	})

	t.Run("trailing-chunk", func(t *testing.T) {
		c := chunks[4]
		qt.Check(t, c.Types(), qt.DeepEquals,
			[]icatapi.TypeName{"study", "relatedDatafile", "dataCollection", "job"})

		study := byKey["study:ord=1"]
		qt.Assert(t, study, qt.IsNotNil)
		qt.Assert(t, study.ToMany["studyInvestigations"], qt.HasLen, 2)

		rd := byKey[keyOf(t, w.reldf)]
		qt.Assert(t, rd, qt.IsNotNil)
		qt.Check(t, rd.ToOne["sourceDatafile"], qt.Equals, byKey[keyOf(t, w.df111)])
		qt.Check(t, rd.ToOne["destDatafile"], qt.Equals, byKey[keyOf(t, w.df211)])

		colA := byKey["dataCollection:ord=1"]
		qt.Assert(t, colA, qt.IsNotNil)
		qt.Check(t, colA.ToMany["dataCollectionDatasets"], qt.HasLen, 1)
		qt.Check(t, colA.ToMany["dataCollectionDatafiles"], qt.HasLen, 1)
		qt.Check(t, colA.ToMany["dataCollectionParameters"], qt.HasLen, 1)

		job := byKey["job:ord=1"]
		qt.Assert(t, job, qt.IsNotNil)
		qt.Check(t, job.ToOne["inputDataCollection"], qt.Equals, colA)
		qt.Check(t, job.ToOne["outputDataCollection"], qt.Equals, byKey["dataCollection:ord=2"])
	})

	t.Run("deterministic", func(t *testing.T) {
		qt.Check(t, bytes.Equal(runDump(t, w.cat, nil), runDump(t, w.cat, nil)), qt.IsFalse,
			qt.Commentf("heads carry a fresh uuid, so whole streams differ"))
		reg := icatapi.MustRegistry("4.3")
		head := icatapi.NewDumpHead("icatool", reg.Version())
		out := make([][]byte, 2)
		for i := range out {
			var buf bytes.Buffer
			dw, err := dumpfile.NewWriter(&buf, dumpfile.FormatJson, reg)
			qt.Assert(t, err, qt.IsNil)
			d := &Dumper{Catalog: w.cat, Registry: reg, Writer: dw}
			qt.Assert(t, d.Run(context.Background(), head), qt.IsNil)
			out[i] = buf.Bytes()
		}
		qt.Check(t, bytes.Equal(out[0], out[1]), qt.IsTrue)
	})
}

func TestDumpSelect(t *testing.T) {
	w := seedWorld(t)

	t.Run("narrows-and-scopes", func(t *testing.T) {
		data := runDump(t, w.cat, [][2]string{{"name", "10100601-ST"}})
		_, chunks, byKey := readStream(t, data)
		qt.Assert(t, chunks, qt.HasLen, 4)
		qt.Check(t, chunks[2].Count("investigation"), qt.Equals, 1)
		qt.Assert(t, byKey[keyOf(t, w.inv1)], qt.IsNotNil)
		qt.Check(t, byKey[keyOf(t, w.inv2)], qt.IsNil)

		c := chunks[3]
		// The copy relation reaches into the unselected investigation, so
		// it cannot be part of this dump at all.
		qt.Check(t, c.Count("relatedDatafile"), qt.Equals, 0)
		qt.Check(t, c.Count("job"), qt.Equals, 1)

		// The study stays, carrying only the link that still resolves.
		study := byKey["study:ord=1"]
		qt.Assert(t, study, qt.IsNotNil)
		qt.Assert(t, study.ToMany["studyInvestigations"], qt.HasLen, 1)
		qt.Check(t, study.ToMany["studyInvestigations"][0].ToOne["investigation"],
			qt.Equals, byKey[keyOf(t, w.inv1)])

		// Collections keep the links inside the selection and shed the rest.
		colA := byKey["dataCollection:ord=1"]
		qt.Assert(t, colA, qt.IsNotNil)
		qt.Check(t, colA.ToMany["dataCollectionDatasets"], qt.HasLen, 1)
		qt.Check(t, len(colA.ToMany["dataCollectionDatafiles"]), qt.Equals, 0)
		qt.Check(t, colA.ToMany["dataCollectionParameters"], qt.HasLen, 1)
		colB := byKey["dataCollection:ord=2"]
		qt.Assert(t, colB, qt.IsNotNil)
		qt.Check(t, len(colB.ToMany["dataCollectionDatasets"]), qt.Equals, 0)
	})

	t.Run("select-through-reference", func(t *testing.T) {
		data := runDump(t, w.cat, [][2]string{{"facility.name", "ESNF"}, {"visitId", "1.1-P"}})
		_, chunks, _ := readStream(t, data)
		qt.Check(t, chunks, qt.HasLen, 5)
	})

	t.Run("no-match", func(t *testing.T) {
		data := runDump(t, w.cat, [][2]string{{"name", "nonexistent"}})
		_, chunks, byKey := readStream(t, data)
		// No investigation chunks; the trailing chunk keeps only what does
		// not touch investigation data.
		qt.Assert(t, chunks, qt.HasLen, 3)
		c := chunks[2]
		qt.Check(t, c.Count("study"), qt.Equals, 1)
		qt.Check(t, c.Count("relatedDatafile"), qt.Equals, 0)
		qt.Check(t, c.Count("dataCollection"), qt.Equals, 2)
		qt.Check(t, byKey["study:ord=1"].ToMany["studyInvestigations"], qt.HasLen, 0)
	})

	t.Run("bad-selection-field", func(t *testing.T) {
		reg := icatapi.MustRegistry("4.3")
		dw, err := dumpfile.NewWriter(&bytes.Buffer{}, dumpfile.FormatJson, reg)
		qt.Assert(t, err, qt.IsNil)
		d := &Dumper{Catalog: w.cat, Registry: reg, Writer: dw,
			Select: [][2]string{{"color", "blue"}}}
		err = d.Run(context.Background(), icatapi.NewDumpHead("icatool", reg.Version()))
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeUnknownField)
	})
}

func TestDumpCancellation(t *testing.T) {
	w := seedWorld(t)
	reg := icatapi.MustRegistry("4.3")
	dw, err := dumpfile.NewWriter(&bytes.Buffer{}, dumpfile.FormatJson, reg)
	qt.Assert(t, err, qt.IsNil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &Dumper{Catalog: w.cat, Registry: reg, Writer: dw}
	err = d.Run(ctx, icatapi.NewDumpHead("icatool", reg.Version()))
	qt.Check(t, err, qt.ErrorIs, context.Canceled)
}

func TestDumpEmptyCatalog(t *testing.T) {
	ctx := context.Background()
	cat, err := catalog.Open(ctx, "mem:", "")
	qt.Assert(t, err, qt.IsNil)
	t.Cleanup(func() { cat.Close() })

	data := runDump(t, cat, nil)
	head, chunks, _ := readStream(t, data)
	qt.Check(t, head, qt.IsNotNil)
	qt.Check(t, chunks, qt.HasLen, 0)
}
