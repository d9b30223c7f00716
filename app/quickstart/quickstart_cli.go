package quickstartcli

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dumpfile"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, quickstartCmdDef)
}

var quickstartCmdDef = &cli.Command{
	Name:      "quickstart",
	Usage:     "Write a small example dump to play with",
	ArgsUsage: "[filename]",
	Action: util.ChainCmdMiddleware(cmdQuickstart,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

const defaultFilename = "icat.dump.json"

func cmdQuickstart(c *cli.Context) error {
	if c.Args().Len() > 1 {
		return fmt.Errorf("quickstart takes at most a filename")
	}
	filename := defaultFilename
	if c.Args().Present() {
		filename = c.Args().First()
	}
	format, err := dumpfile.DetectFormat(filename)
	if err != nil {
		return err
	}
	reg, err := util.SessionRegistry(c)
	if err != nil {
		return err
	}

	_, err = os.Stat(filename)
	if !os.IsNotExist(err) {
		return fmt.Errorf("%s file already exists", filename)
	}

	f, err := os.Create(filename)
	if err != nil {
		return icatapi.ErrorIo("cannot create dump file", filename, err)
	}
	generator := c.App.Name + " " + appbase.VERSION
	if err := writeStarterDump(f, format, reg, generator); err != nil {
		f.Close()
		os.Remove(filename)
		return err
	}
	if err := f.Close(); err != nil {
		return icatapi.ErrorIo("failed closing dump file", filename, err)
	}

	if !c.Bool("quiet") {
		fmt.Fprintf(c.App.Writer, "Successfully created %s with a small example catalogue.\n", filename)
		fmt.Fprintf(c.App.Writer, "Validate it with `%s check %s`.\n", c.App.Name, filename)
		fmt.Fprintf(c.App.Writer, "Inspect it with `%s summary %s`.\n", c.App.Name, filename)
		fmt.Fprintf(c.App.Writer, "Load it somewhere with `%s restore --service mem:site.catalog.json %s`.\n", c.App.Name, filename)
	}

	return nil
}

// writeStarterDump emits a dump of a tiny imaginary facility: one user, the
// static infrastructure, and a single investigation carrying one sample,
// one dataset and one datafile.  The chunk layout matches what dumping a
// real catalogue produces.
//
// Errors:
//
//    - icat-error-invalid -- when the format is not known
//    - icat-error-unknown-entity-type, icat-error-unknown-field,
//      icat-error-ambiguous-entity, icat-error-already-exists -- never in
//        practice: the seed entities fit the schema by construction
//    - icat-error-serialization -- when a chunk cannot be assembled
//    - icat-error-io -- when writing fails
func writeStarterDump(f *os.File, format string, reg *icatapi.Registry, generator string) error {
	wr, err := dumpfile.NewWriter(f, format, reg)
	if err != nil {
		return err
	}
	if err := wr.Head(icatapi.NewDumpHead(generator, reg.Version())); err != nil {
		return err
	}
	ka := dumpfile.NewKeyAllocator(reg, nil)
	add := func(e *icatapi.Entity) error {
		key, err := ka.Alias(e)
		if err != nil {
			return err
		}
		return wr.Add(e.Type, key, e, ka.Index())
	}

	// Authorization data.
	user := icatapi.WithAttrs("user", map[string]interface{}{
		"name":     "db/ahau",
		"fullName": "Arne Hauser",
	})
	if err := wr.StartChunk(); err != nil {
		return err
	}
	if err := add(user); err != nil {
		return err
	}

	// Static content.
	facility := icatapi.WithAttrs("facility", map[string]interface{}{
		"name":             "HZB",
		"fullName":         "Helmholtz-Zentrum Berlin",
		"daysUntilRelease": 1095,
	})
	instrument := icatapi.WithAttrs("instrument", map[string]interface{}{
		"name":        "E2",
		"fullName":    "E2 - Flat-Cone Diffractometer",
		"description": "Flat-cone diffractometer with a 2D position sensitive detector.",
	}).SetOne("facility", facility)
	tempParam := icatapi.WithAttrs("parameterType", map[string]interface{}{
		"name":                      "Temperature",
		"units":                     "K",
		"unitsFullName":             "kelvin",
		"valueType":                 "NUMERIC",
		"applicableToDatafile":      true,
		"applicableToDataset":       true,
		"applicableToSample":        true,
		"applicableToInvestigation": true,
	}).SetOne("facility", facility)
	invType := icatapi.WithAttrs("investigationType", map[string]interface{}{
		"name":        "experiment",
		"description": "Regular user experiment",
	}).SetOne("facility", facility)
	sampleType := icatapi.WithAttrs("sampleType", map[string]interface{}{
		"name":             "Ni-Mn-Ga alloy",
		"molecularFormula": "Ni2MnGa",
	}).SetOne("facility", facility)
	datasetType := icatapi.WithAttrs("datasetType", map[string]interface{}{
		"name":        "raw",
		"description": "Raw data as collected at the instrument",
	}).SetOne("facility", facility)
	nexusFormat := icatapi.WithAttrs("datafileFormat", map[string]interface{}{
		"name":    "NeXus",
		"version": "4.3.0",
	}).SetOne("facility", facility)
	if err := wr.StartChunk(); err != nil {
		return err
	}
	for _, e := range []*icatapi.Entity{
		facility, instrument, tempParam, invType, sampleType, datasetType, nexusFormat,
	} {
		if err := add(e); err != nil {
			return err
		}
	}

	// One investigation with its whole subtree.
	inv := icatapi.WithAttrs("investigation", map[string]interface{}{
		"name":      "12100409-ST",
		"visitId":   "1.1-P",
		"title":     "Ni-Mn-Ga flat cone",
		"startDate": time.Date(2010, 9, 30, 10, 27, 24, 0, time.UTC),
		"endDate":   time.Date(2010, 10, 12, 17, 0, 0, 0, time.UTC),
	}).SetOne("type", invType).SetOne("facility", facility)
	ti, err := reg.Type("investigation")
	if err != nil {
		return err
	}
	// The link to the instrument moved between schema variants: older ones
	// hold a direct reference, newer ones a link-row collection.
	if _, ok := ti.ToManyRel("investigationInstruments"); ok {
		inv.AddChild("investigationInstruments",
			icatapi.New("investigationInstrument").
				SetOne("investigation", inv).
				SetOne("instrument", instrument))
	} else {
		inv.SetOne("instrument", instrument)
	}
	inv.AddChild("investigationUsers",
		icatapi.WithAttrs("investigationUser", map[string]interface{}{
			"role": "principal",
		}).SetOne("investigation", inv).SetOne("user", user))

	sample := icatapi.WithAttrs("sample", map[string]interface{}{
		"name": "ab3465",
	}).SetOne("type", sampleType).SetOne("investigation", inv)
	dataset := icatapi.WithAttrs("dataset", map[string]interface{}{
		"name":      "e208945",
		"complete":  true,
		"startDate": time.Date(2010, 9, 30, 12, 27, 24, 0, time.UTC),
		"endDate":   time.Date(2010, 9, 30, 18, 51, 12, 0, time.UTC),
	}).SetOne("type", datasetType).SetOne("sample", sample).SetOne("investigation", inv)
	datafile := icatapi.WithAttrs("datafile", map[string]interface{}{
		"name":     "e208945.nxs",
		"location": "/data/2010/12100409-ST/e208945.nxs",
		"fileSize": 368369,
	}).SetOne("datafileFormat", nexusFormat).SetOne("dataset", dataset)
	if err := wr.StartChunk(); err != nil {
		return err
	}
	for _, e := range []*icatapi.Entity{inv, sample, dataset, datafile} {
		if err := add(e); err != nil {
			return err
		}
	}

	return wr.Finalize()
}
