package dumpcli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/trace"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/config"
	"github.com/icatools/icat/pkg/dump"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/tracing"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, dumpCmdDef)
}

var dumpCmdDef = &cli.Command{
	Name:  "dump",
	Usage: "Write the catalogue's content as a dump stream",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      "output",
			Aliases:   []string{"o"},
			Usage:     "Write the dump to `FILE` instead of stdout; the extension picks the format",
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Stream format, \"json\" or \"yaml\".  Overrides what the output file extension implies",
		},
		&cli.StringSliceFlag{
			Name:  "select",
			Usage: "Narrow the dump to the investigations matching `ATTR=VALUE`; repeatable, and conditions stack",
		},
	},
	Action: util.ChainCmdMiddleware(cmdDump,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

// Errors:
//
//    - icat-error-invalid-argument -- when a positional argument is given,
//        a --select condition is not ATTR=VALUE shaped, or the format is unknown
//    - icat-error-invalid -- when no catalogue service can be resolved, or a
//        selection does not fit the schema
//    - icat-error-unknown-field -- when a selection names an undeclared field
//    - icat-error-ambiguous-entity -- when a record misses the fields its
//        unique key needs
//    - icat-error-already-exists -- when the catalogue hands out a record
//        twice under one type tag within a chunk
//    - icat-error-serialization -- when a chunk cannot be assembled
//    - icat-error-io -- when the output file or the catalogue transport fails
//    - icat-error-internal -- when the catalogue driver fails internally
//    - icat-error-unresolved-reference -- when a catalogue snapshot references
//        entities it does not contain
//    - icat-error-initialization -- failed to get working directory
func cmdDump(c *cli.Context) error {
	ctx := c.Context
	if c.Args().Len() > 0 {
		return serum.Errorf(icatapi.ECodeArgument, "dump takes no positional arguments (did you mean --select?)")
	}
	selects, err := parseSelects(c.StringSlice("select"))
	if err != nil {
		return err
	}
	format, err := pickFormat(c)
	if err != nil {
		return err
	}

	cat, reg, err := util.OpenSession(c)
	if err != nil {
		return err
	}
	defer cat.Close()

	span := trace.SpanFromContext(ctx)
	switch format {
	case dumpfile.FormatJson:
		span.SetAttributes(tracing.AttrFullDumpFormatJson)
	case dumpfile.FormatYaml:
		span.SetAttributes(tracing.AttrFullDumpFormatYaml)
	}

	var w io.Writer = c.App.Writer
	outPath := c.String("output")
	var f *os.File
	if outPath != "" {
		f, err = os.Create(outPath)
		if err != nil {
			return icatapi.ErrorIo("cannot create dump output file", outPath, err)
		}
		w = f
	}

	head := icatapi.NewDumpHead(c.App.Name+" "+appbase.VERSION, reg.Version())
	if svc := c.String("service"); svc != "" {
		head.Service = &svc
	}

	dw, err := dumpfile.NewWriter(w, format, reg)
	if err == nil {
		d := &dump.Dumper{
			Catalog:  cat,
			Registry: reg,
			Writer:   dw,
			Select:   selects,
		}
		err = d.Run(ctx, head)
	}
	if err != nil {
		if f != nil {
			f.Close()
			if state, e2 := config.NewState(); e2 == nil && !config.KeepPartialOutputs(state) {
				os.Remove(outPath)
			}
		}
		return err
	}

	if f != nil {
		if err := f.Close(); err != nil {
			return icatapi.ErrorIo("cannot finish writing dump file", outPath, err)
		}
		if !c.Bool("quiet") {
			fmt.Fprintf(c.App.Writer, "wrote dump to %s\n", outPath)
		}
	}
	return nil
}

// pickFormat resolves the stream format for this invocation: the --format
// flag when given, the output file extension otherwise, json as the last
// resort.
//
// Errors:
//
//    - icat-error-invalid-argument -- when the --format value is not a known format
//    - icat-error-invalid -- when the output file extension names no known format
func pickFormat(c *cli.Context) (string, error) {
	switch f := c.String("format"); f {
	case "":
		if out := c.String("output"); out != "" {
			return dumpfile.DetectFormat(out)
		}
		return dumpfile.FormatJson, nil
	case dumpfile.FormatJson, dumpfile.FormatYaml:
		return f, nil
	default:
		return "", serum.Errorf(icatapi.ECodeArgument, "unknown dump format %q: pick %q or %q", f, dumpfile.FormatJson, dumpfile.FormatYaml)
	}
}

// Errors:
//
//    - icat-error-invalid-argument -- when a condition is not ATTR=VALUE shaped
func parseSelects(raw []string) ([][2]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([][2]string, 0, len(raw))
	for _, s := range raw {
		attr, value, found := strings.Cut(s, "=")
		if !found || attr == "" {
			return nil, serum.Errorf(icatapi.ECodeArgument, "malformed selection %q: want ATTR=VALUE", s)
		}
		out = append(out, [2]string{attr, value})
	}
	return out, nil
}
