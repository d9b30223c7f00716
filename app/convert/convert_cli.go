package convertcli

import (
	"fmt"
	"io"
	"os"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/config"
	"github.com/icatools/icat/pkg/dumpfile"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, convertCmdDef)
}

var convertCmdDef = &cli.Command{
	Name:      "convert",
	Usage:     "Re-encode a dump stream into another format",
	ArgsUsage: "[dump file]",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:      "output",
			Aliases:   []string{"o"},
			Usage:     "Write the converted dump to `FILE` instead of stdout; the extension picks the format",
			TakesFile: true,
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Target format, \"json\" or \"yaml\".  Overrides what the output file extension implies",
		},
	},
	Action: util.ChainCmdMiddleware(cmdConvert,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

// cmdConvert copies a dump stream record by record without decoding any
// entities, so it works on dumps whose contents the local catalogue could
// not hold.  Records come out grouped by type in schema dependency order;
// a converted dump is also a normalized one.
//
// Errors:
//
//    - icat-error-invalid-argument -- when the args do not name exactly one
//        dump file, or no target format can be determined
//    - icat-error-invalid -- when a format is not known, the schema version is
//        not known, or the stream holds a malformed document
//    - icat-error-serialization -- when the stream does not parse or the copy
//        cannot be assembled
//    - icat-error-datatoonew -- when the stream's vocabulary is newer than this tool
//    - icat-error-unknown-entity-type -- when the stream uses unknown type tags
//    - icat-error-already-exists -- when one key appears twice under one type
//        tag within a chunk
//    - icat-error-io -- when a file cannot be read or written
//    - icat-error-initialization -- failed to get working directory
func cmdConvert(c *cli.Context) error {
	if c.Args().Len() != 1 {
		return serum.Errorf(icatapi.ECodeArgument, "convert takes exactly one dump file")
	}
	format, err := pickFormat(c)
	if err != nil {
		return err
	}
	reg, err := util.SessionRegistry(c)
	if err != nil {
		return err
	}
	rd, err := util.OpenDumpFile(c.Args().First(), reg)
	if err != nil {
		return err
	}
	defer rd.Close()

	var out io.Writer = c.App.Writer
	outPath := c.String("output")
	var f *os.File
	if outPath != "" {
		f, err = os.Create(outPath)
		if err != nil {
			return icatapi.ErrorIo("cannot create output file", outPath, err)
		}
		out = f
	}

	err = copyStream(rd, out, format, reg)
	if f != nil {
		if err != nil {
			f.Close()
			if state, e2 := config.NewState(); e2 == nil && !config.KeepPartialOutputs(state) {
				os.Remove(outPath)
			}
			return err
		}
		if e2 := f.Close(); e2 != nil {
			return icatapi.ErrorIo("failed closing output file", outPath, e2)
		}
	} else if err != nil {
		return err
	}

	if outPath != "" && !c.Bool("quiet") {
		fmt.Fprintf(c.App.Writer, "wrote %s dump to %s\n", format, outPath)
	}
	return nil
}

// Errors:
//
//    - icat-error-invalid -- when the stream holds a malformed document
//    - icat-error-serialization -- when the stream does not parse or the copy
//        cannot be assembled
//    - icat-error-datatoonew -- when the stream's vocabulary is newer than this tool
//    - icat-error-unknown-entity-type -- when the stream uses unknown type tags
//    - icat-error-already-exists -- when one key appears twice under one type
//        tag within a chunk
//    - icat-error-io -- when reading or writing fails
func copyStream(rd *dumpfile.Reader, out io.Writer, format string, reg *icatapi.Registry) error {
	wr, err := dumpfile.NewWriter(out, format, reg)
	if err != nil {
		return err
	}
	first := true
	for rd.Next() {
		if first {
			if h := rd.Head(); h != nil {
				if err := wr.Head(*h); err != nil {
					return err
				}
			}
			first = false
		}
		if err := wr.StartChunk(); err != nil {
			return err
		}
		if err := copyChunk(wr, rd.Chunk()); err != nil {
			return err
		}
	}
	if err := rd.Err(); err != nil {
		return err
	}
	return wr.Finalize()
}

func copyChunk(wr *dumpfile.Writer, chunk *dumpfile.Chunk) error {
	const situation = "copying a dump chunk"
	for it := chunk.Node().MapIterator(); !it.Done(); {
		tn, vn, err := it.Next()
		if err != nil {
			return icatapi.ErrorSerialization(situation, err)
		}
		tagStr, err := tn.AsString()
		if err != nil {
			return icatapi.ErrorSerialization(situation, err)
		}
		tag := icatapi.TypeName(tagStr)
		for rit := vn.MapIterator(); !rit.Done(); {
			kn, rn, err := rit.Next()
			if err != nil {
				return icatapi.ErrorSerialization(situation, err)
			}
			key, err := kn.AsString()
			if err != nil {
				return icatapi.ErrorSerialization(situation, err)
			}
			if err := wr.AddRecord(tag, key, rn); err != nil {
				return err
			}
		}
	}
	return nil
}

// pickFormat settles the target stream format: the --format flag wins,
// then the --output extension.  There is no default; converting a stream
// to its own format is more likely a typo than an intent.
//
// Errors:
//
//    - icat-error-invalid-argument -- when no format is named, or the named
//        one is not known
func pickFormat(c *cli.Context) (string, error) {
	if f := c.String("format"); f != "" {
		switch f {
		case dumpfile.FormatJson, dumpfile.FormatYaml:
			return f, nil
		default:
			return "", serum.Errorf(icatapi.ECodeArgument, "unknown dump format %q", f)
		}
	}
	if output := c.String("output"); output != "" {
		if f, err := dumpfile.DetectFormat(output); err == nil {
			return f, nil
		}
	}
	return "", serum.Errorf(icatapi.ECodeArgument, "pick a target format with --format or an --output extension")
}
