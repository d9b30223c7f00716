package restorecli

import (
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"
	"github.com/warpfork/go-fsx/osfs"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/logging"
	"github.com/icatools/icat/pkg/restore"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, restoreCmdDef)
}

var restoreCmdDef = &cli.Command{
	Name:      "restore",
	Usage:     "Apply one or more dump files to the catalogue",
	ArgsUsage: "[dump file or directory]...",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "head",
			Usage: "Print each dump's provenance before applying it",
		},
	},
	Action: util.ChainCmdMiddleware(cmdRestore,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

// Errors:
//
//    - icat-error-invalid-argument -- when the args name no usable dump files
//    - icat-error-invalid -- when no catalogue service can be resolved, or a
//        stream holds a malformed document
//    - icat-error-serialization -- when a stream does not parse
//    - icat-error-datatoonew -- when a stream's vocabulary is newer than this tool
//    - icat-error-restore-failed -- when applying a chunk fails; the error
//        carries the failing chunk, type, and key
//    - icat-error-unknown-entity-type -- when a stream uses unknown type tags
//    - icat-error-io -- when a file or the catalogue transport fails
//    - icat-error-initialization -- failed to get working directory
func cmdRestore(c *cli.Context) error {
	ctx := c.Context
	log := logging.Ctx(ctx)

	pwd, err := os.Getwd()
	if err != nil {
		return serum.Errorf(icatapi.ECodeInitialization, "failed to get working directory: %w", err)
	}
	targets, err := util.FindDumpTargets(c.Args(), osfs.DirFS("/"), pwd)
	if err != nil {
		return err
	}

	cat, reg, err := util.OpenSession(c)
	if err != nil {
		return err
	}

	// Closing persists snapshot-backed catalogues, so a partial restore
	// still checkpoints the chunks that did land.
	rerr := func() error {
		for _, tgt := range targets.List {
			log.Debug("", "restoring from %q (requested by the argument %q)", tgt.Path, tgt.OriginalRequest)
			if c.Bool("head") {
				if err := peekHead(targets.FS, tgt.Path, reg, c.App.Writer); err != nil {
					return err
				}
			}
			rd, err := dumpfile.FromFile(targets.FS, tgt.Path, reg)
			if err != nil {
				return err
			}
			r := &restore.Restorer{Catalog: cat, Registry: reg}
			err = r.Run(ctx, rd)
			rd.Close()
			if err != nil {
				return err
			}
		}
		return nil
	}()
	cerr := cat.Close()
	if rerr != nil {
		return rerr
	}
	return cerr
}

// peekHead reads just the provenance document of a dump stream and prints
// it.  The head sits before the first chunk, so peeking means opening the
// stream twice; that's cheap next to applying it.
//
// Errors:
//
//    - icat-error-invalid -- when the stream's first document is not a head
//    - icat-error-serialization -- when the stream does not parse
//    - icat-error-datatoonew -- when the head's vocabulary is newer than this tool
//    - icat-error-io -- when the file cannot be read
func peekHead(fsys fs.FS, path string, reg *icatapi.Registry, w io.Writer) error {
	rd, err := dumpfile.FromFile(fsys, path, reg)
	if err != nil {
		return err
	}
	defer rd.Close()
	rd.Next() // One step materializes the head (and the first chunk, which we leave to the real pass).
	if err := rd.Err(); err != nil {
		return err
	}
	if h := rd.Head(); h != nil {
		printHead(w, h)
	}
	return nil
}

func printHead(w io.Writer, h *icatapi.DumpHead) {
	fmt.Fprintf(w, "head:\n")
	fmt.Fprintf(w, "  generator: %s\n", h.Generator)
	fmt.Fprintf(w, "  version: %s\n", h.Version)
	fmt.Fprintf(w, "  uuid: %s\n", h.Uuid)
	fmt.Fprintf(w, "  date: %s\n", h.CommentDate())
	if h.Service != nil {
		fmt.Fprintf(w, "  service: %s\n", *h.Service)
	}
	if h.ApiVersion != nil {
		fmt.Fprintf(w, "  apiVersion: %s\n", *h.ApiVersion)
	}
}
