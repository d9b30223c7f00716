package summarycli

import (
	"fmt"
	"io"
	"os"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"
	"github.com/warpfork/go-fsx/osfs"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dumpfile"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, summaryCmdDef)
}

var summaryCmdDef = &cli.Command{
	Name:      "summary",
	Usage:     "Show the provenance, chunk layout, and per-type counts of dump files",
	ArgsUsage: "[dump file or directory]...",
	Action: util.ChainCmdMiddleware(cmdSummary,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

// cmdSummary reads dump streams without decoding a single entity: chunk
// shapes and type tags get validated, record contents do not.  Use check
// for the deep version.
//
// Errors:
//
//    - icat-error-invalid-argument -- when the args name no usable dump files
//    - icat-error-invalid -- when a stream holds a malformed document, or the
//        schema version is not known
//    - icat-error-serialization -- when a stream does not parse
//    - icat-error-datatoonew -- when a stream's vocabulary is newer than this tool
//    - icat-error-unknown-entity-type -- when a stream uses unknown type tags
//    - icat-error-io -- when a file cannot be read
//    - icat-error-initialization -- failed to get working directory
func cmdSummary(c *cli.Context) error {
	pwd, err := os.Getwd()
	if err != nil {
		return serum.Errorf(icatapi.ECodeInitialization, "failed to get working directory: %w", err)
	}
	targets, err := util.FindDumpTargets(c.Args(), osfs.DirFS("/"), pwd)
	if err != nil {
		return err
	}
	reg, err := util.SessionRegistry(c)
	if err != nil {
		return err
	}

	for _, tgt := range targets.List {
		if err := summarizeFile(c.App.Writer, targets, tgt, reg, pwd); err != nil {
			return err
		}
	}
	return nil
}

// Errors:
//
//    - icat-error-invalid -- when the stream holds a malformed document
//    - icat-error-serialization -- when the stream does not parse
//    - icat-error-datatoonew -- when the stream's vocabulary is newer than this tool
//    - icat-error-unknown-entity-type -- when the stream uses unknown type tags
//    - icat-error-io -- when the file cannot be read
func summarizeFile(w io.Writer, targets util.DumpTargets, tgt util.DumpTarget, reg *icatapi.Registry, pwd string) error {
	rd, err := dumpfile.FromFile(targets.FS, tgt.Path, reg)
	if err != nil {
		return err
	}
	defer rd.Close()

	fmt.Fprintf(w, "%s:\n", tgt.Display(pwd))
	totals := map[icatapi.TypeName]int{}
	nchunks, total := 0, 0
	for rd.Next() {
		if nchunks == 0 {
			if h := rd.Head(); h != nil {
				printHead(w, h)
			}
		}
		chunk := rd.Chunk()
		fmt.Fprintf(w, "  chunk %d: %d records (%s)\n", chunk.Index(), chunk.Len(), chunk.Cid())
		for _, tag := range chunk.Types() {
			totals[tag] += chunk.Count(tag)
		}
		nchunks++
		total += chunk.Len()
	}
	if err := rd.Err(); err != nil {
		return err
	}
	for _, tag := range reg.Order() {
		if n := totals[tag]; n > 0 {
			fmt.Fprintf(w, "  %-24s %d\n", tag, n)
		}
	}
	fmt.Fprintf(w, "  total: %d records in %d chunks\n", total, nchunks)
	return nil
}

func printHead(w io.Writer, h *icatapi.DumpHead) {
	fmt.Fprintf(w, "  head:\n")
	fmt.Fprintf(w, "    generator: %s\n", h.Generator)
	fmt.Fprintf(w, "    version: %s\n", h.Version)
	fmt.Fprintf(w, "    uuid: %s\n", h.Uuid)
	fmt.Fprintf(w, "    date: %s\n", h.CommentDate())
	if h.Service != nil {
		fmt.Fprintf(w, "    service: %s\n", *h.Service)
	}
	if h.ApiVersion != nil {
		fmt.Fprintf(w, "    apiVersion: %s\n", *h.ApiVersion)
	}
}
