package checkcli

import (
	"context"
	"fmt"
	"os"

	"github.com/serum-errors/go-serum"
	"github.com/urfave/cli/v2"
	"github.com/warpfork/go-fsx/osfs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	appbase "github.com/icatools/icat/app/base"
	"github.com/icatools/icat/app/base/util"
	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/catalog"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/restore"
	"github.com/icatools/icat/pkg/tracing"
)

func init() {
	appbase.App.Commands = append(appbase.App.Commands, checkCmdDef)
}

var checkCmdDef = &cli.Command{
	Name:      "check",
	Usage:     "Validate dump files without touching any catalogue",
	ArgsUsage: "[dump file or directory]...",
	Action: util.ChainCmdMiddleware(cmdCheck,
		util.CmdMiddlewareLogging,
		util.CmdMiddlewareTracingConfig,
		util.CmdMiddlewareTracingSpan,
	),
}

// cmdCheck plays every record of every named dump into a throwaway
// in-memory catalogue.  That exercises the full restore path -- parsing,
// decoding, reference resolution, uniqueness -- while the real catalogue,
// if any, never hears about it.
//
// Errors:
//
//    - icat-error-invalid-argument -- when the args name no usable dump files
//    - icat-error-invalid -- when a stream holds a malformed document, or the
//        schema version is not known
//    - icat-error-serialization -- when a stream does not parse
//    - icat-error-datatoonew -- when a stream's vocabulary is newer than this tool
//    - icat-error-restore-failed -- when a record cannot be decoded or created;
//        the error carries the failing chunk, type, and key
//    - icat-error-unknown-entity-type -- when a stream uses unknown type tags
//    - icat-error-io -- when a file cannot be read
//    - icat-error-initialization -- failed to get working directory
func cmdCheck(c *cli.Context) error {
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
		if err := checkFile(c, targets, tgt, reg, pwd); err != nil {
			return err
		}
	}
	return nil
}

// Errors:
//
//    - icat-error-invalid -- when the stream holds a malformed document, or
//        the schema version is not known
//    - icat-error-serialization -- when the stream does not parse
//    - icat-error-datatoonew -- when the stream's vocabulary is newer than this tool
//    - icat-error-restore-failed -- when a record cannot be decoded or created
//    - icat-error-unknown-entity-type -- when the stream uses unknown type tags
//    - icat-error-io -- when the file cannot be read
func checkFile(c *cli.Context, targets util.DumpTargets, tgt util.DumpTarget, reg *icatapi.Registry, pwd string) error {
	ctx := c.Context
	w := c.App.Writer

	rd, err := dumpfile.FromFile(targets.FS, tgt.Path, reg)
	if err != nil {
		return err
	}
	defer rd.Close()

	// Each file validates against its own fresh catalogue, so keys in one
	// file cannot satisfy (or collide with) references in another.
	cat, err := catalog.Open(ctx, "mem:", c.String("schema"))
	if err != nil {
		return err
	}
	defer cat.Close()

	dec := &dumpfile.Decoder{
		Registry: reg,
		Index:    icatapi.NewKeyIndex(),
		Remote:   cat,
	}
	fmt.Fprintf(w, "%s:\n", tgt.Display(pwd))
	nchunks, total := 0, 0
	for rd.Next() {
		chunk := rd.Chunk()
		counts, err := checkChunk(ctx, cat, dec, chunk)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  chunk %d: %s\n", chunk.Index(), restore.Summarize(reg, counts))
		nchunks++
		total += chunk.Len()
	}
	if err := rd.Err(); err != nil {
		return err
	}
	fmt.Fprintf(w, "  ok: %d entities in %d chunks\n", total, nchunks)
	return nil
}

// checkChunk creates the chunk's records one at a time rather than in
// batches: slower, but the first bad record is named exactly.
//
// Errors:
//
//    - icat-error-restore-failed -- when a record cannot be decoded or created
func checkChunk(ctx context.Context, cat catalog.Catalog, dec *dumpfile.Decoder, chunk *dumpfile.Chunk) (map[icatapi.TypeName]int, error) {
	ctx, span := tracing.Start(ctx, "check chunk", trace.WithAttributes(
		attribute.Int(tracing.AttrKeyIcatChunkIndex, chunk.Index()),
		attribute.String(tracing.AttrKeyIcatChunkCid, chunk.Cid())))
	defer span.End()

	counts := map[icatapi.TypeName]int{}
	cr := dumpfile.Records(chunk, dec)
	for cr.Next(ctx) {
		dec.Index.Register(cr.Key(), cr.Entity())
		if err := cat.Create(ctx, cr.Entity()); err != nil {
			span.SetAttributes(
				attribute.String(tracing.AttrKeyIcatEntityType, string(cr.Tag())),
				attribute.String(tracing.AttrKeyIcatEntityKey, cr.Key()))
			return nil, icatapi.ErrorRestoreFailed(chunk.Index(), cr.Tag(), cr.Key(), err)
		}
		counts[cr.Tag()]++
	}
	if err := cr.Err(); err != nil {
		// The key is not knowable here: the cursor failed before it had one.
		span.SetAttributes(attribute.String(tracing.AttrKeyIcatEntityType, string(cr.Tag())))
		return nil, icatapi.ErrorRestoreFailed(chunk.Index(), cr.Tag(), "", err)
	}
	return counts, nil
}
