package restore

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/catalog"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/logging"
	"github.com/icatools/icat/pkg/tracing"
)

const LOG_TAG = "│  restore"

// Restorer reads a dump stream back into a live catalogue.
//
// The chunk is the unit of atomicity: when the catalogue supports
// transactions, each chunk commits as one, and a failure rolls the chunk
// back and aborts the run.  Earlier chunks stay committed, which is what
// makes the chunk index in the error a usable replay checkpoint.
type Restorer struct {
	Catalog  catalog.Catalog
	Registry *icatapi.Registry
}

// Run restores every chunk the reader yields, in stream order.
//
// References resolve against the entities created earlier in this run
// first, then against the live catalogue, so a partial dump restores into
// a store that already holds what the dump left out.
//
// Errors:
//
//    - icat-error-restore-failed -- when a chunk cannot be fully created;
//        the cause and the chunk/type/key checkpoint ride along
//    - icat-error-serialization -- when the stream does not parse
//    - icat-error-unknown-entity-type, icat-error-invalid -- when a chunk
//        uses type tags outside the dump vocabulary
//    - icat-error-io -- when reading the stream fails
func (r *Restorer) Run(ctx context.Context, rd *dumpfile.Reader) error {
	ctx, span := tracing.Start(ctx, "restore")
	defer span.End()
	logger := logging.Ctx(ctx)

	dec := &dumpfile.Decoder{
		Registry: r.Registry,
		Index:    icatapi.NewKeyIndex(),
		Remote:   r.Catalog,
	}
	nchunks, total := 0, 0
	for rd.Next() {
		if nchunks == 0 {
			if h := rd.Head(); h != nil {
				logger.Info(LOG_TAG, "restoring dump made by %s on %s", h.Generator, h.CommentDate())
			}
		}
		chunk := rd.Chunk()
		if err := r.restoreChunk(ctx, dec, chunk); err != nil {
			return err
		}
		nchunks++
		total += chunk.Len()
	}
	if err := rd.Err(); err != nil {
		return err
	}
	logger.Info(LOG_TAG, "restored %d entities from %d chunks", total, nchunks)
	return nil
}

func (r *Restorer) restoreChunk(ctx context.Context, dec *dumpfile.Decoder, chunk *dumpfile.Chunk) error {
	ctx, span := tracing.Start(ctx, "restore chunk", trace.WithAttributes(
		attribute.Int(tracing.AttrKeyIcatChunkIndex, chunk.Index()),
		attribute.String(tracing.AttrKeyIcatChunkCid, chunk.Cid())))
	defer span.End()
	logger := logging.Ctx(ctx)
	logger.Debug(LOG_TAG, "chunk %d cid %s", chunk.Index(), chunk.Cid())

	tx, _ := r.Catalog.(catalog.Transactional)
	if tx != nil {
		if err := tx.Begin(ctx); err != nil {
			return icatapi.ErrorRestoreFailed(chunk.Index(), "", "", err)
		}
	}
	counts := map[icatapi.TypeName]int{}
	if err := r.createChunk(ctx, dec, chunk, counts); err != nil {
		if tx != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				logger.Debug(LOG_TAG, "rollback of chunk %d failed: %s", chunk.Index(), rbErr)
			}
		}
		return err
	}
	if tx != nil {
		if err := tx.Commit(ctx); err != nil {
			return icatapi.ErrorRestoreFailed(chunk.Index(), "", "", err)
		}
	}
	logger.Info(LOG_TAG, "chunk %d: created %s", chunk.Index(), Summarize(r.Registry, counts))
	return nil
}

// createChunk walks the chunk's records in dependency order, batching
// consecutive records of one type into a single CreateMany.  Each decoded
// entity is indexed under its alias key right away, so records later in
// the chunk resolve their references to it before it is even created.
func (r *Restorer) createChunk(ctx context.Context, dec *dumpfile.Decoder, chunk *dumpfile.Chunk, counts map[icatapi.TypeName]int) error {
	var (
		tag   icatapi.TypeName
		batch []*icatapi.Entity
		keys  []string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := r.Catalog.CreateMany(ctx, batch); err != nil {
			return icatapi.ErrorRestoreFailed(chunk.Index(), tag, keys[0], err)
		}
		counts[tag] += len(batch)
		batch, keys = nil, nil
		return nil
	}
	cr := dumpfile.Records(chunk, dec)
	for cr.Next(ctx) {
		if cr.Tag() != tag {
			if err := flush(); err != nil {
				return err
			}
			tag = cr.Tag()
		}
		dec.Index.Register(cr.Key(), cr.Entity())
		batch = append(batch, cr.Entity())
		keys = append(keys, cr.Key())
	}
	if err := cr.Err(); err != nil {
		return icatapi.ErrorRestoreFailed(chunk.Index(), cr.Tag(), "", err)
	}
	return flush()
}

// Summarize renders per-type creation counts as one line, types in the
// registry's dependency order: "facility=1 investigation=2".  An empty
// count map renders as "nothing".
func Summarize(reg *icatapi.Registry, counts map[icatapi.TypeName]int) string {
	parts := make([]string, 0, len(counts))
	for _, tag := range reg.Order() {
		if n := counts[tag]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", tag, n))
		}
	}
	if len(parts) == 0 {
		return "nothing"
	}
	return strings.Join(parts, " ")
}
