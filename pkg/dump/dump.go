package dump

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/catalog"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/logging"
	"github.com/icatools/icat/pkg/query"
	"github.com/icatools/icat/pkg/tracing"
)

const LOG_TAG = "│  dump"

// The chunk layout of a dump.  The first chunk carries authorization data,
// the second the static content describing the facility, then one chunk
// per investigation with its whole subtree, and a trailing chunk for the
// objects that relate investigations to each other.  Within each chunk the
// writer orders types by the registry's restore order, so every reference
// points to an earlier record of the same chunk or to an earlier chunk.
var (
	authzTypes  = []icatapi.TypeName{"user", "grouping", "rule", "publicStep"}
	staticTypes = []icatapi.TypeName{
		"facility", "instrument", "parameterType", "investigationType",
		"sampleType", "datasetType", "datafileFormat", "facilityCycle",
		"application",
	}
	trailingTypes = []icatapi.TypeName{"study", "relatedDatafile", "dataCollection", "job"}
)

// Dumper walks a live catalogue and writes its content as a dump stream.
type Dumper struct {
	Catalog  catalog.Catalog
	Registry *icatapi.Registry
	Writer   *dumpfile.Writer

	// Select narrows the dump to the investigations matching all the given
	// attribute=value conditions.  Paths follow query.Where rules, so
	// "facility.name" reaches through the reference.  The trailing chunk
	// is scoped along: records and links are kept only where everything
	// they reference made it into the stream.  Empty dumps everything.
	Select [][2]string

	// ChunkSize is the paging window for catalogue searches; non-positive
	// means catalog.DefaultChunkSize.
	ChunkSize int64
}

// Run writes the catalogue to the dump stream: the head document first,
// then the chunk sequence.  The writer is left finalized.  Cancelling the
// context stops the walk between records and surfaces the context's own
// error.
//
// Errors:
//
//    - icat-error-invalid -- when a selection condition does not fit the
//        schema, or the writer already carries a stream
//    - icat-error-unknown-field -- when a selection names an undeclared field
//    - icat-error-ambiguous-entity -- when a row misses the fields its unique
//        key needs
//    - icat-error-already-exists -- when a row is handed out twice under one
//        type tag within a chunk
//    - icat-error-serialization -- when a chunk cannot be assembled
//    - icat-error-io -- when the output stream or the catalogue transport fails
//    - icat-error-internal -- when the catalogue driver fails internally
func (d *Dumper) Run(ctx context.Context, head icatapi.DumpHead) error {
	ctx, span := tracing.Start(ctx, "dump")
	defer span.End()
	log := logging.Ctx(ctx)
	ka := dumpfile.NewKeyAllocator(d.Registry, nil)

	if err := d.Writer.Head(head); err != nil {
		return err
	}
	log.Info(LOG_TAG, "dumping authorization data")
	if err := d.writeTypeChunk(ctx, ka, "dump authz chunk", authzTypes, false); err != nil {
		return err
	}
	log.Info(LOG_TAG, "dumping static content")
	if err := d.writeTypeChunk(ctx, ka, "dump static chunk", staticTypes, false); err != nil {
		return err
	}
	ninv, err := d.writeInvestigations(ctx, ka)
	if err != nil {
		return err
	}
	log.Info(LOG_TAG, "dumping remaining objects")
	scoped := len(d.Select) > 0
	if err := d.writeTypeChunk(ctx, ka, "dump trailing chunk", trailingTypes, scoped); err != nil {
		return err
	}
	if err := d.Writer.Finalize(); err != nil {
		return err
	}
	log.Info(LOG_TAG, "dumped %d investigations in %d chunks", ninv, d.Writer.Chunks())
	return nil
}

// writeTypeChunk opens a chunk and fills it with every record of the given
// types, in the order handed in so that ordinal keys and the scope index
// grow in restore order.
func (d *Dumper) writeTypeChunk(ctx context.Context, ka *dumpfile.KeyAllocator, spanName string, types []icatapi.TypeName, scoped bool) error {
	ctx, span := tracing.Start(ctx, spanName)
	defer span.End()
	if err := d.Writer.StartChunk(); err != nil {
		return err
	}
	for _, tag := range types {
		q, err := d.typeQuery(tag)
		if err != nil {
			return err
		}
		if _, err := d.writeRecords(ctx, ka, q, scoped); err != nil {
			return err
		}
	}
	return nil
}

// writeInvestigations walks the (possibly narrowed) investigations in
// natural order and writes one chunk per investigation: the investigation
// record with its owned children, then its samples, datasets and datafiles.
func (d *Dumper) writeInvestigations(ctx context.Context, ka *dumpfile.KeyAllocator) (int, error) {
	q, err := d.typeQuery("investigation")
	if err != nil {
		return 0, err
	}
	for _, sel := range d.Select {
		if err := q.Where(sel[0], "=", sel[1]); err != nil {
			return 0, err
		}
	}
	n := 0
	cur := catalog.SearchChunked(d.Catalog, q, d.ChunkSize)
	for cur.Next(ctx) {
		if err := d.writeInvestigationChunk(ctx, ka, cur.Entity()); err != nil {
			return n, err
		}
		n++
	}
	return n, cur.Err()
}

func (d *Dumper) writeInvestigationChunk(ctx context.Context, ka *dumpfile.KeyAllocator, inv *icatapi.Entity) error {
	key, err := ka.Alias(inv)
	if err != nil {
		return err
	}
	ctx, span := tracing.Start(ctx, "dump investigation",
		trace.WithAttributes(attribute.String(tracing.AttrKeyIcatEntityKey, key)))
	defer span.End()
	logging.Ctx(ctx).Info(LOG_TAG, "dumping investigation %s", key)

	if err := d.Writer.StartChunk(); err != nil {
		return err
	}
	trimmed, err := trimForDump(d.Registry, inv)
	if err != nil {
		return err
	}
	if err := d.Writer.Add(inv.Type, key, trimmed, ka.Index()); err != nil {
		return err
	}
	parts := []struct {
		tag  icatapi.TypeName
		path string
	}{
		{"sample", "investigation.id"},
		{"dataset", "investigation.id"},
		{"datafile", "dataset.investigation.id"},
	}
	for _, part := range parts {
		q, err := d.typeQuery(part.tag)
		if err != nil {
			return err
		}
		if err := q.Where(part.path, "=", inv.ID); err != nil {
			return err
		}
		if _, err := d.writeRecords(ctx, ka, q, false); err != nil {
			return err
		}
	}
	return nil
}

// writeRecords pages through q and stages every result in the open chunk.
func (d *Dumper) writeRecords(ctx context.Context, ka *dumpfile.KeyAllocator, q *query.Query, scoped bool) (int, error) {
	n := 0
	cur := catalog.SearchChunked(d.Catalog, q, d.ChunkSize)
	for cur.Next(ctx) {
		e := cur.Entity()
		trimmed, err := trimForDump(d.Registry, e)
		if err != nil {
			return n, err
		}
		if scoped && !scopeRecord(ka.Index(), trimmed) {
			continue
		}
		key, err := ka.Alias(e)
		if err != nil {
			return n, err
		}
		if err := d.Writer.Add(e.Type, key, trimmed, ka.Index()); err != nil {
			return n, err
		}
		n++
	}
	return n, cur.Err()
}

// typeQuery builds the search for one dumped type: natural order for a
// deterministic stream, and includes derived from what the record will
// serialize, so a remote driver materializes the references and children
// the encoder needs.
func (d *Dumper) typeQuery(tag icatapi.TypeName) (*query.Query, error) {
	q, err := query.New(d.Registry, tag)
	if err != nil {
		return nil, err
	}
	if err := q.NaturalOrder(); err != nil {
		return nil, err
	}
	if err := q.Include(d.includePaths(q.Type())...); err != nil {
		return nil, err
	}
	return q, nil
}

func (d *Dumper) includePaths(ti *icatapi.TypeInfo) []string {
	var paths []string
	for _, rel := range ti.ToOne {
		paths = append(paths, rel.Name)
	}
	for _, rel := range InlineCollections(d.Registry, ti) {
		paths = append(paths, rel.Name)
		ct, err := d.Registry.Type(rel.Target)
		if err != nil {
			continue
		}
		for _, sub := range ct.ToOne {
			if sub.Target == ti.Name {
				// the backref rides in the nesting
				continue
			}
			paths = append(paths, rel.Name+"."+sub.Name)
		}
	}
	return paths
}
