package catalog

import (
	"context"
	"fmt"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/query"
)

// DefaultChunkSize is the paging window SearchChunked uses when the
// caller passes a non-positive size.
const DefaultChunkSize = 100

// SearchChunked pages through the results of q in windows of chunkSize,
// so walking a large store never holds more than one window in memory.
// The cursor owns a private copy of q; the caller's query is untouched.
//
// Paging needs a total order to be sound, so a query without an explicit
// ORDER BY pages in identity order.  Queries that already carry a LIMIT
// or an aggregate cannot be paged; the first Next reports the misuse.
func SearchChunked(cat Catalog, q *query.Query, chunkSize int64) *Cursor {
	c := &Cursor{cat: cat, chunk: chunkSize, i: -1}
	if c.chunk <= 0 {
		c.chunk = DefaultChunkSize
	}
	if q.Limit != nil {
		c.err = icatapi.ErrorInvalid("cannot page a query that already has a limit")
		return c
	}
	if q.Aggregate != "" && q.Aggregate != "DISTINCT" {
		c.err = icatapi.ErrorInvalid(fmt.Sprintf("cannot page a %s aggregate", q.Aggregate))
		return c
	}
	c.q = q.Copy()
	if len(c.q.Order) == 0 {
		if err := c.q.OrderBy("id", false); err != nil {
			c.err = err
		}
	}
	return c
}

// Cursor iterates search results window by window.  Use it like:
//
//	cur := catalog.SearchChunked(cat, q, 200)
//	for cur.Next(ctx) {
//		visit(cur.Entity())
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	cat   Catalog
	q     *query.Query
	chunk int64
	skip  int64
	batch []*icatapi.Entity
	i     int
	short bool
	err   error
	done  bool
}

// Next advances to the next entity, fetching the next window when the
// current one is spent.  Returns false at the end of the results or on
// the first error.
func (c *Cursor) Next(ctx context.Context) bool {
	if c.err != nil || c.done {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.i++
	if c.i < len(c.batch) {
		return true
	}
	if c.short {
		// The previous window came back underfull: the results are spent,
		// no need to ask again.
		c.done = true
		return false
	}
	w := c.q.Copy()
	w.SetLimit(c.skip, c.chunk)
	batch, err := c.cat.Search(ctx, w)
	if err != nil {
		c.err = err
		return false
	}
	c.batch = batch
	c.i = 0
	c.skip += int64(len(batch))
	c.short = int64(len(batch)) < c.chunk
	if len(batch) == 0 {
		c.done = true
		return false
	}
	return true
}

// Entity returns the entity Next advanced to.
func (c *Cursor) Entity() *icatapi.Entity {
	if c.i < 0 || c.i >= len(c.batch) {
		return nil
	}
	return c.batch[c.i]
}

// Err returns the error that stopped iteration, nil after a clean finish.
func (c *Cursor) Err() error {
	return c.err
}
