package catalog

import (
	"context"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/query"
)

// seedSearchCatalog loads a small two-facility corpus: one ESNF
// investigation carrying three cascaded datasets, and three HZB
// investigations spread over distinct start dates.
func seedSearchCatalog(t *testing.T) (Catalog, *icatapi.Registry, *icatapi.Entity, *icatapi.Entity) {
	t.Helper()
	ctx := context.Background()
	cat := openMemT(t)
	reg := icatapi.MustRegistry("4.3")

	esnf := testFacility("ESNF")
	hzb := testFacility("HZB")
	qt.Assert(t, cat.CreateMany(ctx, []*icatapi.Entity{esnf, hzb}), qt.IsNil)

	first := testInvestigation("12100409-ST", "1.1-P", esnf)
	first.Attrs["title"] = "Durol single crystal"
	first.Attrs["doi"] = "10.5286/ISIS.E.RB1210040"
	first.Attrs["startDate"] = time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC)
	// Insertion order run-2, run-10, run-1 is deliberately not the natural
	// name order.
	for _, name := range []string{"run-2", "run-10", "run-1"} {
		first.AddChild("datasets", icatapi.WithAttrs("dataset", map[string]interface{}{"name": name}))
	}
	qt.Assert(t, cat.Create(ctx, first), qt.IsNil)

	for _, row := range []struct {
		name, title string
		start       time.Time
	}{
		{"gate4:0012", "Gate Leakage", time.Date(2017, 2, 1, 9, 30, 0, 0, time.UTC)},
		{"gate4:0002", "Gate Drift", time.Date(2015, 11, 20, 10, 0, 0, 0, time.UTC)},
		{"gate4:0001", "Gate Alignment", time.Date(2016, 1, 5, 12, 0, 0, 0, time.UTC)},
	} {
		inv := testInvestigation(row.name, "1.1", hzb)
		inv.Attrs["title"] = row.title
		inv.Attrs["startDate"] = row.start
		qt.Assert(t, cat.Create(ctx, inv), qt.IsNil)
	}
	return cat, reg, esnf, hzb
}

func namesOf(res []*icatapi.Entity) []string {
	out := make([]string, len(res))
	for i, e := range res {
		out[i], _ = e.Attrs["name"].(string)
	}
	return out
}

func TestSearchConditions(t *testing.T) {
	ctx := context.Background()
	cat, reg, esnf, hzb := seedSearchCatalog(t)

	// search builds an investigation query from (attr, op, value) triples
	// and runs it; most conditions below follow that one shape.
	search := func(t *testing.T, tag icatapi.TypeName, conds ...interface{}) []*icatapi.Entity {
		t.Helper()
		q := query.MustNew(reg, tag)
		for i := 0; i < len(conds); i += 3 {
			qt.Assert(t, q.Where(conds[i].(string), conds[i+1].(string), conds[i+2]), qt.IsNil)
		}
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		return res
	}

	t.Run("equals", func(t *testing.T) {
		res := search(t, "investigation", "name", "=", "gate4:0002")
		qt.Assert(t, res, qt.HasLen, 1)
		qt.Check(t, res[0].Attrs["title"], qt.Equals, "Gate Drift")
	})
	t.Run("not-equals", func(t *testing.T) {
		res := search(t, "facility", "name", "!=", "ESNF")
		qt.Assert(t, res, qt.HasLen, 1)
		qt.Check(t, res[0], qt.Equals, hzb)
	})
	t.Run("reference-path", func(t *testing.T) {
		res := search(t, "investigation", "facility.name", "=", "HZB")
		qt.Check(t, res, qt.HasLen, 3)
	})
	t.Run("id-terminal", func(t *testing.T) {
		res := search(t, "facility", "id", "=", esnf.ID)
		qt.Assert(t, res, qt.HasLen, 1)
		qt.Check(t, res[0], qt.Equals, esnf)
	})
	t.Run("reference-id-path", func(t *testing.T) {
		res := search(t, "investigation", "facility.id", "=", hzb.ID)
		qt.Check(t, res, qt.HasLen, 3)
	})
	t.Run("date-window", func(t *testing.T) {
		cut := time.Date(2016, 6, 1, 0, 0, 0, 0, time.UTC)
		res := search(t, "investigation", "startDate", "<", cut)
		qt.Check(t, res, qt.HasLen, 3)
		res = search(t, "investigation", "startDate", "<", cut, "facility.name", "=", "HZB")
		qt.Check(t, namesOf(res), qt.DeepEquals, []string{"gate4:0002", "gate4:0001"})
	})
	t.Run("like", func(t *testing.T) {
		res := search(t, "investigation", "title", "LIKE", "Gate%")
		qt.Check(t, res, qt.HasLen, 3)
		res = search(t, "investigation", "name", "LIKE", "gate4:00_2")
		qt.Check(t, res, qt.HasLen, 2)
		res = search(t, "investigation", "name", "LIKE", "%-ST")
		qt.Check(t, res, qt.HasLen, 1)
		// The wildcards are LIKE's, not the regexp engine's.
		res = search(t, "investigation", "name", "LIKE", "gate4:00.2")
		qt.Check(t, res, qt.HasLen, 0)
	})
	t.Run("absent-value-fails-predicates", func(t *testing.T) {
		res := search(t, "investigation", "summary", "=", "x")
		qt.Check(t, res, qt.HasLen, 0)
		res = search(t, "investigation", "summary", "!=", "x")
		qt.Check(t, res, qt.HasLen, 0)
	})
	t.Run("set-value-passes-not-equals", func(t *testing.T) {
		// Only the one investigation that has a doi at all can satisfy this.
		res := search(t, "investigation", "doi", "!=", "nope")
		qt.Check(t, namesOf(res), qt.DeepEquals, []string{"12100409-ST"})
	})
	t.Run("incomparable-values", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.Where("name", "<", 42), qt.IsNil)
		_, err := cat.Search(ctx, q)
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
}

func TestSearchOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	cat, reg, _, _ := seedSearchCatalog(t)

	t.Run("natural-name-order", func(t *testing.T) {
		q := query.MustNew(reg, "dataset")
		qt.Assert(t, q.OrderBy("name", false), qt.IsNil)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		// Numeric runs compare as numbers: run-10 goes last, not between
		// run-1 and run-2.
		qt.Check(t, namesOf(res), qt.DeepEquals, []string{"run-1", "run-2", "run-10"})
	})
	t.Run("descending", func(t *testing.T) {
		q := query.MustNew(reg, "dataset")
		qt.Assert(t, q.OrderBy("name", true), qt.IsNil)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, namesOf(res), qt.DeepEquals, []string{"run-10", "run-2", "run-1"})
	})
	t.Run("date-order", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.OrderBy("startDate", false), qt.IsNil)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, namesOf(res), qt.DeepEquals,
			[]string{"gate4:0002", "gate4:0001", "12100409-ST", "gate4:0012"})
	})
	t.Run("multi-key", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.OrderBy("facility.name", false), qt.IsNil)
		qt.Assert(t, q.OrderBy("name", true), qt.IsNil)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, namesOf(res), qt.DeepEquals,
			[]string{"12100409-ST", "gate4:0012", "gate4:0002", "gate4:0001"})
	})
	t.Run("absent-sorts-first", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.OrderBy("doi", false), qt.IsNil)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, res, qt.HasLen, 4)
		qt.Check(t, res[3].Attrs["name"], qt.Equals, "12100409-ST")
	})
	t.Run("identity-order-by-default", func(t *testing.T) {
		res, err := cat.Search(ctx, query.MustNew(reg, "investigation"))
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, namesOf(res), qt.DeepEquals,
			[]string{"12100409-ST", "gate4:0012", "gate4:0002", "gate4:0001"})
	})
	t.Run("limit-window", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.Where("facility.name", "=", "HZB"), qt.IsNil)
		qt.Assert(t, q.OrderBy("name", false), qt.IsNil)
		q.SetLimit(1, 1)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, namesOf(res), qt.DeepEquals, []string{"gate4:0002"})
	})
	t.Run("limit-past-end", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		q.SetLimit(10, 5)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, res, qt.HasLen, 0)
	})
	t.Run("limit-zero-rows", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		q.SetLimit(0, 0)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, res, qt.HasLen, 0)
	})
}

func TestSearchAggregates(t *testing.T) {
	ctx := context.Background()
	cat, reg, _, _ := seedSearchCatalog(t)

	t.Run("count", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		n, err := cat.Count(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, n, qt.Equals, int64(4))

		qt.Assert(t, q.SetAggregate("COUNT"), qt.IsNil)
		n, err = cat.Count(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, n, qt.Equals, int64(4))

		qt.Assert(t, q.SetAggregate("COUNT:DISTINCT"), qt.IsNil)
		n, err = cat.Count(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, n, qt.Equals, int64(4))
	})
	t.Run("count-with-conditions", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.Where("facility.name", "=", "HZB"), qt.IsNil)
		n, err := cat.Count(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, n, qt.Equals, int64(3))
	})
	t.Run("distinct-search", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.SetAggregate("DISTINCT"), qt.IsNil)
		res, err := cat.Search(ctx, q)
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, res, qt.HasLen, 4)
	})
	t.Run("count-is-not-a-search", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.SetAggregate("COUNT"), qt.IsNil)
		_, err := cat.Search(ctx, q)
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
	t.Run("value-aggregates-unsupported", func(t *testing.T) {
		q := query.MustNew(reg, "investigation")
		qt.Assert(t, q.SetAggregate("SUM"), qt.IsNil)
		_, err := cat.Count(ctx, q)
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
}

func TestSearchIncludesAdvisory(t *testing.T) {
	ctx := context.Background()
	cat, reg, _, _ := seedSearchCatalog(t)

	// The memory catalog hands out live entities: owned children come
	// along whether or not the query asks for them, so an Include is
	// accepted and changes nothing.
	q := query.MustNew(reg, "investigation")
	qt.Assert(t, q.Where("name", "=", "12100409-ST"), qt.IsNil)
	qt.Assert(t, q.Include("datasets"), qt.IsNil)
	res, err := cat.Search(ctx, q)
	qt.Assert(t, err, qt.IsNil)
	qt.Assert(t, res, qt.HasLen, 1)
	qt.Check(t, res[0].ToMany["datasets"], qt.HasLen, 3)
}
