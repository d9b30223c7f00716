package catalog

import (
	"context"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/query"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("transient-mem", func(t *testing.T) {
		cat, err := Open(ctx, "mem:", "")
		qt.Assert(t, err, qt.IsNil)
		defer cat.Close()
		ti, err := cat.DescribeType(ctx, "grouping")
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, ti.Bean, qt.Equals, "Grouping")
	})
	t.Run("version-selects-schema-variant", func(t *testing.T) {
		old, err := Open(ctx, "mem:", "4.2")
		qt.Assert(t, err, qt.IsNil)
		defer old.Close()
		rule, err := old.DescribeType(ctx, "rule")
		qt.Assert(t, err, qt.IsNil)
		_, ok := rule.ToOneRel("group")
		qt.Check(t, ok, qt.IsTrue)
		_, ok = rule.ToOneRel("grouping")
		qt.Check(t, ok, qt.IsFalse)

		cur, err := Open(ctx, "mem:", "4.3")
		qt.Assert(t, err, qt.IsNil)
		defer cur.Close()
		rule, err = cur.DescribeType(ctx, "rule")
		qt.Assert(t, err, qt.IsNil)
		_, ok = rule.ToOneRel("grouping")
		qt.Check(t, ok, qt.IsTrue)
	})
	t.Run("newer-version-reads-as-latest", func(t *testing.T) {
		cat, err := Open(ctx, "mem:", "5.0")
		qt.Assert(t, err, qt.IsNil)
		defer cat.Close()
		rule, err := cat.DescribeType(ctx, "rule")
		qt.Assert(t, err, qt.IsNil)
		_, ok := rule.ToOneRel("grouping")
		qt.Check(t, ok, qt.IsTrue)
	})
	t.Run("no-scheme", func(t *testing.T) {
		_, err := Open(ctx, "nonsense", "")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
		_, err = Open(ctx, ":addr", "")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
	t.Run("unknown-scheme", func(t *testing.T) {
		_, err := Open(ctx, "postgres:dbname", "")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
	t.Run("bad-version", func(t *testing.T) {
		_, err := Open(ctx, "mem:", "banana")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
	t.Run("bad-store-extension", func(t *testing.T) {
		_, err := Open(ctx, "mem:store.xml", "")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
	})
}

func TestRegisterGuards(t *testing.T) {
	open := func(ctx context.Context, addr string, reg *icatapi.Registry) (Catalog, error) {
		return nil, nil
	}
	qt.Check(t, func() { Register("", open) }, qt.PanicMatches,
		"catalog: Register needs a scheme and an open function")
	qt.Check(t, func() { Register("dup-probe", nil) }, qt.PanicMatches,
		"catalog: Register needs a scheme and an open function")
	Register("dup-probe", open)
	qt.Check(t, func() { Register("dup-probe", open) }, qt.PanicMatches,
		"catalog: Register called twice for scheme dup-probe")
}

func TestResolve(t *testing.T) {
	ctx := context.Background()
	cat := openMemT(t)
	fac := testFacility("ESNF")
	qt.Assert(t, cat.Create(ctx, fac), qt.IsNil)

	t.Run("index-hit-skips-catalog", func(t *testing.T) {
		idx := icatapi.NewKeyIndex()
		idx.Register("facility:name=ALIAS", fac)
		got, err := Resolve(ctx, nil, idx, "facility:name=ALIAS")
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, got, qt.Equals, fac)
	})
	t.Run("catalog-hit-is-cached", func(t *testing.T) {
		idx := icatapi.NewKeyIndex()
		got, err := Resolve(ctx, cat, idx, "facility:name=ESNF")
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, got, qt.Equals, fac)
		// Later lookups need no catalog at all.
		again, err := Resolve(ctx, nil, idx, "facility:name=ESNF")
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, again, qt.Equals, fac)
	})
	t.Run("no-index", func(t *testing.T) {
		got, err := Resolve(ctx, cat, nil, "facility:name=ESNF")
		qt.Assert(t, err, qt.IsNil)
		qt.Check(t, got, qt.Equals, fac)
	})
	t.Run("miss", func(t *testing.T) {
		_, err := Resolve(ctx, cat, icatapi.NewKeyIndex(), "facility:name=NOWHERE")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeUnresolved)
	})
	t.Run("no-catalog", func(t *testing.T) {
		_, err := Resolve(ctx, nil, icatapi.NewKeyIndex(), "facility:name=ESNF")
		qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeUnresolved)
	})
}

func TestAssertedSearch(t *testing.T) {
	ctx := context.Background()
	cat := openMemT(t)
	reg := icatapi.MustRegistry("4.3")
	qt.Assert(t, cat.CreateMany(ctx, []*icatapi.Entity{testFacility("ESNF"), testFacility("HZB")}), qt.IsNil)

	q := query.MustNew(reg, "facility")

	res, err := AssertedSearch(ctx, cat, q, 1, -1)
	qt.Assert(t, err, qt.IsNil)
	qt.Check(t, res, qt.HasLen, 2)

	res, err = AssertedSearch(ctx, cat, q, 2, 2)
	qt.Assert(t, err, qt.IsNil)
	qt.Check(t, res, qt.HasLen, 2)

	_, err = AssertedSearch(ctx, cat, q, 3, -1)
	qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeSearchAssertion)

	_, err = AssertedSearch(ctx, cat, q, 0, 1)
	qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeSearchAssertion)

	// Driver rejections pass through untouched.
	agg := query.MustNew(reg, "facility")
	qt.Assert(t, agg.SetAggregate("COUNT"), qt.IsNil)
	_, err = AssertedSearch(ctx, cat, agg, 0, -1)
	qt.Check(t, serum.Code(err), qt.Equals, icatapi.ECodeInvalid)
}
