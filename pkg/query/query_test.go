package query

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/serum-errors/go-serum"

	"github.com/icatools/icat/icatapi"
)

func TestQueryString(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")

	t.Run("plain", func(t *testing.T) {
		q := MustNew(reg, "investigation")
		qt.Assert(t, q.String(), qt.Equals, "SELECT o FROM Investigation o")
	})
	t.Run("full-clause-order", func(t *testing.T) {
		q := MustNew(reg, "investigation")
		qt.Assert(t, q.Where("facility.name", "=", "HZB"), qt.IsNil)
		qt.Assert(t, q.OrderBy("name", false), qt.IsNil)
		qt.Assert(t, q.Include("datasets"), qt.IsNil)
		q.SetLimit(0, 10)
		qt.Assert(t, q.String(), qt.Equals,
			"SELECT o FROM Investigation o WHERE o.facility.name = 'HZB' ORDER BY o.name INCLUDE o.datasets LIMIT 0, 10")
	})
	t.Run("conditions-sort-by-attr", func(t *testing.T) {
		q := MustNew(reg, "datafile")
		qt.Assert(t, q.Where("name", "LIKE", "run%.nxs"), qt.IsNil)
		qt.Assert(t, q.Where("fileSize", ">", 4096), qt.IsNil)
		qt.Assert(t, q.String(), qt.Equals,
			"SELECT o FROM Datafile o WHERE o.fileSize > 4096 AND o.name LIKE 'run%.nxs'")
	})
	t.Run("aggregates", func(t *testing.T) {
		q := MustNew(reg, "datafile")
		qt.Assert(t, q.SetAggregate("COUNT"), qt.IsNil)
		qt.Assert(t, q.String(), qt.Equals, "SELECT COUNT(o) FROM Datafile o")
		qt.Assert(t, q.SetAggregate("COUNT:DISTINCT"), qt.IsNil)
		qt.Assert(t, q.String(), qt.Equals, "SELECT COUNT(DISTINCT(o)) FROM Datafile o")
	})
	t.Run("literals", func(t *testing.T) {
		qt.Check(t, Literal("O'Hara"), qt.Equals, "'O''Hara'")
		qt.Check(t, Literal(true), qt.Equals, "TRUE")
		qt.Check(t, Literal(int64(-7)), qt.Equals, "-7")
		qt.Check(t, Literal(time.Date(2016, 5, 12, 8, 0, 0, 0, time.UTC)), qt.Equals, "{ts '2016-05-12 08:00:00'}")
	})
	t.Run("descending", func(t *testing.T) {
		q := MustNew(reg, "dataset")
		qt.Assert(t, q.OrderBy("startDate", true), qt.IsNil)
		qt.Assert(t, q.String(), qt.Equals, "SELECT o FROM Dataset o ORDER BY o.startDate DESC")
	})
}

func TestQueryValidation(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")

	cases := []struct {
		name    string
		build   func(q *Query) error
		errCode string
	}{
		{"unknown-attr", func(q *Query) error { return q.Where("flavour", "=", "x") }, icatapi.ECodeUnknownField},
		{"unknown-path-component", func(q *Query) error { return q.Where("facility.motto", "=", "x") }, icatapi.ECodeUnknownField},
		{"condition-through-to-many", func(q *Query) error { return q.Where("datasets.name", "=", "x") }, icatapi.ECodeInvalid},
		{"condition-on-relation", func(q *Query) error { return q.Where("facility", "=", "x") }, icatapi.ECodeInvalid},
		{"path-past-attribute", func(q *Query) error { return q.Where("name.length", "=", "x") }, icatapi.ECodeInvalid},
		{"bad-operator", func(q *Query) error { return q.Where("name", "~", "x") }, icatapi.ECodeInvalid},
		{"like-non-string", func(q *Query) error { return q.Where("name", "LIKE", 4) }, icatapi.ECodeInvalid},
		{"bad-value-kind", func(q *Query) error { return q.Where("name", "=", []string{"x"}) }, icatapi.ECodeInvalid},
		{"include-on-attribute", func(q *Query) error { return q.Include("title") }, icatapi.ECodeInvalid},
		{"bad-aggregate", func(q *Query) error { return q.SetAggregate("MEDIAN") }, icatapi.ECodeInvalid},
		{"order-through-to-many", func(q *Query) error { return q.OrderBy("datasets.name", false) }, icatapi.ECodeInvalid},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			q := MustNew(reg, "investigation")
			err := c.build(q)
			qt.Assert(t, serum.Code(err), qt.Equals, c.errCode)
		})
	}

	t.Run("unknown-type", func(t *testing.T) {
		_, err := New(reg, "blob")
		qt.Assert(t, serum.Code(err), qt.Equals, icatapi.ECodeUnknownType)
	})
	t.Run("id-is-always-legal", func(t *testing.T) {
		q := MustNew(reg, "investigation")
		qt.Assert(t, q.Where("id", ">", 100), qt.IsNil)
		qt.Assert(t, q.OrderBy("id", false), qt.IsNil)
	})
	t.Run("include-paths-may-cross-to-many", func(t *testing.T) {
		q := MustNew(reg, "investigation")
		qt.Assert(t, q.Include("parameters", "parameters.type"), qt.IsNil)
	})
}

func TestNaturalOrder(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")

	t.Run("flat", func(t *testing.T) {
		order, err := NaturalOrder(reg, "user")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, order, qt.DeepEquals, []string{"name"})
	})
	t.Run("relations-expand", func(t *testing.T) {
		order, err := NaturalOrder(reg, "datafile")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, order, qt.DeepEquals, []string{
			"dataset.investigation.facility.name",
			"dataset.investigation.name",
			"dataset.investigation.visitId",
			"dataset.name",
			"name",
		})
	})
	t.Run("unsortable-type-is-empty", func(t *testing.T) {
		order, err := NaturalOrder(reg, "dataCollection")
		qt.Assert(t, err, qt.IsNil)
		qt.Assert(t, len(order), qt.Equals, 0)
	})
	t.Run("query-builder-expansion", func(t *testing.T) {
		q := MustNew(reg, "datafile")
		qt.Assert(t, q.OrderBy("dataset", false), qt.IsNil)
		qt.Assert(t, q.String(), qt.Equals,
			"SELECT o FROM Datafile o ORDER BY o.dataset.investigation.facility.name, o.dataset.investigation.name, o.dataset.investigation.visitId, o.dataset.name")
	})
}

func TestQueryCopy(t *testing.T) {
	reg := icatapi.MustRegistry("4.3")
	q := MustNew(reg, "dataset")
	qt.Assert(t, q.Where("complete", "=", true), qt.IsNil)
	q.SetLimit(0, 5)

	c := q.Copy()
	c.SetLimit(5, 5)
	qt.Assert(t, c.Where("name", "=", "x"), qt.IsNil)

	qt.Assert(t, q.Limit.Skip, qt.Equals, int64(0))
	qt.Assert(t, len(q.Conditions), qt.Equals, 1)
	qt.Assert(t, c.Limit.Skip, qt.Equals, int64(5))
	qt.Assert(t, len(c.Conditions), qt.Equals, 2)
}
