// Package query builds search queries against the catalogue schema.
//
// A Query is a structured value: drivers evaluate its conditions and
// ordering directly, and String renders the JPQL-style search expression
// the catalogue service speaks.  All attribute and relation paths are
// validated against the schema registry at build time, so a query that
// constructs without error names only fields that exist.
package query

import (
	"sort"

	"github.com/icatools/icat/icatapi"
)

// Ops allowed in conditions.
var ops = map[string]struct{}{
	"=":    {},
	"!=":   {},
	"<":    {},
	"<=":   {},
	">":    {},
	">=":   {},
	"LIKE": {},
}

// Aggregate functions allowed in the SELECT clause.
var aggregates = map[string]struct{}{
	"DISTINCT":       {},
	"COUNT":          {},
	"COUNT:DISTINCT": {},
	"MIN":            {},
	"MAX":            {},
	"AVG":            {},
	"AVG:DISTINCT":   {},
	"SUM":            {},
	"SUM:DISTINCT":   {},
}

type Condition struct {
	Attr  string
	Op    string
	Value interface{}
}

type OrderItem struct {
	Attr string
	Desc bool
}

type Limit struct {
	Skip  int64
	Count int64
}

type Query struct {
	reg *icatapi.Registry
	typ *icatapi.TypeInfo

	Entity     icatapi.TypeName
	Aggregate  string
	Conditions []Condition
	Includes   []string
	Order      []OrderItem
	Limit      *Limit
}

// New starts a query for the given entity type.
//
// Errors:
//
//   - icat-error-unknown-entity-type -- when the type is not in the registry
func New(reg *icatapi.Registry, tag icatapi.TypeName) (*Query, error) {
	ti, err := reg.Type(tag)
	if err != nil {
		return nil, err
	}
	return &Query{
		reg:    reg,
		typ:    ti,
		Entity: tag,
	}, nil
}

// MustNew is New for tags known at compile time.
func MustNew(reg *icatapi.Registry, tag icatapi.TypeName) *Query {
	q, err := New(reg, tag)
	if err != nil {
		panic(err)
	}
	return q
}

// Type returns the schema entry of the entity type being searched.
func (q *Query) Type() *icatapi.TypeInfo {
	return q.typ
}

// Registry returns the schema registry the query was built against.
func (q *Query) Registry() *icatapi.Registry {
	return q.reg
}

// Where adds one condition.  The attribute may be a dotted path
// traversing to-one relations ("facility.name"); the terminal component
// must be a plain attribute or "id".  The value is normalized like any
// attribute value; LIKE requires a string.
//
// Errors:
//
//   - icat-error-invalid -- when the operator is unknown, the value kind is
//     unsupported, or the path does not end on an attribute
//   - icat-error-unknown-field -- when a path component is not declared
func (q *Query) Where(attr string, op string, value interface{}) error {
	if _, ok := ops[op]; !ok {
		return icatapi.ErrorInvalid("unknown condition operator", [2]string{"op", op})
	}
	term, err := q.walkToOnePath(attr)
	if err != nil {
		return err
	}
	if term == nil {
		return icatapi.ErrorInvalid("condition path must end on an attribute", [2]string{"attr", attr})
	}
	v, err := icatapi.NormalizeValue(value)
	if err != nil {
		return err
	}
	if op == "LIKE" {
		if _, ok := v.(string); !ok {
			return icatapi.ErrorInvalid("LIKE requires a string pattern", [2]string{"attr", attr})
		}
	}
	q.Conditions = append(q.Conditions, Condition{Attr: attr, Op: op, Value: v})
	return nil
}

// Include adds related objects to fetch along with each result.  Paths
// may traverse both to-one and to-many relations and must end on a
// relation.
//
// Errors:
//
//   - icat-error-invalid -- when a path ends on a plain attribute
//   - icat-error-unknown-field -- when a path component is not declared
func (q *Query) Include(paths ...string) error {
	for _, path := range paths {
		endsOnRelation, err := q.walkAnyPath(path)
		if err != nil {
			return err
		}
		if !endsOnRelation {
			return icatapi.ErrorInvalid("include path must end on a relation", [2]string{"path", path})
		}
		q.Includes = append(q.Includes, path)
	}
	return nil
}

// OrderBy appends a sort field.  Paths follow the same rules as Where,
// except that a path ending on a to-one relation expands to the natural
// order of the target type.
//
// Errors:
//
//   - icat-error-invalid -- when the path traverses or ends on a to-many
//     relation
//   - icat-error-unknown-field -- when a path component is not declared
func (q *Query) OrderBy(attr string, desc bool) error {
	term, err := q.walkToOnePath(attr)
	if err != nil {
		return err
	}
	if term != nil {
		q.Order = append(q.Order, OrderItem{Attr: attr, Desc: desc})
		return nil
	}
	// path ends on a to-one relation: substitute the target's natural order
	_, target, err := pathTerminalRelation(q.reg, q.typ, attr)
	if err != nil {
		return err
	}
	sub, err := NaturalOrder(q.reg, target.Name)
	if err != nil {
		return err
	}
	for _, s := range sub {
		q.Order = append(q.Order, OrderItem{Attr: attr + "." + s, Desc: desc})
	}
	return nil
}

// NaturalOrder sets the order to the canonical ordering of the searched
// type, replacing anything set before.  Types without sortable fields
// end up with no ORDER BY clause at all.
//
// Errors: none -- the searched type was validated at construction.
func (q *Query) NaturalOrder() error {
	paths, err := NaturalOrder(q.reg, q.Entity)
	if err != nil {
		return err
	}
	q.Order = q.Order[:0]
	for _, p := range paths {
		q.Order = append(q.Order, OrderItem{Attr: p})
	}
	return nil
}

// SetLimit sets the paging window: skip rows, then take count.
func (q *Query) SetLimit(skip, count int64) {
	q.Limit = &Limit{Skip: skip, Count: count}
}

// SetAggregate applies an aggregate function to the SELECT clause.
// "COUNT", "DISTINCT", "MIN", "MAX", "AVG", "SUM" are accepted, the last
// three combined with ":DISTINCT" as well.
//
// Errors:
//
//   - icat-error-invalid -- when the function is not in the allowed set
func (q *Query) SetAggregate(fn string) error {
	if fn == "" {
		q.Aggregate = ""
		return nil
	}
	if _, ok := aggregates[fn]; !ok {
		return icatapi.ErrorInvalid("unknown aggregate function", [2]string{"function", fn})
	}
	q.Aggregate = fn
	return nil
}

// Copy returns an independent clone.  SearchChunked uses this to page
// without disturbing the caller's query.
func (q *Query) Copy() *Query {
	c := &Query{
		reg:       q.reg,
		typ:       q.typ,
		Entity:    q.Entity,
		Aggregate: q.Aggregate,
	}
	c.Conditions = append([]Condition(nil), q.Conditions...)
	c.Includes = append([]string(nil), q.Includes...)
	c.Order = append([]OrderItem(nil), q.Order...)
	if q.Limit != nil {
		l := *q.Limit
		c.Limit = &l
	}
	return c
}

// sortedConditions returns the conditions ordered by attribute path,
// original order preserved within one attribute.  Rendering and driver
// evaluation both use this so a query means the same thing everywhere.
func (q *Query) sortedConditions() []Condition {
	conds := append([]Condition(nil), q.Conditions...)
	sort.SliceStable(conds, func(i, j int) bool { return conds[i].Attr < conds[j].Attr })
	return conds
}

// walkToOnePath validates a path whose intermediate components must all
// be to-one relations.  Returns the terminal attribute, or nil when the
// path ends on a to-one relation.
func (q *Query) walkToOnePath(path string) (*icatapi.Attr, error) {
	return walkPath(q.reg, q.typ, path, false)
}

// walkAnyPath validates a path that may traverse to-many relations.
// Reports whether the path ends on a relation.
func (q *Query) walkAnyPath(path string) (bool, error) {
	term, err := walkPath(q.reg, q.typ, path, true)
	if err != nil {
		return false, err
	}
	return term == nil, nil
}
