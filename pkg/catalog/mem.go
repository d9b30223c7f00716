package catalog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/dumpfile"
	"github.com/icatools/icat/pkg/query"
)

func init() {
	Register("mem", openMem)
}

// memCatalog is the in-memory reference catalog.  It enforces the same
// contracts a live service would (identity assignment, uniqueness
// constraints, referential checks) so the dump and restore engines can be
// exercised without a server.  Opened as "mem:" it is purely transient;
// "mem:snapshot.json" (or .yaml) loads that dump file on open and writes
// the store back to it on Close.
//
// The catalog hands out its live entities; callers treat results as
// read-only.  Inverse relations are never materialized: an entity's
// ToMany holds exactly the children it was created with, which keeps
// ownership unambiguous when the store is serialized.  Rows of owned
// child types created without an owning parent are real rows and
// searchable, but a dump cannot express them, so persistence skips them.
type memCatalog struct {
	reg    *icatapi.Registry
	path   string
	format string

	mu     sync.Mutex
	nextID int64
	rows   map[icatapi.TypeName][]*icatapi.Entity
	tuples map[icatapi.TypeName]map[string]struct{}
	owned  map[*icatapi.Entity]bool
	tx     *memTx
	closed bool
}

var (
	_ Catalog       = (*memCatalog)(nil)
	_ Transactional = (*memCatalog)(nil)
)

// memTx is one open transaction: the state to restore on rollback, plus
// the entities created since Begin, whose identities must be revoked so a
// retry can create them again.
type memTx struct {
	saved   memSnapshot
	created []*icatapi.Entity
}

type memSnapshot struct {
	nextID int64
	rows   map[icatapi.TypeName][]*icatapi.Entity
	tuples map[icatapi.TypeName]map[string]struct{}
	owned  map[*icatapi.Entity]bool
}

// Errors:
//
//   - icat-error-invalid -- when the path has an unknown dump format extension
//   - icat-error-io -- when the store file exists but cannot be read
//   - icat-error-serialization -- when the store file does not decode
//   - icat-error-unresolved-reference -- when the store file references
//     entities it does not contain
func openMem(ctx context.Context, addr string, reg *icatapi.Registry) (Catalog, error) {
	c := &memCatalog{
		reg:    reg,
		rows:   map[icatapi.TypeName][]*icatapi.Entity{},
		tuples: map[icatapi.TypeName]map[string]struct{}{},
		owned:  map[*icatapi.Entity]bool{},
	}
	if addr == "" {
		return c, nil
	}
	format, err := dumpfile.DetectFormat(addr)
	if err != nil {
		return nil, err
	}
	c.path = addr
	c.format = format
	if err := c.load(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// load replays the store file through the decoder.  The store itself
// backs the decoder as its remote resolver, so references to rows created
// earlier in the stream resolve even when the target rode in nested
// inside its owner and was never a keyed record.
func (c *memCatalog) load(ctx context.Context) error {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		// First open: the store starts empty and the file appears on Close.
		return nil
	}
	if err != nil {
		return icatapi.ErrorIo("opening catalog store", c.path, err)
	}
	defer f.Close()

	idx := icatapi.NewKeyIndex()
	dec := &dumpfile.Decoder{Registry: c.reg, Index: idx, Remote: c}
	r, err := dumpfile.NewReader(f, c.format, c.reg)
	if err != nil {
		return err
	}
	for r.Next() {
		cur := dumpfile.Records(r.Chunk(), dec)
		for cur.Next(ctx) {
			e := cur.Entity()
			if err := c.Create(ctx, e); err != nil {
				return err
			}
			idx.Register(cur.Key(), e)
		}
		if err := cur.Err(); err != nil {
			return err
		}
	}
	return r.Err()
}

// Search evaluates q over the store.  Includes are accepted and ignored:
// the memory catalog hands out live entities, which already carry their
// full graphs.  DISTINCT is a no-op for the same reason; any other
// aggregate belongs to Count.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog, aggregate other than DISTINCT,
//     or values a condition cannot compare
func (c *memCatalog) Search(ctx context.Context, q *query.Query) ([]*icatapi.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed()
	}
	if q.Aggregate != "" && q.Aggregate != "DISTINCT" {
		return nil, icatapi.ErrorInvalid(fmt.Sprintf("aggregate %q is not supported by Search", q.Aggregate))
	}
	res, err := c.filter(q)
	if err != nil {
		return nil, err
	}
	sortResults(res, q.Order)
	return applyLimit(res, q.Limit), nil
}

// Count returns how many entities match q.  COUNT and COUNT:DISTINCT both
// reduce to plain row counting here: rows are distinct objects and no
// projection happens.  Value aggregates (MIN, AVG, SUM) are not evaluated
// by this driver.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog, a value aggregate, or values a
//     condition cannot compare
func (c *memCatalog) Count(ctx context.Context, q *query.Query) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errClosed()
	}
	switch q.Aggregate {
	case "", "COUNT", "DISTINCT", "COUNT:DISTINCT":
	default:
		return 0, icatapi.ErrorInvalid(fmt.Sprintf("aggregate %q is not supported by the memory catalog", q.Aggregate))
	}
	res, err := c.filter(q)
	if err != nil {
		return 0, err
	}
	return int64(len(res)), nil
}

func (c *memCatalog) filter(q *query.Query) ([]*icatapi.Entity, error) {
	preds := compileConditions(q.Conditions)
	var res []*icatapi.Entity
	for _, e := range c.rows[q.Entity] {
		hit, err := matchAll(preds, e)
		if err != nil {
			return nil, err
		}
		if hit {
			res = append(res, e)
		}
	}
	return res, nil
}

// Get fetches one entity by its canonical unique key.  Session-local
// aliases (ordinal and duplicate-suffixed keys) are not addressable here;
// they mean nothing outside the stream that allocated them.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog or unparseable key
//   - icat-error-unknown-entity-type -- key names a type outside the registry
//   - icat-error-not-found -- nothing matches
func (c *memCatalog) Get(ctx context.Context, key string) (*icatapi.Entity, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errClosed()
	}
	tag, _, err := icatapi.ParseKey(key)
	if err != nil {
		return nil, err
	}
	if _, err := c.reg.Type(tag); err != nil {
		return nil, err
	}
	for _, cand := range c.rows[tag] {
		k, err := icatapi.ComputeKey(c.reg, cand, nil)
		if err != nil {
			// Rows that cannot produce a key cannot be addressed by one.
			continue
		}
		if k == key {
			return cand, nil
		}
	}
	return nil, icatapi.ErrorNotFound(key)
}

// Create persists e, assigning it the next identity.  Owned children in
// ToMany collections are created along with it, their parent reference
// filled in when the child type has exactly one to-one slot for the
// parent type.  The whole tree is validated before anything is stored, so
// a failed Create leaves no partial state.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog, nil or already-persisted
//     entity, unsupported value kinds, unpersisted reference targets, or
//     an owned child disagreeing with its parent
//   - icat-error-unknown-entity-type -- type not in the registry
//   - icat-error-unknown-field -- attrs or relations the schema does not declare
//   - icat-error-already-exists -- uniqueness constraint collision
func (c *memCatalog) Create(ctx context.Context, e *icatapi.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createAll([]*icatapi.Entity{e})
}

// CreateMany persists a batch in order with Create's semantics.  A batch
// may reference its own earlier elements; identities are assigned in
// batch order.
//
// Errors:
//
//   - icat-error-invalid -- as for Create
//   - icat-error-unknown-entity-type -- as for Create
//   - icat-error-unknown-field -- as for Create
//   - icat-error-already-exists -- as for Create, including collisions
//     between two elements of the batch
func (c *memCatalog) CreateMany(ctx context.Context, es []*icatapi.Entity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createAll(es)
}

func (c *memCatalog) createAll(es []*icatapi.Entity) error {
	if c.closed {
		return errClosed()
	}
	st := newStaging()
	for _, e := range es {
		if err := c.validateTree(e, st); err != nil {
			return err
		}
	}
	for _, e := range es {
		c.insertTree(e, false)
	}
	return nil
}

// DescribeType returns the schema entry the catalog runs against.
//
// Errors:
//
//   - icat-error-unknown-entity-type -- tag not in the registry
func (c *memCatalog) DescribeType(ctx context.Context, tag icatapi.TypeName) (*icatapi.TypeInfo, error) {
	return c.reg.Type(tag)
}

// Close shuts the catalog down.  A persistent store is written back
// first; closing twice is harmless.
//
// Errors:
//
//   - icat-error-invalid -- when a transaction is still open
//   - icat-error-io -- when the store file cannot be written
//   - icat-error-ambiguous-entity -- when a row cannot be given a dump key
func (c *memCatalog) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	if c.tx != nil {
		return icatapi.ErrorInvalid("catalog closed with an open transaction")
	}
	c.closed = true
	if c.path == "" {
		return nil
	}
	return c.save()
}

// Begin opens a transaction.  The memory catalog supports one at a time.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog or a transaction already open
func (c *memCatalog) Begin(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	if c.tx != nil {
		return icatapi.ErrorInvalid("a transaction is already open")
	}
	c.tx = &memTx{saved: c.snapshot()}
	return nil
}

// Commit keeps everything created since Begin.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog or no open transaction
func (c *memCatalog) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	if c.tx == nil {
		return icatapi.ErrorInvalid("no open transaction")
	}
	c.tx = nil
	return nil
}

// Rollback discards everything created since Begin.  Entities persisted
// during the transaction lose the identities they were assigned, so a
// retry can create them again.
//
// Errors:
//
//   - icat-error-invalid -- closed catalog or no open transaction
func (c *memCatalog) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClosed()
	}
	if c.tx == nil {
		return icatapi.ErrorInvalid("no open transaction")
	}
	c.nextID = c.tx.saved.nextID
	c.rows = c.tx.saved.rows
	c.tuples = c.tx.saved.tuples
	c.owned = c.tx.saved.owned
	for _, e := range c.tx.created {
		e.ID = 0
	}
	c.tx = nil
	return nil
}

// snapshot copies the store one level deep: the entity pointers stay
// shared, the membership structures do not.  That is exactly the set of
// things Create mutates.
func (c *memCatalog) snapshot() memSnapshot {
	s := memSnapshot{
		nextID: c.nextID,
		rows:   make(map[icatapi.TypeName][]*icatapi.Entity, len(c.rows)),
		tuples: make(map[icatapi.TypeName]map[string]struct{}, len(c.tuples)),
		owned:  make(map[*icatapi.Entity]bool, len(c.owned)),
	}
	for t, list := range c.rows {
		s.rows[t] = append([]*icatapi.Entity(nil), list...)
	}
	for t, set := range c.tuples {
		cp := make(map[string]struct{}, len(set))
		for k := range set {
			cp[k] = struct{}{}
		}
		s.tuples[t] = cp
	}
	for e, v := range c.owned {
		s.owned[e] = v
	}
	return s
}

// staging tracks what one create call has accepted so far, so validation
// sees siblings from the same batch: uniqueness collisions inside the
// batch, and references to entities that will be persisted by the time
// the referrer is stored.
type staging struct {
	tuples map[icatapi.TypeName]map[string]struct{}
	ents   map[*icatapi.Entity]struct{}
}

func newStaging() *staging {
	return &staging{
		tuples: map[icatapi.TypeName]map[string]struct{}{},
		ents:   map[*icatapi.Entity]struct{}{},
	}
}

func (st *staging) addTuple(t icatapi.TypeName, tuple string) {
	set := st.tuples[t]
	if set == nil {
		set = map[string]struct{}{}
		st.tuples[t] = set
	}
	set[tuple] = struct{}{}
}

func (st *staging) hasTuple(t icatapi.TypeName, tuple string) bool {
	_, ok := st.tuples[t][tuple]
	return ok
}

func (c *memCatalog) validateTree(e *icatapi.Entity, st *staging) error {
	if e == nil {
		return icatapi.ErrorInvalid("cannot create a nil entity")
	}
	if e.Persisted() {
		return icatapi.ErrorInvalid("entity already has an identity",
			[2]string{"type", string(e.Type)}, [2]string{"id", fmt.Sprintf("%d", e.ID)})
	}
	ti, err := c.reg.Type(e.Type)
	if err != nil {
		return err
	}
	for name, v := range e.Attrs {
		if _, ok := ti.Attr(name); !ok {
			return icatapi.ErrorUnknownField(e.Type, name)
		}
		nv, err := icatapi.NormalizeValue(v)
		if err != nil {
			return err
		}
		e.Attrs[name] = nv
	}
	for name, target := range e.ToOne {
		if _, ok := ti.ToOneRel(name); !ok {
			return icatapi.ErrorUnknownField(e.Type, name)
		}
		if target == nil {
			continue
		}
		if _, staged := st.ents[target]; !target.Persisted() && !staged {
			return icatapi.ErrorInvalid("reference target is not persisted",
				[2]string{"type", string(e.Type)}, [2]string{"field", name})
		}
	}
	if tuple, ok := constraintTuple(ti, e); ok {
		if _, dup := c.tuples[e.Type][tuple]; dup || st.hasTuple(e.Type, tuple) {
			return errDuplicate(c.reg, ti, e)
		}
		st.addTuple(e.Type, tuple)
	}
	st.ents[e] = struct{}{}
	for name, children := range e.ToMany {
		rel, ok := ti.ToManyRel(name)
		if !ok {
			return icatapi.ErrorUnknownField(e.Type, name)
		}
		backref, hasBack := backrefField(c.reg, rel.Target, e.Type)
		for _, child := range children {
			if child == nil {
				return icatapi.ErrorInvalid("owned child collection holds a nil entity",
					[2]string{"type", string(e.Type)}, [2]string{"field", name})
			}
			if child.Type != rel.Target {
				return icatapi.ErrorInvalid(
					fmt.Sprintf("owned child in %q must be a %q, not a %q", name, rel.Target, child.Type),
					[2]string{"type", string(e.Type)})
			}
			if hasBack {
				if t := child.ToOne[backref]; t == nil {
					child.SetOne(backref, e)
				} else if t != e {
					return icatapi.ErrorInvalid("owned child references a different parent",
						[2]string{"type", string(child.Type)}, [2]string{"field", backref})
				}
			}
			if err := c.validateTree(child, st); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertTree stores a validated tree: identities in batch order, children
// in declared relation order so repeated runs assign the same ids.
func (c *memCatalog) insertTree(e *icatapi.Entity, owned bool) {
	c.nextID++
	e.ID = c.nextID
	c.rows[e.Type] = append(c.rows[e.Type], e)
	if owned {
		c.owned[e] = true
	}
	if c.tx != nil {
		c.tx.created = append(c.tx.created, e)
	}
	ti, _ := c.reg.Type(e.Type) // validated by validateTree
	if tuple, ok := constraintTuple(ti, e); ok {
		set := c.tuples[e.Type]
		if set == nil {
			set = map[string]struct{}{}
			c.tuples[e.Type] = set
		}
		set[tuple] = struct{}{}
	}
	for _, rel := range ti.ToMany {
		for _, child := range e.ToMany[rel.Name] {
			c.insertTree(child, true)
		}
	}
}

// constraintTuple renders the values of e's uniqueness constraint as one
// comparable string.  To-one components use the identity of the target
// object itself, so the tuple works for staged targets that have no id
// yet.  Reports !ok when the type has no constraint or a component is
// unset; such rows are not subject to uniqueness enforcement.
func constraintTuple(ti *icatapi.TypeInfo, e *icatapi.Entity) (string, bool) {
	if len(ti.Constraint) == 0 {
		return "", false
	}
	var b strings.Builder
	for i, f := range ti.Constraint {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		if _, ok := ti.Attr(f); ok {
			v, ok := e.Attrs[f]
			if !ok {
				return "", false
			}
			b.WriteString(icatapi.FormatValue(v))
			continue
		}
		target := e.ToOne[f]
		if target == nil {
			return "", false
		}
		fmt.Fprintf(&b, "%p", target)
	}
	return b.String(), true
}

func errDuplicate(reg *icatapi.Registry, ti *icatapi.TypeInfo, e *icatapi.Entity) error {
	if k, err := icatapi.ComputeKey(reg, e, nil); err == nil {
		return icatapi.ErrorAlreadyExists(e.Type, k)
	}
	parts := make([]string, 0, len(ti.Constraint))
	for _, f := range ti.Constraint {
		if v, ok := e.Attrs[f]; ok {
			parts = append(parts, f+"="+icatapi.FormatValue(v))
		} else {
			parts = append(parts, f+"=?")
		}
	}
	return icatapi.ErrorAlreadyExists(e.Type, strings.Join(parts, "/"))
}

// backrefField finds the to-one slot on the child type that points back
// at the parent type.  Only an unambiguous slot counts: when several
// to-one relations target the parent type (a job's input and output data
// collections, for instance), the caller has to set the reference itself.
func backrefField(reg *icatapi.Registry, childType, parentType icatapi.TypeName) (string, bool) {
	ti, err := reg.Type(childType)
	if err != nil {
		return "", false
	}
	var found string
	n := 0
	for _, rel := range ti.ToOne {
		if rel.Target == parentType {
			found = rel.Name
			n++
		}
	}
	if n != 1 {
		return "", false
	}
	return found, true
}

// save renders the store as a single-chunk dump: every independent row of
// a dumpable type, in restore order, owned subtrees riding along inline.
func (c *memCatalog) save() error {
	f, err := os.Create(c.path)
	if err != nil {
		return icatapi.ErrorIo("creating catalog store", c.path, err)
	}
	w, err := dumpfile.NewWriter(f, c.format, c.reg)
	if err != nil {
		f.Close()
		return err
	}
	if err := c.writeRows(w); err != nil {
		f.Close()
		return err
	}
	if err := w.Finalize(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return icatapi.ErrorIo("writing catalog store", c.path, err)
	}
	return nil
}

func (c *memCatalog) writeRows(w *dumpfile.Writer) error {
	head := icatapi.NewDumpHead("icat-mem", c.reg.Version())
	apiVersion := c.reg.Version()
	head.ApiVersion = &apiVersion
	if err := w.Head(head); err != nil {
		return err
	}
	if err := w.StartChunk(); err != nil {
		return err
	}
	ka := dumpfile.NewKeyAllocator(c.reg, nil)
	for _, tag := range c.reg.Order() {
		for _, e := range c.rows[tag] {
			if c.owned[e] {
				continue
			}
			key, err := ka.Alias(e)
			if err != nil {
				return err
			}
			if err := w.Add(tag, key, e, ka.Index()); err != nil {
				return err
			}
		}
	}
	return nil
}

func errClosed() error {
	return icatapi.ErrorInvalid("catalog is closed")
}
