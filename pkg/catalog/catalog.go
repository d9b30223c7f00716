// Package catalog is the seam between the serialization engine and an
// actual metadata catalogue.  The Catalog interface is everything the
// dump and restore orchestrators need from a backend; drivers register
// themselves under a URL scheme and Open dispatches on it.
//
// The in-tree driver is "mem:", an in-memory catalog that enforces the
// contracts a live service would (identity assignment, uniqueness
// constraints, referential checks) and optionally persists itself through
// a dump file.  Remote transports plug in through the same registry.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/query"
)

// Catalog is one open connection to an entity store.
//
// Implementations are expected to be safe for concurrent use.  Entities
// returned by Search and Get may be live backend state; callers treat
// them as read-only.
type Catalog interface {
	// Search returns the entities matching q, ordered and windowed as the
	// query asks.
	//
	// Errors:
	//
	//   - icat-error-invalid -- when the query carries an aggregate or
	//     comparison the driver cannot evaluate
	//   - icat-error-io -- when the backend cannot be reached
	Search(ctx context.Context, q *query.Query) ([]*icatapi.Entity, error)

	// Count returns how many entities match q, without materializing them.
	//
	// Errors:
	//
	//   - icat-error-invalid -- when the query carries a value aggregate
	//   - icat-error-io -- when the backend cannot be reached
	Count(ctx context.Context, q *query.Query) (int64, error)

	// Get fetches one entity by its canonical unique key.
	//
	// Errors:
	//
	//   - icat-error-invalid -- when the key does not parse
	//   - icat-error-unknown-entity-type -- when the key names a type
	//     outside the registry
	//   - icat-error-not-found -- when nothing matches
	//   - icat-error-io -- when the backend cannot be reached
	Get(ctx context.Context, key string) (*icatapi.Entity, error)

	// Create persists e and assigns its identity.  Owned children ride
	// along; referenced entities must already be persisted.
	//
	// Errors:
	//
	//   - icat-error-invalid -- when the entity (or an owned child) is
	//     malformed or references unpersisted entities
	//   - icat-error-unknown-entity-type -- when a type is not in the registry
	//   - icat-error-unknown-field -- when a field is not declared
	//   - icat-error-already-exists -- on a uniqueness constraint collision
	//   - icat-error-io -- when the backend cannot be reached
	Create(ctx context.Context, e *icatapi.Entity) error

	// CreateMany persists a batch in order, with the same semantics as
	// Create for each element.
	//
	// Errors:
	//
	//   - icat-error-invalid -- when an entity is malformed or references
	//     unpersisted entities
	//   - icat-error-unknown-entity-type -- when a type is not in the registry
	//   - icat-error-unknown-field -- when a field is not declared
	//   - icat-error-already-exists -- on a uniqueness constraint collision
	//   - icat-error-io -- when the backend cannot be reached
	CreateMany(ctx context.Context, es []*icatapi.Entity) error

	// DescribeType returns the schema entry the catalog uses for tag.
	//
	// Errors:
	//
	//   - icat-error-unknown-entity-type -- when tag is not in the registry
	DescribeType(ctx context.Context, tag icatapi.TypeName) (*icatapi.TypeInfo, error)

	// Close releases the connection.  Closing twice is harmless.
	//
	// Errors:
	//
	//   - icat-error-invalid -- when the catalog is in a state that cannot
	//     be shut down cleanly
	//   - icat-error-io -- when final writes fail
	Close() error
}

// Transactional is implemented by catalogs that can scope creations into
// atomic units.  The restore engine type-asserts for it and makes each
// dump chunk all-or-nothing when it is there.
type Transactional interface {
	// Errors:
	//
	//   - icat-error-invalid -- when a transaction is already open
	//   - icat-error-io -- when the backend cannot be reached
	Begin(ctx context.Context) error
	// Errors:
	//
	//   - icat-error-invalid -- when no transaction is open
	//   - icat-error-io -- when the backend cannot be reached
	Commit(ctx context.Context) error
	// Errors:
	//
	//   - icat-error-invalid -- when no transaction is open
	//   - icat-error-io -- when the backend cannot be reached
	Rollback(ctx context.Context) error
}

// An OpenFunc opens a catalog given the address part of its URL
// (everything after the scheme separator) and the schema registry the
// session runs against.
type OpenFunc func(ctx context.Context, addr string, reg *icatapi.Registry) (Catalog, error)

var (
	driversMu sync.Mutex
	drivers   = map[string]OpenFunc{}
)

// Register makes a catalog driver available to Open under a URL scheme.
// Drivers call this from init; registering the same scheme twice panics.
func Register(scheme string, open OpenFunc) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if scheme == "" || open == nil {
		panic("catalog: Register needs a scheme and an open function")
	}
	if _, dup := drivers[scheme]; dup {
		panic("catalog: Register called twice for scheme " + scheme)
	}
	drivers[scheme] = open
}

// Open connects to the catalog named by url, dispatching on its scheme
// ("mem:", "mem:snapshot.yaml", ...).  version selects the schema variant
// the session speaks; empty means icatapi.SchemaVersionDefault.
//
// Errors:
//
//   - icat-error-invalid -- when the url has no scheme, no driver claims
//     the scheme, or the schema version is unknown
//   - icat-error-io -- when the driver cannot reach or load its store
//   - icat-error-serialization -- when a persistent store holds data that
//     does not decode
//   - icat-error-unresolved-reference -- when a persistent store references
//     entities it does not contain
func Open(ctx context.Context, url string, version string) (Catalog, error) {
	scheme, addr, found := strings.Cut(url, ":")
	if !found || scheme == "" {
		return nil, icatapi.ErrorInvalid("catalog url needs a scheme", [2]string{"url", url})
	}
	if version == "" {
		version = icatapi.SchemaVersionDefault
	}
	reg, err := icatapi.NewRegistry(version)
	if err != nil {
		return nil, err
	}
	driversMu.Lock()
	open := drivers[scheme]
	driversMu.Unlock()
	if open == nil {
		return nil, icatapi.ErrorInvalid(fmt.Sprintf("no catalog driver for scheme %q", scheme), [2]string{"url", url})
	}
	return open(ctx, addr, reg)
}

// Resolve looks up a unique key, consulting the session index before the
// catalog.  A catalog hit is registered in the index, so later references
// to the same key resolve to the same entity without another round trip.
//
// Errors:
//
//   - icat-error-unresolved-reference -- when the index misses and the
//     catalog finds nothing, or no catalog is available
func Resolve(ctx context.Context, cat Catalog, idx *icatapi.KeyIndex, key string) (*icatapi.Entity, error) {
	if idx != nil {
		if e, ok := idx.Lookup(key); ok {
			return e, nil
		}
	}
	if cat == nil {
		return nil, icatapi.ErrorUnresolvedReference(key, nil)
	}
	e, err := cat.Get(ctx, key)
	if err != nil {
		return nil, icatapi.ErrorUnresolvedReference(key, err)
	}
	if idx != nil {
		idx.Register(key, e)
	}
	return e, nil
}

// AssertedSearch runs q and checks the result count against [min, max];
// max < 0 means unbounded above.  The rendered search expression rides
// along in the assertion error, so a failed expectation names the query
// that missed.
//
// Errors:
//
//   - icat-error-search-assertion -- when the result count is out of bounds
//   - icat-error-invalid -- when the driver rejects the query
//   - icat-error-io -- when the backend cannot be reached
func AssertedSearch(ctx context.Context, cat Catalog, q *query.Query, min, max int) ([]*icatapi.Entity, error) {
	res, err := cat.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(res) < min || (max >= 0 && len(res) > max) {
		return nil, icatapi.ErrorSearchAssertion(q.String(), wantBounds(min, max), len(res))
	}
	return res, nil
}

func wantBounds(min, max int) string {
	switch {
	case max < 0:
		return fmt.Sprintf("at least %d", min)
	case min == max:
		return fmt.Sprintf("exactly %d", min)
	default:
		return fmt.Sprintf("between %d and %d", min, max)
	}
}
