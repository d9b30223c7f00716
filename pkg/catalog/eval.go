package catalog

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/facette/natsort"

	"github.com/icatools/icat/icatapi"
	"github.com/icatools/icat/pkg/query"
)

// In-memory evaluation of structured queries.  Conditions compose by AND;
// an absent value (unset attribute, nil link anywhere on the path) fails
// every predicate rather than erroring, which is how NULL behaves in the
// query language the live service speaks.

type predicate func(e *icatapi.Entity) (bool, error)

// compileConditions turns a query's conditions into predicate closures,
// hoisting the regexp compilation for LIKE patterns out of the per-row loop.
func compileConditions(conds []query.Condition) []predicate {
	preds := make([]predicate, 0, len(conds))
	for _, cond := range conds {
		cond := cond
		if cond.Op == "LIKE" {
			pat, ok := cond.Value.(string)
			if !ok {
				preds = append(preds, func(*icatapi.Entity) (bool, error) {
					return false, icatapi.ErrorInvalid("LIKE requires a string pattern", [2]string{"attr", cond.Attr})
				})
				continue
			}
			re := likePattern(pat)
			preds = append(preds, func(e *icatapi.Entity) (bool, error) {
				v, ok := fieldValue(e, cond.Attr)
				if !ok {
					return false, nil
				}
				s, ok := v.(string)
				return ok && re.MatchString(s), nil
			})
			continue
		}
		preds = append(preds, func(e *icatapi.Entity) (bool, error) {
			v, ok := fieldValue(e, cond.Attr)
			if !ok {
				return false, nil
			}
			return compare(v, cond.Op, cond.Value)
		})
	}
	return preds
}

func matchAll(preds []predicate, e *icatapi.Entity) (bool, error) {
	for _, p := range preds {
		hit, err := p(e)
		if err != nil || !hit {
			return false, err
		}
	}
	return true, nil
}

// fieldValue walks a dotted condition path over to-one relations and
// returns the terminal value.  "id" reads the identity.
func fieldValue(e *icatapi.Entity, path string) (interface{}, bool) {
	cur := e
	rest := path
	for {
		name, tail, more := strings.Cut(rest, ".")
		if !more {
			if name == "id" {
				return cur.ID, true
			}
			v, ok := cur.Attrs[name]
			return v, ok
		}
		next := cur.ToOne[name]
		if next == nil {
			return nil, false
		}
		cur = next
		rest = tail
	}
}

// likePattern translates a LIKE pattern into an anchored regexp:
// % matches any run, _ any single character, everything else is literal.
func likePattern(pattern string) *regexp.Regexp {
	expr := regexp.QuoteMeta(pattern)
	expr = strings.ReplaceAll(expr, "%", ".*")
	expr = strings.ReplaceAll(expr, "_", ".")
	return regexp.MustCompile(`(?s)^` + expr + `$`)
}

// compare applies a vetted non-LIKE operator to an entity value and a
// condition literal.
//
// Errors:
//
//   - icat-error-invalid -- when the two values cannot be order-compared
func compare(a interface{}, op string, b interface{}) (bool, error) {
	switch op {
	case "=":
		return valuesEqual(a, b), nil
	case "!=":
		return !valuesEqual(a, b), nil
	}
	c, err := orderCompare(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case "<":
		return c < 0, nil
	case "<=":
		return c <= 0, nil
	case ">":
		return c > 0, nil
	case ">=":
		return c >= 0, nil
	}
	// query.Where vets operators before a condition reaches a driver.
	panic("catalog: unreachable condition operator " + op)
}

// valuesEqual compares across the normalized value kinds; integers and
// floats cross-compare numerically, anything else must match kinds.
func valuesEqual(a, b interface{}) bool {
	switch av := a.(type) {
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case int64:
		switch bv := b.(type) {
		case int64:
			return av == bv
		case float64:
			return float64(av) == bv
		}
		return false
	case float64:
		switch bv := b.(type) {
		case int64:
			return av == float64(bv)
		case float64:
			return av == bv
		}
		return false
	default:
		return a == b
	}
}

// orderCompare returns -1/0/1 for values that have an order: numbers,
// strings (lexicographic, as the service collates), timestamps.
//
// Errors:
//
//   - icat-error-invalid -- booleans and mismatched kinds have no order
func orderCompare(a, b interface{}) (int, error) {
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			}
			return 0, nil
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), nil
		}
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			switch {
			case av.Before(bv):
				return -1, nil
			case av.After(bv):
				return 1, nil
			}
			return 0, nil
		}
	}
	return 0, icatapi.ErrorInvalid(fmt.Sprintf("cannot order-compare %T and %T values", a, b))
}

func toFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

// sortResults orders res by the query's ORDER BY items.  Strings compare
// naturally ("ds-2" before "ds-10") to match how dumps order children;
// rows equal under every item fall back to identity order, so results are
// stable and driver-independent.  Absent values sort first.
func sortResults(res []*icatapi.Entity, order []query.OrderItem) {
	sort.SliceStable(res, func(i, j int) bool {
		a, b := res[i], res[j]
		for _, item := range order {
			av, aok := fieldValue(a, item.Attr)
			bv, bok := fieldValue(b, item.Attr)
			var c int
			switch {
			case !aok && !bok:
				c = 0
			case !aok:
				c = -1
			case !bok:
				c = 1
			default:
				c = naturalCompare(av, bv)
			}
			if item.Desc {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return a.ID < b.ID
	})
}

// naturalCompare orders two attribute values of the same kind; mismatched
// kinds fall back to their canonical string forms.
func naturalCompare(a, b interface{}) int {
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return natCompare(as, bs)
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	if at, ok := a.(time.Time); ok {
		if bt, ok := b.(time.Time); ok {
			switch {
			case at.Before(bt):
				return -1
			case at.After(bt):
				return 1
			}
			return 0
		}
	}
	if ab, ok := a.(bool); ok {
		if bb, ok := b.(bool); ok {
			switch {
			case !ab && bb:
				return -1
			case ab && !bb:
				return 1
			}
			return 0
		}
	}
	return natCompare(icatapi.FormatValue(a), icatapi.FormatValue(b))
}

func natCompare(a, b string) int {
	switch {
	case natsort.Compare(a, b):
		return -1
	case natsort.Compare(b, a):
		return 1
	}
	return 0
}

// applyLimit cuts the window a LIMIT clause selects.  Skip past the end
// yields nothing; a zero count is an empty window, as in SQL.
func applyLimit(res []*icatapi.Entity, l *query.Limit) []*icatapi.Entity {
	if l == nil {
		return res
	}
	start := l.Skip
	if start < 0 {
		start = 0
	}
	if start >= int64(len(res)) || l.Count <= 0 {
		return nil
	}
	end := start + l.Count
	if end > int64(len(res)) {
		end = int64(len(res))
	}
	return res[start:end]
}
