package query

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/icatools/icat/icatapi"
)

// String renders the JPQL-style search expression the catalogue service
// speaks.  Conditions sort by attribute path and includes sort
// lexically, so equal queries render equal text.
func (q *Query) String() string {
	res := "o"
	if q.Aggregate != "" {
		fcts := strings.Split(q.Aggregate, ":")
		for i := len(fcts) - 1; i >= 0; i-- {
			res = fcts[i] + "(" + res + ")"
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s o", res, q.typ.Bean)
	if len(q.Conditions) > 0 {
		b.WriteString(" WHERE ")
		for i, c := range q.sortedConditions() {
			if i > 0 {
				b.WriteString(" AND ")
			}
			fmt.Fprintf(&b, "o.%s %s %s", c.Attr, c.Op, Literal(c.Value))
		}
	}
	if len(q.Order) > 0 {
		b.WriteString(" ORDER BY ")
		for i, o := range q.Order {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("o." + o.Attr)
			if o.Desc {
				b.WriteString(" DESC")
			}
		}
	}
	if len(q.Includes) > 0 {
		incl := append([]string(nil), q.Includes...)
		sort.Strings(incl)
		b.WriteString(" INCLUDE ")
		for i, p := range incl {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("o." + p)
		}
	}
	if q.Limit != nil {
		fmt.Fprintf(&b, " LIMIT %d, %d", q.Limit.Skip, q.Limit.Count)
	}
	return b.String()
}

// Literal renders a normalized attribute value as a JPQL literal.
// Strings quote with doubled embedded quotes; timestamps use the JDBC
// escape form in UTC.
func Literal(v interface{}) string {
	switch v := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(v, "'", "''") + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case time.Time:
		return "{ts '" + v.UTC().Format("2006-01-02 15:04:05") + "'}"
	default:
		return icatapi.FormatValue(v)
	}
}
