package icatapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/ipld/go-ipld-prime/schema"
)

func init() {
	TypeSystem.Accumulate(schema.SpawnStruct("DumpHead",
		[]schema.StructField{
			schema.SpawnStructField("generator", "String", false, false),
			schema.SpawnStructField("version", "String", false, false),
			schema.SpawnStructField("uuid", "String", false, false),
			schema.SpawnStructField("date", "String", false, false),
			schema.SpawnStructField("service", "String", true, false),
			schema.SpawnStructField("apiVersion", "String", true, false),
		},
		schema.SpawnStructRepresentationMap(nil)))
	TypeSystem.Accumulate(schema.SpawnUnion("DumpHeadCapsule",
		[]schema.TypeName{"DumpHead"},
		schema.SpawnUnionRepresentationKeyed(map[string]schema.TypeName{
			"head.v1": "DumpHead",
		})))
}

// DumpHead records the provenance of a dump stream: what produced it,
// when, and from where.  It is informational only; readers skip over it
// without acting on any of its fields.
type DumpHead struct {
	Generator  string
	Version    string
	Uuid       string
	Date       string // RFC3339, UTC
	Service    *string
	ApiVersion *string
}

// DumpHeadCapsule is the keyed envelope a head travels in, so that a
// stream's first document declares its own vocabulary version.
type DumpHeadCapsule struct {
	DumpHead *DumpHead
}

// NewDumpHead stamps a head with a fresh uuid and the current UTC time.
// Service and ApiVersion start empty; callers that talked to a live
// catalogue fill them in.
func NewDumpHead(generator string, version string) DumpHead {
	return DumpHead{
		Generator: generator,
		Version:   version,
		Uuid:      uuid.New().String(),
		Date:      time.Now().UTC().Format(time.RFC3339),
	}
}

// HeadDateFormat is the human-facing timestamp layout used where a head
// is rendered as comment text rather than as a capsule document.
const HeadDateFormat = "Mon, 02 Jan 2006 15:04:05 -0700"

// CommentDate renders the head's date in HeadDateFormat, falling back to
// the raw field when it does not parse as RFC3339.
func (h *DumpHead) CommentDate() string {
	t, err := time.Parse(time.RFC3339, h.Date)
	if err != nil {
		return h.Date
	}
	return t.UTC().Format(HeadDateFormat)
}
