package icatapi

import (
	"github.com/ipld/go-ipld-prime/schema"
)

func init() {
	TypeSystem.Accumulate(schema.SpawnString("MirrorName"))
	TypeSystem.Accumulate(schema.SpawnStruct("S3Push",
		[]schema.StructField{
			schema.SpawnStructField("endpoint", "String", false, false),
			schema.SpawnStructField("region", "String", false, false),
			schema.SpawnStructField("bucket", "String", false, false),
			schema.SpawnStructField("prefix", "String", true, false),
		},
		schema.SpawnStructRepresentationMap(nil)))
	TypeSystem.Accumulate(schema.SpawnStruct("MockPush",
		[]schema.StructField{},
		schema.SpawnStructRepresentationMap(nil)))
	TypeSystem.Accumulate(schema.SpawnUnion("PushTarget",
		[]schema.TypeName{"S3Push", "MockPush"},
		schema.SpawnUnionRepresentationKeyed(map[string]schema.TypeName{
			"s3":   "S3Push",
			"mock": "MockPush",
		})))
	TypeSystem.Accumulate(schema.SpawnStruct("Mirror",
		[]schema.StructField{
			schema.SpawnStructField("push", "PushTarget", false, false),
		},
		schema.SpawnStructRepresentationMap(nil)))
	TypeSystem.Accumulate(schema.SpawnMap("MirrorConfig", "MirrorName", "Mirror", false))
	TypeSystem.Accumulate(schema.SpawnUnion("MirrorConfigCapsule",
		[]schema.TypeName{"MirrorConfig"},
		schema.SpawnUnionRepresentationKeyed(map[string]schema.TypeName{
			"mirrorconfig.v1": "MirrorConfig",
		})))
}

// MirrorName labels one configured mirror destination.
type MirrorName string

// MirrorConfig maps mirror names to their push targets, in declaration
// order.
type MirrorConfig struct {
	Keys   []MirrorName
	Values map[MirrorName]Mirror
}

type Mirror struct {
	Push PushTarget
}

// PushTarget is a keyed union of the supported destination kinds.
type PushTarget struct {
	S3   *S3Push
	Mock *MockPush
}

type S3Push struct {
	Endpoint string
	Region   string
	Bucket   string
	Prefix   *string
}

type MockPush struct {
}

type MirrorConfigCapsule struct {
	MirrorConfig *MirrorConfig
}
