package tracing

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys used by the icat tools
const (
	AttrKeyIcatErrorCode  = "icat.error.code"
	AttrKeyIcatServiceUrl = "icat.service.url"
	AttrKeyIcatDumpFormat = "icat.dump.format"
	AttrKeyIcatChunkIndex = "icat.chunk.index"
	AttrKeyIcatChunkCid   = "icat.chunk.cid"
	AttrKeyIcatEntityType = "icat.entity.type"
	AttrKeyIcatEntityKey  = "icat.entity.key"
	AttrKeyIcatMirrorName = "icat.mirror.name"
)

// Attribute values
const (
	AttrValueDumpFormatJson = "json"
	AttrValueDumpFormatYaml = "yaml"
)

// Enumerated attributes
var (
	AttrFullDumpFormatJson = attribute.String(AttrKeyIcatDumpFormat, AttrValueDumpFormatJson)
	AttrFullDumpFormatYaml = attribute.String(AttrKeyIcatDumpFormat, AttrValueDumpFormatYaml)
)
