package tracing

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys.
const (
	AttrObjectID   = attribute.Key("nimbus.object_id")
	AttrTier       = attribute.Key("nimbus.tier")
	AttrJobID      = attribute.Key("nimbus.job_id")
	AttrMethod     = attribute.Key("nimbus.deletion.method")
	AttrReason     = attribute.Key("nimbus.deletion.reason")
	AttrPass       = attribute.Key("nimbus.deletion.pass")
	AttrPattern    = attribute.Key("nimbus.deletion.pattern")
	AttrBytes      = attribute.Key("nimbus.bytes")
	AttrVerified   = attribute.Key("nimbus.deletion.verified")
	AttrAbsent     = attribute.Key("nimbus.deletion.already_absent")
	AttrRetryCount = attribute.Key("nimbus.retry_count")
)

// Object returns the attributes identifying an object.
func Object(objectID, tier string) []attribute.KeyValue {
	return []attribute.KeyValue{AttrObjectID.String(objectID), AttrTier.String(tier)}
}
