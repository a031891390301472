// Package events turns deletion outcomes into lifecycle events and fans
// them out to observers.
//
// LogObserver writes one structured log line per outcome. PubSubPublisher
// publishes the JSON form of each event to a Google Cloud Pub/Sub topic
// with the event type, tier and object id as message attributes. Multi
// combines observers.
//
// Publishing is best effort: a failed publish is logged and counted but
// never affects the deletion it describes. The audit log remains the
// system of record.
package events
