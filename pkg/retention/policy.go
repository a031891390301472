package retention

import (
	"time"

	"mercator-hq/nimbus/pkg/config"
	"mercator-hq/nimbus/pkg/queue"
)

// UnknownTierError is returned for tiers missing from the configuration.
// It matches config.ErrUnknownTier.
type UnknownTierError = config.UnknownTierError

// Policy is the retention applied to one object.
type Policy struct {
	ObjectID        string
	Tier            string
	Retention       time.Duration
	OverwritePasses int
	AuditRequired   bool
	Priority        queue.Priority

	// DeleteAt and JobID are set once the deletion is scheduled.
	DeleteAt time.Time
	JobID    string
}

// highPriorityRetention is the retention at or below which jobs run with
// high priority.
const highPriorityRetention = time.Hour

// PriorityFor returns the job priority for a tier.
func PriorityFor(tier config.TierConfig) queue.Priority {
	switch {
	case tier.HasFeature(config.FeatureImmediatePostSignalDeletion):
		return queue.PriorityCritical
	case tier.HasFeature(config.FeaturePriorityProcessing),
		tier.RetentionDuration() <= highPriorityRetention:
		return queue.PriorityHigh
	default:
		return queue.PriorityNormal
	}
}
