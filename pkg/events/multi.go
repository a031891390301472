package events

import (
	"context"

	"mercator-hq/nimbus/pkg/deletion"
)

// Multi delivers each outcome to every observer in order.
type Multi []deletion.Observer

// Observe implements deletion.Observer.
func (m Multi) Observe(ctx context.Context, o deletion.Outcome) {
	for _, obs := range m {
		if obs != nil {
			obs.Observe(ctx, o)
		}
	}
}
