package tracing

import (
	"fmt"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"mercator-hq/nimbus/pkg/config"
)

// newSampler returns the sampler for strategy wrapped in ParentBased, so a
// propagated sampling decision always wins.
func newSampler(strategy string, ratio float64) (sdktrace.Sampler, error) {
	var base sdktrace.Sampler
	switch strategy {
	case config.SamplerAlways, "":
		base = sdktrace.AlwaysSample()
	case config.SamplerNever:
		base = sdktrace.NeverSample()
	case config.SamplerRatio:
		if ratio < 0 || ratio > 1 {
			return nil, fmt.Errorf("sample ratio must be between 0 and 1, got %g", ratio)
		}
		base = sdktrace.TraceIDRatioBased(ratio)
	default:
		return nil, fmt.Errorf("unknown sampler %q", strategy)
	}
	return sdktrace.ParentBased(base), nil
}
