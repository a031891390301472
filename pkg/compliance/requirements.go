package compliance

import (
	"context"
	"fmt"
	"slices"

	"mercator-hq/nimbus/pkg/config"
)

// requirement is a named custom check. Declarative requirements and
// registered validators share this shape.
type requirement struct {
	name  string
	check func(ctx context.Context, e *evaluation) (bool, error)
}

// fromValidator adapts a registered Validator.
func fromValidator(name string, v Validator) requirement {
	return requirement{
		name: name,
		check: func(ctx context.Context, e *evaluation) (bool, error) {
			return v(ctx, e.req)
		},
	}
}

// fromConfig builds a requirement from its declarative form.
func fromConfig(rc config.RequirementConfig) (requirement, error) {
	r := requirement{name: rc.Name}
	switch rc.Type {
	case config.RequirementMaxRetention:
		limit := rc.MaxRetention
		r.check = func(_ context.Context, e *evaluation) (bool, error) {
			if !e.tierKnown {
				return false, config.NewUnknownTierError(e.req.Tier)
			}
			return e.tier.RetentionDuration() <= limit, nil
		}
	case config.RequirementAllowedMethods:
		methods := slices.Clone(rc.Methods)
		r.check = func(_ context.Context, e *evaluation) (bool, error) {
			return slices.Contains(methods, string(e.req.Method)), nil
		}
	case config.RequirementMinPasses:
		minPasses := rc.MinPasses
		r.check = func(_ context.Context, e *evaluation) (bool, error) {
			return e.passes() >= minPasses, nil
		}
	case config.RequirementMinAuditLevel:
		minRank := config.AuditLevelRank(rc.MinAuditLevel)
		r.check = func(_ context.Context, e *evaluation) (bool, error) {
			return config.AuditLevelRank(e.auditLevel()) >= minRank, nil
		}
	case config.RequirementRequireHSM:
		r.check = func(_ context.Context, e *evaluation) (bool, error) {
			return e.hsmBacked(), nil
		}
	default:
		return requirement{}, fmt.Errorf("unsupported requirement type %q", rc.Type)
	}
	return r, nil
}

// evaluate runs the requirement. Errors and panics fail it.
func (r requirement) evaluate(ctx context.Context, e *evaluation) (res Result) {
	framework := "custom_" + r.name
	defer func() {
		if p := recover(); p != nil {
			res = Result{
				Framework: framework,
				Checks:    map[string]bool{r.name: false},
				Reason:    fmt.Sprintf("custom validation panicked: %v", p),
			}
		}
	}()

	ok, err := r.check(ctx, e)
	switch {
	case err != nil:
		return Result{
			Framework: framework,
			Checks:    map[string]bool{r.name: false},
			Reason:    fmt.Sprintf("custom validation error: %v", err),
		}
	case ok:
		return Result{
			Framework: framework,
			Approved:  true,
			Checks:    map[string]bool{r.name: true},
			Reason:    fmt.Sprintf("custom requirement %s satisfied", r.name),
		}
	default:
		return Result{
			Framework: framework,
			Checks:    map[string]bool{r.name: false},
			Reason:    fmt.Sprintf("custom requirement %s failed", r.name),
		}
	}
}
