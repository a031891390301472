// Package compliance implements the gate every destructive action passes
// before it touches an object.
//
// The gate evaluates each configured regulatory framework as a table of
// named boolean checks derived from the running configuration, then every
// declarative requirement from compliance.requirements, then every custom
// Validator registered with AddValidator. A deletion is approved only when
// every result is approved.
//
// # Frameworks
//
// Known frameworks are HIPAA, GDPR, NIST-800-53, FedRAMP-High and DoD-8570.
// Any other name is accepted and approved with the single check
// {"custom": true}. Frameworks listed under a tier's frameworks key are
// evaluated in addition to the global list for objects in that tier.
//
// # Approval hash
//
// Decision.ApprovalHash is the SHA-256 of the JSON encoding of
// [{framework, approved, checks}]. It carries no timestamp, so the same
// configuration and request always produce the same hash.
//
// # Usage
//
//	gate := compliance.NewGate(cfg, compliance.Options{Metrics: collector})
//	gate.AddValidator("legal_hold", func(ctx context.Context, req compliance.Request) (bool, error) {
//	    return !holds.Contains(req.ObjectID), nil
//	})
//
//	decision, err := gate.ValidateDeletion(ctx, objectID, tier, compliance.MethodAutomatic)
//	if err != nil {
//	    return err
//	}
//	if !decision.Approved {
//	    return compliance.NewBlockedError(decision)
//	}
package compliance
