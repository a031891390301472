package compliance

import (
	"context"
	"time"
)

// Method identifies what triggered a deletion.
type Method string

const (
	// MethodAutomatic is a scheduled retention deletion.
	MethodAutomatic Method = "automatic"

	// MethodManual is an operator-initiated deletion.
	MethodManual Method = "manual"

	// MethodExternalSignal is a deletion triggered by an upstream
	// processing-complete signal.
	MethodExternalSignal Method = "external_signal"

	// MethodPolicyTrigger is a deletion triggered by a policy rule.
	MethodPolicyTrigger Method = "policy_trigger"

	// MethodUserRequest is a data-subject erasure request.
	MethodUserRequest Method = "user_request"
)

// Request describes the deletion being evaluated.
type Request struct {
	ObjectID string `json:"objectId"`
	Tier     string `json:"tier"`
	Method   Method `json:"method"`
}

// Result is the outcome of one framework or requirement.
type Result struct {
	// Framework is the framework name, or "custom_<name>" for requirements
	// and validators.
	Framework string `json:"framework"`

	// Approved is true when every check passed.
	Approved bool `json:"approved"`

	// Checks maps each check name to its outcome.
	Checks map[string]bool `json:"checks"`

	// Reason is a human-readable summary.
	Reason string `json:"reason"`
}

// Failed returns the names of failed checks in sorted order.
func (r Result) Failed() []string {
	return failedChecks(r.Checks)
}

// Decision is the gate's verdict for one request.
type Decision struct {
	Approved     bool      `json:"approved"`
	Results      []Result  `json:"results"`
	ApprovalHash string    `json:"approvalHash"`
	Reason       string    `json:"reason"`
	EvaluatedAt  time.Time `json:"evaluatedAt"`
}

// Frameworks returns the framework names of every result.
func (d *Decision) Frameworks() []string {
	names := make([]string, 0, len(d.Results))
	for _, r := range d.Results {
		names = append(names, r.Framework)
	}
	return names
}

// Failing returns the framework names of every rejected result.
func (d *Decision) Failing() []string {
	var names []string
	for _, r := range d.Results {
		if !r.Approved {
			names = append(names, r.Framework)
		}
	}
	return names
}

// Validator is a custom requirement. Returning an error fails the
// requirement.
type Validator func(ctx context.Context, req Request) (bool, error)
