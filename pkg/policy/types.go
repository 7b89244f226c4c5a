// Package policy evaluates Rego guardrails against operation definitions
// before the executor runs them. Violations of severity error or critical
// block execution; warnings are logged and let the operation proceed.
package policy

import (
	"time"
)

// Severity ranks how a violation affects the verdict.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity deny execution.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is one named Rego rule set.
type Policy struct {
	// Name is the unique policy name.
	Name string `json:"name"`

	// Description is a human-readable summary.
	Description string `json:"description"`

	// Rego is the policy source. It must expose a `deny` set whose
	// members are strings or objects with message/severity fields.
	Rego string `json:"rego"`

	// Severity applies to violations that don't declare their own.
	Severity Severity `json:"severity"`

	// Enabled policies participate in evaluation.
	Enabled bool `json:"enabled"`
}

// Violation is one denied rule from one policy.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

// Result is the verdict of evaluating all enabled policies.
type Result struct {
	// Allowed is false when any blocking violation fired.
	Allowed bool `json:"allowed"`

	Violations  []Violation `json:"violations,omitempty"`
	EvaluatedAt time.Time   `json:"evaluated_at"`
}

// Warnings returns the non-blocking violations.
func (r *Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if !v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}

// Blocking returns the violations that denied execution.
func (r *Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			out = append(out, v)
		}
	}
	return out
}
