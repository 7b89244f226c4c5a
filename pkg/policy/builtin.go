package policy

// BuiltinPolicies returns the guardrails shipped with the toolkit. They
// evaluate the projected operation document (input.operation) and, when
// the target is known, the cached resource row (input.resource).
func BuiltinPolicies() []Policy {
	return []Policy{
		requireRollbackPolicy(),
		requireTimeoutPolicy(),
		protectUnmanagedPolicy(),
		secretDefaultsPolicy(),
	}
}

// requireRollbackPolicy denies mutating operations with no rollback steps.
func requireRollbackPolicy() Policy {
	return Policy{
		Name:        "require-rollback",
		Description: "Mutating and destroy operations must declare rollback steps",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package azkit.policies.rollback

import rego.v1

mutating_types := ["mutate", "destroy"]

deny contains violation if {
	some t in mutating_types
	input.operation.type == t
	input.operation.rollback_steps == 0
	violation := {
		"message": sprintf("operation %s is %s but declares no rollback steps", [input.operation.id, t]),
		"severity": "error",
	}
}`,
	}
}

// requireTimeoutPolicy denies operations without an execution timeout.
func requireTimeoutPolicy() Policy {
	return Policy{
		Name:        "require-timeout",
		Description: "Every operation must declare a timeout",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package azkit.policies.timeout

import rego.v1

deny contains violation if {
	input.operation.timeout_seconds == 0
	violation := {
		"message": sprintf("operation %s declares no timeout", [input.operation.id]),
		"severity": "error",
	}
}`,
	}
}

// protectUnmanagedPolicy denies destroying resources the toolkit does not
// own. Fires only when the target resource is known.
func protectUnmanagedPolicy() Policy {
	return Policy{
		Name:        "protect-unmanaged",
		Description: "Destroy operations may only target toolkit-managed resources",
		Severity:    SeverityCritical,
		Enabled:     true,
		Rego: `package azkit.policies.unmanaged

import rego.v1

deny contains violation if {
	input.operation.type == "destroy"
	input.resource
	not input.resource.managed_by_toolkit
	violation := {
		"message": sprintf("resource %s is not managed by the toolkit and may not be destroyed", [input.resource.resource_id]),
		"severity": "critical",
	}
}`,
	}
}

// secretDefaultsPolicy warns about secret parameters carrying defaults,
// which end up in version-controlled definition files.
func secretDefaultsPolicy() Policy {
	return Policy{
		Name:        "secret-defaults",
		Description: "Secret parameters should not carry literal defaults",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package azkit.policies.secrets

import rego.v1

deny contains violation if {
	some p in input.operation.parameters
	p.type == "secret"
	p.has_default
	violation := {
		"message": sprintf("secret parameter %s of operation %s has a literal default", [p.name, input.operation.id]),
		"severity": "warning",
	}
}`,
	}
}
