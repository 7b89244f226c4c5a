package engine

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "5m" or "1h30m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// OperationDefinition is a declarative YAML operation consumed by the
// executor.
type OperationDefinition struct {
	// Identity.
	ID           string `yaml:"id" validate:"required"`
	Name         string `yaml:"name" validate:"required"`
	Capability   string `yaml:"capability" validate:"required"`
	ResourceType string `yaml:"resource_type"`
	Description  string `yaml:"description"`

	// Type classifies the operation's effect on the environment.
	Type string `yaml:"type" validate:"required,oneof=read mutate destroy"`

	Duration      DurationSpec      `yaml:"duration"`
	Parameters    []ParameterSpec   `yaml:"parameters" validate:"dive"`
	Prerequisites []Prerequisite    `yaml:"prerequisites" validate:"dive"`
	Idempotency   IdempotencySpec   `yaml:"idempotency"`
	Steps         []Step            `yaml:"steps" validate:"required,min=1,dive"`
	Rollback      []Step            `yaml:"rollback" validate:"dive"`
	Validation    []ValidationCheck `yaml:"validation" validate:"dive"`
}

// Mutating reports whether the operation changes provider state.
func (d *OperationDefinition) Mutating() bool {
	return d.Type == "mutate" || d.Type == "destroy"
}

// DurationSpec declares the expected runtime and the enforced deadline of
// an operation.
type DurationSpec struct {
	// Expected is an estimate used for reporting only.
	Expected Duration `yaml:"expected"`

	// Timeout is the enforced per-operation deadline. Exceeding it fails
	// the operation and triggers rollback. Zero means no deadline.
	Timeout Duration `yaml:"timeout"`

	// Type qualifies the estimate (e.g. "typical", "worst-case").
	Type string `yaml:"type"`
}

// ParameterSpec is a typed operation parameter with layered resolution:
// explicit value > config binding > default.
type ParameterSpec struct {
	Name        string `yaml:"name" validate:"required"`
	Type        string `yaml:"type" validate:"required,oneof=string integer boolean array secret"`
	Required    bool   `yaml:"required"`
	Default     string `yaml:"default"`
	Description string `yaml:"description"`

	// ConfigKey binds the parameter to a key in the layered
	// configuration, consulted when no explicit value is supplied.
	ConfigKey string `yaml:"config_key"`
}

// Prerequisite names a resource that must exist (and be healthy) before
// the operation's steps may run. Name is a literal; NameFrom resolves the
// name from the layered configuration instead.
type Prerequisite struct {
	ResourceType  string `yaml:"resource_type" validate:"required"`
	Name          string `yaml:"name"`
	NameFrom      string `yaml:"name_from"`
	ResourceGroup string `yaml:"resource_group"`
}

// IdempotencySpec declares the pre-execution existence check. When the
// check reports the target already exists and SkipIfExists is set, the
// operation completes without running any step.
type IdempotencySpec struct {
	Enabled      bool   `yaml:"enabled"`
	Check        string `yaml:"check"`
	SkipIfExists bool   `yaml:"skip_if_exists"`
}

// Step is one opaque command in an operation's forward or rollback
// sequence.
type Step struct {
	Name            string `yaml:"name" validate:"required"`
	Command         string `yaml:"command" validate:"required"`
	ContinueOnError bool   `yaml:"continue_on_error"`
}

// ValidationCheck is a post-execution assertion.
type ValidationCheck struct {
	Type string `yaml:"type" validate:"required,oneof=resource_exists provisioning_state property_equals custom"`

	// resource_exists, provisioning_state, property_equals.
	ResourceType  string `yaml:"resource_type"`
	Name          string `yaml:"name"`
	ResourceGroup string `yaml:"resource_group"`

	// provisioning_state.
	State string `yaml:"state"`

	// property_equals: dot-separated path into the resource properties.
	Property string `yaml:"property"`
	Value    string `yaml:"value"`

	// custom: opaque predicate command, exit 0 means satisfied.
	Command string `yaml:"command"`
}

// Result summarizes one executor run for the caller.
type Result struct {
	OperationID    string
	Status         string
	StepsExecuted  int
	Skipped        bool
	Missing        []string
	RecoveryScript string
	Err            error
}
