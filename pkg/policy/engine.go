package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/azkit/azkit/pkg/engine"
	"github.com/azkit/azkit/pkg/stores"
)

// Engine compiles and evaluates Rego policies against operation
// definitions. Built-in guardrails are always loaded; additional
// policies can be loaded from .rego files.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in guardrails loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.add(&p); err != nil {
			return nil, fmt.Errorf("failed to compile built-in policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// LoadPolicies loads and compiles additional policies from file or
// directory paths. Loaded policies override built-ins of the same name.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := LoadFromPaths(ctx, paths, e.logger)
	if err != nil {
		return err
	}

	for i := range policies {
		if err := e.add(&policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().Int("count", len(policies)).Msg("policies loaded")
	return nil
}

// ListPolicies returns all loaded policies.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, *cp.policy)
	}
	return out
}

// Evaluate runs all enabled policies against a definition and, when
// known, its target resource. The verdict denies when any violation of
// blocking severity fires.
func (e *Engine) Evaluate(ctx context.Context, def *engine.OperationDefinition, resource *stores.Resource) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := buildInput(def, resource)

	var violations []Violation
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}

		found, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		violations = append(violations, found...)
	}

	allowed := true
	for i := range violations {
		if violations[i].Severity.Blocking() {
			allowed = false
			break
		}
	}

	return &Result{
		Allowed:     allowed,
		Violations:  violations,
		EvaluatedAt: time.Now().UTC(),
	}, nil
}

func (e *Engine) add(p *Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		module:   module,
		compiled: time.Now(),
	}
	return nil
}

// evaluatePolicy queries the policy package's deny set.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", packageName(cp.policy.Rego))

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, toViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// packageName extracts the package declaration from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "azkit.policies"
}

// toViolation converts one deny result into a Violation. Deny members
// may be plain strings or objects carrying message and severity.
func toViolation(p *Policy, result interface{}) Violation {
	v := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch value := result.(type) {
	case string:
		v.Message = value
	case map[string]interface{}:
		if msg, ok := value["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := value["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// buildInput projects the definition and resource into the document
// policies evaluate. The projection is the policy-facing contract; Rego
// rules never see the raw Go structs.
func buildInput(def *engine.OperationDefinition, resource *stores.Resource) map[string]interface{} {
	params := make([]interface{}, 0, len(def.Parameters))
	for _, p := range def.Parameters {
		params = append(params, map[string]interface{}{
			"name":        p.Name,
			"type":        p.Type,
			"required":    p.Required,
			"has_default": p.Default != "",
		})
	}

	input := map[string]interface{}{
		"operation": map[string]interface{}{
			"id":              def.ID,
			"name":            def.Name,
			"capability":      def.Capability,
			"resource_type":   def.ResourceType,
			"type":            def.Type,
			"timeout_seconds": def.Duration.Timeout.Std().Seconds(),
			"steps":           len(def.Steps),
			"rollback_steps":  len(def.Rollback),
			"parameters":      params,
		},
	}

	if resource != nil {
		input["resource"] = map[string]interface{}{
			"resource_id":        resource.ResourceID,
			"resource_type":      resource.ResourceType,
			"name":               resource.Name,
			"resource_group":     resource.ResourceGroup,
			"provisioning_state": resource.ProvisioningState,
			"managed_by_toolkit": resource.ManagedByToolkit,
		}
	}

	return input
}

// Gate adapts the policy engine to the executor's pre-execution hook,
// looking up the target resource so ownership rules can fire.
type Gate struct {
	engine *Engine
	store  stores.Store
	logger zerolog.Logger
}

// NewGate creates an executor gate backed by the policy engine. store
// may be nil when resource-aware policies are not needed.
func NewGate(e *Engine, store stores.Store, logger zerolog.Logger) *Gate {
	return &Gate{
		engine: e,
		store:  store,
		logger: logger.With().Str("component", "policy-gate").Logger(),
	}
}

// Allow implements the executor's Gate. Blocking violations deny with a
// policy error; warnings are logged and do not block. Evaluation
// failures deny (fail closed).
func (g *Gate) Allow(ctx context.Context, def *engine.OperationDefinition, resourceID string) error {
	var resource *stores.Resource
	if resourceID != "" && g.store != nil {
		r, err := g.store.GetResourceByID(ctx, resourceID)
		if err == nil {
			resource = r
		}
	}

	result, err := g.engine.Evaluate(ctx, def, resource)
	if err != nil {
		return engine.NewPermanentError("policy evaluation failed", err).
			WithCode(engine.ErrCodePolicyDenied).WithOperation(def.ID)
	}

	for _, w := range result.Warnings() {
		g.logger.Warn().
			Str("policy", w.Policy).
			Str("operation", def.ID).
			Msg(w.Message)
	}

	if !result.Allowed {
		messages := make([]string, 0, len(result.Violations))
		for _, v := range result.Blocking() {
			messages = append(messages, fmt.Sprintf("%s: %s", v.Policy, v.Message))
		}
		return engine.NewPermanentError(strings.Join(messages, "; "), nil).
			WithCode(engine.ErrCodePolicyDenied).WithOperation(def.ID)
	}

	return nil
}
