package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/azkit/azkit/pkg/engine"
	"github.com/azkit/azkit/pkg/stores"
)

const testVMID = "/subscriptions/sub1/resourceGroups/rg1/providers/Microsoft.Compute/virtualMachines/vm1"

func testEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return e
}

// guardedDefinition satisfies every built-in guardrail.
func guardedDefinition(opType string) *engine.OperationDefinition {
	return &engine.OperationDefinition{
		ID:         "vm-restart",
		Name:       "restart",
		Capability: "vm",
		Type:       opType,
		Duration: engine.DurationSpec{
			Timeout: engine.Duration(10 * time.Minute),
		},
		Steps:    []engine.Step{{Name: "restart", Command: "az vm restart"}},
		Rollback: []engine.Step{{Name: "start", Command: "az vm start"}},
	}
}

func TestMutatingOperationRequiresRollback(t *testing.T) {
	e := testEngine(t)
	def := guardedDefinition("mutate")
	def.Rollback = nil

	result, err := e.Evaluate(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("mutating operation without rollback should be denied")
	}
	if len(result.Blocking()) != 1 || result.Blocking()[0].Policy != "require-rollback" {
		t.Errorf("unexpected violations: %+v", result.Violations)
	}
}

func TestReadOperationNeedsNoRollback(t *testing.T) {
	e := testEngine(t)
	def := guardedDefinition("read")
	def.Rollback = nil

	result, err := e.Evaluate(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("read operation without rollback should pass, got %+v", result.Violations)
	}
}

func TestOperationRequiresTimeout(t *testing.T) {
	e := testEngine(t)
	def := guardedDefinition("mutate")
	def.Duration.Timeout = 0

	result, err := e.Evaluate(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("operation without timeout should be denied")
	}
}

func TestDestroyDeniedForUnmanagedResource(t *testing.T) {
	e := testEngine(t)
	def := guardedDefinition("destroy")

	unmanaged := &stores.Resource{
		ResourceID:       testVMID,
		ResourceType:     "Microsoft.Compute/virtualMachines",
		Name:             "vm1",
		ManagedByToolkit: false,
	}

	result, err := e.Evaluate(context.Background(), def, unmanaged)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("destroying an unmanaged resource should be denied")
	}

	found := false
	for _, v := range result.Blocking() {
		if v.Policy == "protect-unmanaged" && v.Severity == SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a critical protect-unmanaged violation, got %+v", result.Violations)
	}

	// The same operation against a managed resource passes.
	managed := *unmanaged
	managed.ManagedByToolkit = true
	result, err = e.Evaluate(context.Background(), def, &managed)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("destroying a managed resource should pass, got %+v", result.Violations)
	}
}

func TestSecretDefaultWarnsWithoutBlocking(t *testing.T) {
	e := testEngine(t)
	def := guardedDefinition("mutate")
	def.Parameters = []engine.ParameterSpec{
		{Name: "ADMIN_PASSWORD", Type: "secret", Default: "hunter2"},
	}

	result, err := e.Evaluate(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("warnings must not block, got %+v", result.Blocking())
	}
	if len(result.Warnings()) != 1 || result.Warnings()[0].Policy != "secret-defaults" {
		t.Errorf("expected one secret-defaults warning, got %+v", result.Violations)
	}
}

func TestLoadedPolicyParticipates(t *testing.T) {
	dir := t.TempDir()
	custom := `# Deny operations in the forbidden capability.
package azkit.policies.custom

import rego.v1

deny contains violation if {
	input.operation.capability == "forbidden"
	violation := {
		"message": "capability is forbidden",
		"severity": "error",
	}
}`
	if err := os.WriteFile(filepath.Join(dir, "forbidden.rego"), []byte(custom), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	e := testEngine(t)
	if err := e.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	def := guardedDefinition("read")
	def.Capability = "forbidden"
	result, err := e.Evaluate(context.Background(), def, nil)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	if result.Allowed {
		t.Error("loaded policy should deny the forbidden capability")
	}
}

func TestGateBlocksWithPolicyError(t *testing.T) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to init store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.UpsertResource(ctx, &stores.Resource{
		ResourceID:    testVMID,
		ResourceType:  "Microsoft.Compute/virtualMachines",
		Name:          "vm1",
		ResourceGroup: "rg1",
	}, time.Minute); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	gate := NewGate(testEngine(t), store, zerolog.Nop())

	err = gate.Allow(ctx, guardedDefinition("destroy"), testVMID)
	if err == nil {
		t.Fatal("gate should deny destroying an unmanaged resource")
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Code != engine.ErrCodePolicyDenied {
		t.Fatalf("expected POLICY_DENIED, got %v", err)
	}

	// Adopt the resource; the gate now lets the operation through.
	if err := store.MarkManaged(ctx, testVMID); err != nil {
		t.Fatalf("mark managed failed: %v", err)
	}
	if err := gate.Allow(ctx, guardedDefinition("destroy"), testVMID); err != nil {
		t.Errorf("gate should allow destroying a managed resource: %v", err)
	}
}
