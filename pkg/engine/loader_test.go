package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validDefinition = `
id: vm-restart
name: restart
capability: vm
resource_type: Microsoft.Compute/virtualMachines
type: mutate
duration:
  expected: 2m
  timeout: 10m
parameters:
  - name: VM_NAME
    type: string
    required: true
  - name: RESOURCE_GROUP
    type: string
    config_key: azure.resource_group
    default: rg-default
prerequisites:
  - resource_type: Microsoft.Network/virtualNetworks
    name: vnet1
idempotency:
  enabled: true
  check: az vm show --name {{VM_NAME}}
  skip_if_exists: true
steps:
  - name: stop
    command: az vm deallocate --name {{VM_NAME}} --resource-group {{RESOURCE_GROUP}}
  - name: start
    command: az vm start --name {{VM_NAME}} --resource-group {{RESOURCE_GROUP}}
    continue_on_error: false
rollback:
  - name: restore
    command: az vm start --name {{VM_NAME}} --resource-group {{RESOURCE_GROUP}}
validation:
  - type: provisioning_state
    resource_type: Microsoft.Compute/virtualMachines
    name: "{{VM_NAME}}"
    state: Succeeded
`

func TestLoadValidDefinition(t *testing.T) {
	def, err := NewLoader().LoadBytes([]byte(validDefinition))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if def.ID != "vm-restart" || def.Capability != "vm" {
		t.Errorf("identity not parsed: %+v", def)
	}
	if def.Duration.Timeout.Std() != 10*time.Minute {
		t.Errorf("timeout not parsed: %v", def.Duration.Timeout.Std())
	}
	if len(def.Steps) != 2 || len(def.Rollback) != 1 {
		t.Errorf("steps not parsed: %d forward, %d rollback", len(def.Steps), len(def.Rollback))
	}
	if !def.Idempotency.SkipIfExists {
		t.Error("idempotency not parsed")
	}
	if !def.Mutating() {
		t.Error("type mutate should be mutating")
	}
}

func TestLoadRejectsMissingSteps(t *testing.T) {
	raw := `
id: x
name: x
capability: vm
type: read
`
	_, err := NewLoader().LoadBytes([]byte(raw))
	if err == nil {
		t.Fatal("definition without steps should be rejected")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeValidation {
		t.Fatalf("expected a validation EngineError, got %v", err)
	}
}

func TestLoadRejectsBadType(t *testing.T) {
	raw := `
id: x
name: x
capability: vm
type: explode
steps:
  - name: s
    command: echo
`
	if _, err := NewLoader().LoadBytes([]byte(raw)); err == nil {
		t.Fatal("unknown operation type should be rejected")
	}
}

func TestLoadRejectsIdempotencyWithoutCheck(t *testing.T) {
	raw := `
id: x
name: x
capability: vm
type: read
idempotency:
  enabled: true
steps:
  - name: s
    command: echo
`
	if _, err := NewLoader().LoadBytes([]byte(raw)); err == nil {
		t.Fatal("idempotency without a check command should be rejected")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(validDefinition), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	second := `
id: vm-stop
name: stop
capability: vm
type: mutate
steps:
  - name: stop
    command: az vm deallocate
`
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(second), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	defs, err := NewLoader().LoadDir(dir)
	if err != nil {
		t.Fatalf("load dir failed: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("expected 2 definitions, got %d", len(defs))
	}
	// Sorted by file name.
	if defs[0].ID != "vm-stop" || defs[1].ID != "vm-restart" {
		t.Errorf("definitions out of order: %s, %s", defs[0].ID, defs[1].ID)
	}
}
