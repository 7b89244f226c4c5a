package engine

import (
	"errors"
	"testing"

	"github.com/spf13/viper"
)

func paramsDefinition() *OperationDefinition {
	return &OperationDefinition{
		ID:         "x",
		Name:       "x",
		Capability: "vm",
		Type:       "read",
		Parameters: []ParameterSpec{
			{Name: "VM_NAME", Type: "string", Required: true},
			{Name: "LOCATION", Type: "string", ConfigKey: "azure.location", Default: "northeurope"},
			{Name: "SKU", Type: "string", Default: "Standard_B2s"},
			{Name: "TAGS", Type: "string"},
		},
		Steps: []Step{{Name: "s", Command: "echo"}},
	}
}

func TestResolveParametersLayering(t *testing.T) {
	cfg := viper.New()
	cfg.Set("azure.location", "westeurope")

	// Explicit beats config beats default.
	params, err := ResolveParameters(paramsDefinition(), map[string]string{
		"VM_NAME": "vm1",
		"SKU":     "Standard_D4s",
	}, cfg)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}

	if params["VM_NAME"] != "vm1" {
		t.Errorf("explicit value lost: %q", params["VM_NAME"])
	}
	if params["LOCATION"] != "westeurope" {
		t.Errorf("config binding should beat default: %q", params["LOCATION"])
	}
	if params["SKU"] != "Standard_D4s" {
		t.Errorf("explicit value should beat default: %q", params["SKU"])
	}
	if _, ok := params["TAGS"]; ok {
		t.Error("optional parameter with no value should stay unset")
	}
}

func TestResolveParametersDefaultFallback(t *testing.T) {
	params, err := ResolveParameters(paramsDefinition(), map[string]string{"VM_NAME": "vm1"}, viper.New())
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if params["LOCATION"] != "northeurope" {
		t.Errorf("default not applied: %q", params["LOCATION"])
	}
}

func TestResolveParametersRequiredMissing(t *testing.T) {
	_, err := ResolveParameters(paramsDefinition(), nil, viper.New())
	if err == nil {
		t.Fatal("missing required parameter should fail resolution")
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeValidation {
		t.Fatalf("expected a validation EngineError, got %v", err)
	}
}

func TestSubstitute(t *testing.T) {
	params := map[string]string{"VM_NAME": "vm1", "RG": "rg1"}

	got := Substitute("az vm show --name {{VM_NAME}} -g {{RG}}", params, nil)
	want := "az vm show --name vm1 -g rg1"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSubstituteUnresolvedIsLenient(t *testing.T) {
	var warned []string
	warn := func(name string) { warned = append(warned, name) }

	got := Substitute("az vm show --name {{MISSING}}", map[string]string{}, warn)
	if got != "az vm show --name " {
		t.Errorf("unresolved placeholder should substitute empty string, got %q", got)
	}
	if len(warned) != 1 || warned[0] != "MISSING" {
		t.Errorf("unresolved placeholder should be reported: %v", warned)
	}
}
