package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	v, err := Load(filepath.Join(t.TempDir(), "azkit.yaml"))
	if err == nil {
		t.Fatal("explicit missing config file should fail")
	}

	// No explicit file: defaults apply.
	v, err = Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := v.GetDuration("cache.resource_ttl"); got != 15*time.Minute {
		t.Errorf("resource TTL default wrong: %v", got)
	}
	if got := v.GetDuration("cache.list_ttl"); got != 5*time.Minute {
		t.Errorf("list TTL default wrong: %v", got)
	}
	if got := v.GetString("azure.cli"); got != "az" {
		t.Errorf("cli default wrong: %q", got)
	}
	if v.GetString("store.path") == "" {
		t.Error("store path default missing")
	}
}

func TestFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "azkit.yaml")
	content := `
store:
  path: /tmp/test.db
cache:
  resource_ttl: 1h
azure:
  retries: 7
parameters:
  VM_NAME: vm-from-config
`
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	v, err := Load(file)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := v.GetString("store.path"); got != "/tmp/test.db" {
		t.Errorf("file value not applied: %q", got)
	}
	if got := QueryConfig(v).ResourceTTL; got != time.Hour {
		t.Errorf("resource TTL not applied: %v", got)
	}
	if got := AzureConfig(v).MaxRetries; got != 7 {
		t.Errorf("retries not applied: %d", got)
	}
	// Untouched keys keep their defaults.
	if got := QueryConfig(v).ListTTL; got != 5*time.Minute {
		t.Errorf("list TTL default lost: %v", got)
	}
	// Operation parameter bindings are reachable through the same tree.
	if got := v.GetString("parameters.VM_NAME"); got != "vm-from-config" {
		t.Errorf("parameter binding not readable: %q", got)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "azkit.yaml")
	if err := os.WriteFile(file, []byte("store:\n  path: /tmp/file.db\n"), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	t.Setenv("AZKIT_STORE_PATH", "/tmp/env.db")

	v, err := Load(file)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if got := v.GetString("store.path"); got != "/tmp/env.db" {
		t.Errorf("environment should override the file, got %q", got)
	}
}

func TestTelemetryConfigMapping(t *testing.T) {
	v, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	v.Set("logging.level", "debug")
	v.Set("metrics.enabled", true)

	cfg := TelemetryConfig(v, "1.2.3")
	if cfg.ServiceVersion != "1.2.3" {
		t.Errorf("version not applied: %q", cfg.ServiceVersion)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level not applied: %q", cfg.Logging.Level)
	}
	if !cfg.Metrics.Enabled {
		t.Error("metrics toggle not applied")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("mapped config should validate: %v", err)
	}
}
