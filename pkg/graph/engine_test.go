package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/azkit/azkit/pkg/stores"
)

func setupTestEngine(t *testing.T) (*Engine, stores.Store) {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewEngine(store, zerolog.Nop()), store
}

func resID(provider, resourceType, name string) string {
	return fmt.Sprintf("/subscriptions/sub1/resourceGroups/rg1/providers/%s/%s/%s",
		provider, resourceType, name)
}

func storeResource(t *testing.T, s stores.Store, id, resourceType, name, state string, props string) *stores.Resource {
	t.Helper()
	if props == "" {
		props = "{}"
	}
	r := &stores.Resource{
		ResourceID:        id,
		ResourceType:      resourceType,
		Name:              name,
		ResourceGroup:     "rg1",
		Location:          "westeurope",
		Properties:        json.RawMessage(props),
		ProvisioningState: state,
	}
	if err := s.UpsertResource(context.Background(), r, time.Hour); err != nil {
		t.Fatalf("failed to store resource: %v", err)
	}
	return r
}

func storeEdge(t *testing.T, s stores.Store, from, to string, dt stores.DependencyType) {
	t.Helper()
	d := &stores.Dependency{
		ResourceID:          from,
		DependsOnResourceID: to,
		DependencyType:      dt,
		Relationship:        stores.RelationshipUses,
	}
	if err := s.UpsertDependency(context.Background(), d); err != nil {
		t.Fatalf("failed to store edge: %v", err)
	}
}

func TestDetectVirtualMachineDependencies(t *testing.T) {
	engine, store := setupTestEngine(t)
	ctx := context.Background()

	vmID := resID("Microsoft.Compute", "virtualMachines", "vm1")
	nicID := resID("Microsoft.Network", "networkInterfaces", "nic1")
	avsetID := resID("Microsoft.Compute", "availabilitySets", "avset1")
	diskID := resID("Microsoft.Compute", "disks", "osdisk1")

	props := fmt.Sprintf(`{
		"networkProfile": {"networkInterfaces": [{"id": %q}]},
		"availabilitySet": {"id": %q},
		"storageProfile": {"osDisk": {"managedDisk": {"id": %q}}}
	}`, nicID, avsetID, diskID)

	vm := storeResource(t, store, vmID, "Microsoft.Compute/virtualMachines", "vm1", "Succeeded", props)

	n, err := engine.DetectDependencies(ctx, vm)
	if err != nil {
		t.Fatalf("detection failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 edges, got %d", n)
	}

	deps, err := store.ListDependenciesFrom(ctx, vmID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}

	byTarget := map[string]*stores.Dependency{}
	for _, d := range deps {
		byTarget[d.DependsOnResourceID] = d
	}

	if d := byTarget[nicID]; d == nil || d.DependencyType != stores.DependencyRequired || d.Relationship != stores.RelationshipUses {
		t.Errorf("NIC edge wrong: %+v", byTarget[nicID])
	}
	if d := byTarget[avsetID]; d == nil || d.DependencyType != stores.DependencyOptional || d.Relationship != stores.RelationshipReferences {
		t.Errorf("availability set edge wrong: %+v", byTarget[avsetID])
	}
	if d := byTarget[diskID]; d == nil || d.DependencyType != stores.DependencyRequired {
		t.Errorf("disk edge wrong: %+v", byTarget[diskID])
	}
}

func TestDetectNetworkInterfaceDependencies(t *testing.T) {
	engine, store := setupTestEngine(t)
	ctx := context.Background()

	nicID := resID("Microsoft.Network", "networkInterfaces", "nic1")
	subnetID := resID("Microsoft.Network", "virtualNetworks", "vnet1") + "/subnets/default"
	nsgID := resID("Microsoft.Network", "networkSecurityGroups", "nsg1")

	props := fmt.Sprintf(`{
		"ipConfigurations": [{"properties": {"subnet": {"id": %q}}}],
		"networkSecurityGroup": {"id": %q}
	}`, subnetID, nsgID)

	nic := storeResource(t, store, nicID, "Microsoft.Network/networkInterfaces", "nic1", "Succeeded", props)

	n, err := engine.DetectDependencies(ctx, nic)
	if err != nil {
		t.Fatalf("detection failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 edges, got %d", n)
	}
}

func TestDetectGenericFallback(t *testing.T) {
	engine, store := setupTestEngine(t)
	ctx := context.Background()

	kvID := resID("Microsoft.KeyVault", "vaults", "kv1")
	otherID := resID("Microsoft.Storage", "storageAccounts", "st1")

	// Unknown type with a nested and a repeated reference.
	props := fmt.Sprintf(`{
		"settings": {"vaultId": %q},
		"links": [%q, %q]
	}`, otherID, otherID, otherID)

	kv := storeResource(t, store, kvID, "Microsoft.Custom/widgets", "kv1", "Succeeded", props)

	n, err := engine.DetectDependencies(ctx, kv)
	if err != nil {
		t.Fatalf("detection failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("generic scan should dedupe, expected 1 edge, got %d", n)
	}

	deps, _ := store.ListDependenciesFrom(ctx, kvID)
	if deps[0].DependencyType != stores.DependencyReference {
		t.Errorf("generic edges should be weak references, got %s", deps[0].DependencyType)
	}
}

func TestDetectMalformedPropertiesYieldsNoEdges(t *testing.T) {
	engine, _ := setupTestEngine(t)

	vm := &stores.Resource{
		ResourceID:   resID("Microsoft.Compute", "virtualMachines", "vm1"),
		ResourceType: "Microsoft.Compute/virtualMachines",
		Properties:   json.RawMessage(`{"networkProfile": "not-an-object"`),
	}

	n, err := engine.DetectDependencies(context.Background(), vm)
	if err != nil {
		t.Fatalf("malformed properties must not error: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 edges, got %d", n)
	}
}

func TestDetectCycles(t *testing.T) {
	engine, store := setupTestEngine(t)

	a := resID("Microsoft.Custom", "widgets", "a")
	b := resID("Microsoft.Custom", "widgets", "b")
	c := resID("Microsoft.Custom", "widgets", "c")

	storeEdge(t, store, a, b, stores.DependencyRequired)
	storeEdge(t, store, b, c, stores.DependencyRequired)
	storeEdge(t, store, c, a, stores.DependencyRequired)

	cycles, err := engine.DetectCycles(context.Background())
	if err != nil {
		t.Fatalf("cycle detection failed: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("expected 1 cycle, got %d: %v", len(cycles), cycles)
	}
	cycle := cycles[0]
	if len(cycle) != 4 || !strings.EqualFold(cycle[0], cycle[len(cycle)-1]) {
		t.Errorf("cycle should close on its first element: %v", cycle)
	}
}

func TestDetectCyclesIgnoresOptionalEdges(t *testing.T) {
	engine, store := setupTestEngine(t)

	a := resID("Microsoft.Custom", "widgets", "a")
	b := resID("Microsoft.Custom", "widgets", "b")

	storeEdge(t, store, a, b, stores.DependencyRequired)
	storeEdge(t, store, b, a, stores.DependencyOptional)

	cycles, err := engine.DetectCycles(context.Background())
	if err != nil {
		t.Fatalf("cycle detection failed: %v", err)
	}
	if len(cycles) != 0 {
		t.Errorf("cycle through an optional edge must not be reported: %v", cycles)
	}
}

func TestDependencyTreeDepthBound(t *testing.T) {
	engine, store := setupTestEngine(t)

	a := resID("Microsoft.Custom", "widgets", "a")
	b := resID("Microsoft.Custom", "widgets", "b")
	c := resID("Microsoft.Custom", "widgets", "c")

	storeEdge(t, store, a, b, stores.DependencyRequired)
	storeEdge(t, store, b, c, stores.DependencyRequired)

	tree, err := engine.DependencyTree(context.Background(), a, 1)
	if err != nil {
		t.Fatalf("tree failed: %v", err)
	}
	if len(tree.Children) != 1 {
		t.Fatalf("expected 1 child, got %d", len(tree.Children))
	}
	child := tree.Children[0]
	if child.Truncated != TruncatedMaxDepth {
		t.Errorf("depth-bounded node should carry the max-depth marker, got %q", child.Truncated)
	}
	if len(child.Children) != 0 {
		t.Error("truncated node should not be expanded")
	}
}

func TestDependencyTreeCycleMarker(t *testing.T) {
	engine, store := setupTestEngine(t)

	a := resID("Microsoft.Custom", "widgets", "a")
	b := resID("Microsoft.Custom", "widgets", "b")

	storeEdge(t, store, a, b, stores.DependencyRequired)
	storeEdge(t, store, b, a, stores.DependencyRequired)

	tree, err := engine.DependencyTree(context.Background(), a, 5)
	if err != nil {
		t.Fatalf("tree failed: %v", err)
	}
	if len(tree.Children) != 1 || len(tree.Children[0].Children) != 1 {
		t.Fatalf("unexpected tree shape: %+v", tree)
	}
	back := tree.Children[0].Children[0]
	if back.Truncated != TruncatedCycle {
		t.Errorf("revisited node should carry the cycle marker, got %q", back.Truncated)
	}
}

func TestDependencyPath(t *testing.T) {
	engine, store := setupTestEngine(t)
	ctx := context.Background()

	vm := resID("Microsoft.Compute", "virtualMachines", "vm1")
	nic := resID("Microsoft.Network", "networkInterfaces", "nic1")
	vnet := resID("Microsoft.Network", "virtualNetworks", "vnet1")

	storeEdge(t, store, vm, nic, stores.DependencyRequired)
	storeEdge(t, store, nic, vnet, stores.DependencyRequired)

	path, err := engine.DependencyPath(ctx, vm, vnet)
	if err != nil {
		t.Fatalf("path failed: %v", err)
	}
	want := []string{vm, nic, vnet}
	if len(path) != len(want) {
		t.Fatalf("unexpected path length: %v", path)
	}
	for i := range want {
		if !strings.EqualFold(path[i], want[i]) {
			t.Errorf("path[%d] = %s, want %s", i, path[i], want[i])
		}
	}

	if _, err := engine.DependencyPath(ctx, vnet, vm); !errors.Is(err, ErrNoPath) {
		t.Fatalf("expected ErrNoPath for the reverse direction, got %v", err)
	}
}

func TestValidateDependencies(t *testing.T) {
	engine, store := setupTestEngine(t)
	ctx := context.Background()

	vm := resID("Microsoft.Compute", "virtualMachines", "vm1")
	nicOK := resID("Microsoft.Network", "networkInterfaces", "nic-ok")
	nicGone := resID("Microsoft.Network", "networkInterfaces", "nic-gone")
	nicBad := resID("Microsoft.Network", "networkInterfaces", "nic-bad")
	nicOpt := resID("Microsoft.Network", "networkInterfaces", "nic-opt")

	storeResource(t, store, vm, "Microsoft.Compute/virtualMachines", "vm1", "Succeeded", "")
	storeResource(t, store, nicOK, "Microsoft.Network/networkInterfaces", "nic-ok", "Succeeded", "")
	storeResource(t, store, nicBad, "Microsoft.Network/networkInterfaces", "nic-bad", "Failed", "")
	deleted := storeResource(t, store, nicGone, "Microsoft.Network/networkInterfaces", "nic-gone", "Succeeded", "")
	if err := store.SoftDeleteResource(ctx, deleted.ResourceID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	storeEdge(t, store, vm, nicOK, stores.DependencyRequired)
	storeEdge(t, store, vm, nicGone, stores.DependencyRequired)
	storeEdge(t, store, vm, nicBad, stores.DependencyRequired)
	storeEdge(t, store, vm, nicOpt, stores.DependencyOptional)

	issues, err := engine.ValidateDependencies(ctx, vm)
	if err != nil {
		t.Fatalf("validation failed: %v", err)
	}
	if len(issues) != 2 {
		t.Fatalf("expected 2 issues, got %d: %+v", len(issues), issues)
	}

	byTarget := map[string]Issue{}
	for _, iss := range issues {
		byTarget[iss.DependsOnResourceID] = iss
	}
	if byTarget[nicGone].Reason != IssueDeleted {
		t.Errorf("soft-deleted target should report %q, got %q", IssueDeleted, byTarget[nicGone].Reason)
	}
	if byTarget[nicBad].Reason != IssueNotProvisioned {
		t.Errorf("failed target should report %q, got %q", IssueNotProvisioned, byTarget[nicBad].Reason)
	}
}

func TestExportDeterministic(t *testing.T) {
	engine, store := setupTestEngine(t)
	ctx := context.Background()

	vm := resID("Microsoft.Compute", "virtualMachines", "vm1")
	nic := resID("Microsoft.Network", "networkInterfaces", "nic1")
	storeResource(t, store, vm, "Microsoft.Compute/virtualMachines", "vm1", "Succeeded", "")
	storeEdge(t, store, vm, nic, stores.DependencyRequired)

	first, err := engine.ExportJSON(ctx)
	if err != nil {
		t.Fatalf("json export failed: %v", err)
	}
	second, err := engine.ExportJSON(ctx)
	if err != nil {
		t.Fatalf("json export failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("repeated JSON exports should be byte-identical")
	}

	dot, err := engine.ExportDOT(ctx)
	if err != nil {
		t.Fatalf("dot export failed: %v", err)
	}
	if !strings.Contains(dot, "digraph dependencies") {
		t.Error("dot output missing graph header")
	}
	if !strings.Contains(dot, fmt.Sprintf("%q -> %q", vm, nic)) {
		t.Error("dot output missing the stored edge")
	}
	// The NIC has no stored row but must still appear as a node.
	if !strings.Contains(dot, fmt.Sprintf("%q [label=", nic)) {
		t.Error("dot output missing the bare edge-endpoint node")
	}
}
