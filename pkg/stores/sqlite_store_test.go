package stores

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

const (
	testVMID  = "/subscriptions/sub1/resourceGroups/rg1/providers/Microsoft.Compute/virtualMachines/vm1"
	testNICID = "/subscriptions/sub1/resourceGroups/rg1/providers/Microsoft.Network/networkInterfaces/nic1"
)

// setupTestStore creates an in-memory SQLite store for testing.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
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
	return store
}

func testResource(id, resourceType, name string) *Resource {
	return &Resource{
		ResourceID:        id,
		ResourceType:      resourceType,
		Name:              name,
		ResourceGroup:     "rg1",
		Location:          "westeurope",
		Properties:        json.RawMessage(`{"provisioningState":"Succeeded"}`),
		ProvisioningState: "Succeeded",
	}
}

func TestStoreLifecycle(t *testing.T) {
	store := setupTestStore(t)

	if err := store.HealthCheck(context.Background()); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
}

func TestUpsertResourceIdempotent(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.ActiveResources != 1 {
		t.Errorf("expected exactly one row after double upsert, got %d", stats.ActiveResources)
	}
}

func TestUpsertResourceRejectsMalformedID(t *testing.T) {
	store := setupTestStore(t)

	r := testResource("not-a-resource-id", "Microsoft.Compute/virtualMachines", "vm1")
	err := store.UpsertResource(context.Background(), r, time.Minute)
	if !errors.Is(err, ErrInvalidResourceID) {
		t.Fatalf("expected ErrInvalidResourceID, got %v", err)
	}
}

func TestUpsertRefreshesCacheExpiry(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.GetResourceByID(ctx, testVMID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.CacheFresh(time.Now()) {
		t.Error("freshly stored resource should be cache-fresh")
	}
	if got.CacheFresh(time.Now().Add(2 * time.Minute)) {
		t.Error("resource should be stale after the TTL elapses")
	}
}

func TestGetResourceByCoordinates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	got, err := store.GetResource(ctx, "Microsoft.Compute/virtualMachines", "vm1", "rg1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ResourceID != testVMID {
		t.Errorf("unexpected resource id: %s", got.ResourceID)
	}

	_, err = store.GetResource(ctx, "Microsoft.Compute/virtualMachines", "missing", "rg1")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetResourceWithoutGroupMatchesAnyGroup(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	// The stored row carries its real group; a group-less lookup must
	// still find it.
	got, err := store.GetResource(ctx, "Microsoft.Compute/virtualMachines", "vm1", "")
	if err != nil {
		t.Fatalf("group-less get failed: %v", err)
	}
	if got.ResourceID != testVMID {
		t.Errorf("unexpected resource id: %s", got.ResourceID)
	}

	// A wrong group still misses.
	if _, err := store.GetResource(ctx, "Microsoft.Compute/virtualMachines", "vm1", "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for a wrong group, got %v", err)
	}
}

func TestMarkManagedAndCreated(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	if err := store.MarkManaged(ctx, testVMID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for absent resource, got %v", err)
	}

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if err := store.MarkManaged(ctx, testVMID); err != nil {
		t.Fatalf("mark managed failed: %v", err)
	}
	// Idempotent: second call succeeds and keeps the original adopted_at.
	got, _ := store.GetResourceByID(ctx, testVMID)
	first := got.AdoptedAt
	if err := store.MarkManaged(ctx, testVMID); err != nil {
		t.Fatalf("second mark managed failed: %v", err)
	}
	got, _ = store.GetResourceByID(ctx, testVMID)
	if !got.ManagedByToolkit {
		t.Error("resource should be flagged managed")
	}
	if first == nil || got.AdoptedAt == nil || !got.AdoptedAt.Equal(*first) {
		t.Error("adopted_at should be preserved across repeated calls")
	}

	if err := store.MarkCreated(ctx, testVMID); err != nil {
		t.Fatalf("mark created failed: %v", err)
	}
	got, _ = store.GetResourceByID(ctx, testVMID)
	if got.CreatedAt == nil {
		t.Error("created_at should be set")
	}
}

func TestSoftDeleteExcludesFromActiveReads(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.SoftDeleteResource(ctx, testVMID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	if _, err := store.GetResourceByID(ctx, testVMID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("soft-deleted resource should be invisible to active reads, got %v", err)
	}

	list, err := store.ListResources(ctx, "", "")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("soft-deleted resource should not be listed, got %d rows", len(list))
	}

	hist, err := store.GetResourceHistory(ctx, testVMID)
	if err != nil {
		t.Fatalf("history read failed: %v", err)
	}
	if hist.DeletedAt == nil {
		t.Error("history row should carry deleted_at")
	}
}

func TestUpsertRevivesSoftDeletedResource(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.SoftDeleteResource(ctx, testVMID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("re-upsert failed: %v", err)
	}

	got, err := store.GetResourceByID(ctx, testVMID)
	if err != nil {
		t.Fatalf("re-discovered resource should be active again: %v", err)
	}
	if got.DeletedAt != nil {
		t.Error("deleted_at should be cleared on re-discovery")
	}
}

func TestInvalidateResourcesByPattern(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	vm := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	nic := testResource(testNICID, "Microsoft.Network/networkInterfaces", "nic1")
	for _, r := range []*Resource{vm, nic} {
		if err := store.UpsertResource(ctx, r, time.Hour); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}
	}

	n, err := store.InvalidateResources(ctx, "*/virtualMachines/*")
	if err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 row invalidated, got %d", n)
	}

	gotVM, _ := store.GetResourceByID(ctx, testVMID)
	gotNIC, _ := store.GetResourceByID(ctx, testNICID)
	if gotVM.CacheFresh(time.Now()) {
		t.Error("invalidated VM should be stale")
	}
	if !gotNIC.CacheFresh(time.Now()) {
		t.Error("NIC should still be fresh")
	}
	if gotVM.ProvisioningState != "Succeeded" {
		t.Error("invalidation must not touch resource data")
	}
}

func TestPurgeDeleted(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	r := testResource(testVMID, "Microsoft.Compute/virtualMachines", "vm1")
	if err := store.UpsertResource(ctx, r, time.Minute); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if err := store.SoftDeleteResource(ctx, testVMID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	n, err := store.PurgeDeleted(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}

	if _, err := store.GetResourceHistory(ctx, testVMID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("purged resource should be gone from history, got %v", err)
	}
}

func TestQueryCacheTTL(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	fresh, err := store.QueryCacheFresh(ctx, "list:vm:rg1")
	if err != nil {
		t.Fatalf("freshness check failed: %v", err)
	}
	if fresh {
		t.Error("unknown key should not be fresh")
	}

	if err := store.QueryCachePut(ctx, "list:vm:rg1", time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	fresh, err = store.QueryCacheFresh(ctx, "list:vm:rg1")
	if err != nil {
		t.Fatalf("freshness check failed: %v", err)
	}
	if !fresh {
		t.Error("just-recorded key should be fresh")
	}

	if err := store.QueryCachePut(ctx, "list:vm:rg1", -time.Minute); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	fresh, _ = store.QueryCacheFresh(ctx, "list:vm:rg1")
	if fresh {
		t.Error("expired key should not be fresh")
	}

	cleared, err := store.QueryCacheClear(ctx)
	if err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared != 1 {
		t.Errorf("expected 1 cleared entry, got %d", cleared)
	}
}
