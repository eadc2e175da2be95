package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

func testInstance(id, processInstanceID, processModelID string, state api.InstanceState) *api.FlowNodeInstance {
	return &api.FlowNodeInstance{
		ID:                id,
		FlowNodeID:        "node-" + id,
		FlowNodeType:      api.BpmnServiceTask,
		ProcessInstanceID: processInstanceID,
		ProcessModelID:    processModelID,
		CorrelationID:     "corr-" + processInstanceID,
		State:             state,
		Token: api.ProcessToken{
			ProcessInstanceID: processInstanceID,
			ProcessModelID:    processModelID,
		},
		EnteredAt: time.Now(),
	}
}

func TestInMemoryStore_InsertGetUpdate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	inst := testInstance("fni-1", "pi-1", "pm-1", api.StateRunning)

	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance failed: %v", err)
	}

	got, err := store.GetInstance(ctx, "fni-1")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if got.ID != "fni-1" || got.State != api.StateRunning {
		t.Fatalf("unexpected instance: %+v", got)
	}

	inst.State = api.StateFinished
	inst.ExitedAt = time.Now()
	if err := store.UpdateInstance(ctx, inst); err != nil {
		t.Fatalf("UpdateInstance failed: %v", err)
	}

	got, err = store.GetInstance(ctx, "fni-1")
	if err != nil {
		t.Fatalf("GetInstance after update failed: %v", err)
	}
	if got.State != api.StateFinished {
		t.Fatalf("expected FINISHED, got %s", got.State)
	}
	if got.ExitedAt.IsZero() {
		t.Fatalf("expected exited-at to be set")
	}
}

func TestInMemoryStore_InsertDuplicate(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	inst := testInstance("fni-1", "pi-1", "pm-1", api.StateRunning)

	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	if err := store.InsertInstance(ctx, inst); !errors.Is(err, ErrDuplicateInstance) {
		t.Fatalf("expected ErrDuplicateInstance, got %v", err)
	}
}

func TestInMemoryStore_GetNotFound(t *testing.T) {
	store := NewInMemoryStore()

	_, err := store.GetInstance(context.Background(), "does-not-exist")
	if !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestInMemoryStore_UpdateNotFound(t *testing.T) {
	store := NewInMemoryStore()

	inst := testInstance("fni-1", "pi-1", "pm-1", api.StateRunning)
	if err := store.UpdateInstance(context.Background(), inst); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected ErrInstanceNotFound, got %v", err)
	}
}

func TestInMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	inst := testInstance("fni-1", "pi-1", "pm-1", api.StateRunning)
	if err := store.InsertInstance(ctx, inst); err != nil {
		t.Fatalf("InsertInstance failed: %v", err)
	}

	got, err := store.GetInstance(ctx, "fni-1")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	got.State = api.StateTerminated

	again, err := store.GetInstance(ctx, "fni-1")
	if err != nil {
		t.Fatalf("GetInstance failed: %v", err)
	}
	if again.State != api.StateRunning {
		t.Fatalf("store state mutated through a handed-out copy")
	}
}

func TestInMemoryStore_ListFilters(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seed := []*api.FlowNodeInstance{
		testInstance("fni-a", "pi-1", "pm-1", api.StateRunning),
		testInstance("fni-b", "pi-1", "pm-1", api.StateSuspended),
		testInstance("fni-c", "pi-2", "pm-1", api.StateFinished),
		testInstance("fni-d", "pi-3", "pm-2", api.StateRunning),
	}
	for _, inst := range seed {
		if err := store.InsertInstance(ctx, inst); err != nil {
			t.Fatalf("InsertInstance failed: %v", err)
		}
	}

	byProcessInstance, err := store.ListInstances(ctx, InstanceFilter{ProcessInstanceID: "pi-1"})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(byProcessInstance) != 2 {
		t.Fatalf("expected 2 instances for pi-1, got %d", len(byProcessInstance))
	}

	byState, err := store.ListInstances(ctx, InstanceFilter{State: api.StateRunning})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(byState) != 2 {
		t.Fatalf("expected 2 running instances, got %d", len(byState))
	}

	combined, err := store.ListInstances(ctx, InstanceFilter{ProcessModelID: "pm-1", State: api.StateSuspended})
	if err != nil {
		t.Fatalf("ListInstances failed: %v", err)
	}
	if len(combined) != 1 || combined[0].ID != "fni-b" {
		t.Fatalf("expected only fni-b, got %+v", combined)
	}
}

func TestInMemoryStore_DeleteByProcessModel(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.InsertInstance(ctx, testInstance("fni-a", "pi-1", "pm-1", api.StateRunning)); err != nil {
		t.Fatalf("InsertInstance failed: %v", err)
	}
	if err := store.InsertInstance(ctx, testInstance("fni-b", "pi-2", "pm-2", api.StateRunning)); err != nil {
		t.Fatalf("InsertInstance failed: %v", err)
	}

	removed, err := store.DeleteByProcessModel(ctx, "pm-1")
	if err != nil {
		t.Fatalf("DeleteByProcessModel failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}

	if _, err := store.GetInstance(ctx, "fni-a"); !errors.Is(err, ErrInstanceNotFound) {
		t.Fatalf("expected fni-a to be gone, got %v", err)
	}
	if _, err := store.GetInstance(ctx, "fni-b"); err != nil {
		t.Fatalf("expected fni-b to survive, got %v", err)
	}

	// Second delete is a no-op, not an error.
	removed, err = store.DeleteByProcessModel(ctx, "pm-1")
	if err != nil {
		t.Fatalf("second DeleteByProcessModel failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected 0 removed on second delete, got %d", removed)
	}
}

func TestInMemoryStore_Tokens(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	base := time.Now()
	records := []TokenRecord{
		{ProcessInstanceID: "pi-1", InstanceID: "fni-b", ProcessModelID: "pm-1", CreatedAt: base.Add(2 * time.Millisecond)},
		{ProcessInstanceID: "pi-1", InstanceID: "fni-a", ProcessModelID: "pm-1", CreatedAt: base},
		{ProcessInstanceID: "pi-2", InstanceID: "fni-c", ProcessModelID: "pm-2", CreatedAt: base},
	}
	for _, rec := range records {
		if err := store.SaveToken(ctx, rec); err != nil {
			t.Fatalf("SaveToken failed: %v", err)
		}
	}

	got, err := store.ListTokensByProcessInstance(ctx, "pi-1")
	if err != nil {
		t.Fatalf("ListTokensByProcessInstance failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 tokens for pi-1, got %d", len(got))
	}
	if got[0].InstanceID != "fni-a" || got[1].InstanceID != "fni-b" {
		t.Fatalf("expected created-at ordering, got %s then %s", got[0].InstanceID, got[1].InstanceID)
	}

	// Updating a token keeps the original created-at.
	update := records[1]
	update.CreatedAt = base.Add(time.Hour)
	update.Token.Payload = "updated"
	if err := store.SaveToken(ctx, update); err != nil {
		t.Fatalf("SaveToken update failed: %v", err)
	}

	got, err = store.ListTokensByProcessInstance(ctx, "pi-1")
	if err != nil {
		t.Fatalf("ListTokensByProcessInstance failed: %v", err)
	}
	if got[0].InstanceID != "fni-a" {
		t.Fatalf("expected fni-a to keep its position after update")
	}
	if got[0].Token.Payload != "updated" {
		t.Fatalf("expected updated payload, got %v", got[0].Token.Payload)
	}

	removed, err := store.DeleteTokensByProcessModel(ctx, "pm-1")
	if err != nil {
		t.Fatalf("DeleteTokensByProcessModel failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 tokens removed, got %d", removed)
	}

	rest, err := store.ListTokensByProcessInstance(ctx, "pi-2")
	if err != nil {
		t.Fatalf("ListTokensByProcessInstance failed: %v", err)
	}
	if len(rest) != 1 {
		t.Fatalf("expected pi-2 tokens to survive, got %d", len(rest))
	}
}
