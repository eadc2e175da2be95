package ledger

import (
	"testing"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

func indexedInstance(id, processInstanceID, processModelID, correlationID, flowNodeID string, state api.InstanceState, enteredAt time.Time) *api.FlowNodeInstance {
	return &api.FlowNodeInstance{
		ID:                id,
		FlowNodeID:        flowNodeID,
		FlowNodeType:      api.BpmnUserTask,
		ProcessInstanceID: processInstanceID,
		ProcessModelID:    processModelID,
		CorrelationID:     correlationID,
		State:             state,
		EnteredAt:         enteredAt,
	}
}

func TestIndex_CandidatesOrdering(t *testing.T) {
	idx := newCorrelationIndex()
	base := time.Now()

	// Inserted out of order on purpose.
	idx.insert(indexedInstance("fni-c", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, base.Add(2*time.Second)))
	idx.insert(indexedInstance("fni-a", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, base))
	idx.insert(indexedInstance("fni-b", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, base.Add(time.Second)))

	ids := idx.candidates(indexFilter{processInstanceID: "pi-1"})
	if len(ids) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(ids))
	}
	if ids[0] != "fni-a" || ids[1] != "fni-b" || ids[2] != "fni-c" {
		t.Fatalf("expected entry-time ordering, got %v", ids)
	}
}

func TestIndex_CandidatesTieBreakByID(t *testing.T) {
	idx := newCorrelationIndex()
	at := time.Now()

	idx.insert(indexedInstance("fni-b", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, at))
	idx.insert(indexedInstance("fni-a", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, at))

	ids := idx.candidates(indexFilter{correlationID: "corr-1"})
	if len(ids) != 2 || ids[0] != "fni-a" || ids[1] != "fni-b" {
		t.Fatalf("expected id tie-break, got %v", ids)
	}
}

func TestIndex_CandidatesFilterCombination(t *testing.T) {
	idx := newCorrelationIndex()
	base := time.Now()

	idx.insert(indexedInstance("fni-a", "pi-1", "pm-1", "corr-1", "approve", api.StateRunning, base))
	idx.insert(indexedInstance("fni-b", "pi-1", "pm-1", "corr-1", "reject", api.StateSuspended, base.Add(time.Second)))
	idx.insert(indexedInstance("fni-c", "pi-2", "pm-1", "corr-2", "approve", api.StateFinished, base.Add(2*time.Second)))

	ids := idx.candidates(indexFilter{processModelID: "pm-1", flowNodeID: "approve"})
	if len(ids) != 2 || ids[0] != "fni-a" || ids[1] != "fni-c" {
		t.Fatalf("unexpected candidates: %v", ids)
	}

	ids = idx.candidates(indexFilter{
		correlationID: "corr-1",
		states:        []api.InstanceState{api.StateSuspended},
	})
	if len(ids) != 1 || ids[0] != "fni-b" {
		t.Fatalf("unexpected suspended candidates: %v", ids)
	}

	ids = idx.candidates(indexFilter{states: []api.InstanceState{api.StateRunning, api.StateSuspended}})
	if len(ids) != 2 {
		t.Fatalf("expected 2 active candidates, got %v", ids)
	}
}

func TestIndex_SetState(t *testing.T) {
	idx := newCorrelationIndex()
	idx.insert(indexedInstance("fni-a", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, time.Now()))

	idx.setState("fni-a", api.StateSuspended)

	state, ok := idx.state("fni-a")
	if !ok || state != api.StateSuspended {
		t.Fatalf("expected SUSPENDED, got %q ok=%v", state, ok)
	}

	// Unknown ids are a no-op.
	idx.setState("fni-missing", api.StateFinished)
	if _, ok := idx.state("fni-missing"); ok {
		t.Fatalf("setState must not create entries")
	}
}

func TestIndex_RemoveByProcessModel(t *testing.T) {
	idx := newCorrelationIndex()
	base := time.Now()

	idx.insert(indexedInstance("fni-a", "pi-1", "pm-1", "corr-1", "task", api.StateRunning, base))
	idx.insert(indexedInstance("fni-b", "pi-1", "pm-1", "corr-1", "task", api.StateSuspended, base.Add(time.Second)))
	idx.insert(indexedInstance("fni-c", "pi-2", "pm-2", "corr-2", "task", api.StateRunning, base.Add(2*time.Second)))

	removed := idx.removeByProcessModel("pm-1")
	if removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}

	// Every key map must be pruned, not just the model map.
	if ids := idx.candidates(indexFilter{processInstanceID: "pi-1"}); len(ids) != 0 {
		t.Fatalf("process-instance map leaked: %v", ids)
	}
	if ids := idx.candidates(indexFilter{correlationID: "corr-1"}); len(ids) != 0 {
		t.Fatalf("correlation map leaked: %v", ids)
	}
	if ids := idx.candidates(indexFilter{flowNodeID: "task"}); len(ids) != 1 || ids[0] != "fni-c" {
		t.Fatalf("flow-node map mispruned: %v", ids)
	}

	if removed := idx.removeByProcessModel("pm-1"); removed != 0 {
		t.Fatalf("second removal should be a no-op, got %d", removed)
	}
}

func TestIndex_Rebuild(t *testing.T) {
	idx := newCorrelationIndex()
	idx.insert(indexedInstance("stale", "pi-0", "pm-0", "corr-0", "task", api.StateRunning, time.Now()))

	base := time.Now()
	idx.rebuild([]*api.FlowNodeInstance{
		indexedInstance("fni-b", "pi-1", "pm-1", "corr-1", "task", api.StateSuspended, base.Add(time.Second)),
		indexedInstance("fni-a", "pi-1", "pm-1", "corr-1", "task", api.StateFinished, base),
	})

	if _, ok := idx.state("stale"); ok {
		t.Fatalf("rebuild must drop prior contents")
	}

	ids := idx.candidates(indexFilter{processInstanceID: "pi-1"})
	if len(ids) != 2 || ids[0] != "fni-a" || ids[1] != "fni-b" {
		t.Fatalf("unexpected rebuilt candidates: %v", ids)
	}
	if state, ok := idx.state("fni-b"); !ok || state != api.StateSuspended {
		t.Fatalf("rebuilt state lost: %q ok=%v", state, ok)
	}
}
