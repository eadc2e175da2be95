package api

import (
	"context"
	"errors"
	"testing"
)

type countingObserver struct {
	NoopObserver
	transitions   int
	faults        int
	deletes       int
	historyErrors int
}

func (c *countingObserver) OnTransition(ctx context.Context, event EventType, inst *FlowNodeInstance) {
	c.transitions++
}

func (c *countingObserver) OnFault(ctx context.Context, inst *FlowNodeInstance, fault FaultInfo) {
	c.faults++
}

func (c *countingObserver) OnDelete(ctx context.Context, processModelID string, removed int) {
	c.deletes++
}

func (c *countingObserver) OnHistoryError(ctx context.Context, inst *FlowNodeInstance, err error) {
	c.historyErrors++
}

func TestNewCompositeObserver_FiltersNil(t *testing.T) {
	if _, ok := NewCompositeObserver(nil, nil).(NoopObserver); !ok {
		t.Fatalf("all-nil composite should collapse to NoopObserver")
	}

	single := &countingObserver{}
	if got := NewCompositeObserver(nil, single); got != single {
		t.Fatalf("single-observer composite should return the observer itself")
	}
}

func TestCompositeObserver_FansOut(t *testing.T) {
	a := &countingObserver{}
	b := &countingObserver{}
	obs := NewCompositeObserver(a, b)

	ctx := context.Background()
	inst := &FlowNodeInstance{ID: "fni-1", State: StateErrored}

	obs.OnTransition(ctx, EventInstanceErrored, inst)
	obs.OnFault(ctx, inst, FaultInfo{Kind: "Fault", Message: "x"})
	obs.OnDelete(ctx, "pm-1", 3)
	obs.OnHistoryError(ctx, inst, errors.New("append failed"))

	for _, c := range []*countingObserver{a, b} {
		if c.transitions != 1 || c.faults != 1 || c.deletes != 1 || c.historyErrors != 1 {
			t.Fatalf("expected each observer to see every event, got %+v", c)
		}
	}
}

func TestBasicMetrics_Snapshot(t *testing.T) {
	m := &BasicMetrics{}
	ctx := context.Background()
	inst := &FlowNodeInstance{ID: "fni-1"}

	m.OnTransition(ctx, EventInstanceEntered, inst)
	m.OnTransition(ctx, EventInstanceEntered, inst)
	m.OnTransition(ctx, EventInstanceSuspended, inst)
	m.OnTransition(ctx, EventInstanceResumed, inst)
	m.OnTransition(ctx, EventInstanceExited, inst)
	m.OnDelete(ctx, "pm-1", 2)
	m.OnHistoryError(ctx, inst, errors.New("append failed"))

	snap := m.Snapshot()

	if snap.Entered != 2 {
		t.Fatalf("expected 2 entered, got %d", snap.Entered)
	}
	if snap.Finished != 1 {
		t.Fatalf("expected 1 finished, got %d", snap.Finished)
	}
	if snap.Suspended != 1 || snap.Resumed != 1 {
		t.Fatalf("expected suspend/resume counted, got %+v", snap)
	}
	if snap.Active != 1 {
		t.Fatalf("expected 1 active, got %d", snap.Active)
	}
	if snap.Deleted != 2 {
		t.Fatalf("expected 2 deleted, got %d", snap.Deleted)
	}
	if snap.HistoryErrors != 1 {
		t.Fatalf("expected 1 history error, got %d", snap.HistoryErrors)
	}
}
