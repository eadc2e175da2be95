package flowtrace

import (
	"context"
	"sync"
)

// Recorder is a thin convenience layer over a Ledger for engines that drive
// one flow node at a time per execution branch. It assigns instance ids and
// tracks the predecessor chain, so callers only supply the flow node and
// the token.
//
// Typical usage:
//
//	rec := flowtrace.NewRecorder(ledger)
//	start, _ := rec.Enter(ctx, startEvent, token)
//	rec.Exit(ctx, start, token)
//	task, _ := rec.EnterAfter(ctx, approveTask, token, start.ID)
//	rec.Suspend(ctx, task, token)
//	...
//	rec.Resume(ctx, task, updatedToken)
//	rec.Exit(ctx, task, updatedToken)
//
// A Recorder is safe for concurrent use; parallel branches pass their own
// predecessor id to EnterAfter.
type Recorder struct {
	// Ledger is the underlying ledger written to.
	Ledger Ledger

	mu sync.Mutex
	// newID assigns instance ids; defaults to NewInstanceID.
	newID func() string
}

// NewRecorder constructs a Recorder over the given ledger.
func NewRecorder(l Ledger) *Recorder {
	return &Recorder{
		Ledger: l,
		newID:  NewInstanceID,
	}
}

// Enter records the start event of a process instance: a fresh instance id
// and no predecessor.
func (r *Recorder) Enter(ctx context.Context, flowNode FlowNode, token ProcessToken) (*FlowNodeInstance, error) {
	return r.Ledger.PersistOnEnter(ctx, flowNode, r.nextID(), token, "")
}

// EnterAfter records a successor step in the execution chain.
func (r *Recorder) EnterAfter(ctx context.Context, flowNode FlowNode, token ProcessToken, previousInstanceID string) (*FlowNodeInstance, error) {
	return r.Ledger.PersistOnEnter(ctx, flowNode, r.nextID(), token, previousInstanceID)
}

// Exit records normal completion of a previously entered instance.
func (r *Recorder) Exit(ctx context.Context, inst *FlowNodeInstance, token ProcessToken) (*FlowNodeInstance, error) {
	return r.Ledger.PersistOnExit(ctx, flowNodeOf(inst), inst.ID, token)
}

// Fail records a fault on a previously entered instance.
func (r *Recorder) Fail(ctx context.Context, inst *FlowNodeInstance, token ProcessToken, fault FaultInfo) (*FlowNodeInstance, error) {
	return r.Ledger.PersistOnError(ctx, flowNodeOf(inst), inst.ID, token, fault)
}

// Terminate records a cascading abort of a previously entered instance.
func (r *Recorder) Terminate(ctx context.Context, inst *FlowNodeInstance, token ProcessToken) (*FlowNodeInstance, error) {
	return r.Ledger.PersistOnTerminate(ctx, flowNodeOf(inst), inst.ID, token)
}

// Suspend parks a running instance.
func (r *Recorder) Suspend(ctx context.Context, inst *FlowNodeInstance, token ProcessToken) (*FlowNodeInstance, error) {
	return r.Ledger.Suspend(ctx, inst.FlowNodeID, inst.ID, token)
}

// Resume continues a suspended instance with the given token.
func (r *Recorder) Resume(ctx context.Context, inst *FlowNodeInstance, token ProcessToken) (*FlowNodeInstance, error) {
	return r.Ledger.Resume(ctx, inst.FlowNodeID, inst.ID, token)
}

func (r *Recorder) nextID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newID()
}

// flowNodeOf rebuilds the descriptor fields a transition needs from an
// instance snapshot.
func flowNodeOf(inst *FlowNodeInstance) FlowNode {
	return FlowNode{
		ID:   inst.FlowNodeID,
		Type: inst.FlowNodeType,
		Name: inst.FlowNodeName,
	}
}
