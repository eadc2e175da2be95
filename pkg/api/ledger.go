package api

import "context"

// Ledger is the execution-state ledger of a process engine. The engine
// calls the Persist*/Suspend/Resume methods on every lifecycle transition
// of a flow node instance; monitoring tooling and crash recovery read via
// the query methods.
//
// All write methods return the resulting snapshot. A failed transition
// leaves the previous snapshot as the latest valid state.
type Ledger interface {
	// PersistOnEnter creates the instance record in StateRunning.
	// instanceID must be unique across the whole ledger; previousInstanceID
	// is empty only for the process's start event.
	PersistOnEnter(ctx context.Context, flowNode FlowNode, instanceID string, token ProcessToken, previousInstanceID string) (*FlowNodeInstance, error)

	// PersistOnExit records normal completion. Valid from StateRunning and
	// StateSuspended.
	PersistOnExit(ctx context.Context, flowNode FlowNode, instanceID string, token ProcessToken) (*FlowNodeInstance, error)

	// PersistOnError records a fault. Valid from StateRunning and
	// StateSuspended.
	PersistOnError(ctx context.Context, flowNode FlowNode, instanceID string, token ProcessToken, fault FaultInfo) (*FlowNodeInstance, error)

	// PersistOnTerminate records a cascading abort. Valid from any
	// non-terminal state.
	PersistOnTerminate(ctx context.Context, flowNode FlowNode, instanceID string, token ProcessToken) (*FlowNodeInstance, error)

	// Suspend parks a running instance, e.g. while waiting for a message,
	// timer or human task. It returns immediately; the wait is a state,
	// not a blocked call.
	Suspend(ctx context.Context, flowNodeID string, instanceID string, token ProcessToken) (*FlowNodeInstance, error)

	// Resume puts a suspended instance back into StateRunning, carrying the
	// supplied token so externally received data survives the wait. Exactly
	// one of several concurrent Resume calls succeeds; the rest fail with
	// an InvalidStateTransitionError.
	Resume(ctx context.Context, flowNodeID string, instanceID string, token ProcessToken) (*FlowNodeInstance, error)

	// GetInstance returns the latest snapshot for the given instance id.
	GetInstance(ctx context.Context, instanceID string) (*FlowNodeInstance, error)

	// GetSpecificFlowNode returns the instance of one flow node within one
	// correlation and process model.
	GetSpecificFlowNode(ctx context.Context, correlationID, processModelID, flowNodeID string) (*FlowNodeInstance, error)

	QueryByProcessInstance(ctx context.Context, processInstanceID string, page Page) ([]*FlowNodeInstance, error)
	QueryByProcessInstanceAndFlowNode(ctx context.Context, processInstanceID, flowNodeID string, page Page) ([]*FlowNodeInstance, error)
	QueryByFlowNode(ctx context.Context, flowNodeID string, page Page) ([]*FlowNodeInstance, error)
	QueryByCorrelation(ctx context.Context, correlationID string, page Page) ([]*FlowNodeInstance, error)
	QueryByCorrelationAndProcessModel(ctx context.Context, correlationID, processModelID string, page Page) ([]*FlowNodeInstance, error)
	QueryByProcessModel(ctx context.Context, processModelID string, page Page) ([]*FlowNodeInstance, error)
	QueryByState(ctx context.Context, state InstanceState, page Page) ([]*FlowNodeInstance, error)

	// Active = StateRunning union StateSuspended; used by recovery scans.
	QueryActive(ctx context.Context, page Page) ([]*FlowNodeInstance, error)
	QueryActiveByProcessInstance(ctx context.Context, processInstanceID string, page Page) ([]*FlowNodeInstance, error)
	QueryActiveByCorrelationAndProcessModel(ctx context.Context, correlationID, processModelID string, page Page) ([]*FlowNodeInstance, error)

	QuerySuspendedByCorrelation(ctx context.Context, correlationID string, page Page) ([]*FlowNodeInstance, error)
	QuerySuspendedByProcessModel(ctx context.Context, processModelID string, page Page) ([]*FlowNodeInstance, error)
	QuerySuspendedByProcessInstance(ctx context.Context, processInstanceID string, page Page) ([]*FlowNodeInstance, error)

	// QueryTokensByProcessInstance returns the latest token snapshot of
	// every instance in the given process instance.
	QueryTokensByProcessInstance(ctx context.Context, processInstanceID string, page Page) ([]ProcessToken, error)

	// History returns the append-only lifecycle events recorded for one
	// instance, oldest first.
	History(ctx context.Context, instanceID string) ([]LifecycleEvent, error)

	// DeleteByProcessModel removes every instance and token of the given
	// process model. Idempotent: deleting an unknown model is a no-op.
	DeleteByProcessModel(ctx context.Context, processModelID string) error
}
