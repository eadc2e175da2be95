package api

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// BpmnType identifies the kind of a flow node as declared in the process
// model. The ledger never interprets these values; it only records them so
// readers can tell a task record from a gateway record.
type BpmnType string

const (
	BpmnStartEvent             BpmnType = "bpmn:StartEvent"
	BpmnEndEvent               BpmnType = "bpmn:EndEvent"
	BpmnIntermediateCatchEvent BpmnType = "bpmn:IntermediateCatchEvent"
	BpmnIntermediateThrowEvent BpmnType = "bpmn:IntermediateThrowEvent"
	BpmnBoundaryEvent          BpmnType = "bpmn:BoundaryEvent"
	BpmnUserTask               BpmnType = "bpmn:UserTask"
	BpmnServiceTask            BpmnType = "bpmn:ServiceTask"
	BpmnScriptTask             BpmnType = "bpmn:ScriptTask"
	BpmnSendTask               BpmnType = "bpmn:SendTask"
	BpmnReceiveTask            BpmnType = "bpmn:ReceiveTask"
	BpmnManualTask             BpmnType = "bpmn:ManualTask"
	BpmnExclusiveGateway       BpmnType = "bpmn:ExclusiveGateway"
	BpmnParallelGateway        BpmnType = "bpmn:ParallelGateway"
	BpmnInclusiveGateway       BpmnType = "bpmn:InclusiveGateway"
	BpmnEventBasedGateway      BpmnType = "bpmn:EventBasedGateway"
	BpmnSubProcess             BpmnType = "bpmn:SubProcess"
	BpmnCallActivity           BpmnType = "bpmn:CallActivity"
)

// FlowNode is the read-only descriptor of one step in a process model.
// It is owned by the model layer; the ledger only copies the fields it
// needs into instance records and never mutates it.
type FlowNode struct {
	ID       string
	Type     BpmnType
	Name     string
	Incoming []string
	Outgoing []string

	// DefaultOutgoingSequenceFlowID is set on gateways that declare a
	// default branch. Informational only for the ledger.
	DefaultOutgoingSequenceFlowID string

	Documentation string
}

// TokenSnapshot is one historical payload of a process token, recorded
// before the payload was replaced at a flow node.
type TokenSnapshot struct {
	FlowNodeID string
	Payload    any
	CreatedAt  time.Time
}

// ProcessToken is the data payload travelling along one execution path of a
// process instance. It also carries the identifiers that tie the path to
// its process model and business correlation; PersistOnEnter copies them
// into the instance record. Each flow node instance owns exactly one token;
// parallel gateways branch tokens via Branch.
//
// Payload must be gob-encodable when a byte-oriented store backend is used.
type ProcessToken struct {
	ProcessInstanceID string
	ProcessModelID    string
	CorrelationID     string
	Payload           any

	// History holds prior payloads, oldest first. The ledger appends to it
	// on every write transition.
	History []TokenSnapshot
}

// Branch returns a copy of the token for a forked execution path, carrying
// the current payload and the payload history. The copy shares no slice
// storage with the parent.
func (t ProcessToken) Branch() ProcessToken {
	child := t
	if len(t.History) > 0 {
		child.History = make([]TokenSnapshot, len(t.History))
		copy(child.History, t.History)
	}
	return child
}

// InstanceState is the lifecycle state of a flow node instance.
type InstanceState string

const (
	StateRunning    InstanceState = "RUNNING"
	StateSuspended  InstanceState = "SUSPENDED"
	StateFinished   InstanceState = "FINISHED"
	StateErrored    InstanceState = "ERROR"
	StateTerminated InstanceState = "TERMINATED"
)

// IsTerminal reports whether no further transition can be applied from s.
func (s InstanceState) IsTerminal() bool {
	switch s {
	case StateFinished, StateErrored, StateTerminated:
		return true
	}
	return false
}

// IsActive reports whether s counts as active for recovery scans.
// Active covers running and suspended instances.
func (s InstanceState) IsActive() bool {
	return s == StateRunning || s == StateSuspended
}

// FaultInfo describes why an instance reached StateErrored.
type FaultInfo struct {
	Kind    string
	Message string
}

// FlowNodeInstance is one recorded execution of a flow node within a
// process instance. Records are immutable snapshots; every lifecycle
// transition produces a new one.
type FlowNodeInstance struct {
	// ID is the flow node instance id, assigned by the caller before
	// PersistOnEnter and unique across the whole ledger.
	ID string

	FlowNodeID   string
	FlowNodeType BpmnType
	FlowNodeName string

	ProcessInstanceID string
	ProcessModelID    string
	CorrelationID     string

	// PreviousInstanceID references the predecessor in the execution
	// chain. Empty for the process's start event.
	PreviousInstanceID string

	State InstanceState
	Token ProcessToken

	// Error is set when State is StateErrored.
	Error *FaultInfo

	EnteredAt time.Time

	// ExitedAt is zero until the instance reaches a terminal state.
	ExitedAt time.Time
}

// Clone returns a deep-enough copy of the instance for handing out to
// readers: the token history slice and the fault info are copied so callers
// cannot alter ledger state through the returned value.
func (i *FlowNodeInstance) Clone() *FlowNodeInstance {
	c := *i
	c.Token = i.Token.Branch()
	if i.Error != nil {
		e := *i.Error
		c.Error = &e
	}
	return &c
}

// Page controls pagination of list queries. Offset skips that many records
// from the front of the stable ordering; Limit caps the number returned,
// with Limit <= 0 meaning unbounded.
type Page struct {
	Offset int
	Limit  int
}

// All is the zero Page: no offset, no limit.
var All = Page{}
