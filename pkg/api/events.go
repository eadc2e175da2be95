package api

import "time"

// EventType identifies a lifecycle history event.
type EventType string

const (
	EventInstanceEntered    EventType = "instance.entered"
	EventInstanceExited     EventType = "instance.exited"
	EventInstanceErrored    EventType = "instance.errored"
	EventInstanceTerminated EventType = "instance.terminated"
	EventInstanceSuspended  EventType = "instance.suspended"
	EventInstanceResumed    EventType = "instance.resumed"
)

// LifecycleEvent is a minimal append-only history record for audit,
// debugging and replay. It is intentionally small and stable.
type LifecycleEvent struct {
	InstanceID string
	At         time.Time
	Type       EventType
	State      InstanceState

	// Optional context.
	ProcessInstanceID string
	ProcessModelID    string
	FlowNodeID        string

	// Small, human-oriented details (e.g. fault kind, predecessor id).
	// Keep this low-volume: do NOT dump token payloads here.
	Detail string
}
