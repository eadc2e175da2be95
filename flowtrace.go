package flowtrace

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowtrace/internal/ledger"
	"github.com/petrijr/flowtrace/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Ledger               = api.Ledger
	FlowNode             = api.FlowNode
	FlowNodeInstance     = api.FlowNodeInstance
	ProcessToken         = api.ProcessToken
	TokenSnapshot        = api.TokenSnapshot
	InstanceState        = api.InstanceState
	BpmnType             = api.BpmnType
	FaultInfo            = api.FaultInfo
	Page                 = api.Page
	LifecycleEvent       = api.LifecycleEvent
	EventType            = api.EventType
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export state values for convenience.

const (
	StateRunning    = api.StateRunning
	StateSuspended  = api.StateSuspended
	StateFinished   = api.StateFinished
	StateErrored    = api.StateErrored
	StateTerminated = api.StateTerminated
)

// Re-export flow node type values.

const (
	BpmnStartEvent             = api.BpmnStartEvent
	BpmnEndEvent               = api.BpmnEndEvent
	BpmnIntermediateCatchEvent = api.BpmnIntermediateCatchEvent
	BpmnIntermediateThrowEvent = api.BpmnIntermediateThrowEvent
	BpmnBoundaryEvent          = api.BpmnBoundaryEvent
	BpmnUserTask               = api.BpmnUserTask
	BpmnServiceTask            = api.BpmnServiceTask
	BpmnScriptTask             = api.BpmnScriptTask
	BpmnSendTask               = api.BpmnSendTask
	BpmnReceiveTask            = api.BpmnReceiveTask
	BpmnManualTask             = api.BpmnManualTask
	BpmnExclusiveGateway       = api.BpmnExclusiveGateway
	BpmnParallelGateway        = api.BpmnParallelGateway
	BpmnInclusiveGateway       = api.BpmnInclusiveGateway
	BpmnEventBasedGateway      = api.BpmnEventBasedGateway
	BpmnSubProcess             = api.BpmnSubProcess
	BpmnCallActivity           = api.BpmnCallActivity
)

// Re-export lifecycle event types.

const (
	EventInstanceEntered    = api.EventInstanceEntered
	EventInstanceExited     = api.EventInstanceExited
	EventInstanceErrored    = api.EventInstanceErrored
	EventInstanceTerminated = api.EventInstanceTerminated
	EventInstanceSuspended  = api.EventInstanceSuspended
	EventInstanceResumed    = api.EventInstanceResumed
)

// Ledger constructors
// These wrap the internal/ledger package so external callers
// never need to import internal packages.

// NewInMemoryLedger returns a Ledger backed entirely by in-memory stores.
func NewInMemoryLedger() Ledger {
	return ledger.NewInMemoryLedger()
}

// NewInMemoryLedgerWithObserver returns an in-memory Ledger with the given Observer.
func NewInMemoryLedgerWithObserver(obs Observer) Ledger {
	return ledger.NewInMemoryLedgerWithObserver(obs)
}

// NewSQLiteLedger returns a Ledger that persists instance records, token
// records and lifecycle history in a SQLite database.
func NewSQLiteLedger(db *sql.DB) (Ledger, error) {
	return ledger.NewSQLiteLedger(db)
}

// NewSQLiteLedgerWithObserver returns a SQLite-backed Ledger with the given Observer.
func NewSQLiteLedgerWithObserver(db *sql.DB, obs Observer) (Ledger, error) {
	return ledger.NewSQLiteLedgerWithObserver(db, obs)
}

// NewPostgresLedger returns a Ledger that persists instance and token
// records in PostgreSQL.
func NewPostgresLedger(db *sql.DB) (Ledger, error) {
	return ledger.NewPostgresLedger(db)
}

// NewPostgresLedgerWithObserver returns a Postgres-backed Ledger with the given Observer.
func NewPostgresLedgerWithObserver(db *sql.DB, obs Observer) (Ledger, error) {
	return ledger.NewPostgresLedgerWithObserver(db, obs)
}

// NewRedisLedger returns a Ledger that persists instance and token records in Redis.
func NewRedisLedger(client *redis.Client) (Ledger, error) {
	return ledger.NewRedisLedger(client)
}

// NewRedisLedgerWithObserver returns a Redis-backed Ledger with the given Observer.
func NewRedisLedgerWithObserver(client *redis.Client, obs Observer) (Ledger, error) {
	return ledger.NewRedisLedgerWithObserver(client, obs)
}

// NewInstanceID returns a fresh flow node instance id. Engines that manage
// their own id scheme can ignore this helper; the ledger only requires ids
// to be unique and non-empty.
func NewInstanceID() string {
	return uuid.NewString()
}

// Convenience helpers that just forward to the underlying Ledger.

// GetInstance fetches the latest snapshot of an instance by id.
func GetInstance(ctx context.Context, l Ledger, instanceID string) (*FlowNodeInstance, error) {
	return l.GetInstance(ctx, instanceID)
}

// ActiveInstances returns the running and suspended instances of the whole
// ledger. It is typically called on process startup to find work that must
// be resumed:
//
//	stuck, err := flowtrace.ActiveInstances(ctx, ledger)
func ActiveInstances(ctx context.Context, l Ledger) ([]*FlowNodeInstance, error) {
	return l.QueryActive(ctx, api.All)
}

// SuspendedInstances returns the suspended instances of one process
// instance, e.g. to correlate an incoming message to a waiting step.
func SuspendedInstances(ctx context.Context, l Ledger, processInstanceID string) ([]*FlowNodeInstance, error) {
	return l.QuerySuspendedByProcessInstance(ctx, processInstanceID, api.All)
}
