// Package flowtrace provides an embeddable execution-state ledger for
// business-process engines.
//
// For every step ("flow node") a running process instance passes through,
// flowtrace durably records when the step started, the data token it
// carried, how it ended, and whether it is currently suspended. The
// process-execution engine writes on every lifecycle transition; monitoring
// tooling and crash-recovery logic read back through rich filtered queries.
// Flowtrace runs fully in-process, supports multiple persistence backends,
// and integrates cleanly into existing engines.
//
// # Core Concepts
//
// The flowtrace programming model is intentionally small:
//
//  1. Ledger
//  2. FlowNodeInstance
//  3. ProcessToken
//  4. Observer
//  5. Recorder
//
// # Ledger
//
// The Ledger validates and applies lifecycle transitions, persists every
// snapshot, and provides APIs to:
//   - record enter / exit / error / terminate transitions
//   - suspend a step waiting on a message, timer or human task, and resume
//     it later, even after a process restart
//   - query instances by correlation, process model, process instance,
//     flow node, or state, with stable pagination
//   - delete all records of a decommissioned process model
//
// Ledgers can be backed by different storage systems:
//
//   - In-memory (non-durable, best for tests)
//   - SQLite (embedded durability)
//   - Postgres
//   - Redis
//
// Each backend keeps instance records, token snapshots and, where
// supported, the append-only lifecycle history in the same store. On
// construction the ledger rebuilds its in-memory correlation index from
// the instance store, so suspended work is queryable again after a crash.
//
// Ledgers are safe for use from many concurrent execution branches; a
// suspended step is a state, not a blocked call.
//
// # FlowNodeInstance and ProcessToken
//
// FlowNodeInstance is the central record: one concrete execution of a flow
// node within a process instance, including its state, timestamps, fault
// information and predecessor reference. ProcessToken is the data payload
// travelling along the execution path; it carries its own payload history
// and branches at parallel gateways via Branch.
//
// Lifecycle states and transitions:
//
//	(none)    --PersistOnEnter-->     RUNNING
//	RUNNING   --Suspend-->            SUSPENDED
//	SUSPENDED --Resume-->             RUNNING
//	RUNNING | SUSPENDED --PersistOnExit-->      FINISHED
//	RUNNING | SUSPENDED --PersistOnError-->     ERROR
//	RUNNING | SUSPENDED --PersistOnTerminate--> TERMINATED
//
// Transitions from any other source state fail with an
// InvalidStateTransitionError and leave the previous snapshot intact.
//
// # Observer
//
// Observers receive callbacks after every persisted transition. The
// package ships a LoggingObserver (log/slog), a BasicMetrics collector,
// and a CompositeObserver to combine them.
//
// # Recorder
//
// Recorder is a convenience wrapper for engines that drive one flow node
// at a time per branch: it assigns instance ids and fills in descriptor
// fields so call sites stay short.
package flowtrace
