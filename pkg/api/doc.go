// Package api defines the public types of the flowtrace ledger.
//
// The central entity is FlowNodeInstance: one recorded execution of a flow
// node within a process instance, together with the ProcessToken it carried
// and its lifecycle state. The Ledger interface is the full API surface;
// backend constructors live in the root flowtrace package.
//
// The FlowNode descriptor is owned by the process-model layer. The ledger
// treats it as an immutable input and only copies the identifying fields
// into instance records.
package api
