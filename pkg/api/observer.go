package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from the ledger for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay lifecycle writes.
type Observer interface {
	// OnTransition is called after a lifecycle transition has been
	// persisted. inst is the new snapshot.
	OnTransition(ctx context.Context, event EventType, inst *FlowNodeInstance)

	// OnFault is called when an instance transitions to StateErrored,
	// in addition to OnTransition.
	OnFault(ctx context.Context, inst *FlowNodeInstance, fault FaultInfo)

	// OnDelete is called after DeleteByProcessModel, with the number of
	// instance records removed.
	OnDelete(ctx context.Context, processModelID string, removed int)

	// OnHistoryError is called when a lifecycle event could not be
	// appended to the event store. The transition itself has already
	// been committed; only the history record is missing.
	OnHistoryError(ctx context.Context, inst *FlowNodeInstance, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTransition(ctx context.Context, event EventType, inst *FlowNodeInstance) {}
func (NoopObserver) OnFault(ctx context.Context, inst *FlowNodeInstance, fault FaultInfo)      {}
func (NoopObserver) OnDelete(ctx context.Context, processModelID string, removed int)          {}
func (NoopObserver) OnHistoryError(ctx context.Context, inst *FlowNodeInstance, err error)     {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, event EventType, inst *FlowNodeInstance) {
	for _, o := range c.observers {
		o.OnTransition(ctx, event, inst)
	}
}

func (c *CompositeObserver) OnFault(ctx context.Context, inst *FlowNodeInstance, fault FaultInfo) {
	for _, o := range c.observers {
		o.OnFault(ctx, inst, fault)
	}
}

func (c *CompositeObserver) OnDelete(ctx context.Context, processModelID string, removed int) {
	for _, o := range c.observers {
		o.OnDelete(ctx, processModelID, removed)
	}
}

func (c *CompositeObserver) OnHistoryError(ctx context.Context, inst *FlowNodeInstance, err error) {
	for _, o := range c.observers {
		o.OnHistoryError(ctx, inst, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs lifecycle transitions
// using the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTransition(ctx context.Context, event EventType, inst *FlowNodeInstance) {
	o.Logger.InfoContext(ctx, string(event),
		slog.String("instance_id", inst.ID),
		slog.String("flow_node_id", inst.FlowNodeID),
		slog.String("process_instance_id", inst.ProcessInstanceID),
		slog.String("process_model_id", inst.ProcessModelID),
		slog.String("correlation_id", inst.CorrelationID),
		slog.String("state", string(inst.State)),
	)
}

func (o *LoggingObserver) OnFault(ctx context.Context, inst *FlowNodeInstance, fault FaultInfo) {
	o.Logger.ErrorContext(ctx, "instance_fault",
		slog.String("instance_id", inst.ID),
		slog.String("flow_node_id", inst.FlowNodeID),
		slog.String("process_instance_id", inst.ProcessInstanceID),
		slog.String("fault_kind", fault.Kind),
		slog.String("fault_message", fault.Message),
	)
}

func (o *LoggingObserver) OnDelete(ctx context.Context, processModelID string, removed int) {
	o.Logger.InfoContext(ctx, "process_model_deleted",
		slog.String("process_model_id", processModelID),
		slog.Int("instances_removed", removed),
	)
}

func (o *LoggingObserver) OnHistoryError(ctx context.Context, inst *FlowNodeInstance, err error) {
	o.Logger.WarnContext(ctx, "history_append_failed",
		slog.String("instance_id", inst.ID),
		slog.String("flow_node_id", inst.FlowNodeID),
		slog.String("error", err.Error()),
	)
}

// BasicMetrics collects simple lifecycle counters. It implements Observer,
// and can be combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	entered    atomic.Int64
	finished   atomic.Int64
	errored    atomic.Int64
	terminated atomic.Int64
	suspended  atomic.Int64
	resumed    atomic.Int64
	deleted    atomic.Int64

	historyErrors atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Entered    int64
	Finished   int64
	Errored    int64
	Terminated int64
	Suspended  int64
	Resumed    int64
	Deleted    int64

	// HistoryErrors counts lifecycle events that failed to append to the
	// event store after their transition had committed.
	HistoryErrors int64

	// Active is derived: entered minus the three terminal outcomes.
	Active int64
}

func (m *BasicMetrics) OnTransition(ctx context.Context, event EventType, inst *FlowNodeInstance) {
	switch event {
	case EventInstanceEntered:
		m.entered.Add(1)
	case EventInstanceExited:
		m.finished.Add(1)
	case EventInstanceErrored:
		m.errored.Add(1)
	case EventInstanceTerminated:
		m.terminated.Add(1)
	case EventInstanceSuspended:
		m.suspended.Add(1)
	case EventInstanceResumed:
		m.resumed.Add(1)
	}
}

func (m *BasicMetrics) OnDelete(ctx context.Context, processModelID string, removed int) {
	m.deleted.Add(int64(removed))
}

func (m *BasicMetrics) OnHistoryError(ctx context.Context, inst *FlowNodeInstance, err error) {
	m.historyErrors.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	entered := m.entered.Load()
	finished := m.finished.Load()
	errored := m.errored.Load()
	terminated := m.terminated.Load()

	return BasicMetricsSnapshot{
		Entered:    entered,
		Finished:   finished,
		Errored:    errored,
		Terminated: terminated,
		Suspended:  m.suspended.Load(),
		Resumed:    m.resumed.Load(),
		Deleted:    m.deleted.Load(),

		HistoryErrors: m.historyErrors.Load(),

		Active: entered - finished - errored - terminated,
	}
}
