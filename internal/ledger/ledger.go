package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowtrace/internal/persistence"
	"github.com/petrijr/flowtrace/pkg/api"
)

// ledgerImpl is the lifecycle controller: it validates and applies state
// transitions, writing through to the instance, token and event stores and
// keeping the correlation index consistent with every write.
type ledgerImpl struct {
	instances persistence.InstanceStore
	tokens    persistence.TokenStore
	events    persistence.EventStore
	observer  api.Observer

	// mu serializes writes against index updates; readers take the read
	// side so a candidate id always resolves to a store record.
	mu  sync.RWMutex
	idx *correlationIndex
}

// Config describes how to construct a ledger.
// Only used inside this package; external callers use the helper functions.
type Config struct {
	Persistence persistence.Persistence
	Observer    api.Observer
}

// NewInMemoryLedger returns a Ledger backed entirely by in-memory stores.
func NewInMemoryLedger() api.Ledger {
	mem := persistence.NewInMemoryStore()
	l, _ := NewLedgerWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: mem,
			Tokens:    mem,
			Events:    persistence.NewInMemoryEventStore(),
		},
	})
	return l
}

// NewInMemoryLedgerWithObserver returns an in-memory Ledger with the given
// Observer.
func NewInMemoryLedgerWithObserver(obs api.Observer) api.Ledger {
	mem := persistence.NewInMemoryStore()
	l, _ := NewLedgerWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: mem,
			Tokens:    mem,
			Events:    persistence.NewInMemoryEventStore(),
		},
		Observer: obs,
	})
	return l
}

// NewSQLiteLedger returns a Ledger that persists instance and token records
// in a SQLite database.
func NewSQLiteLedger(db *sql.DB) (api.Ledger, error) {
	return NewSQLiteLedgerWithObserver(db, nil)
}

// NewSQLiteLedgerWithObserver returns a SQLite-backed Ledger with the given
// Observer.
func NewSQLiteLedgerWithObserver(db *sql.DB, obs api.Observer) (api.Ledger, error) {
	store, err := persistence.NewSQLiteStore(db)
	if err != nil {
		return nil, err
	}
	events, err := persistence.NewSQLiteEventStore(db)
	if err != nil {
		return nil, err
	}
	return NewLedgerWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: store,
			Tokens:    store,
			Events:    events,
		},
		Observer: obs,
	})
}

// NewPostgresLedger returns a Ledger that persists instance and token
// records in PostgreSQL. Lifecycle history is kept in memory; pair with a
// durable event store if replayable history must survive restarts.
func NewPostgresLedger(db *sql.DB) (api.Ledger, error) {
	return NewPostgresLedgerWithObserver(db, nil)
}

// NewPostgresLedgerWithObserver returns a Postgres-backed Ledger with the
// given Observer.
func NewPostgresLedgerWithObserver(db *sql.DB, obs api.Observer) (api.Ledger, error) {
	store, err := persistence.NewPostgresStore(db)
	if err != nil {
		return nil, err
	}
	return NewLedgerWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: store,
			Tokens:    store,
			Events:    persistence.NewInMemoryEventStore(),
		},
		Observer: obs,
	})
}

// NewRedisLedger returns a Ledger that persists instance and token records
// in Redis. Lifecycle history is kept in memory; pair with a durable event
// store if replayable history must survive restarts.
func NewRedisLedger(client *redis.Client) (api.Ledger, error) {
	return NewRedisLedgerWithObserver(client, nil)
}

// NewRedisLedgerWithObserver returns a Redis-backed Ledger with the given
// Observer.
func NewRedisLedgerWithObserver(client *redis.Client, obs api.Observer) (api.Ledger, error) {
	store := persistence.NewRedisStore(client, "flowtrace:")
	return NewLedgerWithConfig(Config{
		Persistence: persistence.Persistence{
			Instances: store,
			Tokens:    store,
			Events:    persistence.NewInMemoryEventStore(),
		},
		Observer: obs,
	})
}

// NewLedgerWithConfig creates a new Ledger using the given configuration
// and rebuilds the correlation index from the instance store, so active
// and suspended instances are queryable again after a process restart.
func NewLedgerWithConfig(cfg Config) (api.Ledger, error) {
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	events := cfg.Persistence.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}

	l := &ledgerImpl{
		instances: cfg.Persistence.Instances,
		tokens:    cfg.Persistence.Tokens,
		events:    events,
		observer:  obs,
		idx:       newCorrelationIndex(),
	}

	existing, err := l.instances.ListInstances(context.Background(), persistence.InstanceFilter{})
	if err != nil {
		return nil, &api.PersistenceError{Op: "rebuild index", Err: err}
	}
	l.idx.rebuild(existing)

	return l, nil
}

func (l *ledgerImpl) PersistOnEnter(ctx context.Context, flowNode api.FlowNode, instanceID string, token api.ProcessToken, previousInstanceID string) (*api.FlowNodeInstance, error) {
	if err := requireID("flowNodeInstanceId", instanceID); err != nil {
		return nil, err
	}
	if err := requireID("flowNode.Id", flowNode.ID); err != nil {
		return nil, err
	}
	if err := requireID("token.ProcessInstanceId", token.ProcessInstanceID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// A predecessor, when given, must already have left the running state:
	// its branch of execution hands over to this instance.
	if previousInstanceID != "" {
		prevState, ok := l.idx.state(previousInstanceID)
		if !ok {
			return nil, &api.NotFoundError{InstanceID: previousInstanceID}
		}
		if prevState == api.StateRunning {
			return nil, &api.InvalidStateTransitionError{
				InstanceID: previousInstanceID,
				From:       prevState,
				Op:         "chain from",
			}
		}
	}

	now := time.Now()
	inst := &api.FlowNodeInstance{
		ID:                 instanceID,
		FlowNodeID:         flowNode.ID,
		FlowNodeType:       flowNode.Type,
		FlowNodeName:       flowNode.Name,
		ProcessInstanceID:  token.ProcessInstanceID,
		ProcessModelID:     token.ProcessModelID,
		CorrelationID:      token.CorrelationID,
		PreviousInstanceID: previousInstanceID,
		State:              api.StateRunning,
		Token:              token,
		EnteredAt:          now,
	}

	if err := l.instances.InsertInstance(ctx, inst); err != nil {
		if errors.Is(err, persistence.ErrDuplicateInstance) {
			state, _ := l.idx.state(instanceID)
			return nil, &api.InvalidStateTransitionError{InstanceID: instanceID, From: state, Op: "enter"}
		}
		return nil, &api.PersistenceError{Op: "persist instance", Err: err}
	}

	if err := l.saveToken(ctx, inst, now); err != nil {
		return nil, err
	}

	l.idx.insert(inst)

	l.appendEvent(ctx, inst, api.EventInstanceEntered, previousInstanceID)
	l.observer.OnTransition(ctx, api.EventInstanceEntered, inst)

	return inst.Clone(), nil
}

func (l *ledgerImpl) PersistOnExit(ctx context.Context, flowNode api.FlowNode, instanceID string, token api.ProcessToken) (*api.FlowNodeInstance, error) {
	return l.transitionByFlowNode(ctx, flowNode.ID, instanceID, token, transitionSpec{
		op:     "exit",
		from:   []api.InstanceState{api.StateRunning, api.StateSuspended},
		to:     api.StateFinished,
		event:  api.EventInstanceExited,
		exited: true,
	})
}

func (l *ledgerImpl) PersistOnError(ctx context.Context, flowNode api.FlowNode, instanceID string, token api.ProcessToken, fault api.FaultInfo) (*api.FlowNodeInstance, error) {
	return l.transitionByFlowNode(ctx, flowNode.ID, instanceID, token, transitionSpec{
		op:     "record error on",
		from:   []api.InstanceState{api.StateRunning, api.StateSuspended},
		to:     api.StateErrored,
		event:  api.EventInstanceErrored,
		exited: true,
		fault:  &fault,
	})
}

func (l *ledgerImpl) PersistOnTerminate(ctx context.Context, flowNode api.FlowNode, instanceID string, token api.ProcessToken) (*api.FlowNodeInstance, error) {
	// Termination of an already finished or errored instance is rejected;
	// a cascading abort racing with normal completion loses the race.
	return l.transitionByFlowNode(ctx, flowNode.ID, instanceID, token, transitionSpec{
		op:     "terminate",
		from:   []api.InstanceState{api.StateRunning, api.StateSuspended},
		to:     api.StateTerminated,
		event:  api.EventInstanceTerminated,
		exited: true,
	})
}

func (l *ledgerImpl) Suspend(ctx context.Context, flowNodeID string, instanceID string, token api.ProcessToken) (*api.FlowNodeInstance, error) {
	return l.transitionByFlowNode(ctx, flowNodeID, instanceID, token, transitionSpec{
		op:    "suspend",
		from:  []api.InstanceState{api.StateRunning},
		to:    api.StateSuspended,
		event: api.EventInstanceSuspended,
	})
}

func (l *ledgerImpl) Resume(ctx context.Context, flowNodeID string, instanceID string, token api.ProcessToken) (*api.FlowNodeInstance, error) {
	return l.transitionByFlowNode(ctx, flowNodeID, instanceID, token, transitionSpec{
		op:    "resume",
		from:  []api.InstanceState{api.StateSuspended},
		to:    api.StateRunning,
		event: api.EventInstanceResumed,
	})
}

// transitionSpec describes one row of the lifecycle table.
type transitionSpec struct {
	op     string
	from   []api.InstanceState
	to     api.InstanceState
	event  api.EventType
	exited bool
	fault  *api.FaultInfo
}

// transitionByFlowNode applies one lifecycle transition under the write
// lock. The state check and the store write happen inside the same
// critical section, so concurrent callers race on the check, not on the
// write: exactly one resume of a suspended instance can win.
func (l *ledgerImpl) transitionByFlowNode(ctx context.Context, flowNodeID string, instanceID string, token api.ProcessToken, spec transitionSpec) (*api.FlowNodeInstance, error) {
	if err := requireID("flowNodeInstanceId", instanceID); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.instances.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, &api.NotFoundError{InstanceID: instanceID}
		}
		return nil, &api.PersistenceError{Op: "load instance", Err: err}
	}

	if flowNodeID != "" && current.FlowNodeID != flowNodeID {
		return nil, &api.ValidationError{
			Field:  "flowNodeId",
			Reason: fmt.Sprintf("%q does not match instance flow node %q", flowNodeID, current.FlowNodeID),
		}
	}

	if !stateIn(current.State, spec.from) {
		return nil, &api.InvalidStateTransitionError{
			InstanceID: instanceID,
			From:       current.State,
			Op:         spec.op,
		}
	}

	now := time.Now()

	next := current.Clone()
	next.State = spec.to
	next.Error = spec.fault
	next.Token = withHistory(current, token, now)
	if spec.exited {
		next.ExitedAt = now
	}

	if err := l.instances.UpdateInstance(ctx, next); err != nil {
		return nil, &api.PersistenceError{Op: "persist instance", Err: err}
	}

	if err := l.saveToken(ctx, next, now); err != nil {
		return nil, err
	}

	l.idx.setState(instanceID, spec.to)

	detail := ""
	if spec.fault != nil {
		detail = spec.fault.Kind + ": " + spec.fault.Message
	}
	l.appendEvent(ctx, next, spec.event, detail)
	l.observer.OnTransition(ctx, spec.event, next)
	if spec.fault != nil {
		l.observer.OnFault(ctx, next, *spec.fault)
	}

	return next.Clone(), nil
}

func (l *ledgerImpl) DeleteByProcessModel(ctx context.Context, processModelID string) error {
	if err := requireID("processModelId", processModelID); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	removed, err := l.instances.DeleteByProcessModel(ctx, processModelID)
	if err != nil {
		return &api.PersistenceError{Op: "delete instances", Err: err}
	}
	if _, err := l.tokens.DeleteTokensByProcessModel(ctx, processModelID); err != nil {
		return &api.PersistenceError{Op: "delete tokens", Err: err}
	}
	if err := l.events.DeleteByProcessModel(ctx, processModelID); err != nil {
		return &api.PersistenceError{Op: "delete events", Err: err}
	}

	l.idx.removeByProcessModel(processModelID)

	l.observer.OnDelete(ctx, processModelID, removed)
	return nil
}

func (l *ledgerImpl) History(ctx context.Context, instanceID string) ([]api.LifecycleEvent, error) {
	if err := requireID("flowNodeInstanceId", instanceID); err != nil {
		return nil, err
	}
	events, err := l.events.ListEvents(ctx, instanceID)
	if err != nil {
		return nil, &api.PersistenceError{Op: "list events", Err: err}
	}
	return events, nil
}

func (l *ledgerImpl) saveToken(ctx context.Context, inst *api.FlowNodeInstance, now time.Time) error {
	err := l.tokens.SaveToken(ctx, persistence.TokenRecord{
		ProcessInstanceID: inst.ProcessInstanceID,
		InstanceID:        inst.ID,
		ProcessModelID:    inst.ProcessModelID,
		Token:             inst.Token,
		CreatedAt:         now,
	})
	if err != nil {
		return &api.PersistenceError{Op: "persist token", Err: err}
	}
	return nil
}

func (l *ledgerImpl) appendEvent(ctx context.Context, inst *api.FlowNodeInstance, event api.EventType, detail string) {
	// A failed append must not invalidate the committed transition, but
	// the gap in history has to be detectable: the observer is told.
	err := l.events.AppendEvent(ctx, api.LifecycleEvent{
		InstanceID:        inst.ID,
		At:                time.Now(),
		Type:              event,
		State:             inst.State,
		ProcessInstanceID: inst.ProcessInstanceID,
		ProcessModelID:    inst.ProcessModelID,
		FlowNodeID:        inst.FlowNodeID,
		Detail:            detail,
	})
	if err != nil {
		l.observer.OnHistoryError(ctx, inst, err)
	}
}

// withHistory builds the token snapshot stored with the new record: the
// caller-supplied payload on top of the ledger-owned history, extended by
// the payload the instance carried before this transition.
func withHistory(current *api.FlowNodeInstance, token api.ProcessToken, now time.Time) api.ProcessToken {
	next := token
	if next.ProcessInstanceID == "" {
		next.ProcessInstanceID = current.ProcessInstanceID
	}
	if next.ProcessModelID == "" {
		next.ProcessModelID = current.ProcessModelID
	}
	if next.CorrelationID == "" {
		next.CorrelationID = current.CorrelationID
	}

	history := make([]api.TokenSnapshot, 0, len(current.Token.History)+1)
	history = append(history, current.Token.History...)
	history = append(history, api.TokenSnapshot{
		FlowNodeID: current.FlowNodeID,
		Payload:    current.Token.Payload,
		CreatedAt:  now,
	})
	next.History = history
	return next
}

func stateIn(state api.InstanceState, set []api.InstanceState) bool {
	for _, s := range set {
		if state == s {
			return true
		}
	}
	return false
}

func requireID(field, value string) error {
	if value == "" {
		return &api.ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}
