package ledger

import (
	"context"
	"errors"

	"github.com/petrijr/flowtrace/internal/persistence"
	"github.com/petrijr/flowtrace/pkg/api"
)

// activeStates is the state set recovery scans care about.
var activeStates = []api.InstanceState{api.StateRunning, api.StateSuspended}

func (l *ledgerImpl) GetInstance(ctx context.Context, instanceID string) (*api.FlowNodeInstance, error) {
	if err := requireID("flowNodeInstanceId", instanceID); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	inst, err := l.instances.GetInstance(ctx, instanceID)
	if err != nil {
		if errors.Is(err, persistence.ErrInstanceNotFound) {
			return nil, &api.NotFoundError{InstanceID: instanceID}
		}
		return nil, &api.PersistenceError{Op: "load instance", Err: err}
	}
	return inst, nil
}

func (l *ledgerImpl) GetSpecificFlowNode(ctx context.Context, correlationID, processModelID, flowNodeID string) (*api.FlowNodeInstance, error) {
	if err := requireID("correlationId", correlationID); err != nil {
		return nil, err
	}
	if err := requireID("processModelId", processModelID); err != nil {
		return nil, err
	}
	if err := requireID("flowNodeId", flowNodeID); err != nil {
		return nil, err
	}

	results, err := l.query(ctx, indexFilter{
		correlationID:  correlationID,
		processModelID: processModelID,
		flowNodeID:     flowNodeID,
	}, api.Page{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, &api.NotFoundError{InstanceID: flowNodeID}
	}
	return results[0], nil
}

func (l *ledgerImpl) QueryByProcessInstance(ctx context.Context, processInstanceID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("processInstanceId", processInstanceID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{processInstanceID: processInstanceID}, page)
}

func (l *ledgerImpl) QueryByProcessInstanceAndFlowNode(ctx context.Context, processInstanceID, flowNodeID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("processInstanceId", processInstanceID); err != nil {
		return nil, err
	}
	if err := requireID("flowNodeId", flowNodeID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{processInstanceID: processInstanceID, flowNodeID: flowNodeID}, page)
}

func (l *ledgerImpl) QueryByFlowNode(ctx context.Context, flowNodeID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("flowNodeId", flowNodeID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{flowNodeID: flowNodeID}, page)
}

func (l *ledgerImpl) QueryByCorrelation(ctx context.Context, correlationID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("correlationId", correlationID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{correlationID: correlationID}, page)
}

func (l *ledgerImpl) QueryByCorrelationAndProcessModel(ctx context.Context, correlationID, processModelID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("correlationId", correlationID); err != nil {
		return nil, err
	}
	if err := requireID("processModelId", processModelID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{correlationID: correlationID, processModelID: processModelID}, page)
}

func (l *ledgerImpl) QueryByProcessModel(ctx context.Context, processModelID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("processModelId", processModelID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{processModelID: processModelID}, page)
}

func (l *ledgerImpl) QueryByState(ctx context.Context, state api.InstanceState, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("state", string(state)); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{states: []api.InstanceState{state}}, page)
}

func (l *ledgerImpl) QueryActive(ctx context.Context, page api.Page) ([]*api.FlowNodeInstance, error) {
	return l.query(ctx, indexFilter{states: activeStates}, page)
}

func (l *ledgerImpl) QueryActiveByProcessInstance(ctx context.Context, processInstanceID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("processInstanceId", processInstanceID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{processInstanceID: processInstanceID, states: activeStates}, page)
}

func (l *ledgerImpl) QueryActiveByCorrelationAndProcessModel(ctx context.Context, correlationID, processModelID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("correlationId", correlationID); err != nil {
		return nil, err
	}
	if err := requireID("processModelId", processModelID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{
		correlationID:  correlationID,
		processModelID: processModelID,
		states:         activeStates,
	}, page)
}

func (l *ledgerImpl) QuerySuspendedByCorrelation(ctx context.Context, correlationID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("correlationId", correlationID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{
		correlationID: correlationID,
		states:        []api.InstanceState{api.StateSuspended},
	}, page)
}

func (l *ledgerImpl) QuerySuspendedByProcessModel(ctx context.Context, processModelID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("processModelId", processModelID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{
		processModelID: processModelID,
		states:         []api.InstanceState{api.StateSuspended},
	}, page)
}

func (l *ledgerImpl) QuerySuspendedByProcessInstance(ctx context.Context, processInstanceID string, page api.Page) ([]*api.FlowNodeInstance, error) {
	if err := requireID("processInstanceId", processInstanceID); err != nil {
		return nil, err
	}
	return l.query(ctx, indexFilter{
		processInstanceID: processInstanceID,
		states:            []api.InstanceState{api.StateSuspended},
	}, page)
}

func (l *ledgerImpl) QueryTokensByProcessInstance(ctx context.Context, processInstanceID string, page api.Page) ([]api.ProcessToken, error) {
	if err := requireID("processInstanceId", processInstanceID); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	records, err := l.tokens.ListTokensByProcessInstance(ctx, processInstanceID)
	if err != nil {
		return nil, &api.PersistenceError{Op: "list tokens", Err: err}
	}

	records = paginate(records, page)

	tokens := make([]api.ProcessToken, len(records))
	for i, rec := range records {
		tokens[i] = rec.Token
	}
	return tokens, nil
}

// query resolves candidate ids through the index and reads the matching
// records through the instance store, holding the read lock across both so
// every candidate resolves.
func (l *ledgerImpl) query(ctx context.Context, filter indexFilter, page api.Page) ([]*api.FlowNodeInstance, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := paginate(l.idx.candidates(filter), page)

	results := make([]*api.FlowNodeInstance, 0, len(ids))
	for _, id := range ids {
		inst, err := l.instances.GetInstance(ctx, id)
		if err != nil {
			return nil, &api.PersistenceError{Op: "load instance " + id, Err: err}
		}
		results = append(results, inst)
	}
	return results, nil
}

// paginate applies offset/limit to an already ordered slice.
func paginate[T any](items []T, page api.Page) []T {
	if page.Offset > 0 {
		if page.Offset >= len(items) {
			return nil
		}
		items = items[page.Offset:]
	}
	if page.Limit > 0 && page.Limit < len(items) {
		items = items[:page.Limit]
	}
	return items
}
