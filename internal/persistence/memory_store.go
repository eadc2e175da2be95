package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/flowtrace/pkg/api"
)

// InMemoryStore is a goroutine-safe implementation of InstanceStore and
// TokenStore backed by maps. It is the default backend for tests and for
// engines that do not need durability.
type InMemoryStore struct {
	mu        sync.RWMutex
	instances map[string]*api.FlowNodeInstance
	tokens    map[string]TokenRecord // keyed processInstanceID + "\x00" + instanceID
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		instances: make(map[string]*api.FlowNodeInstance),
		tokens:    make(map[string]TokenRecord),
	}
}

// Ensure InMemoryStore implements the interfaces.
var _ InstanceStore = (*InMemoryStore)(nil)

var _ TokenStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) InsertInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; ok {
		return ErrDuplicateInstance
	}

	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) UpdateInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.instances[inst.ID]; !ok {
		return ErrInstanceNotFound
	}

	s.instances[inst.ID] = inst.Clone()
	return nil
}

func (s *InMemoryStore) GetInstance(ctx context.Context, id string) (*api.FlowNodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}

	return inst.Clone(), nil
}

func (s *InMemoryStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.FlowNodeInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.FlowNodeInstance

	for _, inst := range s.instances {
		if filter.ProcessInstanceID != "" && inst.ProcessInstanceID != filter.ProcessInstanceID {
			continue
		}
		if filter.ProcessModelID != "" && inst.ProcessModelID != filter.ProcessModelID {
			continue
		}
		if filter.CorrelationID != "" && inst.CorrelationID != filter.CorrelationID {
			continue
		}
		if filter.FlowNodeID != "" && inst.FlowNodeID != filter.FlowNodeID {
			continue
		}
		if filter.State != "" && inst.State != filter.State {
			continue
		}
		result = append(result, inst.Clone())
	}

	return result, nil
}

func (s *InMemoryStore) DeleteByProcessModel(ctx context.Context, processModelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, inst := range s.instances {
		if inst.ProcessModelID == processModelID {
			delete(s.instances, id)
			removed++
		}
	}
	return removed, nil
}

func tokenKey(processInstanceID, instanceID string) string {
	return processInstanceID + "\x00" + instanceID
}

func (s *InMemoryStore) SaveToken(ctx context.Context, rec TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey(rec.ProcessInstanceID, rec.InstanceID)
	if existing, ok := s.tokens[key]; ok {
		// Keep the first-write timestamp stable across updates.
		rec.CreatedAt = existing.CreatedAt
	}
	rec.Token = rec.Token.Branch()
	s.tokens[key] = rec
	return nil
}

func (s *InMemoryStore) ListTokensByProcessInstance(ctx context.Context, processInstanceID string) ([]TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []TokenRecord
	for _, rec := range s.tokens {
		if rec.ProcessInstanceID != processInstanceID {
			continue
		}
		rec.Token = rec.Token.Branch()
		result = append(result, rec)
	}

	sortTokenRecords(result)

	return result, nil
}

func (s *InMemoryStore) DeleteTokensByProcessModel(ctx context.Context, processModelID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.tokens {
		if rec.ProcessModelID == processModelID {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed, nil
}
