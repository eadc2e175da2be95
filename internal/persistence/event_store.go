package persistence

import (
	"context"
	"sync"

	"github.com/petrijr/flowtrace/pkg/api"
)

// EventStore is an append-only history store for lifecycle events.
type EventStore interface {
	AppendEvent(ctx context.Context, ev api.LifecycleEvent) error
	ListEvents(ctx context.Context, instanceID string) ([]api.LifecycleEvent, error)

	// DeleteByProcessModel drops the history of every instance belonging
	// to the given process model.
	DeleteByProcessModel(ctx context.Context, processModelID string) error
}

// NoopEventStore discards all events.
type NoopEventStore struct{}

func (NoopEventStore) AppendEvent(ctx context.Context, ev api.LifecycleEvent) error { return nil }
func (NoopEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.LifecycleEvent, error) {
	return nil, nil
}
func (NoopEventStore) DeleteByProcessModel(ctx context.Context, processModelID string) error {
	return nil
}

// InMemoryEventStore keeps lifecycle events in memory, per instance id.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string][]api.LifecycleEvent
}

var _ EventStore = (*InMemoryEventStore)(nil)

// NewInMemoryEventStore creates a new InMemoryEventStore.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: make(map[string][]api.LifecycleEvent),
	}
}

func (s *InMemoryEventStore) AppendEvent(ctx context.Context, ev api.LifecycleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events[ev.InstanceID] = append(s.events[ev.InstanceID], ev)
	return nil
}

func (s *InMemoryEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.LifecycleEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evs := s.events[instanceID]
	out := make([]api.LifecycleEvent, len(evs))
	copy(out, evs)
	return out, nil
}

func (s *InMemoryEventStore) DeleteByProcessModel(ctx context.Context, processModelID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, evs := range s.events {
		if len(evs) > 0 && evs[0].ProcessModelID == processModelID {
			delete(s.events, id)
		}
	}
	return nil
}
