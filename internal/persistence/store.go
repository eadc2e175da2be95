package persistence

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

var (
	// ErrInstanceNotFound is returned when a flow node instance is not found.
	ErrInstanceNotFound = errors.New("flow node instance not found")

	// ErrDuplicateInstance is returned when InsertInstance is called with an
	// id that already exists. Instance ids are assigned exactly once.
	ErrDuplicateInstance = errors.New("flow node instance already exists")
)

// InstanceFilter is used to select instance records from the store.
// Empty string / zero state mean "no filter" for that field.
type InstanceFilter struct {
	ProcessInstanceID string
	ProcessModelID    string
	CorrelationID     string
	FlowNodeID        string
	State             api.InstanceState
}

// InstanceStore handles storage of flow node instance records. The latest
// snapshot of each instance is addressable by id; every write replaces the
// visible snapshot but never edits a handed-out copy in place.
type InstanceStore interface {
	// InsertInstance stores the first snapshot of an instance. It fails
	// with ErrDuplicateInstance if the id is already known.
	InsertInstance(ctx context.Context, inst *api.FlowNodeInstance) error

	// UpdateInstance replaces the visible snapshot of an existing instance.
	UpdateInstance(ctx context.Context, inst *api.FlowNodeInstance) error

	GetInstance(ctx context.Context, id string) (*api.FlowNodeInstance, error)

	// ListInstances returns all records matching the filter, in no
	// particular order; callers sort.
	ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.FlowNodeInstance, error)

	// DeleteByProcessModel removes all records of the given process model
	// and returns how many were removed. Unknown models remove zero.
	DeleteByProcessModel(ctx context.Context, processModelID string) (int, error)
}

// TokenRecord is one stored process token snapshot, keyed by
// (ProcessInstanceID, InstanceID). ProcessModelID is carried for bulk
// cleanup; CreatedAt is the first-write time, used for stable ordering.
type TokenRecord struct {
	ProcessInstanceID string
	InstanceID        string
	ProcessModelID    string
	Token             api.ProcessToken
	CreatedAt         time.Time
}

// TokenStore handles storage of process token snapshots.
type TokenStore interface {
	// SaveToken upserts the token snapshot for one flow node instance.
	// The CreatedAt of the first write is preserved across updates.
	SaveToken(ctx context.Context, rec TokenRecord) error

	// ListTokensByProcessInstance returns token records for a process
	// instance ordered by (CreatedAt, InstanceID) ascending.
	ListTokensByProcessInstance(ctx context.Context, processInstanceID string) ([]TokenRecord, error)

	// DeleteTokensByProcessModel removes all token records of the given
	// process model and returns how many were removed. Named distinctly
	// from InstanceStore.DeleteByProcessModel so one type can implement
	// both interfaces.
	DeleteTokensByProcessModel(ctx context.Context, processModelID string) (int, error)
}

// sortTokenRecords orders records by (CreatedAt, InstanceID) ascending,
// the stable order ListTokensByProcessInstance must return.
func sortTokenRecords(records []TokenRecord) {
	sort.Slice(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.Before(records[j].CreatedAt)
		}
		return records[i].InstanceID < records[j].InstanceID
	})
}
