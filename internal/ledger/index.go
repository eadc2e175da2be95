package ledger

import (
	"sort"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

// indexEntry mirrors the queryable fields of one instance record. Entries
// are kept small so the index can hold every live record in memory and
// answer candidate lookups without touching the store.
type indexEntry struct {
	id                string
	processInstanceID string
	processModelID    string
	correlationID     string
	flowNodeID        string
	state             api.InstanceState
	enteredAt         time.Time
}

// indexFilter selects entries. Empty string means "no filter" for that
// field; an empty states slice matches every state.
type indexFilter struct {
	processInstanceID string
	processModelID    string
	correlationID     string
	flowNodeID        string
	states            []api.InstanceState
}

func (f indexFilter) matches(e *indexEntry) bool {
	if f.processInstanceID != "" && e.processInstanceID != f.processInstanceID {
		return false
	}
	if f.processModelID != "" && e.processModelID != f.processModelID {
		return false
	}
	if f.correlationID != "" && e.correlationID != f.correlationID {
		return false
	}
	if f.flowNodeID != "" && e.flowNodeID != f.flowNodeID {
		return false
	}
	if len(f.states) > 0 {
		ok := false
		for _, s := range f.states {
			if e.state == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}

// correlationIndex is the in-memory secondary index over the instance
// store: one entry per instance plus key maps that narrow candidate
// scans. It carries no locking of its own; the ledger serializes access.
type correlationIndex struct {
	entries map[string]*indexEntry

	byProcessInstance map[string][]*indexEntry
	byProcessModel    map[string][]*indexEntry
	byCorrelation     map[string][]*indexEntry
	byFlowNode        map[string][]*indexEntry
}

func newCorrelationIndex() *correlationIndex {
	return &correlationIndex{
		entries:           make(map[string]*indexEntry),
		byProcessInstance: make(map[string][]*indexEntry),
		byProcessModel:    make(map[string][]*indexEntry),
		byCorrelation:     make(map[string][]*indexEntry),
		byFlowNode:        make(map[string][]*indexEntry),
	}
}

// insert registers a new instance. The caller guarantees the id is new.
func (x *correlationIndex) insert(inst *api.FlowNodeInstance) {
	e := &indexEntry{
		id:                inst.ID,
		processInstanceID: inst.ProcessInstanceID,
		processModelID:    inst.ProcessModelID,
		correlationID:     inst.CorrelationID,
		flowNodeID:        inst.FlowNodeID,
		state:             inst.State,
		enteredAt:         inst.EnteredAt,
	}
	x.entries[e.id] = e
	x.byProcessInstance[e.processInstanceID] = append(x.byProcessInstance[e.processInstanceID], e)
	x.byProcessModel[e.processModelID] = append(x.byProcessModel[e.processModelID], e)
	x.byCorrelation[e.correlationID] = append(x.byCorrelation[e.correlationID], e)
	x.byFlowNode[e.flowNodeID] = append(x.byFlowNode[e.flowNodeID], e)
}

// setState moves an instance to a new lifecycle state. Unknown ids are
// ignored; the store is the source of truth for existence.
func (x *correlationIndex) setState(id string, state api.InstanceState) {
	if e, ok := x.entries[id]; ok {
		e.state = state
	}
}

// state returns the indexed state of an instance.
func (x *correlationIndex) state(id string) (api.InstanceState, bool) {
	e, ok := x.entries[id]
	if !ok {
		return "", false
	}
	return e.state, true
}

// removeByProcessModel drops every entry of the given process model and
// returns how many were removed.
func (x *correlationIndex) removeByProcessModel(processModelID string) int {
	victims := x.byProcessModel[processModelID]
	if len(victims) == 0 {
		return 0
	}

	dead := make(map[string]struct{}, len(victims))
	for _, e := range victims {
		dead[e.id] = struct{}{}
		delete(x.entries, e.id)
	}
	delete(x.byProcessModel, processModelID)

	prune := func(m map[string][]*indexEntry) {
		for key, list := range m {
			kept := list[:0]
			for _, e := range list {
				if _, gone := dead[e.id]; !gone {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(m, key)
			} else {
				m[key] = kept
			}
		}
	}
	prune(x.byProcessInstance)
	prune(x.byCorrelation)
	prune(x.byFlowNode)

	return len(victims)
}

// candidates returns the ids matching the filter, ordered by entry
// timestamp ascending with ties broken by id. The most selective key map
// available narrows the scan.
func (x *correlationIndex) candidates(f indexFilter) []string {
	var scan []*indexEntry
	switch {
	case f.processInstanceID != "":
		scan = x.byProcessInstance[f.processInstanceID]
	case f.correlationID != "":
		scan = x.byCorrelation[f.correlationID]
	case f.processModelID != "":
		scan = x.byProcessModel[f.processModelID]
	case f.flowNodeID != "":
		scan = x.byFlowNode[f.flowNodeID]
	default:
		scan = make([]*indexEntry, 0, len(x.entries))
		for _, e := range x.entries {
			scan = append(scan, e)
		}
	}

	matched := make([]*indexEntry, 0, len(scan))
	for _, e := range scan {
		if f.matches(e) {
			matched = append(matched, e)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].enteredAt.Equal(matched[j].enteredAt) {
			return matched[i].enteredAt.Before(matched[j].enteredAt)
		}
		return matched[i].id < matched[j].id
	})

	ids := make([]string, len(matched))
	for i, e := range matched {
		ids[i] = e.id
	}
	return ids
}

// rebuild replaces the index contents from a full store scan. Used on
// startup so suspended instances survive a process restart.
func (x *correlationIndex) rebuild(instances []*api.FlowNodeInstance) {
	x.entries = make(map[string]*indexEntry, len(instances))
	x.byProcessInstance = make(map[string][]*indexEntry)
	x.byProcessModel = make(map[string][]*indexEntry)
	x.byCorrelation = make(map[string][]*indexEntry)
	x.byFlowNode = make(map[string][]*indexEntry)
	for _, inst := range instances {
		x.insert(inst)
	}
}
