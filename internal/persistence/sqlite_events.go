package persistence

import (
	"context"
	"database/sql"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

// SQLiteEventStore stores lifecycle events in SQLite.
type SQLiteEventStore struct {
	db *sql.DB
}

// Ensure SQLiteEventStore implements the interface.
var _ EventStore = (*SQLiteEventStore)(nil)

func NewSQLiteEventStore(db *sql.DB) (*SQLiteEventStore, error) {
	s := &SQLiteEventStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteEventStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS lifecycle_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			instance_id TEXT NOT NULL,
			at INTEGER NOT NULL,
			type TEXT NOT NULL,
			state TEXT NOT NULL,
			process_instance_id TEXT NOT NULL DEFAULT '',
			process_model_id TEXT NOT NULL DEFAULT '',
			flow_node_id TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_lifecycle_events_instance_id ON lifecycle_events(instance_id, id);
		CREATE INDEX IF NOT EXISTS idx_lifecycle_events_process_model ON lifecycle_events(process_model_id);
	`)
	return err
}

func (s *SQLiteEventStore) AppendEvent(ctx context.Context, ev api.LifecycleEvent) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events (instance_id, at, type, state, process_instance_id, process_model_id, flow_node_id, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.InstanceID,
		at.UnixNano(),
		string(ev.Type),
		string(ev.State),
		ev.ProcessInstanceID,
		ev.ProcessModelID,
		ev.FlowNodeID,
		ev.Detail,
	)
	return err
}

func (s *SQLiteEventStore) ListEvents(ctx context.Context, instanceID string) ([]api.LifecycleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT instance_id, at, type, state, process_instance_id, process_model_id, flow_node_id, detail
		FROM lifecycle_events
		WHERE instance_id = ?
		ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []api.LifecycleEvent
	for rows.Next() {
		var (
			ev    api.LifecycleEvent
			atN   int64
			typ   string
			state string
		)
		if err := rows.Scan(&ev.InstanceID, &atN, &typ, &state, &ev.ProcessInstanceID, &ev.ProcessModelID, &ev.FlowNodeID, &ev.Detail); err != nil {
			return nil, err
		}
		ev.At = time.Unix(0, atN)
		ev.Type = api.EventType(typ)
		ev.State = api.InstanceState(state)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *SQLiteEventStore) DeleteByProcessModel(ctx context.Context, processModelID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM lifecycle_events WHERE process_model_id = ?`,
		processModelID,
	)
	return err
}
