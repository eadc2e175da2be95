package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

// SQLiteStore implements InstanceStore and TokenStore on top of SQLite.
//
// It expects an *sql.DB that uses a SQLite driver (for example,
// "modernc.org/sqlite"). The caller is responsible for importing
// the driver, e.g.:
//
//	import _ "modernc.org/sqlite"
type SQLiteStore struct {
	db *sql.DB
}

// Ensure SQLiteStore implements the interfaces.
var _ InstanceStore = (*SQLiteStore)(nil)

var _ TokenStore = (*SQLiteStore)(nil)

// NewSQLiteStore initializes the required schema in the given database and
// returns a new SQLiteStore.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS flow_node_instances (
			id TEXT PRIMARY KEY,
			flow_node_id TEXT NOT NULL,
			flow_node_type TEXT NOT NULL,
			flow_node_name TEXT NOT NULL DEFAULT '',
			process_instance_id TEXT NOT NULL,
			process_model_id TEXT NOT NULL,
			correlation_id TEXT NOT NULL,
			previous_instance_id TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL,
			token BLOB,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			entered_at INTEGER NOT NULL,
			exited_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_fni_process_instance ON flow_node_instances(process_instance_id);
		CREATE INDEX IF NOT EXISTS idx_fni_process_model ON flow_node_instances(process_model_id);
		CREATE INDEX IF NOT EXISTS idx_fni_correlation ON flow_node_instances(correlation_id);
		CREATE INDEX IF NOT EXISTS idx_fni_flow_node ON flow_node_instances(flow_node_id);
		CREATE INDEX IF NOT EXISTS idx_fni_state ON flow_node_instances(state);

		CREATE TABLE IF NOT EXISTS process_tokens (
			process_instance_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			process_model_id TEXT NOT NULL,
			token BLOB,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (process_instance_id, instance_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tokens_process_model ON process_tokens(process_model_id);
	`)
	return err
}

const instanceColumns = `id, flow_node_id, flow_node_type, flow_node_name,
		process_instance_id, process_model_id, correlation_id, previous_instance_id,
		state, token, error_kind, error_message, entered_at, exited_at`

func (s *SQLiteStore) InsertInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	token, err := EncodeToken(inst.Token)
	if err != nil {
		return err
	}

	errKind, errMsg := faultColumns(inst.Error)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_node_instances (`+instanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID,
		inst.FlowNodeID,
		string(inst.FlowNodeType),
		inst.FlowNodeName,
		inst.ProcessInstanceID,
		inst.ProcessModelID,
		inst.CorrelationID,
		inst.PreviousInstanceID,
		string(inst.State),
		token,
		errKind,
		errMsg,
		inst.EnteredAt.UnixNano(),
		exitedAtNanos(inst.ExitedAt),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrDuplicateInstance
	}
	return err
}

func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	token, err := EncodeToken(inst.Token)
	if err != nil {
		return err
	}

	errKind, errMsg := faultColumns(inst.Error)

	res, err := s.db.ExecContext(ctx, `
		UPDATE flow_node_instances
		SET state = ?, token = ?, error_kind = ?, error_message = ?, exited_at = ?
		WHERE id = ?`,
		string(inst.State),
		token,
		errKind,
		errMsg,
		exitedAtNanos(inst.ExitedAt),
		inst.ID,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrInstanceNotFound
	}

	return nil
}

func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*api.FlowNodeInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM flow_node_instances
		WHERE id = ?`,
		id,
	)

	inst, err := scanInstance(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return inst, nil
}

func (s *SQLiteStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.FlowNodeInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM flow_node_instances`
	var args []any
	var clauses []string

	if filter.ProcessInstanceID != "" {
		clauses = append(clauses, "process_instance_id = ?")
		args = append(args, filter.ProcessInstanceID)
	}
	if filter.ProcessModelID != "" {
		clauses = append(clauses, "process_model_id = ?")
		args = append(args, filter.ProcessModelID)
	}
	if filter.CorrelationID != "" {
		clauses = append(clauses, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.FlowNodeID != "" {
		clauses = append(clauses, "flow_node_id = ?")
		args = append(args, filter.FlowNodeID)
	}
	if filter.State != "" {
		clauses = append(clauses, "state = ?")
		args = append(args, string(filter.State))
	}

	if len(clauses) > 0 {
		query = query + " WHERE " + strings.Join(clauses, " AND ")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []*api.FlowNodeInstance

	for rows.Next() {
		inst, err := scanInstance(rows.Scan)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return instances, nil
}

func (s *SQLiteStore) DeleteByProcessModel(ctx context.Context, processModelID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM flow_node_instances WHERE process_model_id = ?`,
		processModelID,
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *SQLiteStore) SaveToken(ctx context.Context, rec TokenRecord) error {
	token, err := EncodeToken(rec.Token)
	if err != nil {
		return err
	}

	// Upsert; created_at of the first write wins so ordering stays stable.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_tokens (process_instance_id, instance_id, process_model_id, token, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (process_instance_id, instance_id)
		DO UPDATE SET token = excluded.token`,
		rec.ProcessInstanceID,
		rec.InstanceID,
		rec.ProcessModelID,
		token,
		rec.CreatedAt.UnixNano(),
	)
	return err
}

func (s *SQLiteStore) ListTokensByProcessInstance(ctx context.Context, processInstanceID string) ([]TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_instance_id, instance_id, process_model_id, token, created_at
		FROM process_tokens
		WHERE process_instance_id = ?
		ORDER BY created_at ASC, instance_id ASC`,
		processInstanceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []TokenRecord
	for rows.Next() {
		var rec TokenRecord
		var tokenBytes []byte
		var createdAt int64
		if err := rows.Scan(&rec.ProcessInstanceID, &rec.InstanceID, &rec.ProcessModelID, &tokenBytes, &createdAt); err != nil {
			return nil, err
		}
		tok, err := DecodeToken(tokenBytes)
		if err != nil {
			return nil, err
		}
		rec.Token = tok
		rec.CreatedAt = time.Unix(0, createdAt)
		records = append(records, rec)
	}

	return records, rows.Err()
}

func (s *SQLiteStore) DeleteTokensByProcessModel(ctx context.Context, processModelID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM process_tokens WHERE process_model_id = ?`,
		processModelID,
	)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

// scanInstance reads one flow_node_instances row via the given scan
// function. The column order must match instanceColumns.
func scanInstance(scan func(dest ...any) error) (*api.FlowNodeInstance, error) {
	var inst api.FlowNodeInstance
	var (
		flowNodeType string
		state        string
		tokenBytes   []byte
		errKind      string
		errMsg       string
		enteredAt    int64
		exitedAt     int64
	)

	if err := scan(
		&inst.ID,
		&inst.FlowNodeID,
		&flowNodeType,
		&inst.FlowNodeName,
		&inst.ProcessInstanceID,
		&inst.ProcessModelID,
		&inst.CorrelationID,
		&inst.PreviousInstanceID,
		&state,
		&tokenBytes,
		&errKind,
		&errMsg,
		&enteredAt,
		&exitedAt,
	); err != nil {
		return nil, err
	}

	inst.FlowNodeType = api.BpmnType(flowNodeType)
	inst.State = api.InstanceState(state)

	tok, err := DecodeToken(tokenBytes)
	if err != nil {
		return nil, err
	}
	inst.Token = tok

	if errKind != "" || errMsg != "" {
		inst.Error = &api.FaultInfo{Kind: errKind, Message: errMsg}
	}

	inst.EnteredAt = time.Unix(0, enteredAt)
	if exitedAt != 0 {
		inst.ExitedAt = time.Unix(0, exitedAt)
	}

	return &inst, nil
}

func faultColumns(f *api.FaultInfo) (kind, message string) {
	if f == nil {
		return "", ""
	}
	return f.Kind, f.Message
}

func exitedAtNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
