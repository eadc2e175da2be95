package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petrijr/flowtrace/pkg/api"
)

// PostgresStore implements InstanceStore and TokenStore on top of
// PostgreSQL.
//
// It expects an *sql.DB that uses a PostgreSQL driver (for example,
// "github.com/jackc/pgx/v5/stdlib").
//
// The caller is responsible for:
//   - importing the driver for its side effects, e.g.:
//     _ "github.com/jackc/pgx/v5/stdlib"
//   - providing a DSN via sql.Open.
type PostgresStore struct {
	db *sql.DB
}

// Ensure PostgresStore implements the interfaces.
var _ InstanceStore = (*PostgresStore)(nil)

var _ TokenStore = (*PostgresStore)(nil)

// NewPostgresStore initializes the required schema in the given database
// and returns a new PostgresStore.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) initSchema() error {
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
			token BYTEA,
			error_kind TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			entered_at BIGINT NOT NULL,
			exited_at BIGINT NOT NULL DEFAULT 0
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
			token BYTEA,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (process_instance_id, instance_id)
		);
		CREATE INDEX IF NOT EXISTS idx_tokens_process_model ON process_tokens(process_model_id);
	`)
	return err
}

func (s *PostgresStore) InsertInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	token, err := EncodeToken(inst.Token)
	if err != nil {
		return err
	}

	errKind, errMsg := faultColumns(inst.Error)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO flow_node_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
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
	if err != nil && strings.Contains(err.Error(), "duplicate key") {
		return ErrDuplicateInstance
	}
	return err
}

func (s *PostgresStore) UpdateInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	token, err := EncodeToken(inst.Token)
	if err != nil {
		return err
	}

	errKind, errMsg := faultColumns(inst.Error)

	res, err := s.db.ExecContext(ctx, `
		UPDATE flow_node_instances
		SET state = $1, token = $2, error_kind = $3, error_message = $4, exited_at = $5
		WHERE id = $6`,
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

func (s *PostgresStore) GetInstance(ctx context.Context, id string) (*api.FlowNodeInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM flow_node_instances
		WHERE id = $1`,
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

func (s *PostgresStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.FlowNodeInstance, error) {
	query := `
		SELECT ` + instanceColumns + `
		FROM flow_node_instances`
	var args []any
	var clauses []string

	add := func(column string, value string) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if filter.ProcessInstanceID != "" {
		add("process_instance_id", filter.ProcessInstanceID)
	}
	if filter.ProcessModelID != "" {
		add("process_model_id", filter.ProcessModelID)
	}
	if filter.CorrelationID != "" {
		add("correlation_id", filter.CorrelationID)
	}
	if filter.FlowNodeID != "" {
		add("flow_node_id", filter.FlowNodeID)
	}
	if filter.State != "" {
		add("state", string(filter.State))
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

func (s *PostgresStore) DeleteByProcessModel(ctx context.Context, processModelID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM flow_node_instances WHERE process_model_id = $1`,
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

func (s *PostgresStore) SaveToken(ctx context.Context, rec TokenRecord) error {
	token, err := EncodeToken(rec.Token)
	if err != nil {
		return err
	}

	// Upsert; created_at of the first write wins so ordering stays stable.
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO process_tokens (process_instance_id, instance_id, process_model_id, token, created_at)
		VALUES ($1, $2, $3, $4, $5)
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

func (s *PostgresStore) ListTokensByProcessInstance(ctx context.Context, processInstanceID string) ([]TokenRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT process_instance_id, instance_id, process_model_id, token, created_at
		FROM process_tokens
		WHERE process_instance_id = $1
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

func (s *PostgresStore) DeleteTokensByProcessModel(ctx context.Context, processModelID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM process_tokens WHERE process_model_id = $1`,
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
