package persistence

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/petrijr/flowtrace/pkg/api"
)

// RedisStore implements InstanceStore and TokenStore backed by Redis.
// It uses a simple key structure:
//
//	<prefix>inst:<id>           => gob-encoded redisInstancePayload
//	<prefix>idx:all             => SET of all instance IDs
//	<prefix>idx:pi:<pi>         => SET of instance IDs per process instance
//	<prefix>idx:pm:<pm>         => SET of instance IDs per process model
//	<prefix>idx:corr:<corr>     => SET of instance IDs per correlation
//	<prefix>idx:fn:<fn>         => SET of instance IDs per flow node
//	<prefix>idx:state:<state>   => SET of instance IDs per state
//	<prefix>tok:<pi>            => HASH instanceID => gob-encoded token record
//	<prefix>idx:tokpm:<pm>      => SET of process instance IDs per model
//
// The indexes are best-effort; they are always updated on insert/update,
// and ListInstances filters by the decoded payload so stale membership
// never surfaces.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ InstanceStore = (*RedisStore)(nil)

var _ TokenStore = (*RedisStore)(nil)

type redisInstancePayload struct {
	ID                 string
	FlowNodeID         string
	FlowNodeType       string
	FlowNodeName       string
	ProcessInstanceID  string
	ProcessModelID     string
	CorrelationID      string
	PreviousInstanceID string
	State              string
	Token              []byte
	ErrorKind          string
	ErrorMessage       string
	EnteredAt          int64
	ExitedAt           int64
}

type redisTokenPayload struct {
	ProcessModelID string
	Token          []byte
	CreatedAt      int64
}

// NewRedisStore creates a RedisStore.
// prefix is optional but recommended (e.g. "flowtrace:").
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "flowtrace:"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStore) keyInstance(id string) string { return s.prefix + "inst:" + id }
func (s *RedisStore) keyAll() string               { return s.prefix + "idx:all" }
func (s *RedisStore) keyProcessInstance(id string) string {
	return s.prefix + "idx:pi:" + id
}
func (s *RedisStore) keyProcessModel(id string) string { return s.prefix + "idx:pm:" + id }
func (s *RedisStore) keyCorrelation(id string) string  { return s.prefix + "idx:corr:" + id }
func (s *RedisStore) keyFlowNode(id string) string     { return s.prefix + "idx:fn:" + id }
func (s *RedisStore) keyState(state api.InstanceState) string {
	return s.prefix + "idx:state:" + string(state)
}
func (s *RedisStore) keyTokens(processInstanceID string) string {
	return s.prefix + "tok:" + processInstanceID
}
func (s *RedisStore) keyTokenModel(processModelID string) string {
	return s.prefix + "idx:tokpm:" + processModelID
}

func encodeRedisInstance(inst *api.FlowNodeInstance) ([]byte, error) {
	token, err := EncodeToken(inst.Token)
	if err != nil {
		return nil, err
	}

	errKind, errMsg := faultColumns(inst.Error)

	payload := redisInstancePayload{
		ID:                 inst.ID,
		FlowNodeID:         inst.FlowNodeID,
		FlowNodeType:       string(inst.FlowNodeType),
		FlowNodeName:       inst.FlowNodeName,
		ProcessInstanceID:  inst.ProcessInstanceID,
		ProcessModelID:     inst.ProcessModelID,
		CorrelationID:      inst.CorrelationID,
		PreviousInstanceID: inst.PreviousInstanceID,
		State:              string(inst.State),
		Token:              token,
		ErrorKind:          errKind,
		ErrorMessage:       errMsg,
		EnteredAt:          inst.EnteredAt.UnixNano(),
		ExitedAt:           exitedAtNanos(inst.ExitedAt),
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRedisInstance(data []byte) (*api.FlowNodeInstance, error) {
	if len(data) == 0 {
		return nil, ErrInstanceNotFound
	}
	var payload redisInstancePayload
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&payload); err != nil {
		return nil, err
	}

	tok, err := DecodeToken(payload.Token)
	if err != nil {
		return nil, err
	}

	inst := &api.FlowNodeInstance{
		ID:                 payload.ID,
		FlowNodeID:         payload.FlowNodeID,
		FlowNodeType:       api.BpmnType(payload.FlowNodeType),
		FlowNodeName:       payload.FlowNodeName,
		ProcessInstanceID:  payload.ProcessInstanceID,
		ProcessModelID:     payload.ProcessModelID,
		CorrelationID:      payload.CorrelationID,
		PreviousInstanceID: payload.PreviousInstanceID,
		State:              api.InstanceState(payload.State),
		Token:              tok,
		EnteredAt:          time.Unix(0, payload.EnteredAt),
	}
	if payload.ErrorKind != "" || payload.ErrorMessage != "" {
		inst.Error = &api.FaultInfo{Kind: payload.ErrorKind, Message: payload.ErrorMessage}
	}
	if payload.ExitedAt != 0 {
		inst.ExitedAt = time.Unix(0, payload.ExitedAt)
	}

	return inst, nil
}

func (s *RedisStore) writeInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	data, err := encodeRedisInstance(inst)
	if err != nil {
		return err
	}

	if err := s.client.Set(ctx, s.keyInstance(inst.ID), data, 0).Err(); err != nil {
		return err
	}

	// Update indexes (best-effort; stale members are filtered on read).
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, s.keyAll(), inst.ID)
	pipe.SAdd(ctx, s.keyProcessInstance(inst.ProcessInstanceID), inst.ID)
	pipe.SAdd(ctx, s.keyProcessModel(inst.ProcessModelID), inst.ID)
	pipe.SAdd(ctx, s.keyCorrelation(inst.CorrelationID), inst.ID)
	pipe.SAdd(ctx, s.keyFlowNode(inst.FlowNodeID), inst.ID)
	pipe.SAdd(ctx, s.keyState(inst.State), inst.ID)
	_, _ = pipe.Exec(ctx)

	return nil
}

func (s *RedisStore) InsertInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	exists, err := s.client.Exists(ctx, s.keyInstance(inst.ID)).Result()
	if err != nil {
		return err
	}
	if exists > 0 {
		return ErrDuplicateInstance
	}
	return s.writeInstance(ctx, inst)
}

func (s *RedisStore) UpdateInstance(ctx context.Context, inst *api.FlowNodeInstance) error {
	exists, err := s.client.Exists(ctx, s.keyInstance(inst.ID)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrInstanceNotFound
	}
	return s.writeInstance(ctx, inst)
}

func (s *RedisStore) GetInstance(ctx context.Context, id string) (*api.FlowNodeInstance, error) {
	data, err := s.client.Get(ctx, s.keyInstance(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrInstanceNotFound
		}
		return nil, err
	}
	return decodeRedisInstance(data)
}

// candidateIDs picks the most selective index set for the filter.
func (s *RedisStore) candidateIDs(ctx context.Context, filter InstanceFilter) ([]string, error) {
	var key string
	switch {
	case filter.ProcessInstanceID != "":
		key = s.keyProcessInstance(filter.ProcessInstanceID)
	case filter.CorrelationID != "":
		key = s.keyCorrelation(filter.CorrelationID)
	case filter.ProcessModelID != "":
		key = s.keyProcessModel(filter.ProcessModelID)
	case filter.FlowNodeID != "":
		key = s.keyFlowNode(filter.FlowNodeID)
	case filter.State != "":
		key = s.keyState(filter.State)
	default:
		key = s.keyAll()
	}
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	return ids, nil
}

func matchesFilter(inst *api.FlowNodeInstance, filter InstanceFilter) bool {
	if filter.ProcessInstanceID != "" && inst.ProcessInstanceID != filter.ProcessInstanceID {
		return false
	}
	if filter.ProcessModelID != "" && inst.ProcessModelID != filter.ProcessModelID {
		return false
	}
	if filter.CorrelationID != "" && inst.CorrelationID != filter.CorrelationID {
		return false
	}
	if filter.FlowNodeID != "" && inst.FlowNodeID != filter.FlowNodeID {
		return false
	}
	if filter.State != "" && inst.State != filter.State {
		return false
	}
	return true
}

func (s *RedisStore) ListInstances(ctx context.Context, filter InstanceFilter) ([]*api.FlowNodeInstance, error) {
	ids, err := s.candidateIDs(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*api.FlowNodeInstance{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, s.keyInstance(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	var instances []*api.FlowNodeInstance
	for _, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}
		inst, err := decodeRedisInstance(data)
		if err != nil {
			return nil, err
		}
		if matchesFilter(inst, filter) {
			instances = append(instances, inst)
		}
	}

	return instances, nil
}

func (s *RedisStore) DeleteByProcessModel(ctx context.Context, processModelID string) (int, error) {
	ids, err := s.client.SMembers(ctx, s.keyProcessModel(processModelID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.keyInstance(id))
	}

	removed, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}

	// Drop the model index itself; other index sets self-clean on read.
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keyProcessModel(processModelID))
	pipe.SRem(ctx, s.keyAll(), toAnySlice(ids)...)
	_, _ = pipe.Exec(ctx)

	return int(removed), nil
}

func (s *RedisStore) SaveToken(ctx context.Context, rec TokenRecord) error {
	token, err := EncodeToken(rec.Token)
	if err != nil {
		return err
	}

	key := s.keyTokens(rec.ProcessInstanceID)

	// Keep the first-write timestamp stable across updates.
	createdAt := rec.CreatedAt.UnixNano()
	if existing, err := s.client.HGet(ctx, key, rec.InstanceID).Bytes(); err == nil {
		var prior redisTokenPayload
		if decErr := gob.NewDecoder(bytes.NewReader(existing)).Decode(&prior); decErr == nil {
			createdAt = prior.CreatedAt
		}
	} else if !errors.Is(err, redis.Nil) {
		return err
	}

	payload := redisTokenPayload{
		ProcessModelID: rec.ProcessModelID,
		Token:          token,
		CreatedAt:      createdAt,
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&payload); err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, rec.InstanceID, buf.Bytes())
	pipe.SAdd(ctx, s.keyTokenModel(rec.ProcessModelID), rec.ProcessInstanceID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListTokensByProcessInstance(ctx context.Context, processInstanceID string) ([]TokenRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.keyTokens(processInstanceID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var records []TokenRecord
	for instanceID, raw := range fields {
		var payload redisTokenPayload
		if err := gob.NewDecoder(bytes.NewReader([]byte(raw))).Decode(&payload); err != nil {
			return nil, err
		}
		tok, err := DecodeToken(payload.Token)
		if err != nil {
			return nil, err
		}
		records = append(records, TokenRecord{
			ProcessInstanceID: processInstanceID,
			InstanceID:        instanceID,
			ProcessModelID:    payload.ProcessModelID,
			Token:             tok,
			CreatedAt:         time.Unix(0, payload.CreatedAt),
		})
	}

	sortTokenRecords(records)
	return records, nil
}

func (s *RedisStore) DeleteTokensByProcessModel(ctx context.Context, processModelID string) (int, error) {
	processInstanceIDs, err := s.client.SMembers(ctx, s.keyTokenModel(processModelID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, err
	}
	if len(processInstanceIDs) == 0 {
		return 0, nil
	}

	removed := 0
	for _, pi := range processInstanceIDs {
		n, err := s.client.HLen(ctx, s.keyTokens(pi)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return removed, err
		}
		if err := s.client.Del(ctx, s.keyTokens(pi)).Err(); err != nil {
			return removed, err
		}
		removed += int(n)
	}

	_ = s.client.Del(ctx, s.keyTokenModel(processModelID)).Err()

	return removed, nil
}

func toAnySlice(ids []string) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
