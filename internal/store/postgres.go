package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/itskum47/ruleforge/internal/model"
)

// PostgresStore implements Store against the rule_chains,
// rule_chain_nodes, telemetry_data, device_state_instances and
// schedules tables. Connection pooling follows the teacher's
// store.PostgresStore sizing.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// QueryFilterNodes issues the single batch query named in §4.1: all
// distinct (variable -> ruleChainId) pairs for filter nodes that
// reference the given originator.
func (s *PostgresStore) QueryFilterNodes(ctx context.Context, sourceType model.OriginatorType, originatorID string) ([]VariableReference, error) {
	const query = `
		SELECT DISTINCT rule_chain_id, config->>'key' AS variable
		FROM rule_chain_nodes
		WHERE type = 'filter'
		  AND config->>'sourceType' = $1
		  AND config->>'UUID' = $2
	`
	rows, err := s.pool.Query(ctx, query, string(sourceType), originatorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[VariableReference]struct{})
	var out []VariableReference
	for rows.Next() {
		var ref VariableReference
		if err := rows.Scan(&ref.RuleChainID, &ref.Variable); err != nil {
			return nil, err
		}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetRuleChain(ctx context.Context, id string) (*model.RuleChain, error) {
	chains, err := s.ListRuleChains(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if len(chains) == 0 {
		return nil, model.NewError(model.KindNotFound, "rule chain not found: "+id, nil)
	}
	return chains[0], nil
}

func (s *PostgresStore) ListRuleChains(ctx context.Context, ids []string) ([]*model.RuleChain, error) {
	const query = `
		SELECT id, organization_id, name, execution_type, schedule_enabled,
		       cron_expression, timezone, priority, max_retries, retry_delay_ms,
		       last_executed_at, execution_count, failure_count
		FROM rule_chains WHERE id = ANY($1)
	`
	rows, err := s.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.RuleChain
	for rows.Next() {
		rc := &model.RuleChain{}
		var retryDelayMS int64
		var lastExecAt *time.Time
		if err := rows.Scan(&rc.ID, &rc.OrganizationID, &rc.Name, &rc.ExecutionType,
			&rc.ScheduleEnabled, &rc.CronExpression, &rc.Timezone, &rc.Priority,
			&rc.MaxRetries, &retryDelayMS, &lastExecAt, &rc.ExecutionCount, &rc.FailureCount); err != nil {
			return nil, err
		}
		rc.RetryDelay = time.Duration(retryDelayMS) * time.Millisecond
		if lastExecAt != nil {
			rc.LastExecutedAt = *lastExecAt
		}
		nodes, err := s.loadNodes(ctx, rc.ID)
		if err != nil {
			return nil, err
		}
		rc.Nodes = nodes
		out = append(out, rc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) loadNodes(ctx context.Context, ruleChainID string) ([]model.RuleChainNode, error) {
	const query = `
		SELECT id, rule_chain_id, type, config, COALESCE(next_node_id, '')
		FROM rule_chain_nodes WHERE rule_chain_id = $1 ORDER BY id
	`
	rows, err := s.pool.Query(ctx, query, ruleChainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.RuleChainNode
	for rows.Next() {
		var n model.RuleChainNode
		var raw []byte
		if err := rows.Scan(&n.ID, &n.RuleChainID, &n.Type, &raw, &n.NextNodeID); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &n.Config); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListScheduleEnabledRuleChains(ctx context.Context) ([]*model.RuleChain, error) {
	const query = `SELECT id FROM rule_chains WHERE schedule_enabled = true`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if len(ids) == 0 {
		return nil, nil
	}
	return s.ListRuleChains(ctx, ids)
}

func (s *PostgresStore) LatestValues(ctx context.Context, sourceType model.OriginatorType, uuids []string, keys []string) ([]RawTelemetryValue, error) {
	var table string
	switch sourceType {
	case model.OriginatorSensor:
		table = "telemetry_data"
	case model.OriginatorDevice:
		table = "device_state_instances"
	default:
		return nil, model.NewError(model.KindInvalidArgument, "unknown sourceType: "+string(sourceType), nil)
	}
	query := `
		SELECT DISTINCT ON (entity_uuid, key) entity_uuid, key, value, datatype, received_at
		FROM ` + table + `
		WHERE entity_uuid = ANY($1) AND key = ANY($2)
		ORDER BY entity_uuid, key, received_at DESC
	`
	rows, err := s.pool.Query(ctx, query, uuids, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RawTelemetryValue
	for rows.Next() {
		var v RawTelemetryValue
		if err := rows.Scan(&v.UUID, &v.Key, &v.Value, &v.Datatype, &v.ReceivedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertDeviceStateInstance(ctx context.Context, inst DeviceStateInstance) error {
	meta, err := json.Marshal(inst.Metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO device_state_instances (device_uuid, state_name, value, initiated_by, metadata, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	valueJSON, err := json.Marshal(inst.Value)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, query, inst.DeviceUUID, inst.StateName, valueJSON, inst.InitiatedBy, meta, inst.AppliedAt)
	return err
}

func (s *PostgresStore) GetLastDeviceState(ctx context.Context, deviceUUID, stateName string) (*DeviceStateInstance, error) {
	const query = `
		SELECT device_uuid, state_name, value, initiated_by, metadata, applied_at
		FROM device_state_instances
		WHERE device_uuid = $1 AND state_name = $2
		ORDER BY applied_at DESC
		LIMIT 1
	`
	row := s.pool.QueryRow(ctx, query, deviceUUID, stateName)
	var inst DeviceStateInstance
	var valueJSON, metaJSON []byte
	if err := row.Scan(&inst.DeviceUUID, &inst.StateName, &valueJSON, &inst.InitiatedBy, &metaJSON, &inst.AppliedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(valueJSON, &inst.Value); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &inst.Metadata); err != nil {
			return nil, err
		}
	}
	return &inst, nil
}

func (s *PostgresStore) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	const query = `
		SELECT rule_chain_id, organization_id, cron_expression, timezone, enabled,
		       last_fire_at, execution_count, failure_count
		FROM schedules
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ScheduleRecord
	for rows.Next() {
		var rec ScheduleRecord
		var lastFire *time.Time
		if err := rows.Scan(&rec.RuleChainID, &rec.OrganizationID, &rec.CronExpression,
			&rec.Timezone, &rec.Enabled, &lastFire, &rec.ExecutionCount, &rec.FailureCount); err != nil {
			return nil, err
		}
		if lastFire != nil {
			rec.LastFireAt = *lastFire
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertSchedule(ctx context.Context, rec ScheduleRecord) error {
	const query = `
		INSERT INTO schedules (rule_chain_id, organization_id, cron_expression, timezone, enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (rule_chain_id) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression,
			timezone = EXCLUDED.timezone,
			enabled = EXCLUDED.enabled
	`
	_, err := s.pool.Exec(ctx, query, rec.RuleChainID, rec.OrganizationID, rec.CronExpression, rec.Timezone, rec.Enabled)
	return err
}

func (s *PostgresStore) DeleteSchedule(ctx context.Context, ruleChainID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM schedules WHERE rule_chain_id = $1`, ruleChainID)
	return err
}

func (s *PostgresStore) RecordFire(ctx context.Context, ruleChainID string, firedAt time.Time, success bool) error {
	query := `UPDATE schedules SET last_fire_at = $2, execution_count = execution_count + 1`
	if !success {
		query += `, failure_count = failure_count + 1`
	}
	query += ` WHERE rule_chain_id = $1`
	tag, err := s.pool.Exec(ctx, query, ruleChainID, firedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.New("schedule not found: " + ruleChainID)
	}
	return nil
}
