// Package store abstracts the relational source of truth (RuleChain,
// RuleChainNode, DeviceStateInstance, ScheduleRecord) behind a narrow
// interface, following the teacher's store.Store pattern of one
// interface with a Postgres-backed and an in-memory implementation.
package store

import (
	"context"
	"time"

	"github.com/itskum47/ruleforge/internal/model"
)

// VariableReference is one (variable -> ruleChainId) pair produced by
// the filter-node rebuild query in §4.1.
type VariableReference struct {
	Variable    string
	RuleChainID string
}

// RawTelemetryValue is a single latest-value row as read from the
// telemetry/state store, before datatype coercion (§4.8).
type RawTelemetryValue struct {
	UUID       string
	Key        string
	Value      string
	Datatype   string // number, boolean, otherwise string
	ReceivedAt time.Time
}

// DeviceStateInstance is the record C10 persists for every committed
// action (§4.10).
type DeviceStateInstance struct {
	DeviceUUID  string
	StateName   string
	Value       interface{}
	InitiatedBy string
	Metadata    map[string]string
	AppliedAt   time.Time
}

// ScheduleRecord mirrors the persistent schedule fields plus the
// derived execution stats (§3).
type ScheduleRecord struct {
	RuleChainID    string
	OrganizationID string
	CronExpression string
	Timezone       string
	Enabled        bool
	LastFireAt     time.Time
	ExecutionCount int64
	FailureCount   int64
}

// FilterNodeReader serves C1's rebuild query: one batch read of every
// filter node referencing a given originator.
type FilterNodeReader interface {
	QueryFilterNodes(ctx context.Context, sourceType model.OriginatorType, originatorID string) ([]VariableReference, error)
}

// RuleChainReader serves C7/C8/C9 reads of rule chain configuration.
type RuleChainReader interface {
	GetRuleChain(ctx context.Context, id string) (*model.RuleChain, error)
	ListRuleChains(ctx context.Context, ids []string) ([]*model.RuleChain, error)
	ListScheduleEnabledRuleChains(ctx context.Context) ([]*model.RuleChain, error)
}

// TelemetryReader serves C8's batch latest-value reads, one query per
// source type (§4.8).
type TelemetryReader interface {
	LatestValues(ctx context.Context, sourceType model.OriginatorType, uuids []string, keys []string) ([]RawTelemetryValue, error)
}

// StateWriter serves C10's committed action persistence.
type StateWriter interface {
	InsertDeviceStateInstance(ctx context.Context, inst DeviceStateInstance) error
}

// StateStore extends StateWriter with a lookup of the most recently
// applied value for a device/state pair, which C10 needs to compute a
// notification's numeric delta (§4.10). Returns nil, nil when no prior
// instance exists.
type StateStore interface {
	StateWriter
	GetLastDeviceState(ctx context.Context, deviceUUID, stateName string) (*DeviceStateInstance, error)
}

// ScheduleStore serves C9's persistent schedule CRUD and stats.
type ScheduleStore interface {
	ListSchedules(ctx context.Context) ([]ScheduleRecord, error)
	UpsertSchedule(ctx context.Context, rec ScheduleRecord) error
	DeleteSchedule(ctx context.Context, ruleChainID string) error
	RecordFire(ctx context.Context, ruleChainID string, firedAt time.Time, success bool) error
}

// Store composes every read/write surface the engine needs from the
// relational source of truth.
type Store interface {
	FilterNodeReader
	RuleChainReader
	TelemetryReader
	StateStore
	ScheduleStore
}
