package store

import (
	"context"
	"sync"
	"time"

	"github.com/itskum47/ruleforge/internal/model"
)

// MemoryStore is an in-process Store used by tests and local
// development, mirroring the teacher's MemoryStore fallback for
// single-node operation.
type MemoryStore struct {
	mu         sync.RWMutex
	ruleChains map[string]*model.RuleChain
	telemetry  map[string][]RawTelemetryValue // key: sourceType|uuid|key
	instances  []DeviceStateInstance
	schedules  map[string]ScheduleRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ruleChains: make(map[string]*model.RuleChain),
		telemetry:  make(map[string][]RawTelemetryValue),
		schedules:  make(map[string]ScheduleRecord),
	}
}

// PutRuleChain seeds a rule chain for tests.
func (s *MemoryStore) PutRuleChain(rc *model.RuleChain) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rc
	s.ruleChains[rc.ID] = &cp
}

// PutTelemetry seeds a latest value for tests.
func (s *MemoryStore) PutTelemetry(sourceType model.OriginatorType, uuid, key, value, datatype string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := telemetryKey(sourceType, uuid)
	s.telemetry[k] = append(s.telemetry[k], RawTelemetryValue{UUID: uuid, Key: key, Value: value, Datatype: datatype, ReceivedAt: at})
}

func telemetryKey(sourceType model.OriginatorType, uuid string) string {
	return string(sourceType) + "|" + uuid
}

func (s *MemoryStore) QueryFilterNodes(ctx context.Context, sourceType model.OriginatorType, originatorID string) ([]VariableReference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[VariableReference]struct{})
	var out []VariableReference
	for _, rc := range s.ruleChains {
		for _, n := range rc.Nodes {
			if n.Type != model.NodeFilter || n.Config.Filter == nil {
				continue
			}
			for _, leaf := range flattenLeaves(*n.Config.Filter) {
				if leaf.SourceType != sourceType || leaf.UUID != originatorID {
					continue
				}
				ref := VariableReference{Variable: leaf.Key, RuleChainID: rc.ID}
				if _, dup := seen[ref]; dup {
					continue
				}
				seen[ref] = struct{}{}
				out = append(out, ref)
			}
		}
	}
	return out, nil
}

func flattenLeaves(f model.FilterExpr) []model.FilterExpr {
	if f.Op != "" {
		return []model.FilterExpr{f}
	}
	var out []model.FilterExpr
	for _, c := range f.And {
		out = append(out, flattenLeaves(c)...)
	}
	for _, c := range f.Or {
		out = append(out, flattenLeaves(c)...)
	}
	return out
}

func (s *MemoryStore) GetRuleChain(ctx context.Context, id string) (*model.RuleChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rc, ok := s.ruleChains[id]
	if !ok {
		return nil, model.NewError(model.KindNotFound, "rule chain not found: "+id, nil)
	}
	cp := *rc
	return &cp, nil
}

func (s *MemoryStore) ListRuleChains(ctx context.Context, ids []string) ([]*model.RuleChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.RuleChain
	for _, id := range ids {
		if rc, ok := s.ruleChains[id]; ok {
			cp := *rc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListScheduleEnabledRuleChains(ctx context.Context) ([]*model.RuleChain, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.RuleChain
	for _, rc := range s.ruleChains {
		if rc.ScheduleEnabled {
			cp := *rc
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) LatestValues(ctx context.Context, sourceType model.OriginatorType, uuids []string, keys []string) ([]RawTelemetryValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wantKeys := make(map[string]bool, len(keys))
	for _, k := range keys {
		wantKeys[k] = true
	}

	var out []RawTelemetryValue
	for _, uuid := range uuids {
		latest := make(map[string]RawTelemetryValue)
		for _, v := range s.telemetry[telemetryKey(sourceType, uuid)] {
			if !wantKeys[v.Key] {
				continue
			}
			if cur, ok := latest[v.Key]; !ok || v.ReceivedAt.After(cur.ReceivedAt) {
				latest[v.Key] = v
			}
		}
		for _, v := range latest {
			out = append(out, v)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertDeviceStateInstance(ctx context.Context, inst DeviceStateInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances = append(s.instances, inst)
	return nil
}

func (s *MemoryStore) GetLastDeviceState(ctx context.Context, deviceUUID, stateName string) (*DeviceStateInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var last *DeviceStateInstance
	for i := range s.instances {
		inst := s.instances[i]
		if inst.DeviceUUID != deviceUUID || inst.StateName != stateName {
			continue
		}
		if last == nil || inst.AppliedAt.After(last.AppliedAt) {
			c := inst
			last = &c
		}
	}
	return last, nil
}

// Instances returns a copy of every persisted instance (test helper).
func (s *MemoryStore) Instances() []DeviceStateInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]DeviceStateInstance, len(s.instances))
	copy(out, s.instances)
	return out
}

func (s *MemoryStore) ListSchedules(ctx context.Context) ([]ScheduleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ScheduleRecord, 0, len(s.schedules))
	for _, rec := range s.schedules {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) UpsertSchedule(ctx context.Context, rec ScheduleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[rec.RuleChainID] = rec
	return nil
}

func (s *MemoryStore) DeleteSchedule(ctx context.Context, ruleChainID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.schedules, ruleChainID)
	return nil
}

func (s *MemoryStore) RecordFire(ctx context.Context, ruleChainID string, firedAt time.Time, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.schedules[ruleChainID]
	if !ok {
		return model.NewError(model.KindNotFound, "schedule not found: "+ruleChainID, nil)
	}
	rec.LastFireAt = firedAt
	rec.ExecutionCount++
	if !success {
		rec.FailureCount++
	}
	s.schedules[ruleChainID] = rec
	return nil
}
