package store

import (
	"context"
	"testing"
	"time"

	"github.com/itskum47/ruleforge/internal/model"
)

func TestQueryFilterNodesMatchesOriginator(t *testing.T) {
	s := NewMemoryStore()
	s.PutRuleChain(&model.RuleChain{
		ID: "rc-1",
		Nodes: []model.RuleChainNode{
			{Type: model.NodeFilter, Config: model.NodeConfig{Filter: &model.FilterExpr{
				SourceType: model.OriginatorSensor, UUID: "s1", Key: "temp", Op: "gt", Value: 30,
			}}},
		},
	})
	s.PutRuleChain(&model.RuleChain{
		ID: "rc-2",
		Nodes: []model.RuleChainNode{
			{Type: model.NodeFilter, Config: model.NodeConfig{Filter: &model.FilterExpr{
				SourceType: model.OriginatorSensor, UUID: "other", Key: "temp", Op: "gt", Value: 30,
			}}},
		},
	})

	refs, err := s.QueryFilterNodes(context.Background(), model.OriginatorSensor, "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 1 || refs[0].RuleChainID != "rc-1" {
		t.Fatalf("expected only rc-1 to reference s1, got %+v", refs)
	}
}

func TestLatestValuesPicksMostRecentPerKey(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.PutTelemetry(model.OriginatorSensor, "s1", "temp", "10", "number", now.Add(-time.Minute))
	s.PutTelemetry(model.OriginatorSensor, "s1", "temp", "20", "number", now)

	values, err := s.LatestValues(context.Background(), model.OriginatorSensor, []string{"s1"}, []string{"temp"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) != 1 || values[0].Value != "20" {
		t.Fatalf("expected the most recent value '20', got %+v", values)
	}
}

func TestListScheduleEnabledRuleChainsFiltersDisabled(t *testing.T) {
	s := NewMemoryStore()
	s.PutRuleChain(&model.RuleChain{ID: "rc-a", ScheduleEnabled: true})
	s.PutRuleChain(&model.RuleChain{ID: "rc-b", ScheduleEnabled: false})

	chains, err := s.ListScheduleEnabledRuleChains(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chains) != 1 || chains[0].ID != "rc-a" {
		t.Fatalf("expected only rc-a, got %+v", chains)
	}
}

func TestGetRuleChainNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetRuleChain(context.Background(), "missing"); err == nil {
		t.Fatalf("expected a not-found error")
	} else if e, ok := err.(*model.Error); !ok || e.Kind != model.KindNotFound {
		t.Fatalf("expected Kind=NotFound, got %+v", err)
	}
}

func TestRecordFireTracksCounts(t *testing.T) {
	s := NewMemoryStore()
	s.UpsertSchedule(context.Background(), ScheduleRecord{RuleChainID: "rc-1", Enabled: true})

	if err := s.RecordFire(context.Background(), "rc-1", time.Now(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.RecordFire(context.Background(), "rc-1", time.Now(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	recs, _ := s.ListSchedules(context.Background())
	if len(recs) != 1 || recs[0].ExecutionCount != 2 || recs[0].FailureCount != 1 {
		t.Fatalf("expected 2 executions / 1 failure, got %+v", recs)
	}
}

func TestInsertDeviceStateInstancePersists(t *testing.T) {
	s := NewMemoryStore()
	if err := s.InsertDeviceStateInstance(context.Background(), DeviceStateInstance{DeviceUUID: "d1", StateName: "fan"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := s.Instances(); len(got) != 1 || got[0].DeviceUUID != "d1" {
		t.Fatalf("expected one persisted instance for d1, got %+v", got)
	}
}

func TestGetLastDeviceStatePicksMostRecent(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	s.InsertDeviceStateInstance(context.Background(), DeviceStateInstance{DeviceUUID: "d1", StateName: "brightness", Value: "10", AppliedAt: now.Add(-time.Minute)})
	s.InsertDeviceStateInstance(context.Background(), DeviceStateInstance{DeviceUUID: "d1", StateName: "brightness", Value: "20", AppliedAt: now})

	last, err := s.GetLastDeviceState(context.Background(), "d1", "brightness")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last == nil || last.Value != "20" {
		t.Fatalf("expected the most recently applied value '20', got %+v", last)
	}
}

func TestGetLastDeviceStateNoPriorReturnsNil(t *testing.T) {
	s := NewMemoryStore()
	last, err := s.GetLastDeviceState(context.Background(), "d1", "brightness")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last != nil {
		t.Fatalf("expected nil when no prior instance exists, got %+v", last)
	}
}
